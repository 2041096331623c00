package auth

import (
	"strings"
)

// EnvironmentSignals are the platform hints available to the detector.
// The zero value describes an unrecognized client.
type EnvironmentSignals struct {
	UserAgent string
	// NoDOM marks a server render.
	NoDOM        bool
	HasLIFFSDK   bool
	InLIFFClient bool
}

// DetectEnvironment classifies the runtime. Anything it does not recognize
// is treated as a browser, which gets the strictest guard treatment.
func DetectEnvironment(sig EnvironmentSignals) Environment {
	if sig.NoDOM {
		return EnvironmentServer
	}

	if sig.HasLIFFSDK && (sig.InLIFFClient || isLineUserAgent(sig.UserAgent)) {
		return EnvironmentLIFF
	}

	return EnvironmentBrowser
}

// DetectUserAgent is the server side helper used when only the request
// user agent is known.
func DetectUserAgent(ua string) Environment {
	if isLineUserAgent(ua) {
		return EnvironmentLIFF
	}
	return EnvironmentBrowser
}

// SelectProvider picks the single identity provider for env. The server
// environment has no client side identity.
func SelectProvider(env Environment, liff, browser IdentityProvider) IdentityProvider {
	switch env {
	case EnvironmentServer:
		return nil
	case EnvironmentLIFF:
		if liff != nil {
			return liff
		}
	}
	return browser
}

func isLineUserAgent(ua string) bool {
	// LINE in-app browser: "... Line/13.20.0 LIFF" or "... Line/13.20.0/IAB"
	return strings.Contains(ua, " Line/") || strings.HasPrefix(ua, "Line/")
}
