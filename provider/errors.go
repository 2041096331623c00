package provider

import (
	"context"
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-portal-auth"
)

// SDKError is returned by SDK adapters when the underlying SDK reported a
// coded failure (e.g. "auth/popup-closed-by-user").
type SDKError struct {
	Code    string
	Message string
}

func (e *SDKError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

var codeTaxonomy = map[string]*goerrors.Error{
	"auth/popup-closed-by-user":                     auth.ErrUserCancelled,
	"auth/cancelled-popup-request":                  auth.ErrUserCancelled,
	"auth/user-cancelled":                           auth.ErrUserCancelled,
	"auth/redirect-cancelled-by-user":               auth.ErrUserCancelled,
	"access_denied":                                 auth.ErrUserCancelled,
	"auth/network-request-failed":                   auth.ErrNetwork,
	"auth/timeout":                                  auth.ErrNetwork,
	"network_error":                                 auth.ErrNetwork,
	"auth/too-many-requests":                        auth.ErrRateLimited,
	"auth/quota-exceeded":                           auth.ErrRateLimited,
	"auth/operation-not-allowed":                    auth.ErrProviderUnavailable,
	"auth/unauthorized-domain":                      auth.ErrProviderUnavailable,
	"init_failed":                                   auth.ErrProviderUnavailable,
	"auth/invalid-phone-number":                     auth.ErrInvalidPhoneFormat,
	"auth/missing-phone-number":                     auth.ErrInvalidPhoneFormat,
	"auth/code-expired":                             auth.ErrChallengeExpired,
	"auth/invalid-verification-id":                  auth.ErrChallengeExpired,
	"auth/invalid-verification-code":                auth.ErrInvalidCode,
	"auth/credential-already-in-use":                auth.ErrLinkIncomplete,
	"auth/provider-already-linked":                  auth.ErrLinkIncomplete,
	"auth/requires-recent-login":                    auth.ErrLinkIncomplete,
	"auth/account-exists-with-different-credential": auth.ErrLinkIncomplete,
}

// Classify maps an SDK failure into the auth taxonomy. Errors that already
// carry a taxonomy code are returned unchanged.
func Classify(providerName string, err error) error {
	if err == nil {
		return nil
	}

	if kind := auth.ErrorKind(err); kind != auth.KindUnknown {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return err
		}
		switch {
		case errors.Is(err, context.Canceled):
			return auth.WrapError(auth.ErrUserCancelled, err, map[string]any{"provider": providerName})
		case errors.Is(err, context.DeadlineExceeded):
			return auth.WrapError(auth.ErrNetwork, err, map[string]any{"provider": providerName})
		}
	}

	var sdkErr *SDKError
	if errors.As(err, &sdkErr) {
		if base, ok := codeTaxonomy[strings.ToLower(sdkErr.Code)]; ok {
			return auth.WrapError(base, err, map[string]any{
				"provider": providerName,
				"sdk_code": sdkErr.Code,
			})
		}
		return auth.WrapError(auth.ErrUnknown, err, map[string]any{
			"provider": providerName,
			"sdk_code": sdkErr.Code,
		})
	}

	return auth.WrapError(auth.ErrUnknown, err, map[string]any{"provider": providerName})
}
