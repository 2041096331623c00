package auth

import (
	"context"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// Kind is the taxonomy bucket of an authentication error.
type Kind string

const (
	KindProviderUnavailable  Kind = "PROVIDER_UNAVAILABLE"
	KindUserCancelled        Kind = "USER_CANCELLED"
	KindNetworkError         Kind = "NETWORK_ERROR"
	KindInvalidPhoneFormat   Kind = "INVALID_PHONE_FORMAT"
	KindRateLimited          Kind = "RATE_LIMITED"
	KindChallengeExpired     Kind = "CHALLENGE_EXPIRED"
	KindLinkIncomplete       Kind = "LINK_INCOMPLETE"
	KindSessionCreateFailed  Kind = "SESSION_CREATE_FAILED"
	KindFetchError           Kind = "FETCH_ERROR"
	KindInvalidCode          Kind = "INVALID_VERIFICATION_CODE"
	KindVerificationBusy     Kind = "VERIFICATION_IN_PROGRESS"
	KindNoActiveChallenge    Kind = "NO_ACTIVE_CHALLENGE"
	KindInvalidTransition    Kind = "INVALID_AUTH_TRANSITION"
	KindInvalidSession       Kind = "INVALID_SESSION"
	KindAlreadyAuthenticated Kind = "AUTHENTICATION_IN_PROGRESS"
	KindUnknown              Kind = "UNKNOWN"
)

// ErrProviderUnavailable is returned when the identity SDK failed to initialize.
var ErrProviderUnavailable = goerrors.New("identity provider unavailable", goerrors.CategoryOperation).
	WithTextCode(string(KindProviderUnavailable)).
	WithCode(http.StatusServiceUnavailable)

// ErrUserCancelled is returned when the user aborted the sign-in flow.
var ErrUserCancelled = goerrors.New("sign in cancelled by user", goerrors.CategoryAuth).
	WithTextCode(string(KindUserCancelled)).
	WithCode(goerrors.CodeUnauthorized)

// ErrNetwork covers transport level failures talking to a provider or endpoint.
var ErrNetwork = goerrors.New("network error", goerrors.CategoryOperation).
	WithTextCode(string(KindNetworkError)).
	WithCode(http.StatusBadGateway)

// ErrInvalidPhoneFormat is returned when a phone number cannot be parsed.
var ErrInvalidPhoneFormat = goerrors.New("invalid phone number format", goerrors.CategoryValidation).
	WithTextCode(string(KindInvalidPhoneFormat)).
	WithCode(goerrors.CodeBadRequest)

// ErrRateLimited is returned when the phone provider throttles challenges.
var ErrRateLimited = goerrors.New("too many verification requests", goerrors.CategoryRateLimit).
	WithTextCode(string(KindRateLimited)).
	WithCode(http.StatusTooManyRequests)

// ErrChallengeExpired is returned when a verification id outlived its validity window.
var ErrChallengeExpired = goerrors.New("verification challenge expired", goerrors.CategoryBadInput).
	WithTextCode(string(KindChallengeExpired)).
	WithCode(http.StatusGone)

// ErrLinkIncomplete is returned when the phone credential was confirmed but
// linking it to the account failed.
var ErrLinkIncomplete = goerrors.New("phone verified but account link incomplete", goerrors.CategoryConflict).
	WithTextCode(string(KindLinkIncomplete)).
	WithCode(goerrors.CodeConflict)

// ErrSessionCreateFailed is returned when the session endpoint answered non-2xx.
var ErrSessionCreateFailed = goerrors.New("session creation failed", goerrors.CategoryAuth).
	WithTextCode(string(KindSessionCreateFailed)).
	WithCode(goerrors.CodeUnauthorized)

// ErrFetch is returned when the registered user lookup fails.
var ErrFetch = goerrors.New("failed to fetch registered user", goerrors.CategoryOperation).
	WithTextCode(string(KindFetchError)).
	WithCode(http.StatusBadGateway)

// ErrInvalidCode is returned when a one-time code does not match the challenge.
var ErrInvalidCode = goerrors.New("invalid verification code", goerrors.CategoryValidation).
	WithTextCode(string(KindInvalidCode)).
	WithCode(goerrors.CodeBadRequest)

// ErrVerificationInProgress rejects duplicate submissions.
var ErrVerificationInProgress = goerrors.New("verification already in progress", goerrors.CategoryConflict).
	WithTextCode(string(KindVerificationBusy)).
	WithCode(goerrors.CodeConflict)

// ErrNoActiveChallenge is returned when a code is submitted before a phone number.
var ErrNoActiveChallenge = goerrors.New("no active verification challenge", goerrors.CategoryBadInput).
	WithTextCode(string(KindNoActiveChallenge)).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidTransition is returned when the machine is asked for a phase change it does not allow.
var ErrInvalidTransition = goerrors.New("invalid authentication phase transition", goerrors.CategoryValidation).
	WithTextCode(string(KindInvalidTransition)).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidSession is returned when a session cookie cannot be verified.
var ErrInvalidSession = goerrors.New("invalid session", goerrors.CategoryAuth).
	WithTextCode(string(KindInvalidSession)).
	WithCode(goerrors.CodeUnauthorized)

// ErrAuthenticationInProgress rejects a sign-in while another one is outstanding.
var ErrAuthenticationInProgress = goerrors.New("authentication already in progress", goerrors.CategoryConflict).
	WithTextCode(string(KindAlreadyAuthenticated)).
	WithCode(goerrors.CodeConflict)

// ErrUnknown is the fallback bucket.
var ErrUnknown = goerrors.New("unknown authentication error", goerrors.CategoryInternal).
	WithTextCode(string(KindUnknown)).
	WithCode(goerrors.CodeInternal)

// WrapError clones base, records err as its source and merges metadata.
// The result keeps base's text code so ErrorKind still classifies it.
func WrapError(base *goerrors.Error, err error, meta map[string]any) *goerrors.Error {
	if base == nil {
		base = ErrUnknown
	}

	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	if err != nil {
		clone.Source = err
		if meta == nil {
			meta = map[string]any{}
		}
		if _, ok := meta["error"]; !ok {
			meta["error"] = err.Error()
		}
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}

// ErrorKind classifies err into the taxonomy. Context cancellation is
// treated as a user cancellation.
func ErrorKind(err error) Kind {
	if err == nil {
		return ""
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil && richErr.TextCode != "" {
		switch k := Kind(richErr.TextCode); k {
		case KindProviderUnavailable, KindUserCancelled, KindNetworkError, KindInvalidPhoneFormat,
			KindRateLimited, KindChallengeExpired, KindLinkIncomplete, KindSessionCreateFailed,
			KindFetchError, KindInvalidCode, KindVerificationBusy, KindNoActiveChallenge,
			KindInvalidTransition, KindInvalidSession, KindAlreadyAuthenticated, KindUnknown:
			return k
		}
	}

	if goerrors.Is(err, context.Canceled) {
		return KindUserCancelled
	}
	if goerrors.Is(err, context.DeadlineExceeded) {
		return KindNetworkError
	}

	return KindUnknown
}

// IsKind reports whether err belongs to kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && ErrorKind(err) == kind
}
