package auth

import (
	stderrors "errors"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// MetaRetryAfterSeconds is the metadata key carrying a cool-down in seconds.
const MetaRetryAfterSeconds = "retry_after_seconds"

// TextCodeInvalidRequest marks payloads rejected by validation.
const TextCodeInvalidRequest = "INVALID_REQUEST"

// ErrorBody is the JSON error payload written by RespondError.
type ErrorBody struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	RetryAfter int            `json:"retryAfter,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// ErrorResponse wraps ErrorBody.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// InvalidRequest converts a payload binding or validation failure into a
// 400 error with per field messages.
func InvalidRequest(err error) *errors.Error {
	richErr := errors.New("invalid request payload", errors.CategoryValidation).
		WithTextCode(TextCodeInvalidRequest).
		WithCode(errors.CodeBadRequest)
	if err == nil {
		return richErr
	}
	richErr.Source = err

	var fieldErrs validation.Errors
	if stderrors.As(err, &fieldErrs) {
		fields := map[string]any{}
		for name, fieldErr := range fieldErrs {
			if fieldErr != nil {
				fields[name] = fieldErr.Error()
			}
		}
		return richErr.WithMetadata(map[string]any{"fields": fields})
	}
	return richErr.WithMetadata(map[string]any{"error": err.Error()})
}

// RespondError writes err as JSON using the status code carried by the
// taxonomy error. Unknown errors become 500.
func RespondError(c router.Context, logger Logger, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) || richErr == nil {
		richErr = WrapError(ErrUnknown, err, nil)
	}
	if logger == nil {
		logger = NopLogger()
	}

	logger.Info(
		"request failed",
		"error", richErr.Message,
		"category", richErr.Category,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	status := richErr.Code
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}

	code := richErr.TextCode
	if code == "" {
		code = string(KindUnknown)
	}

	body := ErrorBody{
		Code:    code,
		Message: richErr.Message,
	}
	if seconds, ok := richErr.Metadata[MetaRetryAfterSeconds].(int); ok {
		body.RetryAfter = seconds
	}
	if fields, ok := richErr.Metadata["fields"].(map[string]any); ok {
		body.Fields = fields
	}

	return c.JSON(status, ErrorResponse{Error: body})
}

// CookieOptions holds the attributes shared by the cookies this package sets.
type CookieOptions struct {
	Path     string
	Secure   bool
	HTTPOnly bool
	SameSite string
}

// DefaultCookieOptions returns secure, http only, lax cookies scoped to "/".
func DefaultCookieOptions() CookieOptions {
	return CookieOptions{
		Path:     "/",
		Secure:   true,
		HTTPOnly: true,
		SameSite: "Lax",
	}
}

// SetCookie writes a cookie that expires after ttl.
func SetCookie(c router.Context, opts CookieOptions, name, value string, ttl time.Duration) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    value,
		Path:     opts.Path,
		Expires:  time.Now().Add(ttl),
		HTTPOnly: opts.HTTPOnly,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}

// ClearCookie expires the named cookie.
func ClearCookie(c router.Context, opts CookieOptions, name string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Path:     opts.Path,
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: opts.HTTPOnly,
		Secure:   opts.Secure,
		SameSite: opts.SameSite,
	})
}
