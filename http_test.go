package auth_test

import (
	"errors"
	"net/http"
	"testing"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func captureErrorBody(ctx *router.MockContext, status int) *auth.ErrorResponse {
	var body auth.ErrorResponse
	ctx.On("JSON", status, mock.Anything).Run(func(args mock.Arguments) {
		body = args.Get(1).(auth.ErrorResponse)
	}).Return(nil)
	return &body
}

func TestRespondErrorUsesTaxonomyStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"rate limited", auth.ErrRateLimited, http.StatusTooManyRequests, string(auth.KindRateLimited)},
		{"invalid session", auth.ErrInvalidSession, http.StatusUnauthorized, string(auth.KindInvalidSession)},
		{"link incomplete", auth.ErrLinkIncomplete, http.StatusConflict, string(auth.KindLinkIncomplete)},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, string(auth.KindUnknown)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := router.NewMockContext()
			body := captureErrorBody(ctx, tt.status)

			require.NoError(t, auth.RespondError(ctx, auth.NopLogger(), tt.err))
			assert.Equal(t, tt.code, body.Error.Code)
			ctx.AssertExpectations(t)
		})
	}
}

func TestRespondErrorCarriesRetryAfter(t *testing.T) {
	ctx := router.NewMockContext()
	body := captureErrorBody(ctx, http.StatusTooManyRequests)

	err := auth.ErrRateLimited.Clone().WithMetadata(map[string]any{
		auth.MetaRetryAfterSeconds: 45,
	})
	require.NoError(t, auth.RespondError(ctx, nil, err))
	assert.Equal(t, 45, body.Error.RetryAfter)
}

func TestInvalidRequestCollectsFields(t *testing.T) {
	verr := validation.Errors{"idToken": errors.New("cannot be blank")}

	err := auth.InvalidRequest(verr)
	assert.Equal(t, http.StatusBadRequest, err.Code)
	assert.Equal(t, auth.TextCodeInvalidRequest, err.TextCode)

	fields, ok := err.Metadata["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "cannot be blank", fields["idToken"])

	plain := auth.InvalidRequest(errors.New("bad json"))
	assert.Equal(t, "bad json", plain.Metadata["error"])
}

func TestSetAndClearCookie(t *testing.T) {
	opts := auth.DefaultCookieOptions()

	ctx := router.NewMockContext()
	var set, cleared *router.Cookie
	ctx.On("Cookie", mock.MatchedBy(func(c *router.Cookie) bool { return c.Value != "" })).
		Run(func(args mock.Arguments) { set = args.Get(0).(*router.Cookie) }).Return()
	ctx.On("Cookie", mock.MatchedBy(func(c *router.Cookie) bool { return c.Value == "" })).
		Run(func(args mock.Arguments) { cleared = args.Get(0).(*router.Cookie) }).Return()

	auth.SetCookie(ctx, opts, "session", "value", time.Hour)
	auth.ClearCookie(ctx, opts, "session")

	require.NotNil(t, set)
	assert.True(t, set.HTTPOnly)
	assert.True(t, set.Secure)
	assert.Equal(t, "Lax", set.SameSite)
	assert.True(t, set.Expires.After(time.Now()))

	require.NotNil(t, cleared)
	assert.True(t, cleared.Expires.Before(time.Now()))
}
