package auth_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected auth.Kind
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: "",
		},
		{
			name:     "sentinel",
			err:      auth.ErrRateLimited,
			expected: auth.KindRateLimited,
		},
		{
			name:     "wrapped clone keeps its text code",
			err:      auth.WrapError(auth.ErrSessionCreateFailed, errors.New("401"), map[string]any{"http_status": 401}),
			expected: auth.KindSessionCreateFailed,
		},
		{
			name:     "fmt wrapped sentinel",
			err:      fmt.Errorf("confirm: %w", auth.ErrChallengeExpired),
			expected: auth.KindChallengeExpired,
		},
		{
			name:     "context cancellation is a user cancel",
			err:      context.Canceled,
			expected: auth.KindUserCancelled,
		},
		{
			name:     "deadline is a network error",
			err:      fmt.Errorf("dial: %w", context.DeadlineExceeded),
			expected: auth.KindNetworkError,
		},
		{
			name:     "foreign rich error falls back to unknown",
			err:      goerrors.New("boom", goerrors.CategoryInternal).WithTextCode("SOMETHING_ELSE"),
			expected: auth.KindUnknown,
		},
		{
			name:     "plain error falls back to unknown",
			err:      errors.New("boom"),
			expected: auth.KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, auth.ErrorKind(tt.err))
		})
	}
}

func TestWrapErrorDoesNotMutateSentinel(t *testing.T) {
	source := errors.New("status 500")
	wrapped := auth.WrapError(auth.ErrSessionCreateFailed, source, map[string]any{"http_status": 500})

	require.NotNil(t, wrapped)
	assert.Equal(t, source, wrapped.Source)
	assert.Equal(t, 500, wrapped.Metadata["http_status"])
	assert.Equal(t, "status 500", wrapped.Metadata["error"])
	assert.Nil(t, auth.ErrSessionCreateFailed.Source)
	assert.NotContains(t, auth.ErrSessionCreateFailed.Metadata, "http_status")
}

func TestWrapErrorNilBaseIsUnknown(t *testing.T) {
	wrapped := auth.WrapError(nil, errors.New("x"), nil)
	assert.True(t, auth.IsKind(wrapped, auth.KindUnknown))
}
