package auth_test

import (
	"testing"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashCode(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantErr bool
	}{
		{name: "six digits", code: "123456"},
		{name: "surrounding space", code: " 654321 "},
		{name: "empty", code: "", wantErr: true},
		{name: "blank", code: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := auth.HashCode(tt.code, bcrypt.MinCost)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, auth.IsKind(err, auth.KindInvalidCode))
				return
			}

			require.NoError(t, err)
			assert.NotEmpty(t, hash)
			assert.NoError(t, auth.CompareCodeAndHash(tt.code, hash))
		})
	}
}

func TestCompareCodeAndHashMismatch(t *testing.T) {
	hash, err := auth.HashCode("123456", bcrypt.MinCost)
	require.NoError(t, err)

	err = auth.CompareCodeAndHash("000000", hash)
	require.Error(t, err)
	assert.True(t, auth.IsKind(err, auth.KindInvalidCode))

	err = auth.CompareCodeAndHash("123456", "not-a-hash")
	require.Error(t, err)
	assert.False(t, auth.IsKind(err, auth.KindInvalidCode))
}
