package session

import (
	"context"
	"testing"
	"time"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

func staticVerifier(identity auth.RawIdentity) IDTokenVerifier {
	return IDTokenVerifierFunc(func(_ context.Context, idToken string) (auth.RawIdentity, error) {
		if idToken != "good-token" {
			return auth.RawIdentity{}, auth.ErrInvalidSession
		}
		identity.IDToken = idToken
		return identity, nil
	})
}

func newTestIssuer(t *testing.T, clock *time.Time) *Issuer {
	t.Helper()
	issuer, err := NewIssuer(
		staticVerifier(auth.RawIdentity{UID: "uid-1", ProviderID: "oidc.line", DisplayName: "Aoi"}),
		testSigningKey,
		WithIssuerClock(func() time.Time { return *clock }),
	)
	require.NoError(t, err)
	return issuer
}

func TestIssuerIssueAndVerify(t *testing.T) {
	now := testNow
	issuer := newTestIssuer(t, &now)

	sess, err := issuer.Issue(context.Background(), "good-token")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Value)
	assert.Equal(t, "uid-1", sess.Identity.UID)
	assert.Empty(t, sess.Identity.IDToken)
	assert.Equal(t, now.Add(DefaultTTL), sess.ExpiresAt)

	claims, err := issuer.Verify(sess.Value)
	require.NoError(t, err)
	assert.Equal(t, "uid-1", claims.Subject)
	assert.Equal(t, auth.RawIdentity{UID: "uid-1", ProviderID: "oidc.line", DisplayName: "Aoi"}, claims.Identity())
}

func TestIssuerRejectsBadIDToken(t *testing.T) {
	now := testNow
	issuer := newTestIssuer(t, &now)

	_, err := issuer.Issue(context.Background(), "bad-token")
	assert.Equal(t, auth.KindInvalidSession, auth.ErrorKind(err))
}

func TestIssuerSessionExpires(t *testing.T) {
	now := testNow
	issuer := newTestIssuer(t, &now)

	sess, err := issuer.Issue(context.Background(), "good-token")
	require.NoError(t, err)

	now = now.Add(DefaultTTL + time.Minute)
	_, err = issuer.Verify(sess.Value)
	assert.Equal(t, auth.KindInvalidSession, auth.ErrorKind(err))
}

func TestIssuerRejectsForeignValues(t *testing.T) {
	now := testNow
	issuer := newTestIssuer(t, &now)

	other, err := NewIssuer(staticVerifier(auth.RawIdentity{UID: "uid-2"}), []byte("ffffffffffffffffffffffffffffffff"),
		WithIssuerClock(func() time.Time { return now }))
	require.NoError(t, err)
	sess, err := other.Issue(context.Background(), "good-token")
	require.NoError(t, err)

	for _, value := range []string{"", "garbage", sess.Value} {
		_, err := issuer.Verify(value)
		assert.Equal(t, auth.KindInvalidSession, auth.ErrorKind(err), value)
	}
}

func TestNewIssuerValidatesInput(t *testing.T) {
	_, err := NewIssuer(nil, testSigningKey)
	assert.Error(t, err)

	_, err = NewIssuer(staticVerifier(auth.RawIdentity{}), []byte("short"))
	assert.Error(t, err)

	issuer, err := NewIssuer(staticVerifier(auth.RawIdentity{}), testSigningKey, WithTTL(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, time.Hour, issuer.TTL())
}
