package session

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/google/uuid"
)

const (
	// CookieName is the session cookie set by sessionLogin.
	CookieName = "session"
	// LegacyCookieName is the alias older deployments set. It is read and cleared, never set.
	LegacyCookieName = "__session"
	// DefaultTTL is the session cookie lifetime.
	DefaultTTL = 5 * 24 * time.Hour
	// DefaultIssuer is the iss claim of minted session values.
	DefaultIssuer = "go-portal-auth"
)

// Claims are carried by a minted session value.
type Claims struct {
	jwt.RegisteredClaims
	ProviderID string `json:"pid,omitempty"`
	Name       string `json:"name,omitempty"`
}

// Session is the result of a successful sessionLogin.
type Session struct {
	Value     string
	Identity  auth.RawIdentity
	ExpiresAt time.Time
}

// Verifier validates session cookie values.
type Verifier interface {
	Verify(value string) (*Claims, error)
}

// Issuer exchanges verified ID tokens for session cookie values.
type Issuer struct {
	verifier   IDTokenVerifier
	signingKey []byte
	ttl        time.Duration
	issuer     string
	now        func() time.Time
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithIssuerName overrides DefaultIssuer.
func WithIssuerName(name string) IssuerOption {
	return func(i *Issuer) {
		if name != "" {
			i.issuer = name
		}
	}
}

// WithIssuerClock injects a custom clock (useful for tests).
func WithIssuerClock(clock func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if clock != nil {
			i.now = clock
		}
	}
}

// NewIssuer creates an issuer signing session values with signingKey.
func NewIssuer(verifier IDTokenVerifier, signingKey []byte, opts ...IssuerOption) (*Issuer, error) {
	if verifier == nil {
		return nil, fmt.Errorf("session: id token verifier is required")
	}
	if len(signingKey) < 32 {
		return nil, fmt.Errorf("session: signing key must be at least 32 bytes")
	}
	i := &Issuer{
		verifier:   verifier,
		signingKey: signingKey,
		ttl:        DefaultTTL,
		issuer:     DefaultIssuer,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	return i, nil
}

// TTL returns the session lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue verifies idToken and mints a session value for its subject.
func (i *Issuer) Issue(ctx context.Context, idToken string) (Session, error) {
	identity, err := i.verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		return Session{}, err
	}

	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   identity.UID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		ProviderID: identity.ProviderID,
		Name:       identity.DisplayName,
	}

	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.signingKey)
	if err != nil {
		return Session{}, auth.WrapError(auth.ErrUnknown, err, map[string]any{"uid": identity.UID})
	}

	identity.IDToken = ""
	return Session{Value: value, Identity: identity, ExpiresAt: expiresAt}, nil
}

// Verify checks a session value and returns its claims.
func (i *Issuer) Verify(value string) (*Claims, error) {
	if value == "" {
		return nil, auth.ErrInvalidSession.Clone().WithMetadata(map[string]any{"reason": "missing"})
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(value, claims, func(*jwt.Token) (any, error) {
		return i.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, auth.WrapError(auth.ErrInvalidSession, err, nil)
	}
	if claims.Subject == "" {
		return nil, auth.ErrInvalidSession.Clone().WithMetadata(map[string]any{"reason": "empty subject"})
	}
	return claims, nil
}

// Identity returns the raw identity recorded in the claims.
func (c *Claims) Identity() auth.RawIdentity {
	return auth.RawIdentity{
		UID:         c.Subject,
		DisplayName: c.Name,
		ProviderID:  c.ProviderID,
	}
}
