package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-portal-auth"
)

// FirebaseIssuerPrefix is prepended to the project id to form the expected iss claim.
const FirebaseIssuerPrefix = "https://securetoken.google.com/"

// IDTokenVerifier turns an identity provider ID token into a RawIdentity.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (auth.RawIdentity, error)
}

// IDTokenVerifierFunc adapts a function to IDTokenVerifier.
type IDTokenVerifierFunc func(ctx context.Context, idToken string) (auth.RawIdentity, error)

// VerifyIDToken implements IDTokenVerifier.
func (f IDTokenVerifierFunc) VerifyIDToken(ctx context.Context, idToken string) (auth.RawIdentity, error) {
	return f(ctx, idToken)
}

// FirebaseClaims are the claims carried by a Firebase ID token.
type FirebaseClaims struct {
	jwt.RegisteredClaims
	Name     string `json:"name,omitempty"`
	AuthTime int64  `json:"auth_time,omitempty"`
	Firebase struct {
		SignInProvider string `json:"sign_in_provider"`
	} `json:"firebase"`
}

// FirebaseVerifier validates Firebase ID tokens against the project JWKS.
type FirebaseVerifier struct {
	projectID string
	keyFunc   jwt.Keyfunc
	now       func() time.Time
	leeway    time.Duration
	jwks      *keyfunc.JWKS
}

// VerifierOption configures a FirebaseVerifier.
type VerifierOption func(*FirebaseVerifier)

// WithVerifierClock injects a custom clock (useful for tests).
func WithVerifierClock(clock func() time.Time) VerifierOption {
	return func(v *FirebaseVerifier) {
		if clock != nil {
			v.now = clock
		}
	}
}

// WithLeeway tolerates clock skew when checking exp, nbf and iat.
func WithLeeway(leeway time.Duration) VerifierOption {
	return func(v *FirebaseVerifier) {
		v.leeway = leeway
	}
}

// NewFirebaseVerifier builds a verifier around an existing key function.
func NewFirebaseVerifier(projectID string, keyFunc jwt.Keyfunc, opts ...VerifierOption) (*FirebaseVerifier, error) {
	if projectID == "" {
		return nil, fmt.Errorf("session: firebase project id is required")
	}
	if keyFunc == nil {
		return nil, fmt.Errorf("session: key function is required")
	}
	v := &FirebaseVerifier{
		projectID: projectID,
		keyFunc:   keyFunc,
		now:       time.Now,
		leeway:    30 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// NewFirebaseVerifierFromJWKS fetches the signing keys from jwksURL and
// refreshes them in the background. Call Close to stop the refresh.
func NewFirebaseVerifierFromJWKS(projectID, jwksURL string, logger auth.Logger, opts ...VerifierOption) (*FirebaseVerifier, error) {
	if logger == nil {
		logger = auth.DefaultLogger("auth:session:jwks")
	}
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			logger.Warn("failed to refresh firebase JWKS", "url", jwksURL, "error", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, auth.WrapError(auth.ErrProviderUnavailable, err, map[string]any{"jwks_url": jwksURL})
	}

	v, err := NewFirebaseVerifier(projectID, jwks.Keyfunc, opts...)
	if err != nil {
		jwks.EndBackground()
		return nil, err
	}
	v.jwks = jwks
	return v, nil
}

// Close stops the background JWKS refresh, if any.
func (v *FirebaseVerifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

// VerifyIDToken implements IDTokenVerifier.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (auth.RawIdentity, error) {
	if err := ctx.Err(); err != nil {
		return auth.RawIdentity{}, err
	}
	if idToken == "" {
		return auth.RawIdentity{}, auth.ErrInvalidSession.Clone().WithMetadata(map[string]any{
			"provider": "firebase",
			"reason":   "missing id token",
		})
	}

	claims := &FirebaseClaims{}
	_, err := jwt.ParseWithClaims(idToken, claims, v.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(FirebaseIssuerPrefix+v.projectID),
		jwt.WithAudience(v.projectID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return auth.RawIdentity{}, normalizeValidationError(err)
	}

	if claims.Subject == "" {
		return auth.RawIdentity{}, auth.ErrInvalidSession.Clone().WithMetadata(map[string]any{
			"provider": "firebase",
			"reason":   "empty subject",
		})
	}

	return auth.RawIdentity{
		UID:         claims.Subject,
		DisplayName: claims.Name,
		ProviderID:  claims.Firebase.SignInProvider,
		IDToken:     idToken,
	}, nil
}

func normalizeValidationError(err error) error {
	if err == nil {
		return nil
	}

	reason := "malformed"
	switch {
	case stderrors.Is(err, jwt.ErrTokenExpired):
		reason = "expired"
	case stderrors.Is(err, jwt.ErrTokenInvalidIssuer), stderrors.Is(err, jwt.ErrTokenInvalidAudience):
		reason = "wrong project"
	case stderrors.Is(err, jwt.ErrTokenSignatureInvalid), stderrors.Is(err, jwt.ErrTokenUnverifiable):
		reason = "signature"
	}

	return auth.WrapError(auth.ErrInvalidSession, err, map[string]any{
		"provider": "firebase",
		"reason":   reason,
	})
}
