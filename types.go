package auth

import (
	"context"
	"time"
)

// Environment identifies the runtime a page load is executing in.
type Environment string

const (
	// EnvironmentLIFF is the LINE in-app browser with the LIFF SDK available.
	EnvironmentLIFF Environment = "liff"
	// EnvironmentBrowser is an ordinary browser.
	EnvironmentBrowser Environment = "browser"
	// EnvironmentServer is a server render without a DOM.
	EnvironmentServer Environment = "server"
)

// Phase is the coarse authentication status exposed to the guard and UI.
type Phase string

const (
	PhaseLoading                Phase = "loading"
	PhaseUnauthenticated        Phase = "unauthenticated"
	PhaseAuthenticating         Phase = "authenticating"
	PhaseUserRegistered         Phase = "user_registered"
	PhaseNeedsPhoneVerification Phase = "needs_phone_verification"
	PhaseError                  Phase = "error"
)

// Settled reports whether the phase is one the guard can decide on
// without consulting the SSR snapshot.
func (p Phase) Settled() bool {
	switch p {
	case PhaseUnauthenticated, PhaseUserRegistered, PhaseNeedsPhoneVerification, PhaseError:
		return true
	}
	return false
}

// RawIdentity is the identity issued by an identity provider before any
// backend lookup happened.
type RawIdentity struct {
	UID         string `json:"uid"`
	DisplayName string `json:"display_name,omitempty"`
	ProviderID  string `json:"provider_id,omitempty"`
	IDToken     string `json:"-"`
}

// SameSubject reports whether both identities refer to the same provider account.
func (r *RawIdentity) SameSubject(other *RawIdentity) bool {
	if r == nil || other == nil {
		return r == nil && other == nil
	}
	return r.UID == other.UID && r.ProviderID == other.ProviderID
}

// RegisteredUser is the backend record tied to a raw identity.
type RegisteredUser struct {
	ID            string     `json:"id"`
	IdentityUID   string     `json:"identity_uid"`
	DisplayName   string     `json:"display_name,omitempty"`
	PhoneNumber   string     `json:"phone_number,omitempty"`
	PhoneUID      string     `json:"phone_uid,omitempty"`
	PhoneVerified bool       `json:"phone_verified"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
}

// AuthenticationState is the merged view produced by the Machine. Values
// handed to observers are copies; only the Machine writes the live one.
type AuthenticationState struct {
	Phase            Phase           `json:"phase"`
	RawIdentity      *RawIdentity    `json:"raw_identity,omitempty"`
	RegisteredUser   *RegisteredUser `json:"registered_user,omitempty"`
	Environment      Environment     `json:"environment"`
	IsAuthenticating bool            `json:"is_authenticating"`
	Err              error           `json:"-"`
}

// Clone returns a deep copy safe to hand to observers.
func (s AuthenticationState) Clone() AuthenticationState {
	out := s
	if s.RawIdentity != nil {
		id := *s.RawIdentity
		out.RawIdentity = &id
	}
	if s.RegisteredUser != nil {
		u := *s.RegisteredUser
		out.RegisteredUser = &u
	}
	return out
}

// SsrAuthSnapshot is computed once per server render and handed to the client.
type SsrAuthSnapshot struct {
	HasSessionCookie bool `json:"hasSessionCookie"`
	UserRegistered   bool `json:"userRegistered"`
}

// Unsubscribe detaches a listener registered with OnChange.
type Unsubscribe func()

// IdentityProvider is a source of raw identities. Implementations live in
// provider/liff and provider/browser; exactly one is selected per page load.
type IdentityProvider interface {
	Name() string
	Init(ctx context.Context) error
	SignIn(ctx context.Context) (*RawIdentity, error)
	SignOut(ctx context.Context) error
	CurrentIdentity() *RawIdentity
	OnChange(cb func(*RawIdentity)) Unsubscribe
}

// UserResolver fetches the registered user for a raw identity. A nil user
// with a nil error means the identity has no registration yet.
type UserResolver interface {
	FindRegisteredUser(ctx context.Context, identity RawIdentity) (*RegisteredUser, error)
}

// UserResolverFunc adapts a function to UserResolver.
type UserResolverFunc func(ctx context.Context, identity RawIdentity) (*RegisteredUser, error)

// FindRegisteredUser implements UserResolver.
func (f UserResolverFunc) FindRegisteredUser(ctx context.Context, identity RawIdentity) (*RegisteredUser, error) {
	return f(ctx, identity)
}

// SessionBridge exchanges raw identity tokens for server session cookies.
type SessionBridge interface {
	CreateSession(ctx context.Context, idToken string) error
	DestroySession(ctx context.Context) error
}

// PhoneCredential is a confirmed phone challenge ready to be linked to an account.
type PhoneCredential struct {
	VerificationID string `json:"verification_id"`
	PhoneNumber    string `json:"phone_number"`
	PhoneUID       string `json:"phone_uid"`
}
