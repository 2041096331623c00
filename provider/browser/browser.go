// Package browser implements the identity provider backed by the
// Firebase style browser SDK.
package browser

import (
	"context"
	"sync"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-portal-auth/provider"
)

// ProviderName is reported by Name.
const ProviderName = "browser"

// User is the signed in account as reported by the SDK.
type User struct {
	UID         string
	DisplayName string
	ProviderID  string
	IDToken     string
}

// SDK is the subset of the browser auth SDK the provider drives.
type SDK interface {
	Init(ctx context.Context) error
	CurrentUser() *User
	SignIn(ctx context.Context, providerID string) (*User, error)
	SignOut(ctx context.Context) error
	OnAuthStateChanged(cb func(*User)) func()
	OnIDTokenChanged(cb func(*User)) func()
}

// Option configures the Provider.
type Option func(*Provider)

// WithLogger overrides the provider logger.
func WithLogger(logger auth.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithSignInProvider selects the federated provider used by SignIn
// (default "oidc.line").
func WithSignInProvider(providerID string) Option {
	return func(p *Provider) {
		if providerID != "" {
			p.signInProvider = providerID
		}
	}
}

// Provider is the browser identity provider.
type Provider struct {
	sdk            SDK
	signInProvider string
	logger         auth.Logger
	notifier       provider.Notifier

	mu        sync.RWMutex
	ready     bool
	initErr   error
	current   *auth.RawIdentity
	detachSDK []func()
}

var _ auth.IdentityProvider = (*Provider)(nil)

// New returns a browser provider.
func New(sdk SDK, opts ...Option) *Provider {
	p := &Provider{
		sdk:            sdk,
		signInProvider: "oidc.line",
		logger:         auth.DefaultLogger("auth:provider:browser"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Name implements auth.IdentityProvider.
func (p *Provider) Name() string {
	return ProviderName
}

// Init initializes the SDK and starts relaying its auth state and token
// refresh events.
func (p *Provider) Init(ctx context.Context) error {
	if p.sdk == nil {
		return p.fail(auth.ErrProviderUnavailable)
	}

	if err := p.sdk.Init(ctx); err != nil {
		p.logger.Error("browser auth sdk init failed", "error", err)
		return p.fail(auth.WrapError(auth.ErrProviderUnavailable, err, map[string]any{
			"provider": ProviderName,
		}))
	}

	p.update(toIdentity(p.sdk.CurrentUser()))

	detachState := p.sdk.OnAuthStateChanged(func(u *User) {
		p.update(toIdentity(u))
	})
	detachToken := p.sdk.OnIDTokenChanged(func(u *User) {
		p.update(toIdentity(u))
	})

	p.mu.Lock()
	p.ready = true
	p.initErr = nil
	p.detachSDK = append(p.detachSDK, detachState, detachToken)
	p.mu.Unlock()

	return nil
}

// Close detaches from the SDK event streams.
func (p *Provider) Close() {
	p.mu.Lock()
	detach := p.detachSDK
	p.detachSDK = nil
	p.mu.Unlock()

	for _, fn := range detach {
		if fn != nil {
			fn()
		}
	}
}

// SignIn runs the SDK sign in flow.
func (p *Provider) SignIn(ctx context.Context) (*auth.RawIdentity, error) {
	if err := p.readyErr(); err != nil {
		return nil, err
	}

	user, err := p.sdk.SignIn(ctx, p.signInProvider)
	if err != nil {
		return nil, provider.Classify(ProviderName, err)
	}

	identity := toIdentity(user)
	if identity == nil {
		return nil, auth.ErrUnknown.Clone().WithMetadata(map[string]any{
			"provider": ProviderName,
			"reason":   "sdk returned no user",
		})
	}

	p.update(identity)
	return identity, nil
}

// SignOut clears the local identity. Remote failures are logged.
func (p *Provider) SignOut(ctx context.Context) error {
	if p.sdk != nil {
		if err := p.sdk.SignOut(ctx); err != nil {
			p.logger.Warn("browser sign out failed remotely, clearing local identity", "error", err)
		}
	}
	p.update(nil)
	return nil
}

// CurrentIdentity implements auth.IdentityProvider.
func (p *Provider) CurrentIdentity() *auth.RawIdentity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return nil
	}
	cp := *p.current
	return &cp
}

// OnChange implements auth.IdentityProvider.
func (p *Provider) OnChange(cb func(*auth.RawIdentity)) auth.Unsubscribe {
	return p.notifier.Subscribe(cb)
}

func (p *Provider) update(identity *auth.RawIdentity) {
	p.mu.Lock()
	switch {
	case identity == nil && p.current == nil:
		p.mu.Unlock()
		return
	case identity != nil && p.current != nil && *identity == *p.current:
		p.mu.Unlock()
		return
	case identity == nil:
		p.current = nil
	default:
		cp := *identity
		p.current = &cp
	}
	p.mu.Unlock()

	p.notifier.Emit(identity)
}

func (p *Provider) fail(err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = false
	p.initErr = err
	return err
}

func (p *Provider) readyErr() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.ready {
		return nil
	}
	if p.initErr != nil {
		return p.initErr
	}
	return auth.ErrProviderUnavailable
}

func toIdentity(u *User) *auth.RawIdentity {
	if u == nil || u.UID == "" {
		return nil
	}
	return &auth.RawIdentity{
		UID:         u.UID,
		DisplayName: u.DisplayName,
		ProviderID:  u.ProviderID,
		IDToken:     u.IDToken,
	}
}
