// Package liff implements the identity provider used inside the LINE
// in-app browser.
package liff

import (
	"context"
	"net/url"
	"strings"
	"sync"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-portal-auth/provider"
)

// ProviderName is reported by Name and stamped on issued identities.
const ProviderName = "line"

// Profile is the LINE profile returned by the SDK.
type Profile struct {
	UserID      string
	DisplayName string
	PictureURL  string
}

// SDK is the subset of the LIFF SDK the provider drives.
type SDK interface {
	Init(ctx context.Context, liffID string) error
	IsLoggedIn() bool
	Login(ctx context.Context, redirectURI string) error
	Logout()
	GetIDToken() string
	GetProfile(ctx context.Context) (Profile, error)
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

// WithLaunchURL sets the URL the page was opened with. It is parsed once
// during Init for the `initial` deep link.
func WithLaunchURL(raw string) Option {
	return func(p *Provider) {
		p.launchURL = raw
	}
}

// WithRedirectURI sets where an external browser login returns to.
func WithRedirectURI(uri string) Option {
	return func(p *Provider) {
		p.redirectURI = uri
	}
}

// Provider is the LIFF identity provider.
type Provider struct {
	sdk         SDK
	liffID      string
	launchURL   string
	redirectURI string
	logger      auth.Logger
	notifier    provider.Notifier

	mu          sync.RWMutex
	ready       bool
	initErr     error
	current     *auth.RawIdentity
	initialPath string
	consumed    bool
}

var _ auth.IdentityProvider = (*Provider)(nil)

// New returns a LIFF provider for the given LIFF app id.
func New(sdk SDK, liffID string, opts ...Option) *Provider {
	p := &Provider{
		sdk:    sdk,
		liffID: liffID,
		logger: auth.DefaultLogger("auth:provider:liff"),
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

// Init initializes the SDK and restores an existing login.
func (p *Provider) Init(ctx context.Context) error {
	if p.sdk == nil {
		return p.setInitErr(auth.ErrProviderUnavailable)
	}

	if err := p.sdk.Init(ctx, p.liffID); err != nil {
		p.logger.Error("liff init failed", "liff_id", p.liffID, "error", err)
		return p.setInitErr(auth.WrapError(auth.ErrProviderUnavailable, err, map[string]any{
			"provider": ProviderName,
		}))
	}

	p.mu.Lock()
	p.ready = true
	p.initErr = nil
	if !p.consumed && p.initialPath == "" {
		p.initialPath = InitialPathFromURL(p.launchURL)
	}
	p.mu.Unlock()

	if !p.sdk.IsLoggedIn() {
		return nil
	}

	identity, err := p.loadIdentity(ctx)
	if err != nil {
		p.logger.Warn("liff session present but profile unavailable", "error", err)
		return nil
	}
	p.update(identity)
	return nil
}

// SignIn logs the user in. Inside the LINE client login is implicit, in
// an external browser the SDK redirects and the identity arrives on the
// next page load.
func (p *Provider) SignIn(ctx context.Context) (*auth.RawIdentity, error) {
	if err := p.readyErr(); err != nil {
		return nil, err
	}

	if !p.sdk.IsLoggedIn() {
		if err := p.sdk.Login(ctx, p.redirectURI); err != nil {
			return nil, provider.Classify(ProviderName, err)
		}
		if !p.sdk.IsLoggedIn() {
			return nil, auth.ErrUserCancelled.Clone().WithMetadata(map[string]any{
				"provider": ProviderName,
				"reason":   "login not completed",
			})
		}
	}

	identity, err := p.loadIdentity(ctx)
	if err != nil {
		return nil, provider.Classify(ProviderName, err)
	}

	p.update(identity)
	return identity, nil
}

// SignOut clears the local identity. It never fails.
func (p *Provider) SignOut(ctx context.Context) error {
	if p.sdk != nil && p.isReady() {
		p.sdk.Logout()
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

// ConsumeInitialPath returns the `initial` deep link the app was launched
// with. It reports true at most once per provider.
func (p *Provider) ConsumeInitialPath() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.consumed || p.initialPath == "" {
		return "", false
	}
	p.consumed = true
	path := p.initialPath
	p.initialPath = ""
	return path, true
}

func (p *Provider) loadIdentity(ctx context.Context) (*auth.RawIdentity, error) {
	profile, err := p.sdk.GetProfile(ctx)
	if err != nil {
		return nil, err
	}
	return &auth.RawIdentity{
		UID:         profile.UserID,
		DisplayName: profile.DisplayName,
		ProviderID:  ProviderName,
		IDToken:     p.sdk.GetIDToken(),
	}, nil
}

func (p *Provider) update(identity *auth.RawIdentity) {
	p.mu.Lock()
	if identity == nil && p.current == nil {
		p.mu.Unlock()
		return
	}
	if identity != nil && p.current != nil && *identity == *p.current {
		p.mu.Unlock()
		return
	}
	if identity == nil {
		p.current = nil
	} else {
		cp := *identity
		p.current = &cp
	}
	p.mu.Unlock()

	p.notifier.Emit(identity)
}

func (p *Provider) setInitErr(err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = false
	p.initErr = err
	return err
}

func (p *Provider) isReady() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready
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

// InitialPathFromURL extracts the `initial` deep link from a LIFF launch
// URL. LIFF may wrap the original query in `liff.state`.
func InitialPathFromURL(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	query := u.Query()
	if initial := query.Get("initial"); initial != "" {
		return initial
	}

	state := query.Get("liff.state")
	if state == "" {
		return ""
	}
	inner, err := url.Parse(state)
	if err != nil {
		return ""
	}
	return inner.Query().Get("initial")
}
