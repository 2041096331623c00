package guard

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.ParseRequestURI(raw)
	require.NoError(t, err)
	return u
}

func newTestGuard() *Guard {
	return New(WithLogger(auth.NopLogger()))
}

func phaseState(phase auth.Phase) auth.AuthenticationState {
	return auth.AuthenticationState{Phase: phase}
}

var allPhases = []auth.Phase{
	auth.PhaseLoading,
	auth.PhaseUnauthenticated,
	auth.PhaseAuthenticating,
	auth.PhaseUserRegistered,
	auth.PhaseNeedsPhoneVerification,
	auth.PhaseError,
}

func TestProtectedPathsAllowOnlyRegisteredUsers(t *testing.T) {
	g := newTestGuard()
	paths := []string{"/users/me", "/users/me/profile", "/wallets/me", "/tickets", "/tickets/9?tab=qr", "/reservations/1", "/credentials/a", "/admin"}

	for _, p := range paths {
		for _, phase := range allPhases {
			if !phase.Settled() {
				continue
			}
			d := g.Decide(mustURL(t, p), phaseState(phase), nil)
			assert.Equal(t, phase == auth.PhaseUserRegistered, d.IsAllow(), "%s in %s", p, phase)
		}
	}
}

func TestAuthEntryRedirectsRegisteredUsers(t *testing.T) {
	g := newTestGuard()

	for _, p := range []string{"/login", "/sign-up", "/sign-up/phone-verification", "/login?next=%2Ftickets"} {
		d := g.Decide(mustURL(t, p), phaseState(auth.PhaseUserRegistered), nil)
		require.Equal(t, Redirect, d.Kind, p)
		assert.NotEqual(t, mustURL(t, p).Path, mustURL(t, d.Location).Path, p)
	}

	d := g.Decide(mustURL(t, "/login?next=%2Ftickets%2F3"), phaseState(auth.PhaseUserRegistered), nil)
	assert.Equal(t, Decision{Kind: Redirect, Location: "/tickets/3"}, d)

	d = g.Decide(mustURL(t, "/login?next=%2Fsign-up"), phaseState(auth.PhaseUserRegistered), nil)
	assert.Equal(t, Decision{Kind: Redirect, Location: "/"}, d)
}

func TestAuthEntryAllowedWhileSignedOut(t *testing.T) {
	g := newTestGuard()
	for _, phase := range []auth.Phase{auth.PhaseUnauthenticated, auth.PhaseNeedsPhoneVerification, auth.PhaseError} {
		assert.True(t, g.Decide(mustURL(t, "/login"), phaseState(phase), nil).IsAllow(), phase)
		assert.True(t, g.Decide(mustURL(t, "/sign-up/phone-verification"), phaseState(phase), nil).IsAllow(), phase)
	}
}

func TestNeedsPhoneVerificationRedirect(t *testing.T) {
	g := newTestGuard()

	d := g.Decide(mustURL(t, "/tickets"), phaseState(auth.PhaseNeedsPhoneVerification), nil)
	assert.Equal(t, Decision{Kind: Redirect, Location: "/sign-up/phone-verification?next=%2Ftickets"}, d)

	d = g.Decide(mustURL(t, "/events"), phaseState(auth.PhaseNeedsPhoneVerification), nil)
	assert.True(t, d.IsAllow())
}

func TestPhoneVerificationPathDecisions(t *testing.T) {
	g := newTestGuard()
	target := "/sign-up/phone-verification?next=%2Ftickets"

	snapshots := map[string]*auth.SsrAuthSnapshot{
		"none":       nil,
		"no cookie":  {},
		"cookie":     {HasSessionCookie: true},
		"registered": {HasSessionCookie: true, UserRegistered: true},
	}

	want := func(phase auth.Phase, snapshot string) Decision {
		switch {
		case phase == auth.PhaseUserRegistered:
			return Decision{Kind: Redirect, Location: "/tickets"}
		case phase.Settled():
			return Decision{Kind: Allow}
		case snapshot == "no cookie":
			return Decision{Kind: Allow}
		default:
			return Decision{Kind: Pending}
		}
	}

	for _, phase := range allPhases {
		for name, snapshot := range snapshots {
			d := g.Decide(mustURL(t, target), phaseState(phase), snapshot)
			assert.Equal(t, want(phase, name), d, "%s with %s snapshot", phase, name)
		}
	}
}

func TestUnverifiedPhoneDoesNotLoop(t *testing.T) {
	g := newTestGuard()
	snapshot := &auth.SsrAuthSnapshot{HasSessionCookie: true, UserRegistered: true}

	d := g.Decide(mustURL(t, "/tickets"), phaseState(auth.PhaseNeedsPhoneVerification), snapshot)
	require.Equal(t, Redirect, d.Kind)
	require.Equal(t, "/sign-up/phone-verification?next=%2Ftickets", d.Location)

	// full page load of the phone page before the client settles
	d = g.Decide(mustURL(t, d.Location), phaseState(auth.PhaseLoading), snapshot)
	assert.NotEqual(t, Redirect, d.Kind)

	d = g.Decide(mustURL(t, "/sign-up/phone-verification?next=%2Ftickets"), phaseState(auth.PhaseNeedsPhoneVerification), snapshot)
	assert.True(t, d.IsAllow())
}

func TestLoginRedirectKeepsQuery(t *testing.T) {
	g := newTestGuard()
	d := g.Decide(mustURL(t, "/wallets/me?tab=history"), phaseState(auth.PhaseUnauthenticated), nil)
	assert.Equal(t, Decision{Kind: Redirect, Location: "/login?next=%2Fwallets%2Fme%3Ftab%3Dhistory"}, d)
}

func TestUnsettledStateWithoutSnapshotIsPending(t *testing.T) {
	g := newTestGuard()
	for _, phase := range []auth.Phase{auth.PhaseLoading, auth.PhaseAuthenticating} {
		for _, p := range []string{"/wallets/me", "/login", "/events"} {
			assert.Equal(t, Pending, g.Decide(mustURL(t, p), phaseState(phase), nil).Kind, "%s %s", phase, p)
		}
	}
}

func TestSnapshotSeedsFirstDecision(t *testing.T) {
	g := newTestGuard()
	loading := phaseState(auth.PhaseLoading)

	t.Run("scenario 1: no cookie on protected path", func(t *testing.T) {
		d := g.Decide(mustURL(t, "/wallets/me"), loading, &auth.SsrAuthSnapshot{HasSessionCookie: false})
		assert.Equal(t, Decision{Kind: Redirect, Location: "/login?next=%2Fwallets%2Fme"}, d)
	})

	t.Run("scenario 2: registered session on login", func(t *testing.T) {
		d := g.Decide(mustURL(t, "/login"), loading, &auth.SsrAuthSnapshot{HasSessionCookie: true, UserRegistered: true})
		assert.Equal(t, Decision{Kind: Redirect, Location: "/"}, d)
	})

	t.Run("cookie without registration waits", func(t *testing.T) {
		d := g.Decide(mustURL(t, "/wallets/me"), loading, &auth.SsrAuthSnapshot{HasSessionCookie: true})
		assert.Equal(t, Pending, d.Kind)
	})

	t.Run("settled state wins over snapshot", func(t *testing.T) {
		d := g.Decide(mustURL(t, "/wallets/me"), phaseState(auth.PhaseUserRegistered), &auth.SsrAuthSnapshot{})
		assert.True(t, d.IsAllow())
	})
}

func TestCallbackAlwaysAllowed(t *testing.T) {
	g := newTestGuard()
	target := mustURL(t, "/?code=abc&state=xyz&liffClientId=123")

	for _, phase := range allPhases {
		assert.True(t, g.Decide(target, phaseState(phase), nil).IsAllow(), phase)
		assert.True(t, g.Decide(target, phaseState(phase), &auth.SsrAuthSnapshot{}).IsAllow(), phase)
	}

	assert.False(t, g.IsCallback(mustURL(t, "/?code=abc&state=xyz")))
	assert.False(t, g.IsCallback(mustURL(t, "/tickets?code=abc&state=xyz&liffClientId=123")))
}

func TestValidateNextParam(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://evil.example/x", "/"},
		{"//evil", "/"},
		{"/login", "/"},
		{"/login?next=/x", "/"},
		{"/sign-up/phone-verification", "/"},
		{"", "/"},
		{"wallets/me", "/"},
		{"/\\evil.example", "/"},
		{"javascript:alert(1)", "/"},
		{"/" + strings.Repeat("a", 600), "/"},
		{"/wallets/me", "/wallets/me"},
		{"/tickets/3?tab=qr", "/tickets/3?tab=qr"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidateNextParam(tt.raw), tt.raw)
	}
}

type onceSource struct {
	path string
	used bool
}

func (s *onceSource) ConsumeInitialPath() (string, bool) {
	if s.used || s.path == "" {
		return "", false
	}
	s.used = true
	return s.path, true
}

func TestRestoreDeepLink(t *testing.T) {
	g := newTestGuard()

	source := &onceSource{path: "/tickets/3"}
	link, ok := g.RestoreDeepLink(source, mustURL(t, "/"))
	require.True(t, ok)
	assert.Equal(t, "/tickets/3", link)

	_, ok = g.RestoreDeepLink(source, mustURL(t, "/"))
	assert.False(t, ok)

	_, ok = g.RestoreDeepLink(&onceSource{path: "https://evil.example"}, mustURL(t, "/"))
	assert.False(t, ok)

	_, ok = g.RestoreDeepLink(&onceSource{path: "/tickets/3"}, mustURL(t, "/tickets/3"))
	assert.False(t, ok)

	_, ok = g.RestoreDeepLink(nil, mustURL(t, "/"))
	assert.False(t, ok)
}

func TestMiddlewareRedirectsWithoutSession(t *testing.T) {
	var events []auth.ActivityEvent
	g := New(WithLogger(auth.NopLogger()), WithActivitySink(auth.ActivitySinkFunc(func(_ context.Context, e auth.ActivityEvent) error {
		events = append(events, e)
		return nil
	})))

	ctx := router.NewMockContext()
	ctx.LocalsMock[auth.SnapshotLocalsKey] = auth.SsrAuthSnapshot{}
	ctx.On("OriginalURL").Return("/wallets/me")
	ctx.On("Context").Return(context.Background())

	var location string
	ctx.On("Redirect", mock.Anything, []int{http.StatusFound}).Run(func(args mock.Arguments) {
		location = args.String(0)
	}).Return(nil)

	handler := g.Middleware()(func(router.Context) error { return nil })
	require.NoError(t, handler(ctx))
	assert.Equal(t, "/login?next=%2Fwallets%2Fme", location)
	assert.False(t, ctx.NextCalled)
	require.Len(t, events, 1)
	assert.Equal(t, auth.ActivityEventGuardRedirect, events[0].EventType)
}

func TestMiddlewarePassesUndecidedRequests(t *testing.T) {
	g := newTestGuard()

	tests := []struct {
		name     string
		uri      string
		snapshot any
	}{
		{name: "no snapshot", uri: "/wallets/me"},
		{name: "unknown registration", uri: "/wallets/me", snapshot: auth.SsrAuthSnapshot{HasSessionCookie: true}},
		{name: "registered", uri: "/wallets/me", snapshot: &auth.SsrAuthSnapshot{HasSessionCookie: true, UserRegistered: true}},
		{name: "phone verification with session", uri: "/sign-up/phone-verification?next=%2Ftickets", snapshot: auth.SsrAuthSnapshot{HasSessionCookie: true, UserRegistered: true}},
		{name: "public path", uri: "/events", snapshot: auth.SsrAuthSnapshot{}},
		{name: "callback", uri: "/?code=a&state=b&liffClientId=c", snapshot: auth.SsrAuthSnapshot{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := router.NewMockContext()
			if tt.snapshot != nil {
				ctx.LocalsMock[auth.SnapshotLocalsKey] = tt.snapshot
			}
			ctx.On("OriginalURL").Return(tt.uri)
			ctx.On("Context").Return(context.Background())

			handler := g.Middleware()(func(router.Context) error { return nil })
			require.NoError(t, handler(ctx))
			assert.True(t, ctx.NextCalled)
		})
	}
}
