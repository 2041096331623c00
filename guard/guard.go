package guard

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-router"
)

// DecisionKind is the outcome of a guard evaluation.
type DecisionKind string

const (
	// Allow renders the requested page.
	Allow DecisionKind = "allow"
	// Redirect navigates to Decision.Location.
	Redirect DecisionKind = "redirect"
	// Pending renders a placeholder until the state settles.
	Pending DecisionKind = "pending"
)

// Decision is returned by Guard.Decide.
type Decision struct {
	Kind     DecisionKind `json:"kind"`
	Location string       `json:"location,omitempty"`
}

// IsAllow reports whether the page may render.
func (d Decision) IsAllow() bool { return d.Kind == Allow }

// Readiness classifies an SSR snapshot.
type Readiness string

const (
	ReadinessReady         Readiness = "ready"
	ReadinessNeedsRedirect Readiness = "needs_redirect"
	ReadinessUnknown       Readiness = "unknown"
)

// Classify derives the guard readiness from an SSR snapshot.
func Classify(snapshot auth.SsrAuthSnapshot) Readiness {
	switch {
	case !snapshot.HasSessionCookie:
		return ReadinessNeedsRedirect
	case snapshot.UserRegistered:
		return ReadinessReady
	default:
		return ReadinessUnknown
	}
}

// Option configures a Guard.
type Option func(*Guard)

// WithRules replaces DefaultRules.
func WithRules(rules Rules) Option {
	return func(g *Guard) {
		g.rules = rules.withDefaults()
	}
}

// WithLogger overrides the logger.
func WithLogger(logger auth.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithActivitySink publishes redirect events from Middleware.
func WithActivitySink(sink auth.ActivitySink) Option {
	return func(g *Guard) {
		g.sink = auth.NormalizeActivitySink(sink)
	}
}

// Guard evaluates navigations against a rule table.
type Guard struct {
	rules  Rules
	logger auth.Logger
	sink   auth.ActivitySink
}

// New creates a guard using DefaultRules unless overridden.
func New(opts ...Option) *Guard {
	g := &Guard{
		rules:  DefaultRules(),
		logger: auth.DefaultLogger("auth:guard"),
		sink:   auth.NormalizeActivitySink(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Rules returns the active rule table.
func (g *Guard) Rules() Rules {
	return g.rules
}

// Decide evaluates target against state. snapshot is consulted only while
// the state has not settled. The evaluation order is: provider callback,
// unsettled state, needs phone verification, protected path, auth entry.
// A snapshot cannot tell a verified user from one still verifying a phone,
// so the phone verification page waits for the settled state.
func (g *Guard) Decide(target *url.URL, state auth.AuthenticationState, snapshot *auth.SsrAuthSnapshot) Decision {
	if target == nil {
		target = &url.URL{Path: "/"}
	}
	if g.IsCallback(target) {
		return Decision{Kind: Allow}
	}

	phase := state.Phase
	fromSnapshot := !phase.Settled()
	if fromSnapshot {
		if snapshot == nil {
			return Decision{Kind: Pending}
		}
		switch Classify(*snapshot) {
		case ReadinessReady:
			phase = auth.PhaseUserRegistered
		case ReadinessNeedsRedirect:
			phase = auth.PhaseUnauthenticated
		default:
			return Decision{Kind: Pending}
		}
	}

	path := cleanPath(target.Path)
	protected := g.rules.IsProtected(path)

	if protected && phase == auth.PhaseNeedsPhoneVerification && path != cleanPath(g.rules.PhoneVerificationPath) {
		return g.redirectWithNext(g.rules.PhoneVerificationPath, target)
	}

	if protected && phase != auth.PhaseUserRegistered {
		return g.redirectWithNext(g.rules.LoginPath, target)
	}

	if phase == auth.PhaseUserRegistered && g.rules.IsAuthEntry(path) {
		if fromSnapshot && path == cleanPath(g.rules.PhoneVerificationPath) {
			return Decision{Kind: Pending}
		}
		return Decision{Kind: Redirect, Location: g.ValidateNext(target.Query().Get("next"))}
	}

	return Decision{Kind: Allow}
}

// IsCallback reports whether target is the app root carrying every
// identity provider callback parameter.
func (g *Guard) IsCallback(target *url.URL) bool {
	if target == nil || cleanPath(target.Path) != "/" || len(g.rules.CallbackParams) == 0 {
		return false
	}
	q := target.Query()
	for _, name := range g.rules.CallbackParams {
		if q.Get(name) == "" {
			return false
		}
	}
	return true
}

// ValidateNext returns raw when it is a safe in-app destination and Home
// otherwise. Safe means relative, within MaxNextLength and not an auth entry path.
func (g *Guard) ValidateNext(raw string) string {
	home := g.rules.Home
	if raw == "" || len(raw) > g.rules.MaxNextLength {
		return home
	}
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.ContainsAny(raw, "\\\r\n\t") {
		return home
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil {
		return home
	}
	if g.rules.IsAuthEntry(u.Path) {
		return home
	}
	return raw
}

// ValidateNextParam sanitises raw against DefaultRules.
func ValidateNextParam(raw string) string {
	return defaultGuard.ValidateNext(raw)
}

var defaultGuard = &Guard{rules: DefaultRules()}

// InitialPathSource hands out a pre-auth deep link at most once.
type InitialPathSource interface {
	ConsumeInitialPath() (string, bool)
}

// RestoreDeepLink consumes the deep link of source and returns it when it
// is safe and differs from current.
func (g *Guard) RestoreDeepLink(source InitialPathSource, current *url.URL) (string, bool) {
	if source == nil {
		return "", false
	}
	raw, ok := source.ConsumeInitialPath()
	if !ok || raw == "" {
		return "", false
	}
	next := g.ValidateNext(raw)
	if next != raw {
		g.logger.Warn("rejected deep link", "initial", raw)
		return "", false
	}
	if current != nil && current.RequestURI() == next {
		return "", false
	}
	return next, true
}

// Middleware applies the SSR snapshot decision on the server. Requests
// the snapshot cannot decide pass through and are settled on the client.
func (g *Guard) Middleware() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			target, err := url.ParseRequestURI(ctx.OriginalURL())
			if err != nil {
				return ctx.Next()
			}

			state := auth.AuthenticationState{Phase: auth.PhaseLoading}
			var snapshot *auth.SsrAuthSnapshot
			if snap, ok := auth.GetRouterSnapshot(ctx); ok {
				snapshot = &snap
			}

			decision := g.Decide(target, state, snapshot)
			if decision.Kind != Redirect {
				return ctx.Next()
			}

			g.record(ctx.Context(), target, decision)
			return ctx.Redirect(decision.Location, http.StatusFound)
		}
	}
}

func (g *Guard) redirectWithNext(base string, target *url.URL) Decision {
	next := g.ValidateNext(target.RequestURI())
	return Decision{Kind: Redirect, Location: base + "?next=" + url.QueryEscape(next)}
}

func (g *Guard) record(ctx context.Context, target *url.URL, decision Decision) {
	auth.RecordActivity(ctx, g.sink, g.logger, auth.ActivityEvent{
		EventType: auth.ActivityEventGuardRedirect,
		Metadata: map[string]any{
			"path":     target.Path,
			"location": decision.Location,
		},
	})
}
