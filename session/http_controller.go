package session

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-router"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// RegistrationChecker reports whether the account behind uid completed registration.
type RegistrationChecker interface {
	IsRegistered(ctx context.Context, uid string) (bool, error)
}

// RegistrationCheckerFunc adapts a function to RegistrationChecker.
type RegistrationCheckerFunc func(ctx context.Context, uid string) (bool, error)

// IsRegistered implements RegistrationChecker.
func (f RegistrationCheckerFunc) IsRegistered(ctx context.Context, uid string) (bool, error) {
	return f(ctx, uid)
}

// LoginRequest is the body of POST /sessionLogin.
type LoginRequest struct {
	IDToken string `json:"idToken" form:"idToken"`
}

// Validate implements validation.Validatable.
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.IDToken, validation.Required),
	)
}

// HTTPConfig configures the session controller.
type HTTPConfig struct {
	// Cookie holds the session cookie attributes (default: auth.DefaultCookieOptions)
	Cookie *auth.CookieOptions

	// Registration is consulted by the snapshot middleware (optional)
	Registration RegistrationChecker

	// Logger (optional)
	Logger auth.Logger

	// ActivitySink receives session created/destroyed events (optional)
	ActivitySink auth.ActivitySink

	// ErrorHandler handles errors (optional)
	ErrorHandler func(ctx router.Context, err error) error
}

// HTTPController serves the session endpoints and the SSR snapshot.
type HTTPController struct {
	issuer *Issuer
	config HTTPConfig
	cookie auth.CookieOptions
}

// NewHTTPController creates a session controller.
func NewHTTPController(issuer *Issuer, cfg HTTPConfig) *HTTPController {
	if cfg.Logger == nil {
		cfg.Logger = auth.DefaultLogger("auth:session:http")
	}
	cfg.ActivitySink = auth.NormalizeActivitySink(cfg.ActivitySink)

	c := &HTTPController{
		issuer: issuer,
		config: cfg,
		cookie: auth.DefaultCookieOptions(),
	}
	if cfg.Cookie != nil {
		c.cookie = *cfg.Cookie
	}
	if c.config.ErrorHandler == nil {
		c.config.ErrorHandler = func(ctx router.Context, err error) error {
			return auth.RespondError(ctx, c.config.Logger, err)
		}
	}
	return c
}

// RegisterRoutes registers the session routes on group, usually mounted at /api.
func (c *HTTPController) RegisterRoutes(group RouteRegistrar) {
	group.Post("/sessionLogin", c.Login)
	group.Post("/sessionLogout", c.Logout)
	group.Get("/session/snapshot", c.Snapshot)
}

// Login exchanges an ID token for the session cookie.
func (c *HTTPController) Login(ctx router.Context) error {
	payload := new(LoginRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.config.ErrorHandler(ctx, auth.InvalidRequest(err))
	}
	if err := payload.Validate(); err != nil {
		return c.config.ErrorHandler(ctx, auth.InvalidRequest(err))
	}

	sess, err := c.issuer.Issue(ctx.Context(), payload.IDToken)
	if err != nil {
		c.config.Logger.Warn("session login rejected", "kind", auth.ErrorKind(err))
		return c.config.ErrorHandler(ctx, err)
	}

	auth.SetCookie(ctx, c.cookie, CookieName, sess.Value, c.issuer.TTL())

	auth.RecordActivity(ctx.Context(), c.config.ActivitySink, c.config.Logger, auth.ActivityEvent{
		EventType:   auth.ActivityEventSessionCreated,
		IdentityUID: sess.Identity.UID,
		Metadata:    map[string]any{"provider_id": sess.Identity.ProviderID},
	})

	return ctx.JSON(router.StatusOK, map[string]any{
		"status":    "ok",
		"expiresAt": sess.ExpiresAt,
	})
}

// Logout clears both session cookies. It always succeeds.
func (c *HTTPController) Logout(ctx router.Context) error {
	uid := ""
	if claims, err := c.issuer.Verify(cookieValue(ctx)); err == nil {
		uid = claims.Subject
	}

	auth.ClearCookie(ctx, c.cookie, CookieName)
	auth.ClearCookie(ctx, c.cookie, LegacyCookieName)

	auth.RecordActivity(ctx.Context(), c.config.ActivitySink, c.config.Logger, auth.ActivityEvent{
		EventType:   auth.ActivityEventSessionDestroyed,
		IdentityUID: uid,
	})

	return ctx.JSON(router.StatusOK, map[string]any{"status": "ok"})
}

// Snapshot returns the SSR auth snapshot of the request as JSON.
func (c *HTTPController) Snapshot(ctx router.Context) error {
	snapshot, ok := auth.GetRouterSnapshot(ctx)
	if !ok {
		snapshot = c.ComputeSnapshot(ctx)
	}
	return ctx.JSON(router.StatusOK, snapshot)
}

// ComputeSnapshot derives the SSR auth snapshot from the request cookies.
// A cookie that fails verification still counts as present but never as
// registered.
func (c *HTTPController) ComputeSnapshot(ctx router.Context) auth.SsrAuthSnapshot {
	value := cookieValue(ctx)
	snapshot := auth.SsrAuthSnapshot{HasSessionCookie: value != ""}
	if value == "" || c.config.Registration == nil {
		return snapshot
	}

	claims, err := c.issuer.Verify(value)
	if err != nil {
		c.config.Logger.Debug("session cookie did not verify", "error", err)
		return snapshot
	}

	registered, err := c.config.Registration.IsRegistered(ctx.Context(), claims.Subject)
	if err != nil {
		c.config.Logger.Warn("registration lookup failed", "uid", claims.Subject, "error", err)
		return snapshot
	}
	snapshot.UserRegistered = registered
	return snapshot
}

// SnapshotMiddleware stores the SSR auth snapshot in the request locals
// under auth.SnapshotLocalsKey.
func (c *HTTPController) SnapshotMiddleware() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			ctx.Locals(auth.SnapshotLocalsKey, c.ComputeSnapshot(ctx))
			return ctx.Next()
		}
	}
}

// Identify resolves the identity of the session cookie. It matches the
// phone.IdentifyFunc signature.
func (c *HTTPController) Identify(ctx router.Context) (auth.RawIdentity, error) {
	claims, err := c.issuer.Verify(cookieValue(ctx))
	if err != nil {
		return auth.RawIdentity{}, err
	}
	return claims.Identity(), nil
}

func cookieValue(ctx router.Context) string {
	if value := ctx.Cookies(CookieName); value != "" {
		return value
	}
	return ctx.Cookies(LegacyCookieName)
}
