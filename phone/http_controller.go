package phone

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-router"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// IdentifyFunc resolves the signed in identity of a request.
type IdentifyFunc func(ctx router.Context) (auth.RawIdentity, error)

// SendRequest is the body of POST /send.
type SendRequest struct {
	PhoneNumber string `json:"phoneNumber" form:"phoneNumber"`
}

// Validate implements validation.Validatable.
func (r SendRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PhoneNumber, validation.Required, validation.Length(4, 32)),
	)
}

// ConfirmRequest is the body of POST /confirm.
type ConfirmRequest struct {
	VerificationID string `json:"verificationId" form:"verificationId"`
	Code           string `json:"code" form:"code"`
}

// Validate implements validation.Validatable.
func (r ConfirmRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.VerificationID, validation.Required, is.UUID),
		validation.Field(&r.Code, validation.Required, validation.Length(4, 10), is.Digit),
	)
}

// HTTPConfig configures the HTTP controller.
type HTTPConfig struct {
	// Region is the default region for numbers without a country prefix (default: JP)
	Region string

	// Logger (optional)
	Logger auth.Logger

	// ActivitySink receives challenge and verification events (optional)
	ActivitySink auth.ActivitySink

	// ErrorHandler handles errors (optional)
	ErrorHandler func(ctx router.Context, err error) error
}

// HTTPController serves the server side of phone verification. It is
// stateless: challenges live in the Provider, links in the Linker.
type HTTPController struct {
	provider Provider
	linker   Linker
	identify IdentifyFunc
	config   HTTPConfig
}

// NewHTTPController creates a phone verification controller.
func NewHTTPController(provider Provider, linker Linker, identify IdentifyFunc, cfg HTTPConfig) *HTTPController {
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.Logger == nil {
		cfg.Logger = auth.DefaultLogger("auth:phone:http")
	}
	cfg.ActivitySink = auth.NormalizeActivitySink(cfg.ActivitySink)

	c := &HTTPController{
		provider: provider,
		linker:   linker,
		identify: identify,
		config:   cfg,
	}
	if c.config.ErrorHandler == nil {
		c.config.ErrorHandler = func(ctx router.Context, err error) error {
			return auth.RespondError(ctx, c.config.Logger, err)
		}
	}
	return c
}

// RegisterRoutes registers the phone routes on group.
func (c *HTTPController) RegisterRoutes(group RouteRegistrar) {
	group.Post("/send", c.Send)
	group.Post("/confirm", c.Confirm)
}

// Send validates the number and issues a challenge.
func (c *HTTPController) Send(ctx router.Context) error {
	identity, err := c.identify(ctx)
	if err != nil {
		return c.config.ErrorHandler(ctx, err)
	}

	payload := new(SendRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.config.ErrorHandler(ctx, auth.InvalidRequest(err))
	}
	if err := payload.Validate(); err != nil {
		return c.config.ErrorHandler(ctx, auth.InvalidRequest(err))
	}

	e164, err := Normalize(payload.PhoneNumber, c.config.Region)
	if err != nil {
		return c.config.ErrorHandler(ctx, err)
	}

	challenge, err := c.provider.SendChallenge(ctx.Context(), e164)
	if err != nil {
		if auth.IsKind(err, auth.KindRateLimited) {
			c.record(ctx, identity, auth.ActivityEventPhoneRateLimited, e164)
		}
		return c.config.ErrorHandler(ctx, err)
	}

	c.record(ctx, identity, auth.ActivityEventPhoneChallengeSent, e164)

	return ctx.JSON(router.StatusOK, map[string]any{
		"status":         string(StatusChallengeSent),
		"verificationId": challenge.VerificationID,
		"expiresAt":      challenge.ExpiresAt,
		"phoneNumber":    Mask(e164),
	})
}

// Confirm checks the code and links the phone to the signed in user. When
// the link fails the challenge stays confirmed, so posting the same code
// again retries the link without sending a new code.
func (c *HTTPController) Confirm(ctx router.Context) error {
	identity, err := c.identify(ctx)
	if err != nil {
		return c.config.ErrorHandler(ctx, err)
	}

	payload := new(ConfirmRequest)
	if err := ctx.Bind(payload); err != nil {
		return c.config.ErrorHandler(ctx, auth.InvalidRequest(err))
	}
	payload.Code = strings.TrimSpace(payload.Code)
	if err := payload.Validate(); err != nil {
		return c.config.ErrorHandler(ctx, auth.InvalidRequest(err))
	}

	cred, err := c.provider.ConfirmCode(ctx.Context(), payload.VerificationID, payload.Code)
	if err != nil {
		return c.config.ErrorHandler(ctx, err)
	}

	if err := c.linker.LinkPhone(ctx.Context(), identity, cred); err != nil {
		if !auth.IsKind(err, auth.KindLinkIncomplete) {
			err = auth.WrapError(auth.ErrLinkIncomplete, err, map[string]any{"uid": identity.UID})
		}
		c.record(ctx, identity, auth.ActivityEventPhoneLinkIncomplete, cred.PhoneNumber)
		return c.config.ErrorHandler(ctx, err)
	}

	if completer, ok := c.provider.(Completer); ok {
		if err := completer.Complete(ctx.Context(), cred.VerificationID); err != nil {
			c.config.Logger.Warn("confirmed challenge not released", "verification_id", cred.VerificationID, "error", err)
		}
	}

	c.record(ctx, identity, auth.ActivityEventPhoneVerified, cred.PhoneNumber)

	return ctx.JSON(router.StatusOK, map[string]any{
		"status":   string(StatusVerified),
		"phoneUid": cred.PhoneUID,
	})
}

func (c *HTTPController) record(ctx router.Context, identity auth.RawIdentity, eventType auth.ActivityEventType, e164 string) {
	auth.RecordActivity(ctx.Context(), c.config.ActivitySink, c.config.Logger, auth.ActivityEvent{
		EventType:   eventType,
		IdentityUID: identity.UID,
		Metadata:    map[string]any{"phone": Mask(e164)},
	})
}
