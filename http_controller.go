package auth

import (
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-router"
)

// RouteRegistrar captures the router methods used by the registration
// controller.
type RouteRegistrar interface {
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// RegistrationRequest carries the identity provider ID token.
type RegistrationRequest struct {
	IDToken     string `json:"idToken"`
	DisplayName string `json:"displayName"`
}

// Validate will validate the payload
func (r RegistrationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.IDToken, validation.Required),
		validation.Field(&r.DisplayName, validation.Length(0, 200)),
	)
}

// LookupResponse is returned by the lookup endpoint.
type LookupResponse struct {
	Registered bool            `json:"registered"`
	User       *RegisteredUser `json:"user,omitempty"`
}

// RegistrationControllerRoutes holds the route paths, relative to the group.
type RegistrationControllerRoutes struct {
	Lookup   string
	Register string
}

// RegistrationController serves the backend user lookup and sign up
// endpoints consumed by the client UserResolver.
type RegistrationController struct {
	Logger       Logger
	Routes       *RegistrationControllerRoutes
	ActivitySink ActivitySink
	ErrorHandler func(ctx router.Context, err error) error

	handler *RegisterUserHandler
}

// RegistrationControllerOption configures the controller.
type RegistrationControllerOption func(*RegistrationController) *RegistrationController

// WithRegistrationLogger sets the controller logger.
func WithRegistrationLogger(logger Logger) RegistrationControllerOption {
	return func(c *RegistrationController) *RegistrationController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// WithRegistrationActivitySink sets the sink for registration events.
func WithRegistrationActivitySink(sink ActivitySink) RegistrationControllerOption {
	return func(c *RegistrationController) *RegistrationController {
		c.ActivitySink = sink
		return c
	}
}

// NewRegistrationController creates the controller.
func NewRegistrationController(verifier IdentityVerifier, registry UserRegistry, opts ...RegistrationControllerOption) *RegistrationController {
	c := &RegistrationController{
		Logger: DefaultLogger("auth:registration:http"),
		Routes: &RegistrationControllerRoutes{
			Lookup:   "/users/lookup",
			Register: "/users/register",
		},
		handler: NewRegisterUserHandler(verifier, registry),
	}

	for _, opt := range opts {
		c = opt(c)
	}

	c.ActivitySink = NormalizeActivitySink(c.ActivitySink)
	if c.ErrorHandler == nil {
		c.ErrorHandler = func(ctx router.Context, err error) error {
			return RespondError(ctx, c.Logger, err)
		}
	}
	return c
}

// RegisterRoutes registers the lookup and registration routes on group.
func (c *RegistrationController) RegisterRoutes(group RouteRegistrar) {
	group.Post(c.Routes.Lookup, c.Lookup)
	group.Post(c.Routes.Register, c.Register)
}

// Lookup answers whether the identity behind the token has an account.
func (c *RegistrationController) Lookup(ctx router.Context) error {
	payload, err := c.bind(ctx)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	user, err := c.handler.LookupUser(ctx.Context(), payload.IDToken)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusOK, LookupResponse{
		Registered: user != nil,
		User:       user,
	})
}

// Register creates the account for the identity behind the token.
func (c *RegistrationController) Register(ctx router.Context) error {
	payload, err := c.bind(ctx)
	if err != nil {
		return c.ErrorHandler(ctx, err)
	}

	user, err := c.handler.Execute(ctx.Context(), RegisterUserMessage{
		IDToken:     payload.IDToken,
		DisplayName: payload.DisplayName,
	})
	if err != nil {
		c.Logger.Error("register user", "error", err)
		return c.ErrorHandler(ctx, err)
	}

	RecordActivity(ctx.Context(), c.ActivitySink, c.Logger, ActivityEvent{
		EventType:   ActivityEventUserRegistered,
		IdentityUID: user.IdentityUID,
	})

	return ctx.JSON(http.StatusOK, LookupResponse{
		Registered: true,
		User:       user,
	})
}

func (c *RegistrationController) bind(ctx router.Context) (*RegistrationRequest, error) {
	payload := new(RegistrationRequest)
	if err := ctx.Bind(payload); err != nil {
		return nil, InvalidRequest(err)
	}
	if err := payload.Validate(); err != nil {
		return nil, InvalidRequest(err)
	}
	return payload, nil
}
