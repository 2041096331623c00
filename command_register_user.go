package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// IdentityVerifier turns an identity provider ID token into a RawIdentity.
type IdentityVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (RawIdentity, error)
}

// UserRegistry is the backend user store seen by the registration command.
type UserRegistry interface {
	UserResolver
	Register(ctx context.Context, identity RawIdentity) (*RegisteredUser, error)
}

// RegisterUserMessage asks for the account of the identity behind IDToken.
type RegisterUserMessage struct {
	IDToken     string `json:"idToken"`
	DisplayName string `json:"displayName,omitempty"`
}

func (e RegisterUserMessage) Type() string { return "user.register" }

// RegisterUserHandler verifies the token and registers its identity. The
// command is idempotent: an existing account is returned unchanged.
type RegisterUserHandler struct {
	verifier IdentityVerifier
	registry UserRegistry
	timeout  time.Duration
}

// NewRegisterUserHandler creates the registration command handler.
func NewRegisterUserHandler(verifier IdentityVerifier, registry UserRegistry) *RegisterUserHandler {
	return &RegisterUserHandler{
		verifier: verifier,
		registry: registry,
		timeout:  10 * time.Second,
	}
}

// Execute runs the command and returns the registered user.
func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) (*RegisteredUser, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) (*RegisteredUser, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	identity, err := h.verifier.VerifyIDToken(ctx, event.IDToken)
	if err != nil {
		return nil, err
	}
	if event.DisplayName != "" {
		identity.DisplayName = event.DisplayName
	}

	user, err := h.registry.Register(ctx, identity)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "user registration failed")
	}
	return user, nil
}

// LookupUser resolves the registered user for the identity behind idToken.
// A nil user means the identity has not registered yet.
func (h *RegisterUserHandler) LookupUser(ctx context.Context, idToken string) (*RegisteredUser, error) {
	identity, err := h.verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	user, err := h.registry.FindRegisteredUser(ctx, identity)
	if err != nil {
		return nil, WrapError(ErrFetch, err, map[string]any{"uid": identity.UID})
	}
	return user, nil
}
