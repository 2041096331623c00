package bridge

import (
	"context"
	"encoding/json"
	"io"

	auth "github.com/goliatone/go-portal-auth"
)

const (
	// DefaultLookupPath resolves the registered user for an ID token.
	DefaultLookupPath = "/api/users/lookup"
	// DefaultRegisterPath registers the identity behind an ID token.
	DefaultRegisterPath = "/api/users/register"
)

var _ auth.UserResolver = (*HTTPBridge)(nil)

// FindRegisteredUser implements auth.UserResolver over the lookup endpoint.
// The identity must carry its ID token.
func (b *HTTPBridge) FindRegisteredUser(ctx context.Context, identity auth.RawIdentity) (*auth.RegisteredUser, error) {
	res, err := b.users(ctx, b.lookupPath, auth.RegistrationRequest{IDToken: identity.IDToken})
	if err != nil {
		return nil, err
	}
	if !res.Registered {
		return nil, nil
	}
	return res.User, nil
}

// Register signs up identity and returns the created, or existing, user.
func (b *HTTPBridge) Register(ctx context.Context, identity auth.RawIdentity) (*auth.RegisteredUser, error) {
	res, err := b.users(ctx, b.registerPath, auth.RegistrationRequest{
		IDToken:     identity.IDToken,
		DisplayName: identity.DisplayName,
	})
	if err != nil {
		return nil, err
	}
	return res.User, nil
}

func (b *HTTPBridge) users(ctx context.Context, path string, payload auth.RegistrationRequest) (*auth.LookupResponse, error) {
	if payload.IDToken == "" {
		return nil, auth.ErrFetch.Clone().WithMetadata(map[string]any{"reason": "missing id token"})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, auth.WrapError(auth.ErrUnknown, err, nil)
	}

	resp, err := b.post(ctx, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		meta := map[string]any{"http_status": resp.StatusCode}
		if code := errorCode(resp.Body); code != "" {
			meta["server_code"] = code
		}
		return nil, auth.ErrFetch.Clone().WithMetadata(meta)
	}

	res := &auth.LookupResponse{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(res); err != nil {
		return nil, auth.WrapError(auth.ErrFetch, err, map[string]any{"reason": "malformed response"})
	}
	return res, nil
}
