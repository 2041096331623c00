package auth

import (
	"context"

	"github.com/goliatone/go-router"
)

var stateCtxKey = &contextKey{"auth_state"}
var snapshotCtxKey = &contextKey{"ssr_snapshot"}

type contextKey struct {
	name string
}

// SnapshotLocalsKey is the router locals key used by the snapshot middleware.
const SnapshotLocalsKey = "ssr_auth_snapshot"

// WithStateContext sets the AuthenticationState in the given context
func WithStateContext(ctx context.Context, state AuthenticationState) context.Context {
	return context.WithValue(ctx, stateCtxKey, state.Clone())
}

// StateFromContext finds the AuthenticationState from the context.
func StateFromContext(ctx context.Context) (AuthenticationState, bool) {
	raw, ok := ctx.Value(stateCtxKey).(AuthenticationState)
	return raw, ok
}

// WithSnapshotContext sets the SsrAuthSnapshot in the given context
func WithSnapshotContext(ctx context.Context, snapshot SsrAuthSnapshot) context.Context {
	return context.WithValue(ctx, snapshotCtxKey, snapshot)
}

// SnapshotFromContext finds the SsrAuthSnapshot from the context.
func SnapshotFromContext(ctx context.Context) (SsrAuthSnapshot, bool) {
	raw, ok := ctx.Value(snapshotCtxKey).(SsrAuthSnapshot)
	return raw, ok
}

// GetRouterSnapshot extracts the snapshot stored by the snapshot middleware.
func GetRouterSnapshot(ctx router.Context) (SsrAuthSnapshot, bool) {
	if ctx == nil {
		return SsrAuthSnapshot{}, false
	}
	switch raw := ctx.Locals(SnapshotLocalsKey).(type) {
	case SsrAuthSnapshot:
		return raw, true
	case *SsrAuthSnapshot:
		if raw != nil {
			return *raw, true
		}
	}
	return SnapshotFromContext(ctx.Context())
}
