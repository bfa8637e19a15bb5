package authz

import (
	"context"
	"fmt"
)

// identityCtxKey is an unexported type used as the context key for Identity.
type identityCtxKey struct{}

// Identity represents the authenticated caller.
type Identity struct {
	User string
	Name string
	Role Role
}

// WithIdentity returns a new context with the given Identity attached.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext retrieves the Identity from the context.
// Returns the zero value and false if no identity is set.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}

// Require checks that the context carries an identity whose role satisfies
// required. It never touches storage.
func Require(ctx context.Context, required Role) (Identity, error) {
	id, ok := IdentityFromContext(ctx)
	if !ok || id.User == "" {
		return Identity{}, ErrUnauthenticated
	}
	if !id.Role.Satisfies(required) {
		return id, fmt.Errorf("%w: %s access required, caller has %s", ErrForbidden, required, id.Role)
	}
	return id, nil
}
