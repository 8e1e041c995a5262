package auth

import (
	"context"
	"strings"
)

// Identity is the authenticated operator attached to a request.
type Identity struct {
	OperatorID int64
	Login      string
	Profile    string
}

type identityContextKey struct{}

// ContextWithOperator stores the operator identity in the context.
func ContextWithOperator(ctx context.Context, id Identity) context.Context {
	id.Login = strings.TrimSpace(id.Login)
	return context.WithValue(ctx, identityContextKey{}, id)
}

// OperatorFromContext extracts the authenticated operator from context.
func OperatorFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(Identity)
	return v, ok
}

// IdentityFromClaims converts validated claims into a request identity.
func IdentityFromClaims(c *Claims) Identity {
	id, _ := c.OperatorID()
	return Identity{OperatorID: id, Login: c.Login, Profile: c.Profile}
}
