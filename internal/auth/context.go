// ABOUTME: Requester identity carried through request handlers
// ABOUTME: Provides WithIdentity/FromContext for propagating identity via context

package auth

import (
	"context"
)

// Method records how a requester was identified.
type Method string

const (
	MethodJWT    Method = "jwt"
	MethodHeader Method = "header"
)

// Identity is the authenticated requester of an HTTP call.
type Identity struct {
	RequesterID string
	Method      Method
}

type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// MustFromContext retrieves the Identity from the context, panicking if not present.
func MustFromContext(ctx context.Context) *Identity {
	id := FromContext(ctx)
	if id == nil {
		panic("auth: Identity not found in context")
	}
	return id
}
