package auth

import (
	"context"
	"strings"
)

// Roles carried by shopper tokens. Every verified shopper holds RoleUser; RoleAdmin unlocks the
// catalogue and order administration routes.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Identity is the shopper or administrator behind a verified Firebase ID token.
type Identity struct {
	UID           string
	Email         string
	EmailVerified bool
	Roles         []string
}

// HasRole reports whether role was granted, ignoring case.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	if role == "" {
		return false
	}
	for _, granted := range i.Roles {
		if normaliseRole(granted) == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether at least one of roles was granted.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

type identityContextKey struct{}

// WithIdentity stores identity in ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext returns the identity attached by RequireFirebaseAuth.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	return identity, ok && identity != nil
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
