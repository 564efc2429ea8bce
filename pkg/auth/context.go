// Package auth turns bearer tokens into authenticated principals and carries
// the resolved identity through the request context.
package auth

import (
	"context"

	"github.com/platinummonkey/carebridge/pkg/contextkeys"
	"github.com/platinummonkey/carebridge/pkg/identity"
	"github.com/platinummonkey/carebridge/pkg/users"
)

// AuthContext holds the verified principal and the local user it maps to
type AuthContext struct {
	Principal *identity.Principal
	User      *users.User
}

// Role returns the local user's role, or "" when no user is attached
func (ac *AuthContext) Role() users.Role {
	if ac == nil || ac.User == nil {
		return ""
	}
	return ac.User.Role
}

// UserID returns the local user id, or "" when no user is attached
func (ac *AuthContext) UserID() string {
	if ac == nil || ac.User == nil {
		return ""
	}
	return ac.User.ID
}

// WithAuthContext stores ac and the user id in ctx
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	ctx = contextkeys.WithAuth(ctx, ac)
	if id := ac.UserID(); id != "" {
		ctx = contextkeys.WithUserID(ctx, id)
	}
	return ctx
}

// FromContext returns the AuthContext set by the auth middleware
func FromContext(ctx context.Context) (*AuthContext, bool) {
	ac, ok := contextkeys.GetAuth(ctx).(*AuthContext)
	return ac, ok && ac != nil
}
