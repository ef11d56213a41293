package server

import (
	"context"

	"github.com/opendataworks/sso-front/internal/directory"
)

type contextKey string

const userContextKey contextKey = "sso_front_user"

// WithUser attaches the authenticated local user to the request context
func WithUser(ctx context.Context, user *directory.LocalUser) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the authenticated local user, if any
func UserFromContext(ctx context.Context) (*directory.LocalUser, bool) {
	user, ok := ctx.Value(userContextKey).(*directory.LocalUser)
	if !ok || user == nil {
		return nil, false
	}
	return user, true
}
