package usercontext

import (
	"context"

	"github.com/dellavolpe/rnc-front/internal/idp"
)

type contextKey string

const userKey contextKey = "auth.user"

// WithUser attaches the signed-in identity to ctx.
func WithUser(ctx context.Context, user *idp.UserInfo) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// User returns the identity attached by WithUser, or nil.
func User(ctx context.Context) *idp.UserInfo {
	user, _ := ctx.Value(userKey).(*idp.UserInfo)
	return user
}

// Email returns the signed-in user's email, or "" for anonymous requests.
func Email(ctx context.Context) string {
	if user := User(ctx); user != nil {
		return user.Email
	}
	return ""
}
