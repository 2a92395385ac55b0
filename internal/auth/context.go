// Package auth carries the signed-in user through a request context.
package auth

import (
	"context"

	"github.com/dukerupert/smartbin/internal/model"
)

type contextKey struct{}

type AuthContext struct {
	UserID       string
	Email        string
	FirstName    string
	LastName     string
	AuthProvider string
}

// FromSession copies the identity fields of sess.
func FromSession(sess *model.Session) AuthContext {
	return AuthContext{
		UserID:       sess.UserID,
		Email:        sess.Email,
		FirstName:    sess.FirstName,
		LastName:     sess.LastName,
		AuthProvider: sess.AuthProvider,
	}
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

// UserID returns the signed-in user's id, or "" for anonymous requests.
func UserID(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.UserID
}

// Authenticated reports whether ctx carries a signed-in user.
func Authenticated(ctx context.Context) bool {
	return UserID(ctx) != ""
}
