package catalog

import "context"

type userKey struct{}

// WithUser returns a context carrying the identity resolved for the current request.
func WithUser(ctx context.Context, user *User) context.Context {
	if user == nil {
		return ctx
	}
	return context.WithValue(ctx, userKey{}, user)
}

// UserFrom returns the request identity, or nil if the request is anonymous.
func UserFrom(ctx context.Context) *User {
	u, _ := ctx.Value(userKey{}).(*User)
	return u
}
