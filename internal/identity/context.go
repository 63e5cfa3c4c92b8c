package identity

import "context"

type contextKey struct{}

// WithUser attaches a resolved identity to the request context.
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// FromContext returns the identity attached by the authentication
// middleware, if any.
func FromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(contextKey{}).(User)
	return user, ok
}
