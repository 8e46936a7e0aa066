package shared

import "context"

type principalContextKey struct{}

// Principal identifies the already-authenticated caller. Authentication is
// owned by the external identity provider; the backend only carries the
// identifier forward.
type Principal struct {
	UserID string
}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context. The second return
// is false when no authenticated caller is attached.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	if !ok || p.UserID == "" {
		return Principal{}, false
	}
	return p, true
}
