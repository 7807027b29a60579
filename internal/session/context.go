package session

import "context"

type ctxKey string

const principalKey ctxKey = "session_principal"

// ContextWithPrincipal stores the verified identity in the request context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext extracts the verified identity from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok || p.Username == "" {
		return Principal{}, false
	}
	return p, true
}
