package router

import (
	"net/http"
	"strings"

	"soapbox.chat/internal/fault"
	"soapbox.chat/internal/session"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/register",
	"/v1/auth/login",
	"/v1/info",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r)
		if err != nil {
			writeFault(w, r, err)
			return
		}

		principal, expiredUser, err := a.sessions.Resolve(token)
		if err != nil {
			// An expired token for a known principal is a vanish
			// signal: it may be the current lock holder going away.
			if expiredUser != "" {
				a.presence.Expired(expiredUser)
			}
			writeFault(w, r, err)
			return
		}

		a.presence.Touch(principal.Username)
		ctx := session.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) principal(r *http.Request) (session.Principal, error) {
	p, ok := session.PrincipalFromContext(r.Context())
	if !ok {
		return session.Principal{}, fault.New(fault.TokenInvalid, "authentication required")
	}
	return p, nil
}

// extractBearerToken reads the Authorization header; the stream endpoint
// also accepts a token query parameter because EventSource clients cannot
// set headers.
func extractBearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if header == "" {
		if r.URL.Path == "/v1/stream" {
			if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
				return token, nil
			}
		}
		return "", fault.New(fault.TokenInvalid, "missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", fault.New(fault.TokenInvalid, "invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", fault.New(fault.TokenInvalid, "missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
