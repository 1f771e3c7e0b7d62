package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal identifies an authenticated caller.
type Principal struct {
	Subject string
	Role    string
	Method  string // "jwt" or "api_key"
}

// PrincipalFromContext retrieves the authenticated caller from the request
// context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// WithPrincipal stores p in the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// BearerAuth returns an HTTP middleware that accepts either a JWT or a
// static API key as the Bearer token. Either verifier may be nil.
func BearerAuth(jwtService *JWTService, keys *APIKeySet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"error":"authorization header required"}`, http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, `{"error":"invalid authorization format, expected Bearer <token>"}`, http.StatusUnauthorized)
				return
			}

			token := parts[1]
			if token == "" {
				http.Error(w, `{"error":"empty token"}`, http.StatusUnauthorized)
				return
			}

			// JWTs contain dots; API keys are hex.
			if jwtService != nil && strings.Contains(token, ".") {
				if claims, err := jwtService.ValidateToken(token); err == nil {
					p := Principal{Subject: claims.Subject, Role: claims.Role, Method: "jwt"}
					next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
					return
				}
			}

			if key, ok := keys.Verify(token); ok {
				p := Principal{Subject: key.Name, Role: key.Role, Method: "api_key"}
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
				return
			}

			http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
		})
	}
}
