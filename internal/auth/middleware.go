package auth

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey struct{}

// AdminFromContext returns the claims attached by RequireAdmin.
func AdminFromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(Claims)
	return c, ok
}

// RequireAdmin rejects requests without a valid bearer token and attaches
// the admin claims to the request context.
func RequireAdmin(svc *Service, unauthorized http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				unauthorized(w, r)
				return
			}
			claims, err := svc.Parse(token)
			if err != nil {
				unauthorized(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims)))
		})
	}
}
