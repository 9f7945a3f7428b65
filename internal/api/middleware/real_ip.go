package middleware

import (
	"net/http"

	"formhook/internal/pkg/parser"
)

// RealIP resolves the client address once per request so the limiter, the
// audit log and request logging agree on it.
func RealIP(resolver *parser.ProxyResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := parser.WithClientIP(r.Context(), resolver.Resolve(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
