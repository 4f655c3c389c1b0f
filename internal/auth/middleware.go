package auth

import (
	"net/http"

	"librarycatalog/internal/catalog"
)

// Middleware resolves the Authorization header once per request and stores the
// identity in the request context. Requests without a valid credential pass through
// anonymously; operations that need an identity reject them.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := g.ResolveIdentity(r.Context(), r.Header.Get("Authorization")); user != nil {
			r = r.WithContext(catalog.WithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}
