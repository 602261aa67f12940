package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/resflow/toolplane/internal/auth"
	"github.com/resflow/toolplane/internal/domain"
)

type identityCtxKey struct{}

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health":       true,
	"/health/ready": true,
}

// Auth returns middleware that resolves the presented API secret to an
// identity. The secret is read from X-API-Key or from an Authorization
// bearer token; the resolved identity is stored in the request context
// and the raw secret goes no further.
func Auth(resolver *auth.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			secret := r.Header.Get("X-API-Key")
			if secret == "" {
				if header := r.Header.Get("Authorization"); header != "" {
					token, ok := strings.CutPrefix(header, "Bearer ")
					if !ok {
						writeError(w, http.StatusUnauthorized,
							domain.E(domain.CodeAuthFailed, "malformed Authorization header").
								WithHelp("use: Authorization: Bearer <secret>"))
						return
					}
					secret = token
				}
			}

			identity, err := resolver.Verify(secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, domain.AsError(err))
				return
			}

			ctx := context.WithValue(r.Context(), identityCtxKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the authenticated identity, or nil on
// unauthenticated (public) paths.
func IdentityFromContext(ctx context.Context) *auth.Identity {
	id, _ := ctx.Value(identityCtxKey{}).(*auth.Identity)
	return id
}

// WithIdentity injects an identity into the context. Exported for tests
// that exercise handlers without the full middleware chain.
func WithIdentity(ctx context.Context, id *auth.Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}
