package middleware

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/resflow/toolplane/internal/domain"
	"github.com/resflow/toolplane/internal/ratelimit"
)

// RateLimit returns middleware that enforces the per-identity sliding
// window. It must run after Auth; anonymous (public path) requests pass
// through untouched.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := IdentityFromContext(r.Context())
			if identity == nil {
				next.ServeHTTP(w, r)
				return
			}

			res := limiter.Check(identity.KeyID, identity.Class)

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", res.Limit))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", res.Remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(res.ResetIn).Unix()))

			if !res.Allowed {
				retryAfter := int(math.Ceil(res.ResetIn.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				writeError(w, http.StatusTooManyRequests,
					domain.E(domain.CodeRateLimitExceeded,
						"rate limit of %d requests per window exceeded", res.Limit).
						WithHelp("retry after %d seconds", retryAfter))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
