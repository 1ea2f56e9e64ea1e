package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bsimic/blogbox/internal/telemetry/metrics"
	"github.com/bsimic/blogbox/pkg"

	"github.com/go-redis/redis_rate/v9"
	log "github.com/sirupsen/logrus"
)

type RequestRateLimiter interface {
	Allow(ctx context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error)
}

// RateLimit limits requests per client IP. Used on the mutating blog
// endpoints to slow down secret guessing. When methods are given, only
// requests with a matching method count against the limit.
func RateLimit(
	rateLimiter RequestRateLimiter,
	routeName string,
	allowedPerMin int,
	metricsManager *metrics.Manager,
	methods ...string,
) func(next http.Handler) http.Handler {
	limitedMethods := make(map[string]struct{}, len(methods))
	for _, method := range methods {
		limitedMethods[method] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(limitedMethods) > 0 {
				if _, limited := limitedMethods[r.Method]; !limited {
					next.ServeHTTP(w, r)
					return
				}
			}

			clientIP, err := pkg.ReadUserIP(r)
			if err != nil {
				clientIP = r.RemoteAddr
			}

			res, err := rateLimiter.Allow(
				r.Context(),
				fmt.Sprintf("%s::%s", routeName, clientIP),
				redis_rate.PerMinute(allowedPerMin),
			)
			if err != nil {
				http.Error(w, "rate limit internal error", http.StatusInternalServerError)
				return
			}

			if res.Allowed > 0 {
				next.ServeHTTP(w, r)
				return
			}

			log.Warnf("rate limited [%s] for %s", routeName, clientIP)
			if metricsManager != nil {
				metricsManager.CounterRateLimitedRequests.Inc()
			}

			http.Error(
				w,
				fmt.Sprintf("too many attempts, retry after %.0f seconds", res.RetryAfter.Seconds()),
				http.StatusTooManyRequests,
			)
		})
	}
}
