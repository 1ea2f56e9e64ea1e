package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redis_rate/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsimic/blogbox/internal/telemetry/metrics"
)

type rateLimiterStub struct {
	allowed   int
	retry     time.Duration
	err       error
	seenKeys  []string
	seenLimit redis_rate.Limit
}

func (s *rateLimiterStub) Allow(_ context.Context, key string, limit redis_rate.Limit) (*redis_rate.Result, error) {
	s.seenKeys = append(s.seenKeys, key)
	s.seenLimit = limit
	if s.err != nil {
		return nil, s.err
	}
	return &redis_rate.Result{
		Allowed:    s.allowed,
		RetryAfter: s.retry,
	}, nil
}

func rateLimitedHandler(limiter RequestRateLimiter, metricsManager *metrics.Manager, methods ...string) http.Handler {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return RateLimit(limiter, "test-route", 5, metricsManager, methods...)(okHandler)
}

func TestRateLimit_allowed(t *testing.T) {
	limiter := &rateLimiterStub{allowed: 1}
	handler := rateLimitedHandler(limiter, metrics.NewTestManager())

	req := httptest.NewRequest("POST", "/create", nil)
	req.Header.Set("X-Real-Ip", "100.72.1.33")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, limiter.seenKeys, 1)
	assert.Equal(t, "test-route::100.72.1.33", limiter.seenKeys[0])
	assert.Equal(t, redis_rate.PerMinute(5), limiter.seenLimit)
}

func TestRateLimit_blocked(t *testing.T) {
	limiter := &rateLimiterStub{allowed: 0, retry: 21 * time.Second}
	metricsManager := metrics.NewTestManager()
	handler := rateLimitedHandler(limiter, metricsManager)

	req := httptest.NewRequest("POST", "/create", nil)
	req.Header.Set("X-Real-Ip", "100.72.1.33")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Contains(t, rr.Body.String(), "too many attempts")
	assert.Contains(t, rr.Body.String(), "21 seconds")
}

func TestRateLimit_onlyListedMethodsCount(t *testing.T) {
	limiter := &rateLimiterStub{allowed: 0}
	handler := rateLimitedHandler(limiter, metrics.NewTestManager(), "POST", "PUT", "DELETE")

	// GET passes through even though the limiter would block
	req := httptest.NewRequest("GET", "/readall", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, limiter.seenKeys)

	// POST hits the limiter and gets blocked
	req = httptest.NewRequest("POST", "/create", nil)
	req.Header.Set("X-Real-Ip", "100.72.1.33")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Len(t, limiter.seenKeys, 1)
}

func TestRateLimit_limiterError(t *testing.T) {
	limiter := &rateLimiterStub{err: assert.AnError}
	handler := rateLimitedHandler(limiter, metrics.NewTestManager())

	req := httptest.NewRequest("POST", "/create", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
