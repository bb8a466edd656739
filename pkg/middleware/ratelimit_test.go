package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/contextkeys"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 2,
		WindowDuration:    time.Hour,
		BurstSize:         1,
	})

	// 2 per window + burst of 1
	assert.True(t, rl.Allow("k"))
	assert.True(t, rl.Allow("k"))
	assert.True(t, rl.Allow("k"))
	assert.False(t, rl.Allow("k"))

	// independent buckets per key
	assert.True(t, rl.Allow("other"))
}

func TestRateLimiterRemaining(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 5,
		WindowDuration:    time.Hour,
		BurstSize:         0,
	})

	assert.Equal(t, 5, rl.Remaining("k"))
	rl.Allow("k")
	assert.Equal(t, 4, rl.Remaining("k"))
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 5,
		WindowDuration:    time.Millisecond,
		BurstSize:         0,
	})

	rl.Allow("stale")
	time.Sleep(5 * time.Millisecond)
	rl.Cleanup()

	rl.mu.Lock()
	_, exists := rl.buckets["stale"]
	rl.mu.Unlock()
	assert.False(t, exists)
}

func TestRateLimitMiddlewareExceeded(t *testing.T) {
	m := NewRateLimitMiddlewareWithConfigs(
		PerUserRateLimitConfig(),
		&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Hour, BurstSize: 0},
	)

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRateLimitMiddlewareSeparatesUsers(t *testing.T) {
	m := NewRateLimitMiddlewareWithConfigs(
		&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Hour, BurstSize: 0},
		DefaultRateLimitConfig(),
	)

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	asUser := func(id uuid.UUID) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		ctx := contextkeys.WithValue(req.Context(), contextkeys.AuthKey, &auth.Context{UserID: id})
		return req.WithContext(ctx)
	}

	alice, bob := uuid.New(), uuid.New()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, asUser(alice))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, asUser(alice))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// bob gets a separate bucket
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, asUser(bob))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", getClientIP(req))
}
