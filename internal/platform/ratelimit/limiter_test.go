package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"finitefield.org/storefront/internal/platform/requestctx"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

func TestMiddlewareRejectsAfterBurst(t *testing.T) {
	clock := &fixedClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	rejected := 0
	limiter := New(context.Background(), 60, 2, time.Hour, WithClock(clock.Now), WithRejectHook(func() { rejected++ }))
	t.Cleanup(limiter.Shutdown)

	handler := limiter.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(visitor string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/checkout/rates", nil)
		req = req.WithContext(requestctx.WithVisitorID(req.Context(), visitor))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusNoContent, call("a"))
	require.Equal(t, http.StatusNoContent, call("a"))
	require.Equal(t, http.StatusTooManyRequests, call("a"))
	require.Equal(t, http.StatusNoContent, call("b"), "separate visitors have separate buckets")
	require.Equal(t, 1, rejected)

	clock.t = clock.t.Add(time.Second)
	require.Equal(t, http.StatusNoContent, call("a"), "one token refills per second at 60/min")
}

func TestCleanupForgetsIdleClients(t *testing.T) {
	clock := &fixedClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	limiter := New(context.Background(), 60, 1, time.Minute, WithClock(clock.Now))
	t.Cleanup(limiter.Shutdown)

	require.True(t, limiter.Allow("ip:1.2.3.4"))
	require.Equal(t, 1, limiter.size())

	clock.t = clock.t.Add(2 * time.Minute)
	limiter.cleanup()
	require.Equal(t, 0, limiter.size())
}

func TestClientKeyFallsBackToIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	require.Equal(t, "ip:10.0.0.1", clientKey(req))
}
