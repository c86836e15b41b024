package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHealthzReportsUptime(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	h := NewHealthHandlers(WithHealthClock(clock))
	now = now.Add(30 * time.Second)

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	require.Equal(t, "30s", body["uptime"])
}

func TestReadyzDegradedWhenCheckFails(t *testing.T) {
	h := NewHealthHandlers(
		WithReadinessCheck("redis", func(context.Context) error { return errors.New("connection refused") }),
		WithReadinessCheck("noop", func(context.Context) error { return nil }),
	)

	rr := httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	body := decodeBody(t, rr)
	require.Equal(t, "degraded", body["status"])
	checks := body["checks"].(map[string]any)
	require.Equal(t, "unavailable", checks["redis"])
	require.Equal(t, "ok", checks["noop"])
}
