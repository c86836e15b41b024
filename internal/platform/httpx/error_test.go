package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"finitefield.org/storefront/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rec := httptest.NewRecorder()

	err := NewError("validation_failed", "address incomplete\n", http.StatusUnprocessableEntity).
		WithDetails(map[string]any{"fields": map[string]string{"zip": "required"}})
	WriteError(ctx, rec, err)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, "validation_failed", payload["error"])
	require.Equal(t, "address incomplete", payload["message"])
	require.Equal(t, "trace-1", payload["trace_id"])
	require.Equal(t, map[string]any{"zip": "required"}, payload["fields"])
}

func TestNewErrorDefaultsStatus(t *testing.T) {
	err := NewError("boom", "", 0)
	require.Equal(t, http.StatusInternalServerError, err.Status)
	require.Equal(t, "boom", err.Error())
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var body struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Standard","extra":1}`))
	err := DecodeJSON(req, &body)
	require.Error(t, err)

	var httpErr Error
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusBadRequest, httpErr.Status)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Standard"}`))
	require.NoError(t, DecodeJSON(req, &body))
	require.Equal(t, "Standard", body.Name)
}
