package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveProbe(h http.Handler) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) Status {
	t.Helper()

	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	return status
}

func TestLivenessHandler(t *testing.T) {
	h := NewHandler("1.0.0")

	rec := serveProbe(h.LivenessHandler())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadinessHandler_NoChecks(t *testing.T) {
	h := NewHandler("1.0.0")

	rec := serveProbe(h.ReadinessHandler())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeStatus(t, rec).Status)
}

func TestReadinessHandler_PassingAndFailingChecks(t *testing.T) {
	h := NewHandler("1.0.0")
	h.AddCheck(NewCheckFunc("store", func(context.Context) error { return nil }))

	rec := serveProbe(h.ReadinessHandler())
	assert.Equal(t, http.StatusOK, rec.Code)

	h.AddCheck(NewCheckFunc("upstream", func(context.Context) error {
		return errors.New("connection refused")
	}))

	rec = serveProbe(h.ReadinessHandler())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	status := decodeStatus(t, rec)
	assert.Equal(t, "error", status.Status)
	assert.Equal(t, "ok", status.Checks["store"].Status)
	assert.Equal(t, "error", status.Checks["upstream"].Status)
	assert.Contains(t, status.Checks["upstream"].Error, "connection refused")
}

func TestHealthHandler_IncludesVersionAndUptime(t *testing.T) {
	h := NewHandler("1.2.3")

	rec := serveProbe(h.HealthHandler())
	assert.Equal(t, http.StatusOK, rec.Code)

	status := decodeStatus(t, rec)
	assert.Equal(t, "1.2.3", status.Version)
	assert.NotEmpty(t, status.Uptime)
}

func TestHandler_RemoveCheck(t *testing.T) {
	h := NewHandler("1.0.0")
	h.AddCheck(NewCheckFunc("flaky", func(context.Context) error {
		return errors.New("down")
	}))

	assert.Equal(t, http.StatusServiceUnavailable, serveProbe(h.ReadinessHandler()).Code)

	h.RemoveCheck("flaky")
	assert.Equal(t, http.StatusOK, serveProbe(h.ReadinessHandler()).Code)
}

func TestRegisterRoutes(t *testing.T) {
	mux := http.NewServeMux()
	NewHandler("1.0.0").RegisterRoutes(mux)

	for _, path := range []string{"/health", "/healthz", "/livez", "/readyz", "/ready"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
