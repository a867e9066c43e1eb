package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubops/settle/pkg/metrics"
)

// registerCritical puts every critical component into the given state so
// probe responses depend only on what a test changes afterwards. The
// registry is process-global, so every test starts by calling this.
func registerCritical(healthy bool) {
	metrics.RegisterComponent("storage", healthy, "")
	metrics.RegisterComponent("scheduler", healthy, "")
	metrics.RegisterComponent("api", healthy, "")
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestProbeRoutes(t *testing.T) {
	registerCritical(true)
	srv := NewServer("127.0.0.1:0")

	for _, path := range []string{"/healthz", "/readyz", "/livez"} {
		w := get(t, srv.Handler(), path)
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"), path)
	}
}

func TestMetricsExposition(t *testing.T) {
	registerCritical(true)
	srv := NewServer("127.0.0.1:0")

	w := get(t, srv.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "settle_districts_monitored")
	assert.Contains(t, body, "settle_cycles_processed_total")
}

func TestHealthzReflectsRegistry(t *testing.T) {
	registerCritical(true)
	srv := NewServer("127.0.0.1:0")

	metrics.UpdateComponent("storage", false, "bolt closed")
	w := get(t, srv.Handler(), "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	metrics.UpdateComponent("storage", true, "")
	w = get(t, srv.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadyzRequiresCriticalComponents(t *testing.T) {
	registerCritical(true)
	srv := NewServer("127.0.0.1:0")

	metrics.UpdateComponent("scheduler", false, "not started")
	w := get(t, srv.Handler(), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	metrics.UpdateComponent("scheduler", true, "")
	w = get(t, srv.Handler(), "/readyz")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	registerCritical(true)
	srv := NewServer("127.0.0.1:0")

	w := get(t, srv.Handler(), "/jobs")
	assert.Equal(t, http.StatusNotFound, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStartServesAndShutdownStops(t *testing.T) {
	registerCritical(true)
	srv := NewServer("127.0.0.1:0")

	require.Empty(t, srv.Addr(), "no address before Start")
	require.NoError(t, srv.Start())
	require.NotEmpty(t, srv.Addr())

	resp, err := http.Get("http://" + srv.Addr() + "/livez")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	health := metrics.GetHealth()
	assert.Equal(t, "healthy", health.Components["api"])

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	_, err = http.Get("http://" + srv.Addr() + "/livez")
	assert.Error(t, err, "listener is closed after shutdown")

	health = metrics.GetHealth()
	assert.NotEqual(t, "healthy", health.Components["api"])
}

func TestShutdownBeforeStartIsNoop(t *testing.T) {
	srv := NewServer("127.0.0.1:0")
	assert.NoError(t, srv.Shutdown(context.Background()))
}
