package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/chatgate/internal/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfgMgr := config.NewManager(t.TempDir())
	_, err := cfgMgr.Load()
	require.NoError(t, err)

	srv, err := New(cfgMgr, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { srv.store.Close() })

	return srv
}

func TestRoutesAbsorbTelemetryUploads(t *testing.T) {
	mux := newTestServer(t).setupRoutes()

	paths := []string{
		"/v1/rgstr",
		"/v1/log_event",
		"/statsig/check",
		"/telemetry",
		"/api/claude_code/metrics",
	}

	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, path, nil))

			assert.Equal(t, http.StatusAccepted, recorder.Code)
			assert.JSONEq(t, `{"success":true}`, recorder.Body.String())
		})
	}
}

func TestRoutesUnknownPathIsNotFound(t *testing.T) {
	mux := newTestServer(t).setupRoutes()

	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v2/other", nil))

	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestRoutesHealthStaysReachable(t *testing.T) {
	mux := newTestServer(t).setupRoutes()

	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, recorder.Code)
}
