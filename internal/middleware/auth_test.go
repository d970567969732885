package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/chatgate/internal/config"
)

func authedHandler(t *testing.T, apiKey string) http.Handler {
	t.Helper()

	manager := config.NewManager(t.TempDir())
	require.NoError(t, manager.Save(&config.Config{APIKey: apiKey}))

	mw := NewAuthMiddleware(manager, slog.Default())

	return mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		path       string
		header     map[string]string
		wantStatus int
	}{
		{"no key configured passes", "", "/v1/messages", nil, http.StatusOK},
		{"health stays open", "gw-key", "/health", nil, http.StatusOK},
		{"bearer key accepted", "gw-key", "/v1/messages", map[string]string{"Authorization": "Bearer gw-key"}, http.StatusOK},
		{"x-api-key accepted", "gw-key", "/v1/messages", map[string]string{"X-API-Key": "gw-key"}, http.StatusOK},
		{"wrong key rejected", "gw-key", "/v1/messages", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"missing key rejected", "gw-key", "/v1/messages", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := authedHandler(t, tt.configured)

			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}

			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, req)

			assert.Equal(t, tt.wantStatus, recorder.Code)
		})
	}
}
