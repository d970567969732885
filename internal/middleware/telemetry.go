package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// TelemetryBlockerMiddleware short-circuits the telemetry and metrics
// traffic third-party clients send alongside their completion requests,
// so it never reaches the gateway's request pipeline or any upstream.
type TelemetryBlockerMiddleware struct {
	logger *slog.Logger
}

func NewTelemetryBlockerMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	tbm := &TelemetryBlockerMiddleware{
		logger: logger,
	}

	return tbm.middleware
}

func (tbm *TelemetryBlockerMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tbm.isTelemetryRequest(r.URL.Path) {
			tbm.logger.Debug("blocked telemetry request", "path", r.URL.Path)
			tbm.sendAcceptedResponse(w)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (tbm *TelemetryBlockerMiddleware) sendAcceptedResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"success":true}`))
}

func (tbm *TelemetryBlockerMiddleware) isTelemetryRequest(path string) bool {
	telemetryPaths := []string{
		"/v1/initialize",
		"/v1/log_event",
		"/v1/rgstr",
		"/statsig",
		"/telemetry",
		"/analytics",
		"/api/claude_code/metrics",
		"/claude_code/metrics",
	}

	for _, telemetryPath := range telemetryPaths {
		if strings.HasPrefix(path, telemetryPath) {
			return true
		}
	}

	return false
}
