package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Davincible/chatgate/internal/config"
)

// AuthMiddleware gates the completion endpoints behind the gateway's own
// API key. This is the key callers present to the gateway, not any of the
// stored backend credentials. An empty configured key disables the gate.
type AuthMiddleware struct {
	config *config.Manager
	logger *slog.Logger
}

func NewAuthMiddleware(config *config.Manager, logger *slog.Logger) func(http.Handler) http.Handler {
	am := &AuthMiddleware{
		config: config,
		logger: logger,
	}

	return am.middleware
}

func (am *AuthMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := am.authorize(r); err != nil {
			am.logger.Warn("rejected unauthorized request",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"error", err,
			)
			http.Error(w, "Gateway API key not authorized", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

// authorize accepts the gateway key from either the Authorization bearer
// header or X-API-Key. Health checks stay open so process supervision
// works without credentials.
func (am *AuthMiddleware) authorize(r *http.Request) error {
	cfg := am.config.Get()

	if r.URL.Path == "/health" || cfg.APIKey == "" {
		return nil
	}

	token := r.Header.Get("X-API-Key")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	}

	switch {
	case token == "":
		return errors.New("missing gateway key")
	case token != cfg.APIKey:
		return errors.New("gateway key mismatch")
	}

	return nil
}
