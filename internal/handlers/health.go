package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Davincible/chatgate/internal/provider"
)

type HealthHandler struct {
	registry *provider.Registry
	logger   *slog.Logger
}

func NewHealthHandler(registry *provider.Registry, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		registry: registry,
		logger:   logger,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"providers": h.registry.List(),
	}); err != nil {
		h.logger.Error("Failed to write health check response", "error", err)
	}
}
