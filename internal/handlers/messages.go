package handlers

import (
	"net/http"

	"github.com/Davincible/chatgate/internal/claude"
)

// MessagesHandler exposes the vendor-compatible completion surface. The
// protocol work lives in the shim; this handler only routes methods.
type MessagesHandler struct {
	shim *claude.Shim
}

func NewMessagesHandler(shim *claude.Shim) *MessagesHandler {
	return &MessagesHandler{shim: shim}
}

func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.shim.HandleMessages(w, r)
}

// CountTokensHandler serves the token-count endpoint.
type CountTokensHandler struct {
	shim *claude.Shim
}

func NewCountTokensHandler(shim *claude.Shim) *CountTokensHandler {
	return &CountTokensHandler{shim: shim}
}

func (h *CountTokensHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.shim.HandleCountTokens(w, r)
}
