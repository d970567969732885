package claude

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Davincible/chatgate/internal/account"
	"github.com/Davincible/chatgate/internal/provider"
	"github.com/Davincible/chatgate/internal/session"
	"github.com/Davincible/chatgate/internal/store"
	"github.com/Davincible/chatgate/internal/stream"
)

const (
	warmupReply = "OK"
	resetReply  = "Conversation context has been reset."
)

// Shim serves the vendor messages protocol over any configured backend.
// All collaborators are constructor-injected; the shim holds no global
// state of its own.
type Shim struct {
	registry  *provider.Registry
	resolver  *account.Resolver
	sessions  *session.Sessions
	chains    *session.Chains
	sequences store.ModelSequences
	settings  Settings
	logger    *slog.Logger
}

func NewShim(registry *provider.Registry, resolver *account.Resolver, sessions *session.Sessions, chains *session.Chains, sequences store.ModelSequences, settings Settings, logger *slog.Logger) *Shim {
	return &Shim{
		registry:  registry,
		resolver:  resolver,
		sessions:  sessions,
		chains:    chains,
		sequences: sequences,
		settings:  settings,
		logger:    logger,
	}
}

// HandleMessages serves POST /v1/messages.
func (s *Shim) HandleMessages(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	inbound := req.InboundMessages()

	// Probe traffic is answered before any session or adapter work.
	if session.IsProbe(inbound) {
		s.logger.Debug("intercepted probe request")
		s.writeCanned(w, req, warmupReply)

		return
	}

	apiKey := bearerToken(r)
	fingerprint := session.Fingerprint(apiKey, inbound)

	if session.IsReset(inbound) {
		s.sessions.Clear(fingerprint)
		s.logger.Info("conversation reset", "fingerprint", fingerprint)
		s.writeCanned(w, req, resetReply)

		return
	}

	err := s.chains.Do(r.Context(), fingerprint, func() error {
		s.dispatch(w, r, req, apiKey, fingerprint)
		return nil
	})
	if err != nil {
		// Cancelled while queued; nothing was written yet.
		s.writeError(w, fmt.Errorf("request cancelled: %w", err))
	}
}

// dispatch resolves the target and runs exactly one adapter invocation.
// Runs inside the fingerprint's chain slot.
func (s *Shim) dispatch(w http.ResponseWriter, r *http.Request, req Request, apiKey, fingerprint string) {
	target := RemapModel(req.Model, s.settings, s.registry)

	acct, err := s.resolver.Resolve(account.Hints{
		Token:         apiKey,
		Provider:      target.Provider,
		Model:         target.Model,
		AllowFallback: true,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	providerName := target.Provider
	if providerName == "" {
		providerName = acct.Provider
	}

	adapter, ok := s.registry.Get(providerName)
	if !ok {
		s.writeError(w, fmt.Errorf("provider %q not configured: %w", providerName, provider.ErrProviderDisabled))
		return
	}

	model := s.pickModel(target, adapter)
	conversationID, _ := s.sessions.Get(fingerprint)

	sendReq := provider.SendRequest{
		Credential:     acct.Credential,
		ProviderID:     adapter.Name(),
		AccountID:      acct.ID,
		Model:          model,
		Messages:       req.ProviderMessages(),
		ConversationID: conversationID,
		Stream:         req.Stream,
		Thinking:       req.ThinkingEnabled(),
		Temperature:    req.Temperature,
	}

	messageID := NewMessageID()
	inputTokens := CountPrompt(req)
	onSession := func(upstreamID string) { s.sessions.Set(fingerprint, upstreamID) }

	s.logger.Info("dispatching request",
		"provider", adapter.Name(),
		"model", model,
		"account", acct.ID,
		"fingerprint", fingerprint,
		"stream", req.Stream,
	)

	if req.Stream {
		writeSSEHeaders(w)

		sink := newStreamSink(w, messageID, model, inputTokens, onSession)
		err = adapter.SendMessage(r.Context(), sendReq, stream.NewEmitter(sink))
	} else {
		sink := &bufferSink{onSession: onSession}
		err = adapter.SendMessage(r.Context(), sendReq, stream.NewEmitter(sink))

		if err == nil {
			writeJSON(w, http.StatusOK, sink.response(messageID, model, inputTokens))
		} else {
			s.writeError(w, err)
		}
	}

	if err != nil {
		if errors.Is(err, provider.ErrSessionExpired) {
			// Next unit for this fingerprint starts a fresh conversation.
			s.sessions.Clear(fingerprint)
		}

		s.logger.Error("request failed",
			"provider", adapter.Name(),
			"fingerprint", fingerprint,
			"error", err,
		)
	}
}

func (s *Shim) pickModel(target Target, adapter provider.Provider) string {
	// A model id the adapter does not recognize, such as one that only fell
	// through to this provider via account fallback, is not forwarded
	// upstream; the sequence list or the adapter default covers it instead.
	if target.Model != "" && target.Model != account.ModelAuto && adapter.SupportsModel(target.Model) {
		return target.Model
	}

	if entry, err := s.sequences.BestForProvider(adapter.Name()); err == nil && entry != nil {
		return entry.Model
	}

	return adapter.DefaultModel()
}

// HandleCountTokens serves POST /v1/messages/count_tokens. The reported
// count is inflated by a fixed buffer.
func (s *Shim) HandleCountTokens(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"input_tokens": CountPrompt(req) + countEndpointBuffer,
	})
}

func (s *Shim) decodeRequest(w http.ResponseWriter, r *http.Request) (Request, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, fmt.Errorf("read request body: %w", err))
		return Request{}, false
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Type:  "error",
			Error: ErrorDetail{Type: "invalid_request_error", Message: "invalid request body: " + err.Error()},
		})

		return Request{}, false
	}

	if len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Type:  "error",
			Error: ErrorDetail{Type: "invalid_request_error", Message: "messages must not be empty"},
		})

		return Request{}, false
	}

	return req, true
}

// writeCanned renders a minimal success envelope without touching any
// adapter, in whichever mode the caller asked for.
func (s *Shim) writeCanned(w http.ResponseWriter, req Request, text string) {
	messageID := NewMessageID()

	if req.Stream {
		writeSSEHeaders(w)

		sink := newStreamSink(w, messageID, req.Model, 1, nil)
		em := stream.NewEmitter(sink)
		em.Content(text)
		em.Done()

		return
	}

	writeJSON(w, http.StatusOK, Response{
		ID:         messageID,
		Type:       "message",
		Role:       "assistant",
		Content:    []ContentBlock{{Type: "text", Text: text}},
		Model:      req.Model,
		StopReason: "end_turn",
		Usage:      Usage{InputTokens: 1, OutputTokens: 1},
	})
}

func (s *Shim) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errorStatus(err), ErrorResponse{
		Type:  "error",
		Error: ErrorDetail{Type: errorType(err), Message: err.Error()},
	})
}

func errorType(err error) string {
	switch {
	case errors.Is(err, provider.ErrNoAccount), errors.Is(err, provider.ErrAuthExpired):
		return "authentication_error"
	case errors.Is(err, provider.ErrAccountConflict), errors.Is(err, provider.ErrModelNotSupported):
		return "invalid_request_error"
	case errors.Is(err, provider.ErrRateLimited):
		return "rate_limit_error"
	case errors.Is(err, provider.ErrUnavailable):
		return "overloaded_error"
	case errors.Is(err, provider.ErrProviderDisabled):
		return "permission_error"
	default:
		return "api_error"
	}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, provider.ErrNoAccount), errors.Is(err, provider.ErrAuthExpired):
		return http.StatusUnauthorized
	case errors.Is(err, provider.ErrAccountConflict), errors.Is(err, provider.ErrModelNotSupported):
		return http.StatusBadRequest
	case errors.Is(err, provider.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, provider.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, provider.ErrProviderDisabled):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}

	return r.Header.Get("X-API-Key")
}
