package claude

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/chatgate/internal/account"
	"github.com/Davincible/chatgate/internal/provider"
	"github.com/Davincible/chatgate/internal/session"
	"github.com/Davincible/chatgate/internal/store"
	"github.com/Davincible/chatgate/internal/stream"
)

// fixtureAdapter is a scriptable in-process provider.
type fixtureAdapter struct {
	name     string
	calls    int
	lastReq  provider.SendRequest
	scripted func(em *stream.Emitter) error
}

func (f *fixtureAdapter) Name() string                { return f.name }
func (f *fixtureAdapter) DefaultModel() string        { return f.name + "-default" }
func (f *fixtureAdapter) SupportsModel(m string) bool { return strings.HasPrefix(m, f.name) }

func (f *fixtureAdapter) SendMessage(_ context.Context, req provider.SendRequest, em *stream.Emitter) error {
	f.calls++
	f.lastReq = req

	if f.scripted != nil {
		if err := f.scripted(em); err != nil {
			em.Error(err)
			return err
		}
	} else {
		em.Content("hi back")
	}

	em.Done()

	return nil
}

type shimFixture struct {
	shim     *Shim
	adapter  *fixtureAdapter
	store    *store.MemoryStore
	sessions *session.Sessions
}

func newShimFixture(t *testing.T) *shimFixture {
	t.Helper()

	adapter := &fixtureAdapter{name: "fix"}

	registry := provider.NewRegistry()
	registry.Register(adapter)

	accounts := store.NewMemoryStore()
	require.NoError(t, accounts.Upsert(store.Account{ID: "acct-1", Provider: "fix", Email: "a@b.c", Credential: "secret"}))
	accounts.SetSequences([]store.SequenceEntry{{Provider: "fix", Model: "fix-best", Sequence: 1}})

	sessions := session.NewSessions()
	resolver := account.NewResolver(accounts, accounts, registry, slog.Default())
	shim := NewShim(registry, resolver, sessions, session.NewChains(), accounts, mapSettings{}, slog.Default())

	return &shimFixture{shim: shim, adapter: adapter, store: accounts, sessions: sessions}
}

func postMessages(t *testing.T, shim *Shim, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer test-key")

	recorder := httptest.NewRecorder()
	shim.HandleMessages(recorder, req)

	return recorder
}

func TestShimAutoModelStreamsVendorGrammar(t *testing.T) {
	fx := newShimFixture(t)

	recorder := postMessages(t, fx.shim, `{"model":"auto","stream":true,"messages":[{"role":"user","content":"hi"}]}`)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "text/event-stream", recorder.Header().Get("Content-Type"))

	// The best-sequence model for the resolved provider was picked.
	assert.Equal(t, 1, fx.adapter.calls)
	assert.Equal(t, "fix-best", fx.adapter.lastReq.Model)
	assert.Equal(t, "secret", fx.adapter.lastReq.Credential)

	events := parseSSE(t, recorder.Body.String())
	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, eventNames(events))

	delta := events[2].data["delta"].(map[string]any)
	assert.Equal(t, "hi back", delta["text"])
}

func TestShimNonStreamingEnvelope(t *testing.T) {
	fx := newShimFixture(t)

	recorder := postMessages(t, fx.shim, `{"model":"fix-best","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, recorder.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))

	assert.Equal(t, "message", resp.Type)
	assert.Equal(t, "end_turn", resp.StopReason)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "hi back", resp.Content[0].Text)
	assert.True(t, strings.HasPrefix(resp.ID, "msg_"))
}

func TestShimProbeNeverReachesAdapter(t *testing.T) {
	fx := newShimFixture(t)

	body := `{"model":"auto","messages":[{"role":"user","content":"count"}]}`

	first := postMessages(t, fx.shim, body)
	second := postMessages(t, fx.shim, body)

	assert.Equal(t, 0, fx.adapter.calls)
	assert.Equal(t, http.StatusOK, first.Code)

	var a, b Response
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))

	assert.Equal(t, "OK", a.Content[0].Text)

	// Byte-identical modulo the message id.
	a.ID, b.ID = "", ""
	assert.Equal(t, a, b)
}

func TestShimResetClearsSession(t *testing.T) {
	fx := newShimFixture(t)

	messages := []session.InboundMessage{{Role: "user", Content: "/reset"}}
	fingerprint := session.Fingerprint("test-key", messages)
	fx.sessions.Set(fingerprint, "conv-old")

	recorder := postMessages(t, fx.shim, `{"model":"auto","messages":[{"role":"user","content":"/reset"}]}`)
	require.Equal(t, http.StatusOK, recorder.Code)

	assert.Equal(t, 0, fx.adapter.calls)

	var resp Response
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.Equal(t, "Conversation context has been reset.", resp.Content[0].Text)

	_, ok := fx.sessions.Get(fingerprint)
	assert.False(t, ok)
}

func TestShimSessionContinuity(t *testing.T) {
	fx := newShimFixture(t)

	fx.adapter.scripted = func(em *stream.Emitter) error {
		em.SessionCreated("conv-1")
		em.Content("first")

		return nil
	}

	body := `{"model":"auto","messages":[{"role":"user","content":"remember me"}]}`

	first := postMessages(t, fx.shim, body)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Empty(t, fx.adapter.lastReq.ConversationID)

	second := postMessages(t, fx.shim, body)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "conv-1", fx.adapter.lastReq.ConversationID)
}

func TestShimSessionExpiredClearsMapping(t *testing.T) {
	fx := newShimFixture(t)

	fx.adapter.scripted = func(em *stream.Emitter) error {
		return provider.ErrSessionExpired
	}

	messages := []session.InboundMessage{{Role: "user", Content: "stale chat"}}
	fingerprint := session.Fingerprint("test-key", messages)
	fx.sessions.Set(fingerprint, "conv-dead")

	recorder := postMessages(t, fx.shim, `{"model":"auto","messages":[{"role":"user","content":"stale chat"}]}`)
	require.Equal(t, http.StatusInternalServerError, recorder.Code)

	_, ok := fx.sessions.Get(fingerprint)
	assert.False(t, ok, "expired upstream conversation must be forgotten")
}

func TestShimNoAccountIsAuthenticationError(t *testing.T) {
	adapter := &fixtureAdapter{name: "fix"}
	registry := provider.NewRegistry()
	registry.Register(adapter)

	accounts := store.NewMemoryStore()
	resolver := account.NewResolver(accounts, accounts, registry, slog.Default())
	shim := NewShim(registry, resolver, session.NewSessions(), session.NewChains(), accounts, mapSettings{}, slog.Default())

	recorder := postMessages(t, shim, `{"model":"auto","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp.Type)
	assert.Equal(t, "authentication_error", resp.Error.Type)
}

func TestShimRejectsEmptyMessages(t *testing.T) {
	fx := newShimFixture(t)

	recorder := postMessages(t, fx.shim, `{"model":"auto","messages":[]}`)
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_request_error", resp.Error.Type)
}

func TestShimUnsupportedModelFallsBackToSequence(t *testing.T) {
	fx := newShimFixture(t)

	recorder := postMessages(t, fx.shim, `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, recorder.Code)

	// The foreign model id must not leak to the upstream request.
	assert.Equal(t, 1, fx.adapter.calls)
	assert.Equal(t, "fix-best", fx.adapter.lastReq.Model)
}

func TestShimCountTokens(t *testing.T) {
	fx := newShimFixture(t)

	body := `{"model":"auto","messages":[{"role":"user","content":"hello world"}]}`

	req := httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens", strings.NewReader(body))
	recorder := httptest.NewRecorder()
	fx.shim.HandleCountTokens(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)

	var result map[string]int
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &result))

	var parsed Request
	require.NoError(t, json.Unmarshal([]byte(body), &parsed))
	assert.Equal(t, CountPrompt(parsed)+countEndpointBuffer, result["input_tokens"])
}
