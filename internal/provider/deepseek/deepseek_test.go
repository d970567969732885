package deepseek

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/chatgate/internal/pow"
	"github.com/Davincible/chatgate/internal/provider"
	"github.com/Davincible/chatgate/internal/stream"
)

// fixtureHandler serves the three upstream endpoints with canned data.
func fixtureHandler(t *testing.T, frames []string) http.Handler {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc(createSessionPath, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"biz_data":{"id":"sess-123"}}}`))
	})

	mux.HandleFunc(powChallengePath, func(w http.ResponseWriter, r *http.Request) {
		challenge := map[string]any{
			"data": map[string]any{"biz_data": map[string]any{"challenge": map[string]any{
				"algorithm":  "DeepSeekHashV1",
				"challenge":  "fixture",
				"salt":       "salt",
				"difficulty": 0,
				"expire_at":  time.Now().Add(time.Minute).UnixMilli(),
			}}},
		}
		json.NewEncoder(w).Encode(challenge)
	})

	mux.HandleFunc(completionPath, func(w http.ResponseWriter, r *http.Request) {
		// The solved challenge must ride along as a base64 JSON header.
		encoded := r.Header.Get(powResponseHeader)
		require.NotEmpty(t, encoded)

		decoded, err := base64.StdEncoding.DecodeString(encoded)
		require.NoError(t, err)

		var sol pow.Solution
		require.NoError(t, json.Unmarshal(decoded, &sol))
		assert.Equal(t, "fixture", sol.Challenge.Challenge)

		w.Header().Set("Content-Type", "text/event-stream")

		for _, frame := range frames {
			w.Write([]byte("data: " + frame + "\n\n"))
		}
	})

	return mux
}

func newTestAdapter(serverURL string) *Adapter {
	return New(provider.NewClient(nil), pow.NewSolver(1), slog.Default(), serverURL)
}

func TestSendMessageStreamsNormalizedEvents(t *testing.T) {
	server := httptest.NewServer(fixtureHandler(t, []string{
		`{"choices":[{"delta":{"content":"let me think","type":"thinking"}}]}`,
		`{"choices":[{"delta":{"content":"hello ","type":"text"}}]}`,
		`{"choices":[{"delta":{"content":"world","type":"text"},"finish_reason":"stop"}]}`,
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL)
	collector := &stream.Collector{}

	err := adapter.SendMessage(context.Background(), provider.SendRequest{
		Credential: "token-abc",
		Messages:   []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	}, stream.NewEmitter(collector))
	require.NoError(t, err)

	require.NotEmpty(t, collector.Events)
	assert.Equal(t, stream.EventSessionCreated, collector.Events[0].Type)
	assert.Equal(t, "sess-123", collector.Events[0].SessionID)
	assert.Equal(t, stream.EventThinkingDelta, collector.Events[1].Type)
	assert.Equal(t, "hello world", collector.Content())
	assert.Equal(t, stream.EventDone, collector.Events[len(collector.Events)-1].Type)
}

func TestSendMessageReusesConversation(t *testing.T) {
	var gotSession string

	mux := http.NewServeMux()
	mux.HandleFunc(powChallengePath, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"biz_data": map[string]any{"challenge": map[string]any{
				"challenge": "c", "salt": "s", "difficulty": 0,
				"expire_at": time.Now().Add(time.Minute).UnixMilli(),
			}}},
		})
	})
	mux.HandleFunc(completionPath, func(w http.ResponseWriter, r *http.Request) {
		var body completionRequest
		json.NewDecoder(r.Body).Decode(&body)
		gotSession = body.ChatSessionID

		w.Write([]byte(`data: {"choices":[{"delta":{"content":"ok"},"finish_reason":"stop"}]}` + "\n"))
	})
	mux.HandleFunc(createSessionPath, func(w http.ResponseWriter, r *http.Request) {
		t.Error("must not create a session when one is supplied")
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	adapter := newTestAdapter(server.URL)
	collector := &stream.Collector{}

	err := adapter.SendMessage(context.Background(), provider.SendRequest{
		Credential:     "token",
		ConversationID: "existing-session",
		Messages:       []provider.Message{{Role: provider.RoleUser, Content: "again"}},
	}, stream.NewEmitter(collector))
	require.NoError(t, err)

	assert.Equal(t, "existing-session", gotSession)

	// No SessionCreated event when the conversation already exists.
	for _, ev := range collector.Events {
		assert.NotEqual(t, stream.EventSessionCreated, ev.Type)
	}
}

func TestSendMessageSessionGoneSurfacesExpired(t *testing.T) {
	server := httptest.NewServer(fixtureHandler(t, []string{
		`{"code":40003,"msg":"chat session not found"}`,
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL)
	collector := &stream.Collector{}

	err := adapter.SendMessage(context.Background(), provider.SendRequest{
		Credential: "token",
		Messages:   []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	}, stream.NewEmitter(collector))

	require.ErrorIs(t, err, provider.ErrSessionExpired)

	last := collector.Events[len(collector.Events)-1]
	assert.Equal(t, stream.EventError, last.Type)
}

func TestSendMessageFailsOverToSecondEndpoint(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"maintenance"}`, http.StatusServiceUnavailable)
	}))
	defer down.Close()

	up := httptest.NewServer(fixtureHandler(t, []string{
		`{"choices":[{"delta":{"content":"recovered"},"finish_reason":"stop"}]}`,
	}))
	defer up.Close()

	adapter := New(provider.NewClient(nil), pow.NewSolver(1), slog.Default(), down.URL, up.URL)
	collector := &stream.Collector{}

	err := adapter.SendMessage(context.Background(), provider.SendRequest{
		Credential: "token",
		Messages:   []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	}, stream.NewEmitter(collector))
	require.NoError(t, err)

	assert.Equal(t, "recovered", collector.Content())
}

func TestSetHeadersCookieVersusBearer(t *testing.T) {
	adapter := newTestAdapter("http://unused")

	cookieReq := httptest.NewRequest(http.MethodPost, "/", nil)
	adapter.setHeaders(cookieReq, "session_id=abc; other=1")
	assert.Equal(t, "session_id=abc; other=1", cookieReq.Header.Get("Cookie"))
	assert.Empty(t, cookieReq.Header.Get("Authorization"))

	bearerReq := httptest.NewRequest(http.MethodPost, "/", nil)
	adapter.setHeaders(bearerReq, "raw-token")
	assert.Equal(t, "Bearer raw-token", bearerReq.Header.Get("Authorization"))
}

func TestSupportsModel(t *testing.T) {
	adapter := newTestAdapter("http://unused")

	assert.True(t, adapter.SupportsModel("deepseek-chat"))
	assert.True(t, adapter.SupportsModel("DeepSeek-Reasoner"))
	assert.False(t, adapter.SupportsModel("qwen3-max"))
}
