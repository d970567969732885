package qwen

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/chatgate/internal/provider"
	"github.com/Davincible/chatgate/internal/store"
	"github.com/Davincible/chatgate/internal/stream"
)

func completionFixture(t *testing.T, wantToken string, gotChatID *string) http.Handler {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc(completionPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+wantToken, r.Header.Get("Authorization"))

		var body chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		if gotChatID != nil {
			*gotChatID = body.ChatID
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"p":"response.content.delta","v":{"content":"hi back","phase":"answer"}}` + "\n\n"))
		w.Write([]byte(`data: {"p":"response.finished","v":{"usage":{"total_tokens":2}}}` + "\n\n"))
	})

	return mux
}

func TestSendMessageBareTokenCredential(t *testing.T) {
	var chatID string

	server := httptest.NewServer(completionFixture(t, "bare-token", &chatID))
	defer server.Close()

	adapter := New(provider.NewClient(nil), provider.NewTokenCache(), store.NewMemoryStore(), slog.Default(), server.URL)
	collector := &stream.Collector{}

	req := provider.SendRequest{
		AccountID:  "acct-1",
		Credential: "bare-token",
		Model:      "qwen3-max",
		Messages:   []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	}

	err := adapter.SendMessage(context.Background(), req, stream.NewEmitter(collector))
	require.NoError(t, err)

	assert.Equal(t, "hi back", collector.Content())
	assert.Equal(t, stream.EventDone, collector.Events[len(collector.Events)-1].Type)

	// The client-chosen chat id is stable for the same first user text.
	require.NotEmpty(t, chatID)
	assert.Equal(t, stream.EventSessionCreated, collector.Events[0].Type)
	assert.Equal(t, chatID, collector.Events[0].SessionID)

	second := &stream.Collector{}
	require.NoError(t, adapter.SendMessage(context.Background(), req, stream.NewEmitter(second)))
	assert.Equal(t, collector.Events[0].SessionID, second.Events[0].SessionID)
}

func TestSendMessageRefreshesExpiredOAuthCredential(t *testing.T) {
	accounts := store.NewMemoryStore()

	credential, _ := json.Marshal(credentialTokens{
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(-time.Hour).Unix(),
	})

	require.NoError(t, accounts.Upsert(store.Account{
		ID:         "acct-1",
		Provider:   "qwen",
		Credential: string(credential),
	}))

	refreshes := 0

	mux := http.NewServeMux()
	mux.HandleFunc(tokenPath, func(w http.ResponseWriter, r *http.Request) {
		refreshes++

		var body struct {
			GrantType    string `json:"grant_type"`
			RefreshToken string `json:"refresh_token"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "refresh_token", body.GrantType)
		assert.Equal(t, "refresh-1", body.RefreshToken)

		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh",
			"refresh_token": "refresh-2",
			"expires_in":    3600,
		})
	})
	mux.Handle(completionPath, completionFixture(t, "fresh", nil))

	server := httptest.NewServer(mux)
	defer server.Close()

	adapter := New(provider.NewClient(nil), provider.NewTokenCache(), accounts, slog.Default(), server.URL)
	collector := &stream.Collector{}

	err := adapter.SendMessage(context.Background(), provider.SendRequest{
		AccountID:  "acct-1",
		Credential: string(credential),
		Model:      "qwen3-max",
		Messages:   []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	}, stream.NewEmitter(collector))
	require.NoError(t, err)

	assert.Equal(t, 1, refreshes)
	assert.Equal(t, "hi back", collector.Content())

	// The rotated refresh token was persisted back to the store.
	acct, err := accounts.GetByID("acct-1")
	require.NoError(t, err)
	require.NotNil(t, acct)

	var updated credentialTokens
	require.NoError(t, json.Unmarshal([]byte(acct.Credential), &updated))
	assert.Equal(t, "refresh-2", updated.RefreshToken)
	assert.Equal(t, "fresh", updated.AccessToken)
}

func TestSendMessageReusesConversationID(t *testing.T) {
	var chatID string

	server := httptest.NewServer(completionFixture(t, "tok", &chatID))
	defer server.Close()

	adapter := New(provider.NewClient(nil), provider.NewTokenCache(), store.NewMemoryStore(), slog.Default(), server.URL)
	collector := &stream.Collector{}

	err := adapter.SendMessage(context.Background(), provider.SendRequest{
		AccountID:      "acct-1",
		Credential:     "tok",
		ConversationID: "existing-chat",
		Messages:       []provider.Message{{Role: provider.RoleUser, Content: "more"}},
	}, stream.NewEmitter(collector))
	require.NoError(t, err)

	assert.Equal(t, "existing-chat", chatID)

	for _, ev := range collector.Events {
		assert.NotEqual(t, stream.EventSessionCreated, ev.Type)
	}
}

func TestSupportsModel(t *testing.T) {
	adapter := New(provider.NewClient(nil), provider.NewTokenCache(), store.NewMemoryStore(), slog.Default())

	assert.True(t, adapter.SupportsModel("qwen3-max"))
	assert.True(t, adapter.SupportsModel("QwQ-32B"))
	assert.False(t, adapter.SupportsModel("glm-4.5"))
}
