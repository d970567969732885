// Package qwen adapts the reverse-engineered Qwen web chat API. Auth is
// OAuth-style: the stored credential carries access/refresh tokens, access
// tokens are cached per account, and requests fail over across two
// equivalent endpoints.
package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Davincible/chatgate/internal/provider"
	"github.com/Davincible/chatgate/internal/store"
	"github.com/Davincible/chatgate/internal/stream"
)

var defaultEndpoints = []string{
	"https://chat.qwen.ai",
	"https://chat.qwenlm.ai",
}

const (
	completionPath = "/api/v2/chat/completions"
	tokenPath      = "/api/v1/oauth2/token"
)

// chatNamespace seeds client-chosen conversation ids so the same first
// message always lands in the same upstream conversation.
var chatNamespace = uuid.MustParse("7b8d3e42-5f1a-4c96-9d27-0e64a1b5c8f3")

type Adapter struct {
	endpoints []string
	client    *provider.Client
	tokens    *provider.TokenCache
	accounts  store.Accounts
	logger    *slog.Logger
}

func New(client *provider.Client, tokens *provider.TokenCache, accounts store.Accounts, logger *slog.Logger, endpoints ...string) *Adapter {
	if len(endpoints) == 0 {
		endpoints = defaultEndpoints
	}

	return &Adapter{
		endpoints: endpoints,
		client:    client,
		tokens:    tokens,
		accounts:  accounts,
		logger:    logger,
	}
}

func (a *Adapter) Name() string {
	return "qwen"
}

func (a *Adapter) DefaultModel() string {
	return "qwen3-max"
}

func (a *Adapter) SupportsModel(model string) bool {
	lower := strings.ToLower(model)

	return strings.HasPrefix(lower, "qwen") || strings.HasPrefix(lower, "qwq")
}

func (a *Adapter) SendMessage(ctx context.Context, req provider.SendRequest, em *stream.Emitter) error {
	if err := a.sendMessage(ctx, req, em); err != nil {
		em.Error(err)
		return err
	}

	em.Done()

	return nil
}

func (a *Adapter) sendMessage(ctx context.Context, req provider.SendRequest, em *stream.Emitter) error {
	chatID := req.ConversationID
	if chatID == "" {
		// The upstream accepts client-chosen conversation ids; derive one
		// stably from the first user message.
		chatID = uuid.NewSHA1(chatNamespace, []byte(firstUserText(req.Messages))).String()
		em.SessionCreated(chatID)
	}

	body := chatRequest{
		ChatID:            chatID,
		Model:             req.Model,
		Messages:          wireMessages(req.Messages),
		Stream:            true,
		IncrementalOutput: true,
		Thinking:          req.Thinking,
		Search:            req.Search,
		Temperature:       req.Temperature,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal chat request: %w", err)
	}

	resp, err := a.client.DoWithFailover(ctx, a.Name(), a.endpoints,
		func(ctx context.Context, base string) (*http.Request, error) {
			token, err := a.accessToken(ctx, req.AccountID, req.Credential)
			if err != nil {
				return nil, err
			}

			r, err := http.NewRequestWithContext(ctx, http.MethodPost, base+completionPath, bytes.NewReader(payload))
			if err != nil {
				return nil, err
			}

			r.Header.Set("Content-Type", "application/json")
			r.Header.Set("Accept", "text/event-stream")
			r.Header.Set("Authorization", "Bearer "+token)

			return r, nil
		},
		func(ctx context.Context) error {
			return a.refresh(ctx, req.AccountID, req.Credential)
		})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader, err := provider.DecompressReader(resp)
	if err != nil {
		return fmt.Errorf("decompress response: %w", err)
	}

	var streamErr error

	err = provider.ScanSSE(reader, func(data []byte) bool {
		events, err := decodeFrame(data)
		if err != nil {
			a.logger.Warn("skipping malformed frame", "provider", a.Name(), "error", err)
			return true
		}

		for _, ev := range events {
			done, err := applyEvent(ev, em)
			if err != nil {
				streamErr = err
				return false
			}

			if done {
				return false
			}
		}

		return true
	})
	if streamErr != nil {
		return streamErr
	}

	if err != nil {
		return fmt.Errorf("read stream: %w", errors.Join(provider.ErrProtocol, err))
	}

	return nil
}

// chatRequest is the completion wire shape.
type chatRequest struct {
	ChatID            string        `json:"chat_id"`
	Model             string        `json:"model"`
	Messages          []wireMessage `json:"messages"`
	Stream            bool          `json:"stream"`
	IncrementalOutput bool          `json:"incremental_output"`
	Thinking          bool          `json:"thinking_enabled"`
	Search            bool          `json:"search_enabled"`
	Temperature       *float64      `json:"temperature,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func wireMessages(messages []provider.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, wireMessage{Role: m.Role, Content: m.Content})
	}

	return out
}

func firstUserText(messages []provider.Message) string {
	for _, m := range messages {
		if m.Role == provider.RoleUser && m.Content != "" {
			return m.Content
		}
	}

	return ""
}

// credentialTokens is the JSON shape of an OAuth-style stored credential.
type credentialTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
}

// accessToken returns a usable access token: the cached one when still
// valid, the credential itself when it already looks like an access token,
// otherwise the result of an immediate refresh.
func (a *Adapter) accessToken(ctx context.Context, accountID, credential string) (string, error) {
	if token, ok := a.tokens.Get(accountID); ok {
		return token, nil
	}

	var creds credentialTokens
	if err := json.Unmarshal([]byte(credential), &creds); err != nil || creds.RefreshToken == "" {
		// Opaque blob: treat it as a bare access token.
		return credential, nil
	}

	if creds.AccessToken != "" && creds.ExpiresAt > time.Now().Add(time.Minute).Unix() {
		a.tokens.Put(accountID, creds.AccessToken, time.Unix(creds.ExpiresAt, 0))
		return creds.AccessToken, nil
	}

	if err := a.refresh(ctx, accountID, credential); err != nil {
		return "", err
	}

	token, ok := a.tokens.Get(accountID)
	if !ok {
		return "", fmt.Errorf("qwen: refresh produced no token: %w", provider.ErrAuthExpired)
	}

	return token, nil
}

// refresh exchanges the stored refresh token for a new access token,
// caches it, and persists a rotated refresh token back to the store.
func (a *Adapter) refresh(ctx context.Context, accountID, credential string) error {
	unlock := a.tokens.RefreshLock(accountID)
	defer unlock()

	// Another request may have refreshed while we waited on the lock.
	if _, ok := a.tokens.Get(accountID); ok {
		return nil
	}

	var creds credentialTokens
	if err := json.Unmarshal([]byte(credential), &creds); err != nil || creds.RefreshToken == "" {
		return fmt.Errorf("qwen: credential has no refresh token: %w", provider.ErrAuthExpired)
	}

	form := fmt.Sprintf(`{"grant_type":"refresh_token","refresh_token":%q}`, creds.RefreshToken)

	resp, err := a.client.DoWithFailover(ctx, a.Name(), a.endpoints,
		func(ctx context.Context, base string) (*http.Request, error) {
			r, err := http.NewRequestWithContext(ctx, http.MethodPost, base+tokenPath, strings.NewReader(form))
			if err != nil {
				return nil, err
			}

			r.Header.Set("Content-Type", "application/json")

			return r, nil
		}, nil)
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode token response: %w", errors.Join(provider.ErrProtocol, err))
	}

	if result.AccessToken == "" {
		return fmt.Errorf("qwen: token response missing access_token: %w", provider.ErrAuthExpired)
	}

	expiresAt := time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	a.tokens.Put(accountID, result.AccessToken, expiresAt)

	// Persist a rotated refresh token so the next process start still works.
	if result.RefreshToken != "" && result.RefreshToken != creds.RefreshToken && accountID != "" {
		acct, err := a.accounts.GetByID(accountID)
		if err != nil || acct == nil {
			a.logger.Warn("cannot persist rotated refresh token", "account", accountID, "error", err)
			return nil
		}

		updated, err := json.Marshal(credentialTokens{
			AccessToken:  result.AccessToken,
			RefreshToken: result.RefreshToken,
			ExpiresAt:    expiresAt.Unix(),
		})
		if err == nil {
			acct.Credential = string(updated)
			if err := a.accounts.Upsert(*acct); err != nil {
				a.logger.Warn("persist rotated refresh token", "account", accountID, "error", err)
			}
		}
	}

	return nil
}
