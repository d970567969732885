// Package deepseek adapts the reverse-engineered DeepSeek web chat API.
// Auth is a session cookie; every completion must carry a solved
// proof-of-work response; streaming is `data:`-prefixed JSON lines.
package deepseek

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Davincible/chatgate/internal/pow"
	"github.com/Davincible/chatgate/internal/provider"
	"github.com/Davincible/chatgate/internal/stream"
)

const (
	defaultEndpoint = "https://chat.deepseek.com"

	createSessionPath = "/api/v0/chat_session/create"
	powChallengePath  = "/api/v0/chat/create_pow_challenge"
	completionPath    = "/api/v0/chat/completion"

	powResponseHeader = "x-ds-pow-response"
)

type Adapter struct {
	endpoints []string
	client    *provider.Client
	solver    *pow.Solver
	logger    *slog.Logger
}

func New(client *provider.Client, solver *pow.Solver, logger *slog.Logger, endpoints ...string) *Adapter {
	if len(endpoints) == 0 {
		endpoints = []string{defaultEndpoint}
	}

	return &Adapter{
		endpoints: endpoints,
		client:    client,
		solver:    solver,
		logger:    logger,
	}
}

func (a *Adapter) Name() string {
	return "deepseek"
}

func (a *Adapter) DefaultModel() string {
	return "deepseek-chat"
}

func (a *Adapter) SupportsModel(model string) bool {
	return strings.HasPrefix(strings.ToLower(model), "deepseek")
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
	sessionID := req.ConversationID
	if sessionID == "" {
		created, err := a.createSession(ctx, req.Credential)
		if err != nil {
			return err
		}

		sessionID = created
		em.SessionCreated(sessionID)
	}

	solution, err := a.solveChallenge(ctx, req.Credential)
	if err != nil {
		return err
	}

	body := completionRequest{
		ChatSessionID:   sessionID,
		Prompt:          req.LastUserText(),
		ThinkingEnabled: req.Thinking || strings.Contains(req.Model, "reasoner"),
		SearchEnabled:   req.Search,
		RefFileIDs:      req.FileIDs,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal completion request: %w", err)
	}

	resp, err := a.client.DoWithFailover(ctx, a.Name(), a.endpoints,
		func(ctx context.Context, base string) (*http.Request, error) {
			r, err := http.NewRequestWithContext(ctx, http.MethodPost, base+completionPath, bytes.NewReader(payload))
			if err != nil {
				return nil, err
			}

			a.setHeaders(r, req.Credential)
			r.Header.Set(powResponseHeader, encodePowResponse(solution))

			return r, nil
		}, nil) // cookie credentials cannot be refreshed; 401 is terminal
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
		var frame completionFrame
		if err := provider.DecodeFrame(data, &frame); err != nil {
			a.logger.Warn("skipping malformed frame", "provider", a.Name(), "error", err)
			return true
		}

		done, err := applyFrame(frame, em)
		if err != nil {
			streamErr = err
			return false
		}

		return !done
	})
	if streamErr != nil {
		return streamErr
	}

	if err != nil {
		return fmt.Errorf("read stream: %w", errors.Join(provider.ErrProtocol, err))
	}

	return nil
}

// completionRequest is the wire shape of a completion call.
type completionRequest struct {
	ChatSessionID   string   `json:"chat_session_id"`
	Prompt          string   `json:"prompt"`
	ThinkingEnabled bool     `json:"thinking_enabled"`
	SearchEnabled   bool     `json:"search_enabled"`
	RefFileIDs      []string `json:"ref_file_ids,omitempty"`
}

// completionFrame is one decoded streaming frame.
type completionFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Type    string `json:"type"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// applyFrame maps one decoded frame onto the normalized event surface.
// Returns done=true once the upstream signalled its final chunk.
func applyFrame(frame completionFrame, em *stream.Emitter) (bool, error) {
	if frame.Code != 0 {
		if isSessionGone(frame.Code, frame.Msg) {
			return false, fmt.Errorf("deepseek: %s: %w", frame.Msg, provider.ErrSessionExpired)
		}

		return false, fmt.Errorf("deepseek error %d: %s: %w", frame.Code, frame.Msg, provider.ErrProtocol)
	}

	for _, choice := range frame.Choices {
		switch choice.Delta.Type {
		case "thinking":
			em.Thinking(choice.Delta.Content)
		default:
			em.Content(choice.Delta.Content)
		}

		if choice.FinishReason != nil {
			em.Metadata(map[string]any{"finish_reason": *choice.FinishReason})
			return true, nil
		}
	}

	return false, nil
}

// Session-gone error codes observed from the upstream.
func isSessionGone(code int, msg string) bool {
	return code == 40003 || strings.Contains(strings.ToLower(msg), "session")
}

func (a *Adapter) createSession(ctx context.Context, credential string) (string, error) {
	payload := []byte(`{"character_id":null}`)

	resp, err := a.client.DoWithFailover(ctx, a.Name(), a.endpoints,
		func(ctx context.Context, base string) (*http.Request, error) {
			r, err := http.NewRequestWithContext(ctx, http.MethodPost, base+createSessionPath, bytes.NewReader(payload))
			if err != nil {
				return nil, err
			}

			a.setHeaders(r, credential)

			return r, nil
		}, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed struct {
		Data struct {
			BizData struct {
				ID string `json:"id"`
			} `json:"biz_data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode create-session response: %w", errors.Join(provider.ErrProtocol, err))
	}

	if parsed.Data.BizData.ID == "" {
		return "", fmt.Errorf("create-session response missing id: %w", provider.ErrProtocol)
	}

	return parsed.Data.BizData.ID, nil
}

// solveChallenge fetches a PoW challenge and solves it. A challenge that
// arrives already expired is re-fetched once instead of being solved late.
func (a *Adapter) solveChallenge(ctx context.Context, credential string) (pow.Solution, error) {
	for attempt := 0; attempt < 2; attempt++ {
		challenge, err := a.fetchChallenge(ctx, credential)
		if err != nil {
			return pow.Solution{}, err
		}

		solution, err := a.solver.Solve(ctx, challenge)
		if errors.Is(err, provider.ErrChallengeExpired) {
			continue
		}

		if err != nil {
			return pow.Solution{}, err
		}

		if !solution.Found {
			a.logger.Debug("pow search exhausted, submitting zero answer",
				"difficulty", challenge.Difficulty)
		}

		return solution, nil
	}

	return pow.Solution{}, provider.ErrChallengeExpired
}

func (a *Adapter) fetchChallenge(ctx context.Context, credential string) (pow.Challenge, error) {
	payload := fmt.Sprintf(`{"target_path":%q}`, completionPath)

	resp, err := a.client.DoWithFailover(ctx, a.Name(), a.endpoints,
		func(ctx context.Context, base string) (*http.Request, error) {
			r, err := http.NewRequestWithContext(ctx, http.MethodPost, base+powChallengePath, strings.NewReader(payload))
			if err != nil {
				return nil, err
			}

			a.setHeaders(r, credential)

			return r, nil
		}, nil)
	if err != nil {
		return pow.Challenge{}, err
	}
	defer resp.Body.Close()

	var parsed struct {
		Data struct {
			BizData struct {
				Challenge pow.Challenge `json:"challenge"`
			} `json:"biz_data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return pow.Challenge{}, fmt.Errorf("decode challenge response: %w", errors.Join(provider.ErrProtocol, err))
	}

	return parsed.Data.BizData.Challenge, nil
}

func (a *Adapter) setHeaders(r *http.Request, credential string) {
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Accept", "*/*")

	// The credential is either a bearer session token or a raw cookie blob.
	if strings.Contains(credential, "=") {
		r.Header.Set("Cookie", credential)
	} else {
		r.Header.Set("Authorization", "Bearer "+credential)
	}
}

func encodePowResponse(sol pow.Solution) string {
	payload, err := json.Marshal(sol)
	if err != nil {
		return ""
	}

	return base64.StdEncoding.EncodeToString(payload)
}
