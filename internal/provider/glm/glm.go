// Package glm adapts the reverse-engineered GLM web chat API. Auth is a
// bearer token; streaming is raw NDJSON; reasoning arrives inline between
// <think> markers and is split into thinking deltas.
package glm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/Davincible/chatgate/internal/provider"
	"github.com/Davincible/chatgate/internal/stream"
)

const (
	defaultEndpoint = "https://chat.z.ai"

	completionPath    = "/api/v1/chat/completions"
	conversationsPath = "/api/v1/conversations"
	filesPath         = "/api/v1/files"
)

type Adapter struct {
	endpoints []string
	client    *provider.Client
	logger    *slog.Logger
}

func New(client *provider.Client, logger *slog.Logger, endpoints ...string) *Adapter {
	if len(endpoints) == 0 {
		endpoints = []string{defaultEndpoint}
	}

	return &Adapter{
		endpoints: endpoints,
		client:    client,
		logger:    logger,
	}
}

func (a *Adapter) Name() string {
	return "glm"
}

func (a *Adapter) DefaultModel() string {
	return "glm-4.6"
}

func (a *Adapter) SupportsModel(model string) bool {
	lower := strings.ToLower(model)

	return strings.HasPrefix(lower, "glm") || strings.HasPrefix(lower, "chatglm")
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
	body := chatRequest{
		ConversationID: req.ConversationID,
		Model:          req.Model,
		Messages:       wireMessages(req.Messages),
		Stream:         true,
		EnableThinking: req.Thinking,
		EnableSearch:   req.Search,
		FileIDs:        req.FileIDs,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal chat request: %w", err)
	}

	resp, err := a.client.DoWithFailover(ctx, a.Name(), a.endpoints,
		func(ctx context.Context, base string) (*http.Request, error) {
			r, err := http.NewRequestWithContext(ctx, http.MethodPost, base+completionPath, bytes.NewReader(payload))
			if err != nil {
				return nil, err
			}

			a.setHeaders(r, req.Credential)

			return r, nil
		}, nil) // bearer tokens here have no refresh flow; 401 is terminal
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader, err := provider.DecompressReader(resp)
	if err != nil {
		return fmt.Errorf("decompress response: %w", err)
	}

	wantSession := req.ConversationID == ""
	splitter := &thinkSplitter{}

	var streamErr error

	err = provider.ScanNDJSON(reader, func(data []byte) bool {
		var frame chatFrame
		if err := provider.DecodeFrame(data, &frame); err != nil {
			a.logger.Warn("skipping malformed frame", "provider", a.Name(), "error", err)
			return true
		}

		done, err := a.applyFrame(frame, splitter, &wantSession, em)
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

// chatRequest is the completion wire shape.
type chatRequest struct {
	ConversationID string        `json:"conversation_id,omitempty"`
	Model          string        `json:"model"`
	Messages       []wireMessage `json:"messages"`
	Stream         bool          `json:"stream"`
	EnableThinking bool          `json:"enable_thinking"`
	EnableSearch   bool          `json:"enable_search"`
	FileIDs        []string      `json:"file_ids,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// The upstream speaks "human"/"assistant", not "user"/"assistant".
func wireMessages(messages []provider.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))

	for _, m := range messages {
		role := m.Role
		if role == provider.RoleUser {
			role = "human"
		}

		out = append(out, wireMessage{Role: role, Content: m.Content})
	}

	return out
}

// chatFrame is one decoded NDJSON line.
type chatFrame struct {
	Event          string         `json:"event"`
	ConversationID string         `json:"conversation_id"`
	Delta          string         `json:"delta"`
	Usage          map[string]any `json:"usage"`
	Code           int            `json:"code"`
	Message        string         `json:"message"`
}

func (a *Adapter) applyFrame(frame chatFrame, splitter *thinkSplitter, wantSession *bool, em *stream.Emitter) (bool, error) {
	switch frame.Event {
	case "message":
		if *wantSession && frame.ConversationID != "" {
			em.SessionCreated(frame.ConversationID)
			*wantSession = false
		}

		for _, seg := range splitter.Feed(frame.Delta) {
			if seg.thinking {
				em.Thinking(seg.text)
			} else {
				em.Content(seg.text)
			}
		}

		return false, nil

	case "finish":
		for _, seg := range splitter.Flush() {
			if seg.thinking {
				em.Thinking(seg.text)
			} else {
				em.Content(seg.text)
			}
		}

		if len(frame.Usage) > 0 {
			em.Metadata(map[string]any{"usage": frame.Usage})
		}

		return true, nil

	case "error":
		if frame.Code == 40404 || strings.Contains(strings.ToLower(frame.Message), "conversation") {
			return false, fmt.Errorf("glm: %s: %w", frame.Message, provider.ErrSessionExpired)
		}

		return false, fmt.Errorf("glm error %d: %s: %w", frame.Code, frame.Message, provider.ErrProtocol)
	}

	return false, nil
}

func (a *Adapter) setHeaders(r *http.Request, credential string) {
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Accept", "application/x-ndjson")
	r.Header.Set("Authorization", "Bearer "+credential)
}

// ListConversations implements provider.ConversationLister.
func (a *Adapter) ListConversations(ctx context.Context, credential string) ([]provider.ConversationSummary, error) {
	resp, err := a.client.DoWithFailover(ctx, a.Name(), a.endpoints,
		func(ctx context.Context, base string) (*http.Request, error) {
			r, err := http.NewRequestWithContext(ctx, http.MethodGet, base+conversationsPath, nil)
			if err != nil {
				return nil, err
			}

			a.setHeaders(r, credential)

			return r, nil
		}, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed struct {
		Conversations []struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			UpdatedAt int64  `json:"updated_at"`
		} `json:"conversations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", errors.Join(provider.ErrProtocol, err))
	}

	out := make([]provider.ConversationSummary, 0, len(parsed.Conversations))
	for _, c := range parsed.Conversations {
		out = append(out, provider.ConversationSummary{ID: c.ID, Title: c.Title, Updated: c.UpdatedAt})
	}

	return out, nil
}

// GetConversation implements provider.ConversationGetter.
func (a *Adapter) GetConversation(ctx context.Context, credential, conversationID string) (map[string]any, error) {
	resp, err := a.client.DoWithFailover(ctx, a.Name(), a.endpoints,
		func(ctx context.Context, base string) (*http.Request, error) {
			r, err := http.NewRequestWithContext(ctx, http.MethodGet, base+conversationsPath+"/"+conversationID, nil)
			if err != nil {
				return nil, err
			}

			a.setHeaders(r, credential)

			return r, nil
		}, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var detail map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return nil, fmt.Errorf("decode conversation detail: %w", errors.Join(provider.ErrProtocol, err))
	}

	return detail, nil
}

// uploadPoll bounds how long we wait for the upstream to index a file.
var uploadPoll = provider.RetryPolicy{
	MaxAttempts: 10,
	Backoff:     provider.LinearBackoff(500 * time.Millisecond),
	Retryable: func(err error) bool {
		return errors.Is(err, errFileNotReady)
	},
}

var errFileNotReady = errors.New("file not indexed yet")

// UploadFile implements provider.FileUploader: upload, then poll until the
// upstream reports the file indexed.
func (a *Adapter) UploadFile(ctx context.Context, credential, name string, data []byte) (provider.UploadedFile, error) {
	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return provider.UploadedFile{}, fmt.Errorf("create multipart: %w", err)
	}

	if _, err := part.Write(data); err != nil {
		return provider.UploadedFile{}, fmt.Errorf("write multipart: %w", err)
	}

	if err := writer.Close(); err != nil {
		return provider.UploadedFile{}, fmt.Errorf("close multipart: %w", err)
	}

	resp, err := a.client.DoWithFailover(ctx, a.Name(), a.endpoints,
		func(ctx context.Context, base string) (*http.Request, error) {
			r, err := http.NewRequestWithContext(ctx, http.MethodPost, base+filesPath, bytes.NewReader(buf.Bytes()))
			if err != nil {
				return nil, err
			}

			r.Header.Set("Content-Type", writer.FormDataContentType())
			r.Header.Set("Authorization", "Bearer "+credential)

			return r, nil
		}, nil)
	if err != nil {
		return provider.UploadedFile{}, err
	}
	defer resp.Body.Close()

	var uploaded struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return provider.UploadedFile{}, fmt.Errorf("decode upload response: %w", errors.Join(provider.ErrProtocol, err))
	}

	if uploaded.ID == "" {
		return provider.UploadedFile{}, fmt.Errorf("upload response missing id: %w", provider.ErrProtocol)
	}

	err = uploadPoll.Do(ctx, func() error {
		return a.checkFileIndexed(ctx, credential, uploaded.ID)
	})
	if err != nil {
		return provider.UploadedFile{}, fmt.Errorf("wait for file indexing: %w", err)
	}

	return provider.UploadedFile{ID: uploaded.ID, Name: name}, nil
}

func (a *Adapter) checkFileIndexed(ctx context.Context, credential, fileID string) error {
	resp, err := a.client.DoWithFailover(ctx, a.Name(), a.endpoints,
		func(ctx context.Context, base string) (*http.Request, error) {
			r, err := http.NewRequestWithContext(ctx, http.MethodGet, base+filesPath+"/"+fileID, nil)
			if err != nil {
				return nil, err
			}

			a.setHeaders(r, credential)

			return r, nil
		}, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8192))
	if err != nil {
		return fmt.Errorf("read file status: %w", err)
	}

	var status struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("decode file status: %w", errors.Join(provider.ErrProtocol, err))
	}

	if status.Status != "indexed" && status.Status != "success" {
		return errFileNotReady
	}

	return nil
}
