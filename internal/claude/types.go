// Package claude is the protocol shim: it accepts the Claude messages
// wire format and serves it from any configured backend, re-encoding the
// normalized event stream into the exact vendor event grammar.
package claude

import (
	"strings"

	"github.com/google/uuid"

	"github.com/Davincible/chatgate/internal/provider"
	"github.com/Davincible/chatgate/internal/session"
)

// Request is the fixed inbound message-completion shape.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	System      any       `json:"system,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Thinking    any       `json:"thinking,omitempty"`
}

// Message content is either a plain string or a block array.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// Text flattens the message content into one string.
func (m Message) Text() string {
	return strings.Join(session.ContentTexts(m.Content), "\n")
}

// SystemText flattens the request's system field, which may be a string
// or a block array.
func (r Request) SystemText() string {
	if r.System == nil {
		return ""
	}

	if s, ok := r.System.(string); ok {
		return s
	}

	return strings.Join(session.ContentTexts(r.System), "\n")
}

// InboundMessages converts to the session layer's view.
func (r Request) InboundMessages() []session.InboundMessage {
	out := make([]session.InboundMessage, 0, len(r.Messages))
	for _, m := range r.Messages {
		out = append(out, session.InboundMessage{Role: m.Role, Content: m.Content})
	}

	return out
}

// ProviderMessages converts to the gateway's canonical history, flattening
// block content and prepending the system prompt when present.
func (r Request) ProviderMessages() []provider.Message {
	out := make([]provider.Message, 0, len(r.Messages)+1)

	if system := r.SystemText(); system != "" {
		out = append(out, provider.Message{Role: provider.RoleSystem, Content: system})
	}

	for _, m := range r.Messages {
		text := m.Text()
		if text == "" {
			continue
		}

		role := m.Role
		if role != provider.RoleUser && role != provider.RoleAssistant && role != provider.RoleSystem {
			role = provider.RoleUser
		}

		out = append(out, provider.Message{Role: role, Content: text})
	}

	return out
}

// ThinkingEnabled reports whether the caller asked for extended thinking.
func (r Request) ThinkingEnabled() bool {
	if r.Thinking == nil {
		return false
	}

	if m, ok := r.Thinking.(map[string]any); ok {
		return m["type"] == "enabled"
	}

	return false
}

// Response is the non-streaming success envelope.
type Response struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   string         `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ErrorResponse is the vendor JSON error envelope.
type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewMessageID generates a message id in the vendor's format.
func NewMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
