// Package provider defines the capability interface implemented by every
// upstream adapter, the registry that dispatches to them, and the
// cross-cutting credential-refresh and endpoint-failover machinery the
// OAuth-style adapters share.
package provider

import (
	"context"

	"github.com/Davincible/chatgate/internal/stream"
)

// Message roles in the gateway's canonical vocabulary. Adapters translate
// these into whatever the upstream expects ("model", "human", ...).
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one turn of caller-supplied history. Immutable per request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SendRequest is the canonical request envelope. Constructed once per
// inbound call and passed by value into exactly one adapter invocation.
type SendRequest struct {
	Credential     string
	ProviderID     string
	AccountID      string
	Model          string
	Messages       []Message
	ConversationID string
	Stream         bool

	Search      bool
	Thinking    bool
	Temperature *float64
	FileIDs     []string
}

// LastUserText returns the content of the final user turn, or "".
func (r SendRequest) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}

	return ""
}

// Provider is the capability set every adapter must implement.
//
// SendMessage emits zero or more content/thinking/metadata events into the
// emitter, then exactly one terminal event. If no upstream conversation id
// was supplied the adapter synthesizes or obtains one and emits
// SessionCreated before the first content event; if one was supplied,
// SessionCreated is never emitted. SendMessage returns the same error it
// emitted terminally, or nil after Done.
type Provider interface {
	Name() string
	DefaultModel() string
	SupportsModel(model string) bool
	SendMessage(ctx context.Context, req SendRequest, em *stream.Emitter) error
}

// Optional capabilities. Absence is a first-class, checkable condition:
// callers probe with a type assertion (or Capabilities) before invoking.

// ConversationSummary is one entry of a conversation listing.
type ConversationSummary struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Updated int64  `json:"updated"`
}

type ConversationLister interface {
	ListConversations(ctx context.Context, credential string) ([]ConversationSummary, error)
}

type ConversationGetter interface {
	GetConversation(ctx context.Context, credential, conversationID string) (map[string]any, error)
}

// UploadedFile identifies an upstream-hosted reference file.
type UploadedFile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type FileUploader interface {
	UploadFile(ctx context.Context, credential, name string, data []byte) (UploadedFile, error)
}

type ModelLister interface {
	ListModels(ctx context.Context, credential string) ([]string, error)
}

// Capability flags derived from the optional interfaces.
type Capability struct {
	ListConversations bool
	GetConversation   bool
	UploadFile        bool
	ListModels        bool
}

// Capabilities reports which optional interfaces p implements.
func Capabilities(p Provider) Capability {
	var c Capability

	_, c.ListConversations = p.(ConversationLister)
	_, c.GetConversation = p.(ConversationGetter)
	_, c.UploadFile = p.(FileUploader)
	_, c.ListModels = p.(ModelLister)

	return c
}
