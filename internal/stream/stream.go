// Package stream defines the normalized event surface every provider
// adapter emits into. Callers consume these events instead of per-vendor
// wire formats.
package stream

// EventType discriminates the Event union.
type EventType int

const (
	EventContentDelta EventType = iota + 1
	EventThinkingDelta
	EventMetadataUpdate
	EventSessionCreated
	EventDone
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventContentDelta:
		return "content_delta"
	case EventThinkingDelta:
		return "thinking_delta"
	case EventMetadataUpdate:
		return "metadata_update"
	case EventSessionCreated:
		return "session_created"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	}

	return "unknown"
}

// Event is a tagged variant. Only the fields relevant to Type are set.
type Event struct {
	Type      EventType
	Text      string         // content/thinking deltas
	Meta      map[string]any // metadata updates
	SessionID string         // session_created
	Err       error          // error
}

// Sink receives the ordered event stream for a single request. Exactly one
// of OnDone/OnError terminates the stream; OnSessionCreated happens at most
// once, before the first content event.
type Sink interface {
	OnSessionCreated(upstreamID string)
	OnContent(text string)
	OnThinking(text string)
	OnMetadata(meta map[string]any)
	OnDone()
	OnError(err error)
}

// IsTerminal reports whether the event ends the stream.
func (e Event) IsTerminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
