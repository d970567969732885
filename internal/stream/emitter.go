package stream

// Emitter wraps a Sink and enforces the stream ordering contract:
// at most one terminal event, nothing after it, and session_created only
// before the first content or thinking delta. Adapters emit through an
// Emitter so the contract holds regardless of upstream misbehavior.
//
// An Emitter is used by a single goroutine per request and needs no locking.
type Emitter struct {
	sink        Sink
	terminated  bool
	contentSeen bool
	sessionSent bool
}

func NewEmitter(sink Sink) *Emitter {
	return &Emitter{sink: sink}
}

// SessionCreated forwards the upstream conversation id. Dropped if content
// already started or the stream terminated.
func (e *Emitter) SessionCreated(upstreamID string) {
	if e.terminated || e.contentSeen || e.sessionSent {
		return
	}

	e.sessionSent = true
	e.sink.OnSessionCreated(upstreamID)
}

func (e *Emitter) Content(text string) {
	if e.terminated || text == "" {
		return
	}

	e.contentSeen = true
	e.sink.OnContent(text)
}

func (e *Emitter) Thinking(text string) {
	if e.terminated || text == "" {
		return
	}

	e.contentSeen = true
	e.sink.OnThinking(text)
}

func (e *Emitter) Metadata(meta map[string]any) {
	if e.terminated || len(meta) == 0 {
		return
	}

	e.sink.OnMetadata(meta)
}

func (e *Emitter) Done() {
	if e.terminated {
		return
	}

	e.terminated = true
	e.sink.OnDone()
}

func (e *Emitter) Error(err error) {
	if e.terminated || err == nil {
		return
	}

	e.terminated = true
	e.sink.OnError(err)
}

// Terminated reports whether a terminal event was already emitted.
func (e *Emitter) Terminated() bool {
	return e.terminated
}

// Collector is a Sink that records the full event sequence. Test fixture.
type Collector struct {
	Events []Event
}

func (c *Collector) OnSessionCreated(upstreamID string) {
	c.Events = append(c.Events, Event{Type: EventSessionCreated, SessionID: upstreamID})
}

func (c *Collector) OnContent(text string) {
	c.Events = append(c.Events, Event{Type: EventContentDelta, Text: text})
}

func (c *Collector) OnThinking(text string) {
	c.Events = append(c.Events, Event{Type: EventThinkingDelta, Text: text})
}

func (c *Collector) OnMetadata(meta map[string]any) {
	c.Events = append(c.Events, Event{Type: EventMetadataUpdate, Meta: meta})
}

func (c *Collector) OnDone() {
	c.Events = append(c.Events, Event{Type: EventDone})
}

func (c *Collector) OnError(err error) {
	c.Events = append(c.Events, Event{Type: EventError, Err: err})
}

// Content returns the concatenated content deltas.
func (c *Collector) Content() string {
	var out string
	for _, ev := range c.Events {
		if ev.Type == EventContentDelta {
			out += ev.Text
		}
	}

	return out
}
