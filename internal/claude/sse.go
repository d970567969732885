package claude

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// FormatSSEEvent renders one Server-Sent Event.
func FormatSSEEvent(eventType string, data any) []byte {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return []byte("event: error\ndata: {\"error\":\"failed to marshal data\"}\n\n")
	}

	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, jsonData))
}

// streamSink renders the normalized event stream as the vendor's SSE
// grammar: message_start, content_block_start, content_block_delta*,
// content_block_stop, message_delta, message_stop. Implements stream.Sink.
type streamSink struct {
	w           http.ResponseWriter
	messageID   string
	model       string
	inputTokens int
	onSession   func(upstreamID string)

	started    bool
	blockIndex int
	blockOpen  bool
	blockType  string
	output     strings.Builder
}

func newStreamSink(w http.ResponseWriter, messageID, model string, inputTokens int, onSession func(string)) *streamSink {
	return &streamSink{
		w:           w,
		messageID:   messageID,
		model:       model,
		inputTokens: inputTokens,
		onSession:   onSession,
	}
}

func (s *streamSink) OnSessionCreated(upstreamID string) {
	if s.onSession != nil {
		s.onSession(upstreamID)
	}
}

func (s *streamSink) OnContent(text string) {
	s.ensureStart()
	s.ensureBlock("text")

	s.write("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": s.blockIndex,
		"delta": map[string]any{"type": "text_delta", "text": text},
	})

	s.output.WriteString(text)
}

func (s *streamSink) OnThinking(text string) {
	s.ensureStart()
	s.ensureBlock("thinking")

	s.write("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": s.blockIndex,
		"delta": map[string]any{"type": "thinking_delta", "thinking": text},
	})
}

func (s *streamSink) OnMetadata(map[string]any) {
	// Token usage is computed locally; upstream metadata stays internal.
}

func (s *streamSink) OnDone() {
	s.ensureStart()
	s.closeBlock()

	s.write("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": "end_turn", "stop_sequence": nil},
		"usage": map[string]any{"output_tokens": CountText(s.output.String())},
	})
	s.write("message_stop", map[string]any{"type": "message_stop"})
}

func (s *streamSink) OnError(err error) {
	s.write("error", map[string]any{
		"type":  "error",
		"error": map[string]any{"type": errorType(err), "message": err.Error()},
	})
}

func (s *streamSink) ensureStart() {
	if s.started {
		return
	}

	s.started = true
	s.write("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            s.messageID,
			"type":          "message",
			"role":          "assistant",
			"model":         s.model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": s.inputTokens, "output_tokens": 1},
		},
	})
}

func (s *streamSink) ensureBlock(blockType string) {
	if s.blockOpen && s.blockType == blockType {
		return
	}

	if s.blockOpen {
		s.closeBlock()
		s.blockIndex++
	}

	block := map[string]any{"type": blockType}
	if blockType == "text" {
		block["text"] = ""
	} else {
		block["thinking"] = ""
	}

	s.write("content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         s.blockIndex,
		"content_block": block,
	})

	s.blockOpen = true
	s.blockType = blockType
}

func (s *streamSink) closeBlock() {
	if !s.blockOpen {
		return
	}

	s.write("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": s.blockIndex,
	})

	s.blockOpen = false
}

func (s *streamSink) write(eventType string, data any) {
	s.w.Write(FormatSSEEvent(eventType, data))

	if flusher, ok := s.w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// bufferSink accumulates the stream for the non-streaming JSON envelope.
// Implements stream.Sink.
type bufferSink struct {
	onSession func(upstreamID string)

	thinking strings.Builder
	content  strings.Builder
	done     bool
	err      error
}

func (b *bufferSink) OnSessionCreated(upstreamID string) {
	if b.onSession != nil {
		b.onSession(upstreamID)
	}
}

func (b *bufferSink) OnContent(text string)  { b.content.WriteString(text) }
func (b *bufferSink) OnThinking(text string) { b.thinking.WriteString(text) }
func (b *bufferSink) OnMetadata(map[string]any) {}
func (b *bufferSink) OnDone()                { b.done = true }
func (b *bufferSink) OnError(err error)      { b.err = err }

// response builds the success envelope once the stream finished.
func (b *bufferSink) response(messageID, model string, inputTokens int) Response {
	var blocks []ContentBlock

	if b.thinking.Len() > 0 {
		blocks = append(blocks, ContentBlock{Type: "thinking", Thinking: b.thinking.String()})
	}

	blocks = append(blocks, ContentBlock{Type: "text", Text: b.content.String()})

	return Response{
		ID:         messageID,
		Type:       "message",
		Role:       "assistant",
		Content:    blocks,
		Model:      model,
		StopReason: "end_turn",
		Usage: Usage{
			InputTokens:  inputTokens,
			OutputTokens: CountText(b.content.String()),
		},
	}
}
