package claude

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/chatgate/internal/provider"
	"github.com/Davincible/chatgate/internal/stream"
)

type sseEvent struct {
	event string
	data  map[string]any
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()

	var out []sseEvent
	var current sseEvent

	for _, line := range strings.Split(body, "\n") {
		switch {
		case strings.HasPrefix(line, "event: "):
			current.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &current.data))
			out = append(out, current)
			current = sseEvent{}
		}
	}

	return out
}

func eventNames(events []sseEvent) []string {
	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.event)
	}

	return names
}

func TestStreamSinkEventGrammar(t *testing.T) {
	recorder := httptest.NewRecorder()
	sink := newStreamSink(recorder, "msg_test", "test-model", 9, nil)
	em := stream.NewEmitter(sink)

	em.Content("hi ")
	em.Content("back")
	em.Done()

	events := parseSSE(t, recorder.Body.String())
	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, eventNames(events))

	message := events[0].data["message"].(map[string]any)
	assert.Equal(t, "msg_test", message["id"])
	assert.Equal(t, "test-model", message["model"])
	assert.Equal(t, float64(9), message["usage"].(map[string]any)["input_tokens"])

	delta := events[2].data["delta"].(map[string]any)
	assert.Equal(t, "text_delta", delta["type"])
	assert.Equal(t, "hi ", delta["text"])

	finalDelta := events[5].data["delta"].(map[string]any)
	assert.Equal(t, "end_turn", finalDelta["stop_reason"])
}

func TestStreamSinkSwitchesBlocksForThinking(t *testing.T) {
	recorder := httptest.NewRecorder()
	sink := newStreamSink(recorder, "msg_test", "m", 1, nil)
	em := stream.NewEmitter(sink)

	em.Thinking("pondering")
	em.Content("answer")
	em.Done()

	events := parseSSE(t, recorder.Body.String())
	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, eventNames(events))

	firstBlock := events[1].data["content_block"].(map[string]any)
	assert.Equal(t, "thinking", firstBlock["type"])
	assert.Equal(t, float64(0), events[1].data["index"])

	secondBlock := events[4].data["content_block"].(map[string]any)
	assert.Equal(t, "text", secondBlock["type"])
	assert.Equal(t, float64(1), events[4].data["index"])

	thinkingDelta := events[2].data["delta"].(map[string]any)
	assert.Equal(t, "thinking_delta", thinkingDelta["type"])
	assert.Equal(t, "pondering", thinkingDelta["thinking"])
}

func TestStreamSinkErrorEvent(t *testing.T) {
	recorder := httptest.NewRecorder()
	sink := newStreamSink(recorder, "msg_test", "m", 1, nil)
	em := stream.NewEmitter(sink)

	em.Error(provider.ErrRateLimited)

	events := parseSSE(t, recorder.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].event)

	detail := events[0].data["error"].(map[string]any)
	assert.Equal(t, "rate_limit_error", detail["type"])
}

func TestStreamSinkForwardsSessionCallback(t *testing.T) {
	var gotSession string

	recorder := httptest.NewRecorder()
	sink := newStreamSink(recorder, "msg_test", "m", 1, func(id string) { gotSession = id })
	em := stream.NewEmitter(sink)

	em.SessionCreated("conv-42")
	em.Content("x")
	em.Done()

	assert.Equal(t, "conv-42", gotSession)
}

func TestBufferSinkResponse(t *testing.T) {
	sink := &bufferSink{}
	em := stream.NewEmitter(sink)

	em.Thinking("reasoning")
	em.Content("final answer")
	em.Done()

	resp := sink.response("msg_1", "model-x", 5)

	assert.Equal(t, "msg_1", resp.ID)
	assert.Equal(t, "message", resp.Type)
	assert.Equal(t, "end_turn", resp.StopReason)
	require.Len(t, resp.Content, 2)
	assert.Equal(t, "thinking", resp.Content[0].Type)
	assert.Equal(t, "reasoning", resp.Content[0].Thinking)
	assert.Equal(t, "text", resp.Content[1].Type)
	assert.Equal(t, "final answer", resp.Content[1].Text)
	assert.Equal(t, 5, resp.Usage.InputTokens)
}

func TestErrorTypeMapping(t *testing.T) {
	tests := []struct {
		err        error
		wantType   string
		wantStatus int
	}{
		{provider.ErrNoAccount, "authentication_error", 401},
		{provider.ErrAuthExpired, "authentication_error", 401},
		{provider.ErrAccountConflict, "invalid_request_error", 400},
		{provider.ErrModelNotSupported, "invalid_request_error", 400},
		{provider.ErrRateLimited, "rate_limit_error", 429},
		{provider.ErrUnavailable, "overloaded_error", 503},
		{provider.ErrProviderDisabled, "permission_error", 403},
		{errors.New("anything else"), "api_error", 500},
	}

	for _, tt := range tests {
		t.Run(tt.wantType, func(t *testing.T) {
			assert.Equal(t, tt.wantType, errorType(tt.err))
			assert.Equal(t, tt.wantStatus, errorStatus(tt.err))
		})
	}
}
