package qwen

import (
	"encoding/json"
	"fmt"

	"github.com/Davincible/chatgate/internal/provider"
	"github.com/Davincible/chatgate/internal/stream"
)

// The upstream streams path/value fragments: each frame is either one
// {"p":...,"v":...} pair or a patch list of them. Decoding happens in two
// stages: raw frames become rawEvents here, and applyEvent maps rawEvents
// onto the normalized surface. The split keeps "what does the wire look
// like" away from the event contract.

type eventKind int

const (
	kindCreated eventKind = iota + 1
	kindDelta
	kindFinished
	kindError
)

// rawEvent is one decoded vendor event.
type rawEvent struct {
	kind    eventKind
	text    string
	phase   string // "think" or "answer"
	chatID  string
	usage   map[string]any
	errCode string
	errMsg  string
}

// fragment is the wire shape of one path/value pair.
type fragment struct {
	P string          `json:"p"`
	V json.RawMessage `json:"v"`
}

// decodeFrame turns one `data:` payload into vendor events. A frame is a
// single fragment, or a patch list when the payload is a JSON array.
func decodeFrame(data []byte) ([]rawEvent, error) {
	if len(data) > 0 && data[0] == '[' {
		var list []fragment
		if err := provider.DecodeFrame(data, &list); err != nil {
			return nil, err
		}

		var events []rawEvent

		for _, frag := range list {
			evs, err := decodeFragment(frag)
			if err != nil {
				return nil, err
			}

			events = append(events, evs...)
		}

		return events, nil
	}

	var frag fragment
	if err := provider.DecodeFrame(data, &frag); err != nil {
		return nil, err
	}

	return decodeFragment(frag)
}

func decodeFragment(frag fragment) ([]rawEvent, error) {
	switch frag.P {
	case "response.created":
		var v struct {
			ChatID string `json:"chat_id"`
		}
		if err := json.Unmarshal(frag.V, &v); err != nil {
			return nil, fmt.Errorf("decode created fragment: %w", err)
		}

		return []rawEvent{{kind: kindCreated, chatID: v.ChatID}}, nil

	case "response.content.delta":
		var v struct {
			Content string `json:"content"`
			Phase   string `json:"phase"`
		}
		if err := json.Unmarshal(frag.V, &v); err != nil {
			return nil, fmt.Errorf("decode delta fragment: %w", err)
		}

		return []rawEvent{{kind: kindDelta, text: v.Content, phase: v.Phase}}, nil

	case "response.finished":
		var v struct {
			Usage map[string]any `json:"usage"`
		}
		// Usage is best-effort; a bare finished marker is still terminal.
		_ = json.Unmarshal(frag.V, &v)

		return []rawEvent{{kind: kindFinished, usage: v.Usage}}, nil

	case "response.error":
		var v struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(frag.V, &v); err != nil {
			return nil, fmt.Errorf("decode error fragment: %w", err)
		}

		return []rawEvent{{kind: kindError, errCode: v.Code, errMsg: v.Message}}, nil
	}

	// Unknown paths are ignored; the upstream adds new ones freely.
	return nil, nil
}

// applyEvent maps one vendor event onto the emitter. Returns done=true on
// the terminal upstream marker.
func applyEvent(ev rawEvent, em *stream.Emitter) (bool, error) {
	switch ev.kind {
	case kindCreated:
		// The id was client-chosen and already announced; the created
		// acknowledgement carries nothing new.
		return false, nil

	case kindDelta:
		if ev.phase == "think" {
			em.Thinking(ev.text)
		} else {
			em.Content(ev.text)
		}

		return false, nil

	case kindFinished:
		if len(ev.usage) > 0 {
			em.Metadata(map[string]any{"usage": ev.usage})
		}

		return true, nil

	case kindError:
		if ev.errCode == "chat_not_found" {
			return false, fmt.Errorf("qwen: %s: %w", ev.errMsg, provider.ErrSessionExpired)
		}

		return false, fmt.Errorf("qwen error %s: %s: %w", ev.errCode, ev.errMsg, provider.ErrProtocol)
	}

	return false, nil
}
