// Package session derives stable session fingerprints, maps them to
// upstream conversation ids, and serializes request execution per
// fingerprint.
package session

import (
	"crypto/rand"
	"fmt"
	"hash/fnv"
	"strings"
)

// InboundMessage is the minimal view of a caller message the session layer
// needs. Content is either a plain string or a block array, matching the
// wire shapes the shim accepts.
type InboundMessage struct {
	Role    string
	Content any
}

// fingerprintScanLimit bounds how many leading messages are scanned for
// the first user turn.
const fingerprintScanLimit = 5

// Fingerprint combines a hash of the caller's api key with a hash of the
// first user-turn text. Two independent clients sharing a key stay
// distinct sessions, while a restart of the same conversation collapses
// onto the same fingerprint.
//
// Pure function of its inputs, except when the first user turn is empty:
// then a process-random value is used so unrelated empty conversations do
// not collide. That non-determinism is intentional.
func Fingerprint(apiKey string, messages []InboundMessage) string {
	keyHash := fnv.New64a()
	keyHash.Write([]byte(apiKey))

	text := FirstUserText(messages)

	textHash := fnv.New64a()

	if text == "" {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err == nil {
			textHash.Write(buf[:])
		}
	} else {
		textHash.Write([]byte(text))
	}

	return fmt.Sprintf("fp-%016x-%016x", keyHash.Sum64(), textHash.Sum64())
}

// FirstUserText returns the text of the first user turn, scanning at most
// the first five messages and skipping non-user turns.
func FirstUserText(messages []InboundMessage) string {
	limit := len(messages)
	if limit > fingerprintScanLimit {
		limit = fingerprintScanLimit
	}

	for i := 0; i < limit; i++ {
		if messages[i].Role != "user" {
			continue
		}

		if text := strings.TrimSpace(strings.Join(ContentTexts(messages[i].Content), "\n")); text != "" {
			return text
		}
	}

	return ""
}

// ContentTexts flattens a message content value into its text segments.
// Handles plain strings, block arrays, and nested tool_result content.
func ContentTexts(content any) []string {
	switch v := content.(type) {
	case string:
		if v == "" {
			return nil
		}

		return []string{v}
	case []any:
		var out []string

		for _, block := range v {
			blockMap, ok := block.(map[string]any)
			if !ok {
				continue
			}

			switch blockMap["type"] {
			case "text":
				if text, ok := blockMap["text"].(string); ok && text != "" {
					out = append(out, text)
				}
			case "tool_result":
				out = append(out, ContentTexts(blockMap["content"])...)
			}
		}

		return out
	default:
		return nil
	}
}
