package session

import "strings"

// Known low-value client traffic. These requests are answered with a
// canned envelope before any queueing or adapter work so probe traffic
// never spends upstream quota.
const (
	probeCountText        = "count"
	probeWarmupPrefix     = "Warmup"
	probeWarmupMaxLen     = 64
	fileChangeNotice      = "Files modified by user or linter"
	titleRequestSubstring = "Please write a 5-10 word title for the following conversation"
)

// IsProbe reports whether the triggering (last) message matches one of the
// known probe/warmup heuristics. Checked across plain-string and
// block-array content shapes, including tool_result error blocks.
func IsProbe(messages []InboundMessage) bool {
	if len(messages) == 0 {
		return false
	}

	for _, text := range ContentTexts(messages[len(messages)-1].Content) {
		if isProbeText(text) {
			return true
		}
	}

	return false
}

func isProbeText(text string) bool {
	trimmed := strings.TrimSpace(text)

	if trimmed == probeCountText {
		return true
	}

	if strings.HasPrefix(trimmed, probeWarmupPrefix) && len(trimmed) <= probeWarmupMaxLen {
		return true
	}

	if strings.Contains(text, fileChangeNotice) {
		return true
	}

	if strings.Contains(text, titleRequestSubstring) {
		return true
	}

	return false
}

// IsReset reports whether the last message is an explicit reset command:
// role user, plain string content, trimmed case-insensitive "/reset" or
// "!reset". The same text earlier in the history does not trigger.
func IsReset(messages []InboundMessage) bool {
	if len(messages) == 0 {
		return false
	}

	last := messages[len(messages)-1]
	if last.Role != "user" {
		return false
	}

	text, ok := last.Content.(string)
	if !ok {
		return false
	}

	switch strings.ToLower(strings.TrimSpace(text)) {
	case "/reset", "!reset":
		return true
	}

	return false
}
