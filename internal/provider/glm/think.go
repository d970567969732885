package glm

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// segment is one run of delta text with a single classification.
type segment struct {
	thinking bool
	text     string
}

// thinkSplitter splits streamed text on inline <think> markers. Markers
// can be split across chunk boundaries, so a suffix that could be the
// start of a marker is held back until the next chunk decides it.
type thinkSplitter struct {
	inThink bool
	pending string
}

// Feed consumes one delta and returns the classified segments ready to
// emit. Text held back for a possible partial marker is not returned yet.
func (s *thinkSplitter) Feed(delta string) []segment {
	if delta == "" {
		return nil
	}

	text := s.pending + delta
	s.pending = ""

	var out []segment

	for text != "" {
		marker := thinkOpen
		if s.inThink {
			marker = thinkClose
		}

		idx := strings.Index(text, marker)
		if idx >= 0 {
			if idx > 0 {
				out = append(out, segment{thinking: s.inThink, text: text[:idx]})
			}

			s.inThink = !s.inThink
			text = text[idx+len(marker):]

			continue
		}

		// No full marker. Hold back the longest suffix that could still
		// become one.
		hold := partialMarkerSuffix(text, marker)
		if emit := text[:len(text)-hold]; emit != "" {
			out = append(out, segment{thinking: s.inThink, text: emit})
		}

		s.pending = text[len(text)-hold:]

		break
	}

	return out
}

// Flush returns whatever text was held back for a marker that never
// completed.
func (s *thinkSplitter) Flush() []segment {
	if s.pending == "" {
		return nil
	}

	seg := segment{thinking: s.inThink, text: s.pending}
	s.pending = ""

	return []segment{seg}
}

// partialMarkerSuffix returns the length of the longest suffix of text
// that is a proper prefix of marker.
func partialMarkerSuffix(text, marker string) int {
	max := len(marker) - 1
	if max > len(text) {
		max = len(text)
	}

	for n := max; n > 0; n-- {
		if strings.HasPrefix(marker, text[len(text)-n:]) {
			return n
		}
	}

	return 0
}
