package claude

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Token counts are computed locally instead of trusting upstream numbers;
// the reverse-engineered backends either omit usage or report it in
// incompatible units.
const (
	// perMessageOverhead approximates the fixed framing cost per message.
	perMessageOverhead = 4
	// countEndpointBuffer inflates the count_tokens endpoint's answer so
	// clients that budget against it keep headroom.
	countEndpointBuffer = 100
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

func getEncoding() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})

	return encoding
}

// CountText returns the token count of one text segment.
func CountText(text string) int {
	enc := getEncoding()
	if enc == nil || text == "" {
		return 0
	}

	return len(enc.Encode(text, nil, nil))
}

// CountPrompt counts the request's prompt tokens: every message's text
// plus a fixed per-message overhead, plus the system prompt.
func CountPrompt(req Request) int {
	total := 0

	if system := req.SystemText(); system != "" {
		total += CountText(system) + perMessageOverhead
	}

	for _, m := range req.Messages {
		total += CountText(m.Text()) + perMessageOverhead
	}

	return total
}
