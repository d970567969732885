package claude

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountTextEmpty(t *testing.T) {
	assert.Equal(t, 0, CountText(""))
}

func TestCountPromptAddsPerMessageOverhead(t *testing.T) {
	req := Request{
		System: "sys prompt",
		Messages: []Message{
			{Role: "user", Content: "hello world"},
			{Role: "assistant", Content: "hi"},
		},
	}

	want := CountText("sys prompt") + perMessageOverhead +
		CountText("hello world") + perMessageOverhead +
		CountText("hi") + perMessageOverhead

	assert.Equal(t, want, CountPrompt(req))
}

func TestCountPromptWithoutSystem(t *testing.T) {
	req := Request{Messages: []Message{{Role: "user", Content: "hello"}}}

	assert.Equal(t, CountText("hello")+perMessageOverhead, CountPrompt(req))
}
