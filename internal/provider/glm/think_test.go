package glm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func collect(segs []segment) (thinking, content string) {
	for _, seg := range segs {
		if seg.thinking {
			thinking += seg.text
		} else {
			content += seg.text
		}
	}

	return thinking, content
}

func TestThinkSplitterInlineMarkers(t *testing.T) {
	s := &thinkSplitter{}

	segs := s.Feed("<think>reasoning here</think>the answer")
	segs = append(segs, s.Flush()...)

	thinking, content := collect(segs)
	assert.Equal(t, "reasoning here", thinking)
	assert.Equal(t, "the answer", content)
}

func TestThinkSplitterMarkerAcrossChunks(t *testing.T) {
	s := &thinkSplitter{}

	var all []segment

	// The open marker is split over three chunks.
	for _, chunk := range []string{"<th", "ink>deep ", "thought</thi", "nk>done"} {
		all = append(all, s.Feed(chunk)...)
	}

	all = append(all, s.Flush()...)

	thinking, content := collect(all)
	assert.Equal(t, "deep thought", thinking)
	assert.Equal(t, "done", content)
}

func TestThinkSplitterFalseAlarmSuffix(t *testing.T) {
	s := &thinkSplitter{}

	var all []segment

	// "<t" could start a marker but the next chunk proves it is not one.
	all = append(all, s.Feed("a <t")...)
	all = append(all, s.Feed("able> b")...)
	all = append(all, s.Flush()...)

	thinking, content := collect(all)
	assert.Empty(t, thinking)
	assert.Equal(t, "a <table> b", content)
}

func TestThinkSplitterNoMarkers(t *testing.T) {
	s := &thinkSplitter{}

	segs := s.Feed("plain text only")
	segs = append(segs, s.Flush()...)

	thinking, content := collect(segs)
	assert.Empty(t, thinking)
	assert.Equal(t, "plain text only", content)
}

func TestThinkSplitterUnclosedThinkFlushes(t *testing.T) {
	s := &thinkSplitter{}

	segs := s.Feed("<think>never closed")
	segs = append(segs, s.Flush()...)

	thinking, content := collect(segs)
	assert.Equal(t, "never closed", thinking)
	assert.Empty(t, content)
}
