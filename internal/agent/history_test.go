package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryAppendOnly(t *testing.T) {
	h := NewHistory()
	h.Append(SpeakerUser, "hi")
	h.Append(SpeakerSystem, "uploaded file-name: id.png")

	snap := h.Entries()
	snap[0].Text = "mutated"

	h.Append("Penny", "hello <END_OF_TURN>")
	require.Equal(t, 3, h.Len())
	assert.Equal(t, "hi", h.Entries()[0].Text)

	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, "Penny: hello <END_OF_TURN>", last.String())

	assert.Equal(t, "User: hi\nSystem: uploaded file-name: id.png\nPenny: hello <END_OF_TURN>", h.Render())
}

func TestHistoryReset(t *testing.T) {
	h := NewHistory(Utterance{Speaker: SpeakerUser, Text: "x"})
	h.Reset()
	assert.Equal(t, 0, h.Len())
	assert.Equal(t, "", h.Render())
	_, ok := h.Last()
	assert.False(t, ok)
}
