package metrics

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritePrometheus(t *testing.T) {
	TurnTotal.WithLabelValues("tools", "final").Inc()
	ToolCallTotal.WithLabelValues("EmailValidation", "success").Inc()

	var buf bytes.Buffer
	require.NoError(t, WritePrometheus(&buf))

	out := buf.String()
	assert.Contains(t, out, "penny_turn_total")
	assert.Contains(t, out, `tool="EmailValidation"`)
}
