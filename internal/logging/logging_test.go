package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)

	log.Info().Str("session_id", "s1").Msg("turn finished")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "s1", entry["session_id"])
	assert.Equal(t, "turn finished", entry["message"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	log.Info().Msg("hidden")
	assert.Zero(t, buf.Len())
	log.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{Level: "loud"}, nil)
	assert.Error(t, err)

	_, err = New(Config{Level: "info", Format: "xml"}, nil)
	assert.Error(t, err)
}
