package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "debug", Format: "json"}, &buf)
	logger.Debug().Str("component", "service").Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "debug", line["level"])
	assert.Equal(t, "service", line["component"])
	assert.Contains(t, line, "time")
}

func TestLevelFilteringAndFallback(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "warn"}, &buf)
	logger.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	buf.Reset()
	logger = newLogger(Config{Level: "not-a-level"}, &buf)
	logger.Info().Msg("kept")
	assert.NotZero(t, buf.Len())
}
