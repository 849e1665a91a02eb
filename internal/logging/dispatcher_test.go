package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	return entry
}

func TestDispatcherLogger_Levels(t *testing.T) {
	tests := []struct {
		name  string
		call  func(*DispatcherLogger)
		level string
		msg   string
	}{
		{"debug", func(l *DispatcherLogger) { l.Debug("queued", "command", "segmentsAdded") }, "debug", "queued"},
		{"info", func(l *DispatcherLogger) { l.Info("handled", "command", "zoomChanged") }, "info", "handled"},
		{"error", func(l *DispatcherLogger) { l.Error("failed", "command", "actionDone") }, "error", "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			dl := NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))

			tt.call(dl)

			entry := decodeLine(t, &buf)
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, tt.msg, entry["message"])
			assert.NotEmpty(t, entry["command"])
			assert.Equal(t, "dispatcher", entry["component"])
		})
	}
}

func TestDispatcherLogger_NumericFields(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf))

	dl.Error("chunk failed", "size", 500, "attempt", 2)

	entry := decodeLine(t, &buf)
	assert.Equal(t, float64(500), entry["size"])
	assert.Equal(t, float64(2), entry["attempt"])
}

func TestDispatcherLogger_LevelFiltered(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf).Level(zerolog.InfoLevel))

	dl.Debug("hidden")
	assert.Empty(t, buf.String())
}

func TestDispatcherLogger_OddKeyValues(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDispatcherLogger(zerolog.New(&buf))

	dl.Info("odd", "key", "value", "dangling", 7, "ignored")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "value", entry["key"])
	assert.Equal(t, float64(7), entry["dangling"])
	assert.False(t, strings.Contains(buf.String(), "ignored"))
}

func TestToFields_SkipsNonStringKeys(t *testing.T) {
	fields := toFields([]any{1, "a", "b", 2})
	assert.Equal(t, map[string]any{"b": 2}, fields)
}
