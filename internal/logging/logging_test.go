package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger("info", "json", &buf)
	require.NoError(t, err)

	logger.Debug("coordinator: hidden")
	logger.Info("coordinator: draw completed", zap.Int("participants", 4), zap.Duration("took", 1500*time.Millisecond))
	require.NoError(t, logger.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1, "debug is below the configured level")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "coordinator: draw completed", entry["msg"])
	assert.Equal(t, float64(4), entry["participants"])
	assert.Equal(t, "1.5s", entry["took"])
	assert.Contains(t, entry, "ts")
	assert.Contains(t, entry, "caller")
}

func TestNewLogger_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger("debug", "console", &buf)
	require.NoError(t, err)

	logger.Debug("notifier: webhook sent", zap.String("event_id", "e1"))
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.Contains(t, out, "DEBUG")
	assert.Contains(t, out, "notifier: webhook sent")
	assert.Contains(t, out, `{"event_id": "e1"}`)
}

func TestNew_RejectsUnknownSettings(t *testing.T) {
	_, err := New("loud", "json")
	assert.ErrorContains(t, err, "log level")

	_, err = New("info", "xml")
	assert.ErrorContains(t, err, `got "xml"`)
}
