package utils

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("WARN", &buf)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var entry LogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, WarnLevel, entry.Level)
	assert.Equal(t, "warn message", entry.Message)
}

func TestLoggerFormatsAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("debug", &buf)

	logger.Info("处理完成: %d 张图片", 3)
	logger.WithTag("camera").Debug("切换设备", map[string]interface{}{"device": "cam-1"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first, second LogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))

	assert.Equal(t, "处理完成: 3 张图片", first.Message)
	assert.Nil(t, first.Fields)
	assert.Equal(t, "camera", second.Tag)
	assert.Equal(t, map[string]interface{}{"device": "cam-1"}, second.Fields)
}

func TestParseLevelFallback(t *testing.T) {
	assert.Equal(t, InfoLevel, parseLevel(""))
	assert.Equal(t, InfoLevel, parseLevel("verbose"))
	assert.Equal(t, DebugLevel, parseLevel("DEBUG"))
}
