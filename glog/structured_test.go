package glog

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeEntries(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var out []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e LogEntry
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		out = append(out, e)
	}
	return out
}

func TestStructuredLoggerEmitsJSONLines(t *testing.T) {
	buf := new(bytes.Buffer)
	sl := NewStructuredLogger(buf, DEBUG)

	sl.InfoStructured("session started", map[string]interface{}{
		"session_id": "abc-123",
		"victim":     "10.0.0.5:51234",
	})
	sl.WarnStructured("channel refused by target", map[string]interface{}{
		"session_id": "abc-123",
		"channel":    "rdpsnd",
	})

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "INFO", entries[0].Level)
	assert.Equal(t, "session started", entries[0].Message)
	assert.Equal(t, "abc-123", entries[0].Fields["session_id"])
	assert.Equal(t, "WARN", entries[1].Level)
	assert.Equal(t, "rdpsnd", entries[1].Fields["channel"])
}

func TestStructuredLoggerLevelFiltering(t *testing.T) {
	buf := new(bytes.Buffer)
	sl := NewStructuredLogger(buf, WARN)

	sl.DebugStructured("ignored", nil)
	sl.InfoStructured("ignored too", nil)
	sl.ErrorStructured("kept", assert.AnError, nil)

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "ERROR", entries[0].Level)
	assert.Equal(t, assert.AnError.Error(), entries[0].Fields["error"])
}

func TestStructuredLoggerNilFields(t *testing.T) {
	buf := new(bytes.Buffer)
	sl := NewStructuredLogger(buf, DEBUG)
	sl.InfoStructured("bare event", nil)

	entries := decodeEntries(t, buf)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Fields)
}

func TestGlobalStructuredLoggerSwap(t *testing.T) {
	original := GetStructuredLogger()
	defer SetStructuredLogger(original)

	buf := new(bytes.Buffer)
	replacement := NewStructuredLogger(buf, DEBUG)
	SetStructuredLogger(replacement)

	GetStructuredLogger().InfoStructured("via global", nil)
	entries := decodeEntries(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "via global", entries[0].Message)
}
