package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		out = append(out, entry)
	}
	return out
}

func TestNewParsesLevel(t *testing.T) {
	log, err := New("arch-mgr", "DEBUG")
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("arch-mgr", "chatty")
	assert.ErrorContains(t, err, `"chatty"`)
}

func TestEntriesAreTaggedWithApp(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger("arch-mgr", "info", zapcore.AddSync(&buf))
	require.NoError(t, err)

	log.Debug("suppressed")
	log.Info(">> transition START")
	require.NoError(t, log.Sync())

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "arch-mgr", entries[0]["app"])
	assert.Equal(t, "info", entries[0]["level"])
	assert.Equal(t, ">> transition START", entries[0]["msg"])
	assert.Contains(t, entries[0], "ts")
}

func TestWithTrailAddsStreamFields(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger("arch-mgr", "info", zapcore.AddSync(&buf))
	require.NoError(t, err)

	WithTrail(log, "archive-logs", "2024/03/05T07/08/09/arch-mgr/run-1").Info("copied")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive-logs", entries[0]["log_group"])
	assert.Equal(t, "2024/03/05T07/08/09/arch-mgr/run-1", entries[0]["log_stream"])
	assert.Equal(t, "arch-mgr", entries[0]["app"])
}
