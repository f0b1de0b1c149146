package logger

import (
	"bytes"
	"context"
	log "log/slog"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m))
		out = append(out, m)
	}
	return out
}

func TestRemoteFilterHandler(t *testing.T) {
	var buf bytes.Buffer
	remote := NewRemoteFilterHandler(log.NewJSONHandler(&buf, nil), log.LevelWarn)
	l := log.New(&ContextHandler{remote})

	ctx := WithTrace(context.Background(), "req-1")
	l.InfoContext(context.Background(), "background tick")
	l.InfoContext(ctx, "request handled")
	l.WarnContext(context.Background(), "relay reconnect")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "request handled", lines[0]["msg"])
	assert.Equal(t, "req-1", lines[0][TraceIDKey])
	assert.Equal(t, "relay reconnect", lines[1]["msg"])
	assert.Nil(t, lines[1][TraceIDKey])
}

func TestRemoteFilterHandler_WithAttrsKeepsLevel(t *testing.T) {
	var buf bytes.Buffer
	remote := NewRemoteFilterHandler(log.NewJSONHandler(&buf, nil), log.LevelError)
	l := log.New(remote).With("component", "hub")

	l.Warn("dropped")
	l.Error("kept")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "kept", lines[0]["msg"])
	assert.Equal(t, "hub", lines[0]["component"])
}
