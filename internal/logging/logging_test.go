package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New("info", "xml", &bytes.Buffer{})
	require.Error(t, err)
}

func TestJSONLoggerRedactsAndCorrelates(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("debug", "json", &buf)
	require.NoError(t, err)

	ctx := WithSessionID(context.Background(), "sess-1")
	logger.InfoContext(ctx, "unlock attempt", "password", "hunter2", "state", "locked")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "[REDACTED]", rec["password"])
	assert.Equal(t, "locked", rec["state"])
	assert.Equal(t, "sess-1", rec["session_id"])
	assert.NotContains(t, buf.String(), "hunter2")
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("warn", "text", &buf)
	require.NoError(t, err)

	logger.Info("quiet")
	assert.Zero(t, buf.Len())
	logger.With("component", "vault").Warn("loud")
	assert.Contains(t, buf.String(), "component=vault")
}
