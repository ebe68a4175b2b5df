package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":      slog.LevelDebug,
		"dev":        slog.LevelDebug,
		"info":       slog.LevelInfo,
		"warning":    slog.LevelWarn,
		"production": slog.LevelError,
		"":           slog.LevelError,
		"nonsense":   slog.LevelError,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, ParseLevel(in))
		})
	}
}

func TestFailureCarriesOpAndParticipant(t *testing.T) {
	var buf bytes.Buffer
	l := Component(slog.New(slog.NewTextHandler(&buf, nil)), "relay")

	Failure(l, "send", "alice", errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "component=relay")
	assert.Contains(t, out, "op=send")
	assert.Contains(t, out, "participant=alice")
	assert.Contains(t, out, "err=boom")
}

func TestEnvInt(t *testing.T) {
	t.Setenv("LOG_MAX_BACKUPS", "9")
	t.Setenv("LOG_MAX_AGE_DAYS", "-1")

	assert.Equal(t, 9, envInt("LOG_MAX_BACKUPS", 3))
	assert.Equal(t, 7, envInt("LOG_MAX_AGE_DAYS", 7))
	assert.Equal(t, 10, envInt("LOG_MAX_SIZE_MB", 10))
}
