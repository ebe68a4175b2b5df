package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/natefinch/lumberjack"
)

// Init installs the process-wide default logger.
// LOG_LEVEL picks the level; LOG_FILE redirects output to a rotated file,
// which is how the call TUI keeps logs off the terminal.
func Init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(output(), &slog.HandlerOptions{
		Level: ParseLevel(os.Getenv("LOG_LEVEL")),
	})))
}

// ParseLevel maps LOG_LEVEL values to slog levels. Unknown values mean error.
func ParseLevel(l string) slog.Level {
	switch l {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func output() io.Writer {
	file := os.Getenv("LOG_FILE")
	if file == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   file,
		MaxSize:    envInt("LOG_MAX_SIZE_MB", 10),
		MaxBackups: envInt("LOG_MAX_BACKUPS", 3),
		MaxAge:     envInt("LOG_MAX_AGE_DAYS", 7),
		LocalTime:  true,
	}
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return def
}

// Component derives a logger tagged with the component name.
func Component(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", name)
}

// Failure logs err with the operation and participant it concerns.
func Failure(l *slog.Logger, op, participant string, err error) {
	l.Error("operation failed", "op", op, "participant", participant, "err", err)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
