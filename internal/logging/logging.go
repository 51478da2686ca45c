// Package logging configures the process-wide log/slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// DebugEnvVar enables debug logging when set to "1".
const DebugEnvVar = "WIFIMON_DEBUG"

// Level represents the logging verbosity level.
type Level int

const (
	// LevelInfo is the default logging level for normal operation.
	LevelInfo Level = iota
	// LevelDebug enables verbose debug output, including every computed sample.
	LevelDebug
)

// Format selects the slog handler.
type Format int

const (
	// FormatText writes human-readable key=value lines (CLI, tray).
	FormatText Format = iota
	// FormatJSON writes one JSON object per record (helper daemon under journald).
	FormatJSON
)

func (l Level) slogLevel() slog.Level {
	if l == LevelDebug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// NewLogger builds a logger writing to w.
func NewLogger(w io.Writer, level Level, format Format) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level.slogLevel()}

	var handler slog.Handler
	switch format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Setup initializes the global slog logger on stderr with the specified level.
// Call this once at application startup.
func Setup(level Level, format Format) {
	slog.SetDefault(NewLogger(os.Stderr, level, format))
}

// LevelFromEnv returns LevelDebug when WIFIMON_DEBUG=1.
func LevelFromEnv() Level {
	if os.Getenv(DebugEnvVar) == "1" {
		return LevelDebug
	}
	return LevelInfo
}

// SetupFromEnv initializes a text logger based on environment variables.
func SetupFromEnv() {
	Setup(LevelFromEnv(), FormatText)
}
