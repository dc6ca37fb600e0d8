package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/sensorgw/internal/infrastructure/config"
)

// serviceName is attached to every local log entry.
const serviceName = "sensorgw"

// Logger is the gateway's structured logger. It is safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a Logger writing to cfg.Output ("stdout" or "stderr").
//
// Entries carry the service name and version. cfg.Format selects JSON
// (default) or text, and cfg.Level filters local output. When sinks are
// given, each record at or above cfg.RemoteLevel (cfg.Level when empty) is
// also rendered as one logfmt line without a timestamp and passed to every
// sink in order.
func New(cfg config.LoggingConfig, version string, sinks ...Sink) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	return newLogger(output, cfg, version, sinks)
}

func newLogger(output io.Writer, cfg config.LoggingConfig, version string, sinks []Sink) *Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})

	if len(sinks) > 0 {
		remote := cfg.RemoteLevel
		if remote == "" {
			remote = cfg.Level
		}
		handler = &fanoutHandler{handlers: []slog.Handler{
			handler,
			newSinkHandler(parseLevel(remote), sinks),
		}}
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// parseLevel maps a configured level name to slog.Level. Unknown names
// mean info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a child Logger that adds args to every entry, including the
// lines passed to sinks.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Default returns an info-level JSON logger on stdout for use until the
// configuration has been loaded.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
