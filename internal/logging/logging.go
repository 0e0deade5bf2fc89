// Package logging builds the slog loggers shared by the gotune binaries.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Options configures a logger.
type Options struct {
	Level  slog.Level
	Format string // "text" or "json"
	Writer io.Writer
	// Source adds file:line to every record.
	Source bool
	// OmitTime drops the time attribute, for reproducible output.
	OmitTime bool
}

// NewLogger creates a logger writing to stderr. stdout is reserved for
// program output such as tables and JSON.
func NewLogger(level slog.Level, format string) *slog.Logger {
	return New(Options{Level: level, Format: format})
}

// NewLoggerWithWriter creates a logger writing to the given writer.
func NewLoggerWithWriter(level slog.Level, format string, w io.Writer) *slog.Logger {
	return New(Options{Level: level, Format: format, Writer: w})
}

// New creates a logger from options.
func New(o Options) *slog.Logger {
	w := o.Writer
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:       o.Level,
		AddSource:   o.Source,
		ReplaceAttr: replaceAttr(o.OmitTime),
	}

	var handler slog.Handler
	switch strings.ToLower(o.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

// replaceAttr renders durations as "1.5s" in both formats and optionally
// drops the time attribute.
func replaceAttr(omitTime bool) func([]string, slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if omitTime && len(groups) == 0 && a.Key == slog.TimeKey {
			return slog.Attr{}
		}
		if a.Value.Kind() == slog.KindDuration {
			return slog.String(a.Key, a.Value.Duration().Round(time.Millisecond).String())
		}
		return a
	}
}

// ParseLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func ParseLevel(s string) slog.Level {
	l, _ := LookupLevel(s)
	return l
}

// LookupLevel is ParseLevel that also reports whether s was recognized.
func LookupLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
