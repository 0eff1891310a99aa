// Package logging builds slog loggers from the diagnostic level names used in
// configuration (none, error, warn, info, debug, verbose).
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LevelVerbose sits below slog.LevelDebug for per-page and per-request tracing.
const LevelVerbose = slog.Level(-8)

// Levels lists the accepted diagnostic level names, quietest first.
var Levels = []string{"none", "error", "warn", "info", "debug", "verbose"}

// Formats lists the accepted output formats.
var Formats = []string{"text", "json"}

// ParseLevel maps a diagnostic level name to a slog level.
// The boolean is false for "none", which disables output entirely.
func ParseLevel(name string) (slog.Level, bool, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "off":
		return slog.LevelError, false, nil
	case "error":
		return slog.LevelError, true, nil
	case "warn", "warning":
		return slog.LevelWarn, true, nil
	case "", "info":
		return slog.LevelInfo, true, nil
	case "debug":
		return slog.LevelDebug, true, nil
	case "verbose", "trace":
		return LevelVerbose, true, nil
	}
	return slog.LevelInfo, true, fmt.Errorf("unknown diagnostic level %q", name)
}

// New returns a logger writing to w at the given diagnostic level.
// format is "json" or "text"; unknown levels fall back to info.
func New(w io.Writer, level, format string) *slog.Logger {
	lvl, enabled, _ := ParseLevel(level)
	if !enabled || w == nil {
		return Discard()
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}
