package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		wantLevel   slog.Level
		wantEnabled bool
		wantErr     bool
	}{
		{"none", slog.LevelError, false, false},
		{"error", slog.LevelError, true, false},
		{"WARN", slog.LevelWarn, true, false},
		{"info", slog.LevelInfo, true, false},
		{"", slog.LevelInfo, true, false},
		{"debug", slog.LevelDebug, true, false},
		{"verbose", LevelVerbose, true, false},
		{"loud", slog.LevelInfo, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			lvl, enabled, err := ParseLevel(tt.name)
			if lvl != tt.wantLevel || enabled != tt.wantEnabled || (err != nil) != tt.wantErr {
				t.Errorf("ParseLevel(%q) = %v, %v, %v", tt.name, lvl, enabled, err)
			}
		})
	}
}

func TestNew_JSONAndNone(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	New(&buf, "info", "json").Info("hello", "k", 1)
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("json output = %q", buf.String())
	}

	buf.Reset()
	New(&buf, "none", "json").Error("hidden")
	if buf.Len() != 0 {
		t.Errorf("none level should discard, got %q", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()

	l := OrDiscard(nil)
	if l.Enabled(context.Background(), slog.LevelError) {
		t.Error("discard logger should not be enabled")
	}
}
