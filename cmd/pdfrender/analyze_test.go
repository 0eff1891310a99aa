package main

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/alnah/go-pdfrender/internal/types"
)

func TestRunAnalyze_JSON(t *testing.T) {
	t.Parallel()

	srv := servePDF(t, "one", "two")
	env, stdout, _ := testEnv(nil)

	if err := runAnalyze(context.Background(), []string{"--json", "-q", "-c", writeTestConfig(t), srv.URL + "/doc.pdf"}, env); err != nil {
		t.Fatalf("runAnalyze() error = %v", err)
	}

	var a analysis
	if err := json.Unmarshal(stdout.Bytes(), &a); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, stdout.String())
	}
	if a.Characteristics.Type != types.DocSmall {
		t.Errorf("Type = %s, want small", a.Characteristics.Type)
	}
	if !a.Characteristics.HeaderValid {
		t.Error("HeaderValid = false")
	}
	if a.Profile.DocumentType != types.DocSmall || a.Profile.Timeout <= 0 {
		t.Errorf("Profile = %+v", a.Profile)
	}
}

func TestRunAnalyze_Text(t *testing.T) {
	t.Parallel()

	srv := servePDF(t, "page")
	env, stdout, _ := testEnv(nil)

	args := []string{"-q", "-c", writeTestConfig(t), srv.URL + "/a.pdf", srv.URL + "/b.pdf"}
	if err := runAnalyze(context.Background(), args, env); err != nil {
		t.Fatalf("runAnalyze() error = %v", err)
	}
	out := stdout.String()
	for _, want := range []string{srv.URL + "/a.pdf", srv.URL + "/b.pdf", "type:", "small-pdf", "profile:", "valid header:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunAnalyze_NoInput(t *testing.T) {
	t.Parallel()

	env, _, _ := testEnv(nil)
	if err := runAnalyze(context.Background(), nil, env); !errors.Is(err, ErrNoInput) {
		t.Errorf("runAnalyze() error = %v, want ErrNoInput", err)
	}
}

func TestFormatBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 << 20, "5.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
