package main

// Notes:
// - runMain is exercised with testEnv; no test touches os.Args or os.Exit
// - render paths that reach a renderer use the browser-free test config

import (
	"strings"
	"testing"
)

func TestRunMain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		args       []string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{"no command", []string{"pdfrender"}, ExitUsage, "", "Usage: pdfrender <command>"},
		{"unknown command", []string{"pdfrender", "convert"}, ExitUsage, "", "Unknown command: convert"},
		{"version", []string{"pdfrender", "version"}, ExitSuccess, "pdfrender " + Version, ""},
		{"help", []string{"pdfrender", "help"}, ExitSuccess, "Commands:", ""},
		{"help render", []string{"pdfrender", "help", "render"}, ExitSuccess, "Usage: pdfrender render", ""},
		{"render without input", []string{"pdfrender", "render"}, ExitUsage, "", "Usage: pdfrender render"},
		{"bad flag value", []string{"pdfrender", "render", "-m", "nope", "x.pdf"}, ExitUsage, "", "unknown rendering method"},
		{"missing config", []string{"pdfrender", "analyze", "-c", "absent-config", "x.pdf"}, ExitUsage, "", "hint:"},
		{"completion", []string{"pdfrender", "completion", "fish"}, ExitSuccess, "complete -c pdfrender", ""},
		{"completion unknown shell", []string{"pdfrender", "completion", "tcsh"}, ExitUsage, "", "unsupported shell"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env, stdout, stderr := testEnv(nil)
			if got := runMain(tt.args, env); got != tt.wantCode {
				t.Errorf("runMain() = %d, want %d (stderr %q)", got, tt.wantCode, stderr.String())
			}
			if tt.wantStdout != "" && !strings.Contains(stdout.String(), tt.wantStdout) {
				t.Errorf("stdout = %q, want to contain %q", stdout.String(), tt.wantStdout)
			}
			if tt.wantStderr != "" && !strings.Contains(stderr.String(), tt.wantStderr) {
				t.Errorf("stderr = %q, want to contain %q", stderr.String(), tt.wantStderr)
			}
		})
	}
}

func TestRunMain_RenderFailureExitCode(t *testing.T) {
	t.Parallel()

	env, _, stderr := testEnv(nil)
	code := runMain([]string{
		"pdfrender", "render", "-q", "-o", t.TempDir(), "-c", writeTestConfig(t), "-t", "2s",
		"http://127.0.0.1:1/unreachable.pdf",
	}, env)

	if code != ExitRender {
		t.Errorf("runMain() = %d, want %d", code, ExitRender)
	}
	out := stderr.String()
	if !strings.Contains(out, "error: rendering failed: 1 of 1 documents") {
		t.Errorf("stderr = %q, want the failure summary", out)
	}
	if !strings.Contains(out, "hint:") {
		t.Errorf("stderr = %q, want a hint", out)
	}
}
