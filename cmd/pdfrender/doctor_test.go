package main

// Notes:
// - Browser detection is pinned with PDFRENDER_BROWSER_BIN so results do
//   not depend on the machine's Chrome install
// - Container detection is pinned with PDFRENDER_CONTAINER

import (
	"encoding/json"
	"runtime"
	"strings"
	"testing"

	"github.com/alnah/go-pdfrender/internal/config"
)

func runDoctorJSON(t *testing.T, vars map[string]string, args ...string) (*doctorResult, int) {
	t.Helper()
	env, stdout, _ := testEnv(vars)
	code := runDoctorCmd(append([]string{"--json"}, args...), env)

	var result doctorResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, stdout.String())
	}
	return &result, code
}

func containsAny(list []string, sub string) bool {
	for _, s := range list {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// TestRunDoctorCmd - Checks and Status
// ---------------------------------------------------------------------------

func TestRunDoctorCmd_MissingBrowser(t *testing.T) {
	t.Parallel()

	result, code := runDoctorJSON(t, map[string]string{
		config.EnvBrowserBin: "/nonexistent/chrome",
		envContainer:         "0",
	})

	if result.Status != statusErrors || code != ExitGeneral {
		t.Errorf("status = %q, code = %d; want errors and %d", result.Status, code, ExitGeneral)
	}
	if !containsAny(result.Errors, "Chrome not found at /nonexistent/chrome") {
		t.Errorf("Errors = %v", result.Errors)
	}
	if result.Browser.Found {
		t.Error("Browser.Found = true")
	}
	if result.Env.OS != runtime.GOOS || result.Env.Arch != runtime.GOARCH {
		t.Errorf("platform = %s/%s", result.Env.OS, result.Env.Arch)
	}
	if !result.System.TempWritable {
		t.Error("TempWritable = false")
	}
}

func TestRunDoctorCmd_NativeDisabled(t *testing.T) {
	t.Parallel()

	result, code := runDoctorJSON(t, map[string]string{
		config.EnvBrowserBin:     "/nonexistent/chrome",
		config.EnvDisableMethods: "native-browser",
		envContainer:             "0",
	})

	if code != ExitSuccess || result.Status != statusWarnings {
		t.Errorf("status = %q, code = %d; want warnings and %d (errors %v)", result.Status, code, ExitSuccess, result.Errors)
	}
	if !containsAny(result.Warnings, "Chrome not found") {
		t.Errorf("Warnings = %v, want the missing browser", result.Warnings)
	}
	for _, m := range result.Methods {
		if m.Name == "native-browser" && m.Enabled {
			t.Error("native-browser reported enabled")
		}
	}
}

func TestRunDoctorCmd_Endpoints(t *testing.T) {
	t.Parallel()

	result, _ := runDoctorJSON(t, map[string]string{
		config.EnvBrowserBin:     "/nonexistent/chrome",
		config.EnvDisableMethods: "native-browser",
		config.EnvConversionURL:  "https://convert.example.com/render",
		envContainer:             "0",
	})

	if result.Endpoints.Conversion != "https://convert.example.com/render" {
		t.Errorf("Endpoints.Conversion = %q", result.Endpoints.Conversion)
	}
	if containsAny(result.Warnings, config.EnvConversionURL) {
		t.Errorf("Warnings = %v, conversion endpoint is set", result.Warnings)
	}
	if !containsAny(result.Warnings, config.EnvImagesURL) {
		t.Errorf("Warnings = %v, want the images endpoint", result.Warnings)
	}
}

func TestRunDoctorCmd_ContainerAndCI(t *testing.T) {
	t.Parallel()

	result, _ := runDoctorJSON(t, map[string]string{
		config.EnvBrowserBin: "/nonexistent/chrome",
		envContainer:         "1",
		"CI":                 "true",
	})

	if !result.Env.Container || result.Env.ContainerHint != envContainer+"=1" {
		t.Errorf("container = %v (%q)", result.Env.Container, result.Env.ContainerHint)
	}
	if !result.Env.CI {
		t.Error("CI not detected")
	}
	if !containsAny(result.Warnings, config.EnvNoSandbox) {
		t.Errorf("Warnings = %v, want the sandbox warning", result.Warnings)
	}
}

func TestRunDoctorCmd_UnknownEnvVar(t *testing.T) {
	t.Parallel()

	result, _ := runDoctorJSON(t, map[string]string{
		config.EnvBrowserBin: "/nonexistent/chrome",
		"PDFRENDER_TIMOUT":   "10s",
		envContainer:         "0",
	})
	if !containsAny(result.Warnings, "PDFRENDER_TIMOUT") {
		t.Errorf("Warnings = %v, want the unknown variable", result.Warnings)
	}
}

func TestRunDoctorCmd_MissingConfig(t *testing.T) {
	t.Parallel()

	result, code := runDoctorJSON(t, map[string]string{
		config.EnvBrowserBin:     "/nonexistent/chrome",
		config.EnvDisableMethods: "native-browser",
	}, "-c", "/nonexistent/config.yaml")
	if code != ExitGeneral || !containsAny(result.Errors, "config file not found") {
		t.Errorf("code = %d, Errors = %v", code, result.Errors)
	}
}

func TestRunDoctorCmd_HumanOutput(t *testing.T) {
	t.Parallel()

	env, stdout, _ := testEnv(map[string]string{
		config.EnvBrowserBin:     "/nonexistent/chrome",
		config.EnvDisableMethods: "native-browser",
		envContainer:             "1",
	})
	runDoctorCmd(nil, env)

	out := stdout.String()
	for _, want := range []string{
		"pdfrender doctor",
		"Methods",
		"[--] native-browser (disabled)",
		"[OK] download-fallback",
		"Chrome/Chromium",
		"[ERROR] Not found",
		"[OK] Container: detected",
		"[OK] Temp directory: writable",
		"[WARN]",
		"Status: Ready with warnings",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunDoctorCmd_BadFlag(t *testing.T) {
	t.Parallel()

	env, _, _ := testEnv(nil)
	if code := runDoctorCmd([]string{"--bogus"}, env); code != ExitUsage {
		t.Errorf("runDoctorCmd(--bogus) = %d, want %d", code, ExitUsage)
	}
}
