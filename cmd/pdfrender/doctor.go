package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
	flag "github.com/spf13/pflag"

	"github.com/alnah/go-pdfrender/internal/config"
	"github.com/alnah/go-pdfrender/internal/fileutil"
)

// envContainer forces container detection on or off ("1" or "0").
const envContainer = "PDFRENDER_CONTAINER"

// Doctor statuses.
const (
	statusReady    = "ready"
	statusWarnings = "warnings"
	statusErrors   = "errors"
)

// doctorResult holds all diagnostic information.
type doctorResult struct {
	Status    string        `json:"status"` // "ready", "warnings", "errors"
	Config    string        `json:"config,omitempty"`
	Browser   browserInfo   `json:"browser"`
	Methods   []methodInfo  `json:"methods"`
	Endpoints endpointsInfo `json:"endpoints"`
	Env       envInfo       `json:"environment"`
	System    systemInfo    `json:"system"`
	Warnings  []string      `json:"warnings,omitempty"`
	Errors    []string      `json:"errors,omitempty"`
}

// browserInfo holds Chrome/Chromium detection results.
type browserInfo struct {
	Found   bool   `json:"found"`
	Path    string `json:"path,omitempty"`
	Version string `json:"version,omitempty"`
	Sandbox bool   `json:"sandbox"`
}

// methodInfo reports whether a rendering method is enabled.
type methodInfo struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// endpointsInfo holds the configured remote endpoints.
type endpointsInfo struct {
	Conversion string `json:"conversion,omitempty"`
	Images     string `json:"images,omitempty"`
}

// envInfo holds environment detection results.
type envInfo struct {
	OS            string `json:"os"`
	Arch          string `json:"arch"`
	CPUs          int    `json:"cpus"`
	Container     bool   `json:"container"`
	ContainerHint string `json:"container_hint,omitempty"`
	CI            bool   `json:"ci"`
}

// systemInfo holds system check results.
type systemInfo struct {
	TempWritable bool `json:"temp_writable"`
}

// runDoctorCmd executes the doctor command and returns an exit code.
// Exit codes: 0 = OK (including warnings), 1 = errors found, 2 = usage.
func runDoctorCmd(args []string, env *Environment) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.SetOutput(env.Stderr)
	jsonOutput := fs.Bool("json", false, "print JSON")
	configName := fs.StringP("config", "c", "", "config file name or path")
	fs.Usage = func() { printDoctorUsage(env.Stderr) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		fmt.Fprintln(env.Stderr, err)
		return ExitUsage
	}

	result := runDoctor(*configName, env)

	if *jsonOutput {
		enc := json.NewEncoder(env.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
	} else {
		printDoctorResult(env.Stdout, result)
	}

	if result.Status == statusErrors {
		return ExitGeneral
	}
	return ExitSuccess
}

// runDoctor performs all diagnostic checks.
func runDoctor(configName string, env *Environment) *doctorResult {
	result := &doctorResult{
		Status: statusReady,
		Env: envInfo{
			OS:   runtime.GOOS,
			Arch: runtime.GOARCH,
			CPUs: runtime.GOMAXPROCS(0),
		},
	}

	cfg := config.DefaultConfig()
	s, err := loadSettings(configName, env)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
	} else {
		cfg = s.cfg
		result.Config = s.path
		result.Warnings = append(result.Warnings, s.warnings...)
	}

	checkMethods(result, cfg)
	checkBrowser(result, cfg)
	checkEnvironment(result, cfg, env)
	checkSystem(result)

	// Determine final status
	if len(result.Errors) > 0 {
		result.Status = statusErrors
	} else if len(result.Warnings) > 0 {
		result.Status = statusWarnings
	}

	return result
}

// checkMethods reports enabled methods and their missing endpoints.
func checkMethods(result *doctorResult, cfg *config.Config) {
	m := cfg.Methods
	result.Methods = []methodInfo{
		{Name: "pdfjs-canvas", Enabled: m.PDFJSCanvas},
		{Name: "native-browser", Enabled: m.NativeBrowser},
		{Name: "server-conversion", Enabled: m.ServerConversion},
		{Name: "image-based", Enabled: m.ImageBased},
		{Name: "download-fallback", Enabled: true},
	}
	result.Endpoints = endpointsInfo{
		Conversion: cfg.Endpoints.Conversion,
		Images:     cfg.Endpoints.Images,
	}

	if m.ServerConversion && cfg.Endpoints.Conversion == "" {
		result.Warnings = append(result.Warnings,
			"server-conversion enabled without an endpoint. Set "+config.EnvConversionURL)
	}
	if m.ImageBased && cfg.Endpoints.Images == "" {
		result.Warnings = append(result.Warnings,
			"image-based enabled without an endpoint. Set "+config.EnvImagesURL)
	}
}

// checkBrowser detects Chrome/Chromium. A missing browser is an error only
// when native rendering is enabled.
func checkBrowser(result *doctorResult, cfg *config.Config) {
	report := func(msg string) {
		if cfg.Methods.NativeBrowser {
			result.Errors = append(result.Errors, msg)
		} else {
			result.Warnings = append(result.Warnings, msg)
		}
	}

	path := cfg.Browser.Bin
	if path == "" {
		// Use rod's launcher to locate Chrome
		var found bool
		path, found = launcher.LookPath()
		if !found {
			report("Chrome/Chromium not found. Install Chrome or set " + config.EnvBrowserBin)
			return
		}
	}

	// Verify it exists
	if _, err := os.Stat(path); err != nil {
		report(fmt.Sprintf("Chrome not found at %s", path))
		return
	}

	result.Browser.Found = true
	result.Browser.Path = path
	result.Browser.Sandbox = !cfg.Browser.NoSandbox

	out, err := exec.Command(path, "--version").Output() // #nosec G204 -- configured browser binary
	if err == nil {
		result.Browser.Version = strings.TrimSpace(string(out))
	} else {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Could not get Chrome version: %v", err))
	}
}

// checkEnvironment detects container and CI environments.
func checkEnvironment(result *doctorResult, cfg *config.Config, env *Environment) {
	result.Env.Container, result.Env.ContainerHint = isContainer(env)

	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "CIRCLECI"} {
		if env.getenv(v) != "" {
			result.Env.CI = true
			break
		}
	}

	// Chrome's sandbox usually fails without extra privileges there
	if (result.Env.Container || result.Env.CI) && cfg.Methods.NativeBrowser && !cfg.Browser.NoSandbox {
		result.Warnings = append(result.Warnings,
			"Container/CI detected but sandbox still enabled. Set "+config.EnvNoSandbox+"=1")
	}
}

// isContainer detects if running in a container environment.
// Returns (isContainer, hint) where hint indicates which signal was detected.
func isContainer(env *Environment) (bool, string) {
	// Explicit override (highest priority)
	switch env.getenv(envContainer) {
	case "1":
		return true, envContainer + "=1"
	case "0":
		return false, ""
	}
	// Docker
	if fileutil.FileExists("/.dockerenv") {
		return true, "/.dockerenv"
	}
	// Podman / systemd-nspawn / general container indicator
	if v := env.getenv("container"); v != "" {
		return true, "container=" + v
	}
	// Kubernetes
	if env.getenv("KUBERNETES_SERVICE_HOST") != "" {
		return true, "KUBERNETES_SERVICE_HOST"
	}
	return false, ""
}

// checkSystem verifies the temp directory accepts files.
func checkSystem(result *doctorResult) {
	_, cleanup, err := fileutil.WriteTempFile("doctor", "tmp")
	if err != nil {
		result.Errors = append(result.Errors,
			fmt.Sprintf("Temp directory not writable: %s", os.TempDir()))
		return
	}
	cleanup()
	result.System.TempWritable = true
}

// printDoctorResult outputs human-readable diagnostic results.
func printDoctorResult(w io.Writer, r *doctorResult) {
	fmt.Fprintln(w, "pdfrender doctor")
	fmt.Fprintln(w)

	if r.Config != "" {
		fmt.Fprintln(w, "Config")
		fmt.Fprintf(w, "  [OK] Loaded %s\n", r.Config)
		fmt.Fprintln(w)
	}

	// Methods section
	fmt.Fprintln(w, "Methods")
	for _, m := range r.Methods {
		if m.Enabled {
			fmt.Fprintf(w, "  [OK] %s\n", m.Name)
		} else {
			fmt.Fprintf(w, "  [--] %s (disabled)\n", m.Name)
		}
	}
	fmt.Fprintln(w)

	// Browser section
	fmt.Fprintln(w, "Chrome/Chromium")
	if r.Browser.Found {
		fmt.Fprintf(w, "  [OK] Found at %s\n", r.Browser.Path)
		if r.Browser.Version != "" {
			fmt.Fprintf(w, "  [OK] Version: %s\n", r.Browser.Version)
		}
		if r.Browser.Sandbox {
			fmt.Fprintln(w, "  [OK] Sandbox: enabled")
		} else {
			fmt.Fprintf(w, "  [OK] Sandbox: disabled (%s)\n", config.EnvNoSandbox)
		}
	} else {
		fmt.Fprintln(w, "  [ERROR] Not found")
	}
	fmt.Fprintln(w)

	// Environment section
	fmt.Fprintln(w, "Environment")
	fmt.Fprintf(w, "  [OK] Platform: %s/%s (%d CPUs)\n", r.Env.OS, r.Env.Arch, r.Env.CPUs)
	if r.Env.Container {
		fmt.Fprintf(w, "  [OK] Container: detected (%s)\n", r.Env.ContainerHint)
	}
	if r.Env.CI {
		fmt.Fprintln(w, "  [OK] CI: detected")
	}
	fmt.Fprintln(w)

	// System section
	fmt.Fprintln(w, "System")
	if r.System.TempWritable {
		fmt.Fprintln(w, "  [OK] Temp directory: writable")
	} else {
		fmt.Fprintln(w, "  [ERROR] Temp directory: not writable")
	}
	fmt.Fprintln(w)

	if len(r.Warnings) > 0 {
		fmt.Fprintln(w, "Warnings:")
		for _, warn := range r.Warnings {
			fmt.Fprintf(w, "  [WARN] %s\n", warn)
		}
		fmt.Fprintln(w)
	}

	if len(r.Errors) > 0 {
		fmt.Fprintln(w, "Errors:")
		for _, err := range r.Errors {
			fmt.Fprintf(w, "  [ERROR] %s\n", err)
		}
		fmt.Fprintln(w)
	}

	// Final status
	switch r.Status {
	case statusReady:
		fmt.Fprintln(w, "Status: Ready to render")
	case statusWarnings:
		fmt.Fprintln(w, "Status: Ready with warnings")
	case statusErrors:
		fmt.Fprintln(w, "Status: Not ready (see errors above)")
	}
}
