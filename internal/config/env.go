package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is the prefix shared by every recognized environment variable.
const EnvPrefix = "PDFRENDER_"

// Recognized environment variables.
const (
	EnvConfig           = "PDFRENDER_CONFIG"
	EnvTimeout          = "PDFRENDER_TIMEOUT"
	EnvMaxTimeout       = "PDFRENDER_MAX_TIMEOUT"
	EnvQuality          = "PDFRENDER_QUALITY"
	EnvMaxAttempts      = "PDFRENDER_MAX_ATTEMPTS"
	EnvFallback         = "PDFRENDER_FALLBACK"
	EnvDisableMethods   = "PDFRENDER_DISABLE_METHODS"
	EnvLogLevel         = "PDFRENDER_LOG_LEVEL"
	EnvLogFormat        = "PDFRENDER_LOG_FORMAT"
	EnvDiagnostics      = "PDFRENDER_DIAGNOSTICS"
	EnvConversionURL    = "PDFRENDER_CONVERSION_URL"
	EnvImagesURL        = "PDFRENDER_IMAGES_URL"
	EnvBrowserBin       = "PDFRENDER_BROWSER_BIN"
	EnvNoSandbox        = "PDFRENDER_BROWSER_NO_SANDBOX"
	EnvMaxCanvases      = "PDFRENDER_MAX_CANVASES"
	EnvMemoryThreshold  = "PDFRENDER_MEMORY_THRESHOLD"
	EnvProgressInterval = "PDFRENDER_PROGRESS_INTERVAL"
	EnvRetryParseError  = "PDFRENDER_RETRY_PARSING_ERRORS"
)

// knownEnvVars lists valid PDFRENDER_* environment variables.
// Used to detect typos and warn users about unknown variables.
var knownEnvVars = map[string]bool{
	EnvConfig:           true,
	EnvTimeout:          true,
	EnvMaxTimeout:       true,
	EnvQuality:          true,
	EnvMaxAttempts:      true,
	EnvFallback:         true,
	EnvDisableMethods:   true,
	EnvLogLevel:         true,
	EnvLogFormat:        true,
	EnvDiagnostics:      true,
	EnvConversionURL:    true,
	EnvImagesURL:        true,
	EnvBrowserBin:       true,
	EnvNoSandbox:        true,
	EnvMaxCanvases:      true,
	EnvMemoryThreshold:  true,
	EnvProgressInterval: true,
	EnvRetryParseError:  true,
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays recognized environment variables onto cfg.
// Unparseable values are skipped and reported as warnings; the file or
// default value stays in place.
func ApplyEnv(cfg *Config, lookup LookupFunc) []string {
	var warnings []string
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	bad := func(key, value string, err error) {
		warnings = append(warnings, fmt.Sprintf("ignoring %s=%q: %v", key, value, err))
	}

	if v, ok := get(EnvTimeout); ok {
		if d, err := parsePositiveDuration(v); err != nil {
			bad(EnvTimeout, v, err)
		} else {
			cfg.Rendering.TimeoutMs = int(d.Milliseconds())
		}
	}
	if v, ok := get(EnvMaxTimeout); ok {
		if d, err := parsePositiveDuration(v); err != nil {
			bad(EnvMaxTimeout, v, err)
		} else {
			cfg.Rendering.MaxTimeoutMs = int(d.Milliseconds())
		}
	}
	if v, ok := get(EnvQuality); ok {
		cfg.Rendering.Quality = strings.ToLower(v)
	}
	if v, ok := get(EnvMaxAttempts); ok {
		if n, err := strconv.Atoi(v); err != nil {
			bad(EnvMaxAttempts, v, err)
		} else {
			cfg.Retry.MaxAttempts = n
		}
	}
	if v, ok := get(EnvFallback); ok {
		if b, err := strconv.ParseBool(v); err != nil {
			bad(EnvFallback, v, err)
		} else {
			cfg.Rendering.FallbackEnabled = b
		}
	}
	if v, ok := get(EnvDisableMethods); ok {
		for _, name := range strings.Split(v, ",") {
			if err := cfg.Methods.disable(strings.TrimSpace(name)); err != nil {
				bad(EnvDisableMethods, v, err)
			}
		}
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Diagnostics.Level = v
	}
	if v, ok := get(EnvLogFormat); ok {
		cfg.Diagnostics.Format = strings.ToLower(v)
	}
	if v, ok := get(EnvDiagnostics); ok {
		if b, err := strconv.ParseBool(v); err != nil {
			bad(EnvDiagnostics, v, err)
		} else {
			cfg.Diagnostics.Enabled = b
		}
	}
	if v, ok := get(EnvConversionURL); ok {
		cfg.Endpoints.Conversion = v
	}
	if v, ok := get(EnvImagesURL); ok {
		cfg.Endpoints.Images = v
	}
	if v, ok := get(EnvBrowserBin); ok {
		cfg.Browser.Bin = v
	}
	if v, ok := get(EnvNoSandbox); ok {
		if b, err := strconv.ParseBool(v); err != nil {
			bad(EnvNoSandbox, v, err)
		} else {
			cfg.Browser.NoSandbox = b
		}
	}
	if v, ok := get(EnvMaxCanvases); ok {
		if n, err := strconv.Atoi(v); err != nil {
			bad(EnvMaxCanvases, v, err)
		} else {
			cfg.Memory.MaxCanvases = n
		}
	}
	if v, ok := get(EnvMemoryThreshold); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err != nil {
			bad(EnvMemoryThreshold, v, err)
		} else {
			cfg.Memory.PressureThresholdBytes = n
		}
	}
	if v, ok := get(EnvProgressInterval); ok {
		if d, err := parsePositiveDuration(v); err != nil {
			bad(EnvProgressInterval, v, err)
		} else {
			cfg.Progress.UpdateIntervalMs = int(d.Milliseconds())
		}
	}
	if v, ok := get(EnvRetryParseError); ok {
		if b, err := strconv.ParseBool(v); err != nil {
			bad(EnvRetryParseError, v, err)
		} else {
			cfg.Retry.ParsingErrors = b
		}
	}

	return warnings
}

// UnknownEnvVars returns the PDFRENDER_* names in environ that are not
// recognized. environ has the os.Environ "KEY=value" form.
func UnknownEnvVars(environ []string) []string {
	var unknown []string
	for _, env := range environ {
		if !strings.HasPrefix(env, EnvPrefix) {
			continue
		}
		name, _, _ := strings.Cut(env, "=")
		if !knownEnvVars[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// parsePositiveDuration accepts Go durations ("45s") or bare milliseconds ("45000").
func parsePositiveDuration(s string) (time.Duration, error) {
	if ms, err := strconv.Atoi(s); err == nil {
		if ms <= 0 {
			return 0, fmt.Errorf("must be positive")
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return d, nil
}

// disable turns off the named method. Names match the method wire strings.
func (m *MethodsConfig) disable(name string) error {
	switch strings.ToLower(name) {
	case "":
	case "pdfjs-canvas":
		m.PDFJSCanvas = false
	case "native-browser":
		m.NativeBrowser = false
	case "server-conversion":
		m.ServerConversion = false
	case "image-based":
		m.ImageBased = false
	default:
		return fmt.Errorf("unknown method %q", name)
	}
	return nil
}
