// Package config holds the process-wide rendering configuration: feature
// flags per rendering method, timeouts and retry policy, memory limits,
// diagnostics and monitoring thresholds.
//
// A Config is a plain value. Components receive a *Manager at construction
// and take a Snapshot at the start of each render, so Update and Reset never
// change the settings an in-flight render is using.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alnah/go-pdfrender/internal/fileutil"
	"github.com/alnah/go-pdfrender/internal/yamlutil"
)

// Sentinel errors for config operations.
var (
	ErrConfigNotFound  = errors.New("config file not found")
	ErrEmptyConfigName = errors.New("config name cannot be empty")
	ErrConfigParse     = errors.New("failed to parse config")
)

// Rendering quality preferences.
const (
	QualityLow    = "low"
	QualityMedium = "medium"
	QualityHigh   = "high"
)

// Config holds all configuration for the rendering core.
type Config struct {
	Methods     MethodsConfig     `yaml:"methods"`
	Rendering   RenderingConfig   `yaml:"rendering"`
	Retry       RetryConfig       `yaml:"retry"`
	Memory      MemoryConfig      `yaml:"memory"`
	Progress    ProgressConfig    `yaml:"progress"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Network     NetworkConfig     `yaml:"network"`
	Endpoints   EndpointsConfig   `yaml:"endpoints"`
	Browser     BrowserConfig     `yaml:"browser"`
}

// MethodsConfig enables or disables individual rendering methods.
// The download fallback has no flag: it is always available.
type MethodsConfig struct {
	PDFJSCanvas      bool `yaml:"pdfjsCanvas"`
	NativeBrowser    bool `yaml:"nativeBrowser"`
	ServerConversion bool `yaml:"serverConversion"`
	ImageBased       bool `yaml:"imageBased"`
}

// RenderingConfig defines per-attempt timeouts and quality.
type RenderingConfig struct {
	Quality           string  `yaml:"quality"`           // "low", "medium", "high"
	TimeoutMs         int     `yaml:"timeoutMs"`         // initial per-attempt timeout
	MaxTimeoutMs      int     `yaml:"maxTimeoutMs"`      // ceiling for timeout extension and whole operations
	TimeoutMultiplier float64 `yaml:"timeoutMultiplier"` // applied per timeout-extension
	FallbackEnabled   bool    `yaml:"fallbackEnabled"`
	Scale             float64 `yaml:"scale"` // raster scale for canvas rendering (1.0 = 72 dpi)
}

// RetryConfig defines the retry ceiling and delays between attempts.
type RetryConfig struct {
	MaxAttempts   int     `yaml:"maxAttempts"` // per method
	BaseDelayMs   int     `yaml:"baseDelayMs"`
	MaxDelayMs    int     `yaml:"maxDelayMs"`
	Multiplier    float64 `yaml:"multiplier"`
	ParsingErrors bool    `yaml:"parsingErrors"` // retry parsing errors with the next method
}

// MemoryConfig defines canvas memory limits.
type MemoryConfig struct {
	PressureThresholdBytes int64   `yaml:"pressureThresholdBytes"`
	MaxCanvases            int     `yaml:"maxCanvases"`
	IdleTimeoutMs          int     `yaml:"idleTimeoutMs"`
	CleanupFraction        float64 `yaml:"cleanupFraction"` // share of oldest canvases removed when none are idle
	DefaultWidth           int     `yaml:"defaultWidth"`
	DefaultHeight          int     `yaml:"defaultHeight"`
}

// ProgressConfig defines progress reporting cadence.
type ProgressConfig struct {
	UpdateIntervalMs int `yaml:"updateIntervalMs"`
	StuckThresholdMs int `yaml:"stuckThresholdMs"`
	RetentionMs      int `yaml:"retentionMs"` // how long progress stays queryable after completion
}

// DiagnosticsConfig defines diagnostics collection and log output.
type DiagnosticsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`  // none, error, warn, info, debug, verbose
	Format  string `yaml:"format"` // text, json
}

// MonitoringConfig defines alert thresholds.
type MonitoringConfig struct {
	WindowSize             int     `yaml:"windowSize"`
	MinOperations          int     `yaml:"minOperations"` // below this count no rate-based alert fires
	ErrorRateThreshold     float64 `yaml:"errorRateThreshold"`
	SuccessRateFloor       float64 `yaml:"successRateFloor"`
	AvgRenderTimeCeilingMs int     `yaml:"avgRenderTimeCeilingMs"`
	MemoryCeilingBytes     int64   `yaml:"memoryCeilingBytes"`
	FeedbackOnFailure      bool    `yaml:"feedbackOnFailure"`
}

// NetworkConfig defines outbound fetch behavior.
type NetworkConfig struct {
	FetchRetries      int     `yaml:"fetchRetries"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
	UserAgent         string  `yaml:"userAgent"`
}

// EndpointsConfig locates the external conversion services.
type EndpointsConfig struct {
	Conversion string `yaml:"conversion"` // POST target for server-side conversion
	Images     string `yaml:"images"`     // GET target for pre-rendered page images
}

// BrowserConfig configures the headless browser used by native rendering.
type BrowserConfig struct {
	Bin       string `yaml:"bin"`
	NoSandbox bool   `yaml:"noSandbox"`
}

// Default values.
const (
	DefaultTimeoutMs              = 30_000
	DefaultMaxTimeoutMs           = 120_000
	DefaultTimeoutMultiplier      = 1.5
	DefaultScale                  = 1.5
	DefaultMaxAttempts            = 3
	DefaultBaseDelayMs            = 250
	DefaultMaxDelayMs             = 5_000
	DefaultRetryMultiplier        = 2.0
	DefaultPressureThresholdBytes = 256 << 20
	DefaultMaxCanvases            = 10
	DefaultIdleTimeoutMs          = 5 * 60 * 1000
	DefaultCleanupFraction        = 0.25
	DefaultCanvasWidth            = 816
	DefaultCanvasHeight           = 1056
	DefaultUpdateIntervalMs       = 500
	DefaultStuckThresholdMs       = 15_000
	DefaultRetentionMs            = 5_000
	DefaultWindowSize             = 1000
	DefaultMinOperations          = 5
	DefaultErrorRateThreshold     = 0.2
	DefaultSuccessRateFloor       = 0.8
	DefaultAvgRenderCeilingMs     = 15_000
	DefaultMemoryCeilingBytes     = 512 << 20
	DefaultFetchRetries           = 2
	DefaultRequestsPerSecond      = 20
	DefaultBurst                  = 5
)

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		Methods: MethodsConfig{
			PDFJSCanvas:      true,
			NativeBrowser:    true,
			ServerConversion: true,
			ImageBased:       true,
		},
		Rendering: RenderingConfig{
			Quality:           QualityHigh,
			TimeoutMs:         DefaultTimeoutMs,
			MaxTimeoutMs:      DefaultMaxTimeoutMs,
			TimeoutMultiplier: DefaultTimeoutMultiplier,
			FallbackEnabled:   true,
			Scale:             DefaultScale,
		},
		Retry: RetryConfig{
			MaxAttempts: DefaultMaxAttempts,
			BaseDelayMs: DefaultBaseDelayMs,
			MaxDelayMs:  DefaultMaxDelayMs,
			Multiplier:  DefaultRetryMultiplier,
		},
		Memory: MemoryConfig{
			PressureThresholdBytes: DefaultPressureThresholdBytes,
			MaxCanvases:            DefaultMaxCanvases,
			IdleTimeoutMs:          DefaultIdleTimeoutMs,
			CleanupFraction:        DefaultCleanupFraction,
			DefaultWidth:           DefaultCanvasWidth,
			DefaultHeight:          DefaultCanvasHeight,
		},
		Progress: ProgressConfig{
			UpdateIntervalMs: DefaultUpdateIntervalMs,
			StuckThresholdMs: DefaultStuckThresholdMs,
			RetentionMs:      DefaultRetentionMs,
		},
		Diagnostics: DiagnosticsConfig{
			Enabled: true,
			Level:   "info",
			Format:  "text",
		},
		Monitoring: MonitoringConfig{
			WindowSize:             DefaultWindowSize,
			MinOperations:          DefaultMinOperations,
			ErrorRateThreshold:     DefaultErrorRateThreshold,
			SuccessRateFloor:       DefaultSuccessRateFloor,
			AvgRenderTimeCeilingMs: DefaultAvgRenderCeilingMs,
			MemoryCeilingBytes:     DefaultMemoryCeilingBytes,
			FeedbackOnFailure:      true,
		},
		Network: NetworkConfig{
			FetchRetries:      DefaultFetchRetries,
			RequestsPerSecond: DefaultRequestsPerSecond,
			Burst:             DefaultBurst,
			UserAgent:         "go-pdfrender",
		},
	}
}

// Timeout returns the initial per-attempt timeout.
func (r RenderingConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// MaxTimeout returns the timeout ceiling.
func (r RenderingConfig) MaxTimeout() time.Duration {
	return time.Duration(r.MaxTimeoutMs) * time.Millisecond
}

// BaseDelay returns the delay before the first retry.
func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the retry delay ceiling.
func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

// IdleTimeout returns how long a canvas may stay unused before cleanup.
func (m MemoryConfig) IdleTimeout() time.Duration {
	return time.Duration(m.IdleTimeoutMs) * time.Millisecond
}

// UpdateInterval returns the progress update interval.
func (p ProgressConfig) UpdateInterval() time.Duration {
	return time.Duration(p.UpdateIntervalMs) * time.Millisecond
}

// StuckThreshold returns the duration without progress after which an operation is stuck.
func (p ProgressConfig) StuckThreshold() time.Duration {
	return time.Duration(p.StuckThresholdMs) * time.Millisecond
}

// Retention returns how long finished progress stays queryable.
func (p ProgressConfig) Retention() time.Duration {
	return time.Duration(p.RetentionMs) * time.Millisecond
}

// AvgRenderTimeCeiling returns the average render time alert threshold.
func (m MonitoringConfig) AvgRenderTimeCeiling() time.Duration {
	return time.Duration(m.AvgRenderTimeCeilingMs) * time.Millisecond
}

// LoadConfig loads configuration from a file path or config name.
// If nameOrPath contains a path separator, it's treated as a file path.
// Otherwise, it's treated as a config name and searched in standard locations.
// Values absent from the file keep their defaults; invalid values are
// clamped and reported in the returned warnings.
func LoadConfig(nameOrPath string) (*Config, []string, error) {
	if nameOrPath == "" {
		return nil, nil, ErrEmptyConfigName
	}

	configPath := nameOrPath
	if !fileutil.IsFilePath(nameOrPath) {
		var err error
		configPath, err = resolveConfigPath(nameOrPath)
		if err != nil {
			return nil, nil, err
		}
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from an explicit path.
func LoadFile(configPath string) (*Config, []string, error) {
	data, err := os.ReadFile(configPath) // #nosec G304 -- config path is user-provided
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrConfigNotFound, configPath)
		}
		return nil, nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yamlutil.UnmarshalStrict(data, cfg); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrConfigParse, err)
	}

	warnings := cfg.Normalize()
	return cfg, warnings, nil
}

// SearchPaths lists the locations tried for a config name, in order.
// Tries extensions in order: .yaml, .yml
// Tries locations in order: current directory, <user config dir>/go-pdfrender/
func SearchPaths(name string) []string {
	extensions := []string{".yaml", ".yml"}
	paths := make([]string, 0, len(extensions)*2)
	for _, ext := range extensions {
		paths = append(paths, name+ext)
	}
	if userConfigDir, err := os.UserConfigDir(); err == nil {
		for _, ext := range extensions {
			paths = append(paths, filepath.Join(userConfigDir, "go-pdfrender", name+ext))
		}
	}
	return paths
}

// resolveConfigPath searches for a config file by name in standard locations.
func resolveConfigPath(name string) (string, error) {
	tried := SearchPaths(name)
	for _, p := range tried {
		if fileutil.FileExists(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrConfigNotFound, strings.Join(tried, ", "))
}
