package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alnah/go-pdfrender/internal/config"
	"github.com/alnah/go-pdfrender/internal/fileutil"
	"github.com/alnah/go-pdfrender/internal/hints"
)

// settings is the configuration resolved for one command invocation.
type settings struct {
	cfg      *config.Config
	path     string // resolved config file; empty when running on defaults
	warnings []string
}

// configNotFoundError keeps the searched locations for the hint.
type configNotFoundError struct {
	name  string
	tried []string
}

func (e *configNotFoundError) Error() string {
	return fmt.Sprintf("%v: %s (tried %s)", config.ErrConfigNotFound, e.name, strings.Join(e.tried, ", "))
}

func (e *configNotFoundError) Unwrap() error { return config.ErrConfigNotFound }

// Hint suggests where to put the file.
func (e *configNotFoundError) Hint() string { return hints.ForConfigNotFound(e.tried) }

// cliEnvVars are PDFRENDER_* variables read by the CLI itself.
var cliEnvVars = map[string]bool{
	envContainer: true,
}

// loadSettings resolves the config file (--config, then PDFRENDER_CONFIG),
// overlays PDFRENDER_* variables, and reports unknown ones as warnings.
// Precedence: CLI flags > env vars > config file > defaults.
// CLI flags are applied later by the caller.
func loadSettings(flagConfig string, env *Environment) (*settings, error) {
	s := &settings{cfg: config.DefaultConfig()}

	name := flagConfig
	if name == "" {
		name = env.getenv(config.EnvConfig)
	}
	if name != "" {
		path, err := resolveConfigFile(name)
		if err != nil {
			return nil, err
		}
		cfg, warnings, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		s.cfg, s.path = cfg, path
		s.warnings = append(s.warnings, warnings...)
	}

	if env.LookupEnv != nil {
		s.warnings = append(s.warnings, config.ApplyEnv(s.cfg, env.LookupEnv)...)
	}
	if env.Environ != nil {
		for _, v := range config.UnknownEnvVars(env.Environ()) {
			if cliEnvVars[v] {
				continue
			}
			s.warnings = append(s.warnings, fmt.Sprintf("unknown environment variable %s (typo?)", v))
		}
	}
	return s, nil
}

// resolveConfigFile maps a config name or path to an existing file.
func resolveConfigFile(name string) (string, error) {
	if fileutil.IsFilePath(name) {
		if !fileutil.FileExists(name) {
			return "", &configNotFoundError{name: name, tried: []string{name}}
		}
		return name, nil
	}
	tried := config.SearchPaths(name)
	for _, p := range tried {
		if fileutil.FileExists(p) {
			return p, nil
		}
	}
	return "", &configNotFoundError{name: name, tried: tried}
}

// hinter is implemented by errors carrying their own hint.
type hinter interface {
	Hint() string
}

// hintFor returns an actionable hint for err, or "".
func hintFor(err error) string {
	var h hinter
	if errors.As(err, &h) {
		return h.Hint()
	}
	switch exitCodeFor(err) {
	case ExitBrowser:
		return hints.ForBrowserConnect()
	case ExitIO:
		if errors.Is(err, ErrWriteOutput) {
			return hints.ForOutputDirectory()
		}
	}
	return ""
}
