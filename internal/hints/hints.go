// Package hints provides actionable error hints for common failure scenarios.
// Hints are formatted consistently as "\n  hint: <text>" for appending to error messages.
package hints

import (
	"os"
	"strings"

	"github.com/alnah/go-pdfrender/internal/config"
	"github.com/alnah/go-pdfrender/internal/fileutil"
	"github.com/alnah/go-pdfrender/internal/types"
)

// IsInContainer detects if running inside a Docker container or similar.
// Checks for /.dockerenv file which Docker creates automatically.
var IsInContainer = func() bool {
	return fileutil.FileExists("/.dockerenv")
}

// ForBrowserConnect returns hints for browser connection errors.
// Detects CI/Docker environment and suggests relevant environment variables.
func ForBrowserConnect() string {
	var hints []string

	inCI := os.Getenv("CI") != "" ||
		os.Getenv("GITHUB_ACTIONS") != "" ||
		os.Getenv("GITLAB_CI") != "" ||
		os.Getenv("JENKINS_URL") != ""

	if (inCI || IsInContainer()) && os.Getenv(config.EnvNoSandbox) == "" {
		hints = append(hints, "set "+config.EnvNoSandbox+"=1 for Docker/CI")
	}

	if os.Getenv(config.EnvBrowserBin) == "" {
		hints = append(hints, "set "+config.EnvBrowserBin+" to use custom Chrome")
	}

	return formatHints(hints)
}

// ForTimeout returns a hint about increasing timeout for slow operations.
func ForTimeout() string {
	return format("for large documents, use --timeout flag")
}

// ForConfigNotFound returns hints for config file not found errors.
// Suggests --config flag and creating a config in the user config directory.
func ForConfigNotFound(searchedPaths []string) string {
	hint := "use --config /path/to/file.yaml"

	for _, p := range searchedPaths {
		if strings.Contains(p, "go-pdfrender") {
			hint += " or create " + p
			break
		}
	}

	return format(hint)
}

// ForOutputDirectory returns hints for output directory creation errors.
func ForOutputDirectory() string {
	return format("check parent directory exists and is writable")
}

// ForRenderError returns a hint matching the failure category of a
// rendering error. Categories without an actionable hint return "".
func ForRenderError(t types.ErrorType) string {
	switch t {
	case types.ErrorNetwork:
		return format("check the URL is reachable; signed URLs may have expired")
	case types.ErrorTimeout:
		return ForTimeout()
	case types.ErrorAuthentication:
		return format("password-protected documents need --password")
	case types.ErrorMemory, types.ErrorCanvas:
		return format("lower --scale or raise " + config.EnvMaxCanvases)
	case types.ErrorCorruption:
		return format("the file is not a valid PDF; try --method download-fallback")
	default:
		return ""
	}
}

// format creates a single hint string with consistent formatting.
func format(hint string) string {
	if hint == "" {
		return ""
	}
	return "\n  hint: " + hint
}

// formatHints joins multiple hints with consistent formatting.
func formatHints(hints []string) string {
	if len(hints) == 0 {
		return ""
	}
	return format(strings.Join(hints, "; "))
}
