package main

import (
	"errors"
	"os"

	pdfrender "github.com/alnah/go-pdfrender"
	"github.com/alnah/go-pdfrender/internal/assets"
	"github.com/alnah/go-pdfrender/internal/config"
	"github.com/alnah/go-pdfrender/internal/fileutil"
	"github.com/alnah/go-pdfrender/internal/monitor"
)

// Exit codes for the pdfrender CLI.
// Follows Unix conventions: 0=success, 1=general, 2=usage, and custom codes < 126.
const (
	ExitSuccess = 0 // Every document rendered
	ExitGeneral = 1 // General/unexpected error
	ExitUsage   = 2 // Invalid flags, config, or validation
	ExitIO      = 3 // File not found, permission denied, output not writable
	ExitBrowser = 4 // Browser/Chrome errors
	ExitRender  = 5 // At least one document failed to render
)

// exitCodeFor returns the appropriate exit code for an error.
// It uses errors.Is to check wrapped errors, so callers must use fmt.Errorf("%w", err).
func exitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	// Browser errors (exit 4)
	if errors.Is(err, pdfrender.ErrBrowserConnect) ||
		errors.Is(err, pdfrender.ErrPageCreate) ||
		errors.Is(err, pdfrender.ErrPageLoad) ||
		errors.Is(err, pdfrender.ErrScreenshot) {
		return ExitBrowser
	}

	// Render failures (exit 5)
	if errors.Is(err, ErrRenderFailed) {
		return ExitRender
	}

	// I/O errors (exit 3)
	if errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, os.ErrPermission) ||
		errors.Is(err, ErrWriteOutput) ||
		errors.Is(err, ErrNoInput) {
		return ExitIO
	}

	// Usage/config/validation errors (exit 2)
	if errors.Is(err, config.ErrConfigNotFound) ||
		errors.Is(err, config.ErrConfigParse) ||
		errors.Is(err, config.ErrEmptyConfigName) ||
		errors.Is(err, pdfrender.ErrUnknownMethod) ||
		errors.Is(err, pdfrender.ErrInvalidColor) ||
		errors.Is(err, assets.ErrInvalidBasePath) ||
		errors.Is(err, monitor.ErrUnknownFormat) ||
		errors.Is(err, fileutil.ErrEmptyPath) ||
		errors.Is(err, ErrInvalidFlag) ||
		errors.Is(err, ErrUnsupportedShell) {
		return ExitUsage
	}

	return ExitGeneral
}
