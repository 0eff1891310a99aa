package main

import (
	"errors"
	"fmt"
	"os"
	"testing"

	pdfrender "github.com/alnah/go-pdfrender"
	"github.com/alnah/go-pdfrender/internal/assets"
	"github.com/alnah/go-pdfrender/internal/config"
	"github.com/alnah/go-pdfrender/internal/monitor"
	"github.com/alnah/go-pdfrender/internal/types"
)

func TestExitCodeFor(t *testing.T) {
	t.Parallel()

	browserRender := types.NewRenderError(types.ErrorUnknown, "launch", types.StageRendering,
		types.MethodNativeBrowser, true, fmt.Errorf("%w: no chrome", pdfrender.ErrBrowserConnect), nil)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"unexpected", errors.New("boom"), ExitGeneral},
		{"browser connect", fmt.Errorf("%w: refused", pdfrender.ErrBrowserConnect), ExitBrowser},
		{"browser inside render error", browserRender, ExitBrowser},
		{"screenshot", pdfrender.ErrScreenshot, ExitBrowser},
		{"render failed", &renderFailure{failed: 1, total: 2}, ExitRender},
		{"not exist", fmt.Errorf("open: %w", os.ErrNotExist), ExitIO},
		{"write output", fmt.Errorf("%w: disk full", ErrWriteOutput), ExitIO},
		{"config not found", &configNotFoundError{name: "x"}, ExitUsage},
		{"config parse", fmt.Errorf("%w: line 3", config.ErrConfigParse), ExitUsage},
		{"unknown method", fmt.Errorf("%w: %q", pdfrender.ErrUnknownMethod, "x"), ExitUsage},
		{"invalid color", pdfrender.ErrInvalidColor, ExitUsage},
		{"assets dir", assets.ErrInvalidBasePath, ExitUsage},
		{"report format", monitor.ErrUnknownFormat, ExitUsage},
		{"invalid flag", ErrInvalidFlag, ExitUsage},
		{"unsupported shell", ErrUnsupportedShell, ExitUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := exitCodeFor(tt.err); got != tt.want {
				t.Errorf("exitCodeFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
