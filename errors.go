package pdfrender

import (
	"errors"

	"github.com/alnah/go-pdfrender/internal/canvas"
	"github.com/alnah/go-pdfrender/internal/doctype"
	"github.com/alnah/go-pdfrender/internal/types"
)

// Sentinel errors for library operations.
var (
	ErrRendererClosed   = errors.New("renderer is closed")
	ErrEmptyURL         = errors.New("document url cannot be empty")
	ErrMethodDisabled   = errors.New("rendering method disabled")
	ErrEndpointMissing  = errors.New("endpoint not configured")
	ErrNoPages          = errors.New("no pages rendered")
	ErrCorruptDocument  = errors.New("document is corrupted")
	ErrMemoryPressure   = errors.New("canvas memory pressure")
	ErrInvalidImage     = errors.New("invalid page image")
	ErrAttemptsExceeded = errors.New("retry attempts exhausted")

	// Browser errors.
	ErrBrowserConnect = errors.New("failed to connect to browser")
	ErrPageCreate     = errors.New("failed to create browser page")
	ErrPageLoad       = errors.New("failed to load page")
	ErrScreenshot     = errors.New("failed to capture page")

	// Re-exported from internal packages.
	ErrUnknownMethod     = types.ErrUnknownMethod
	ErrPasswordRequired  = doctype.ErrPasswordRequired
	ErrPasswordInvalid   = doctype.ErrPasswordInvalid
	ErrCanvasUnavailable = canvas.ErrContextUnavailable
	ErrCanvasTooLarge    = canvas.ErrCanvasTooLarge
	ErrInvalidColor      = canvas.ErrInvalidColor
)
