package pdfrender

import (
	"fmt"
	"strings"
	"time"

	"github.com/alnah/go-pdfrender/internal/canvas"
	"github.com/alnah/go-pdfrender/internal/diagnostics"
	"github.com/alnah/go-pdfrender/internal/doctype"
	"github.com/alnah/go-pdfrender/internal/types"
)

// Closed enums shared with the internal packages.
type (
	Method          = types.Method
	Stage           = types.Stage
	ErrorType       = types.ErrorType
	DocumentType    = types.DocumentType
	RenderError     = types.RenderError
	ProgressState   = types.ProgressState
	Watermark       = canvas.Watermark
	Characteristics = doctype.Characteristics
	Profile         = doctype.Profile
	Diagnostics     = diagnostics.Data
)

// Rendering methods in fallback order.
const (
	MethodNone             = types.MethodNone
	MethodPDFJSCanvas      = types.MethodPDFJSCanvas
	MethodNativeBrowser    = types.MethodNativeBrowser
	MethodServerConversion = types.MethodServerConversion
	MethodImageBased       = types.MethodImageBased
	MethodDownloadFallback = types.MethodDownloadFallback
)

// Error types.
const (
	ErrorUnknown        = types.ErrorUnknown
	ErrorNetwork        = types.ErrorNetwork
	ErrorParsing        = types.ErrorParsing
	ErrorCanvas         = types.ErrorCanvas
	ErrorMemory         = types.ErrorMemory
	ErrorTimeout        = types.ErrorTimeout
	ErrorAuthentication = types.ErrorAuthentication
	ErrorCorruption     = types.ErrorCorruption
)

// Stages.
const (
	StageInitializing = types.StageInitializing
	StageFetching     = types.StageFetching
	StageParsing      = types.StageParsing
	StageRendering    = types.StageRendering
	StageFinalizing   = types.StageFinalizing
	StageComplete     = types.StageComplete
	StageError        = types.StageError
)

// Memory management strategies accepted in TypeSpecific.
const (
	MemoryConservative = doctype.MemoryConservative
	MemoryStandard     = doctype.MemoryStandard
	MemoryAggressive   = doctype.MemoryAggressive
)

// TypeSpecific overrides the profile derived from document analysis.
// Zero values keep the analyzed profile.
type TypeSpecific struct {
	DocumentType       *DocumentType `json:"documentType,omitempty"`
	EnableStreaming    *bool         `json:"enableStreaming,omitempty"`
	MemoryManagement   string        `json:"memoryManagement,omitempty"`
	MaxConcurrentPages int           `json:"maxConcurrentPages,omitempty"`
}

// PageFunc receives each page as soon as it is rendered when streaming is
// enabled. It is called from rendering goroutines, one page at a time.
type PageFunc func(Page)

// RenderOptions configures one render. A nil *RenderOptions uses defaults.
type RenderOptions struct {
	Watermark          *Watermark    `json:"watermark,omitempty"`
	Timeout            time.Duration `json:"timeout,omitempty"` // bounds the whole operation; 0 uses the configured ceiling
	PreferredMethod    Method        `json:"preferredMethod,omitempty"`
	FallbackEnabled    *bool         `json:"fallbackEnabled,omitempty"`
	DiagnosticsEnabled *bool         `json:"diagnosticsEnabled,omitempty"`
	PDFPassword        string        `json:"-"`
	TypeSpecific       TypeSpecific  `json:"typeSpecific"`
	OnPage             PageFunc      `json:"-"`
}

// Validate checks the watermark, the preferred method and the memory strategy.
// Returns nil if o is nil.
func (o *RenderOptions) Validate() error {
	if o == nil {
		return nil
	}
	if o.Timeout < 0 {
		return fmt.Errorf("timeout must be positive, got %s", o.Timeout)
	}
	if o.PreferredMethod != MethodNone && !o.PreferredMethod.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownMethod, o.PreferredMethod)
	}
	if err := o.Watermark.Validate(); err != nil {
		return err
	}
	switch strings.ToLower(o.TypeSpecific.MemoryManagement) {
	case "", MemoryConservative, MemoryStandard, MemoryAggressive:
	default:
		return fmt.Errorf("invalid memory management %q", o.TypeSpecific.MemoryManagement)
	}
	if o.TypeSpecific.MaxConcurrentPages < 0 {
		return fmt.Errorf("maxConcurrentPages must be positive, got %d", o.TypeSpecific.MaxConcurrentPages)
	}
	return nil
}

// clone returns a copy safe to mutate. The watermark and the pointer
// fields are copied; OnPage is shared.
func (o *RenderOptions) clone() RenderOptions {
	if o == nil {
		return RenderOptions{}
	}
	c := *o
	if o.Watermark != nil {
		w := *o.Watermark
		c.Watermark = &w
	}
	c.FallbackEnabled = clonePtr(o.FallbackEnabled)
	c.DiagnosticsEnabled = clonePtr(o.DiagnosticsEnabled)
	c.TypeSpecific.DocumentType = clonePtr(o.TypeSpecific.DocumentType)
	c.TypeSpecific.EnableStreaming = clonePtr(o.TypeSpecific.EnableStreaming)
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Page formats.
const (
	FormatPNG      = "png"
	FormatJPEG     = "jpeg"
	FormatDownload = "download"
)

// Page is one rendered page. Raster pages carry Data; pages served by the
// conversion or image endpoints may carry only a URL; the download fallback
// yields a single page pointing at the document itself.
type Page struct {
	Number int    `json:"number"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Format string `json:"format"`
	Data   []byte `json:"data,omitempty"`
	URL    string `json:"url,omitempty"`
	Text   string `json:"text,omitempty"`
}

// RenderResult is the outcome of one render operation. RenderPDF always
// returns a non-nil result; Error is set when Success is false.
type RenderResult struct {
	RenderingID     string           `json:"renderingId"`
	Success         bool             `json:"success"`
	Pages           []Page           `json:"pages"`
	Method          Method           `json:"method"`
	Error           *RenderError     `json:"error,omitempty"`
	Attempts        int              `json:"attempts"`
	Duration        time.Duration    `json:"duration"`
	Characteristics *Characteristics `json:"characteristics,omitempty"`
	Diagnostics     *Diagnostics     `json:"diagnostics,omitempty"`

	// Context is the final context of the operation, for RetryRendering.
	Context *RenderContext `json:"-"`
}

// DownloadOnly reports whether the result only offers the original file.
func (r *RenderResult) DownloadOnly() bool {
	return r != nil && r.Success && r.Method == MethodDownloadFallback
}

// failedResult builds a failed result with an empty page list.
func failedResult(id string, method Method, err *RenderError) *RenderResult {
	return &RenderResult{
		RenderingID: id,
		Pages:       []Page{},
		Method:      method,
		Error:       err,
	}
}
