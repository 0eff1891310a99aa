package pdfrender

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/alnah/go-pdfrender/internal/canvas"
	"github.com/alnah/go-pdfrender/internal/config"
	"github.com/alnah/go-pdfrender/internal/doctype"
	"github.com/alnah/go-pdfrender/internal/netx"
	"github.com/alnah/go-pdfrender/internal/types"
)

// StackTracer is implemented by errors that carry their own stack.
type StackTracer interface {
	StackTrace() string
}

// panicError is a recovered panic. It keeps the stack of the panicking
// goroutine.
type panicError struct {
	value any
	stack string
}

func newPanicError(v any) *panicError {
	return &panicError{value: v, stack: string(debug.Stack())}
}

func (e *panicError) Error() string {
	if err, ok := e.value.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("%v", e.value)
}

func (e *panicError) Unwrap() error {
	err, _ := e.value.(error)
	return err
}

func (e *panicError) StackTrace() string { return e.stack }

// Matching vocabularies, lower case. Checked after the typed rules.
var (
	networkWords    = []string{"network", "failed to fetch", "connection refused", "connection reset", "no such host", "dns", "cors", "econnrefused", "unreachable", "broken pipe"}
	timeoutWords    = []string{"timeout", "timed out", "deadline exceeded"}
	memoryWords     = []string{"out of memory", "memory", "allocation failed"}
	canvasWords     = []string{"canvas", "context lost", "2d context"}
	corruptionWords = []string{"corrupt", "invalid pdf header", "not a pdf", "missing %pdf"}
	parsingWords    = []string{"pdf", "parse", "parsing", "malformed", "xref", "unexpected eof", "syntax"}
)

// Classifier maps arbitrary failures onto the error taxonomy.
type Classifier struct {
	cfg *config.Manager
	now func() time.Time
}

// NewClassifier returns a classifier reading the parsing retry toggle from cfg.
func NewClassifier(cfg *config.Manager) *Classifier {
	if cfg == nil {
		cfg = config.NewManager(nil, nil)
	}
	return &Classifier{cfg: cfg, now: time.Now}
}

// newError builds a RenderError stamped with the classifier's clock.
func (c *Classifier) newError(typ ErrorType, msg string, stage Stage, method Method, recoverable bool, cause error, ctx map[string]any) *RenderError {
	re := types.NewRenderError(typ, msg, stage, method, recoverable, cause, ctx)
	if c.now != nil {
		re.Timestamp = c.now()
	}
	return re
}

// Classify converts v, raised during stage by method, into a RenderError.
// Existing RenderErrors pass through with stage and method filled in. It
// never returns nil and never panics.
func (c *Classifier) Classify(v any, stage Stage, method Method) (re *RenderError) {
	defer func() {
		if r := recover(); r != nil {
			re = c.newError(ErrorUnknown, fmt.Sprintf("Unknown error: classification failed: %v", r),
				stage, method, false, nil, nil)
		}
	}()

	switch val := v.(type) {
	case nil:
		return c.newError(ErrorUnknown, "Unknown error: <nil>", stage, method, false, nil, nil)
	case *RenderError:
		if val == nil {
			return c.newError(ErrorUnknown, "Unknown error: <nil>", stage, method, false, nil, nil)
		}
		return val.WithLocation(stage, method)
	case error:
		var existing *RenderError
		if errors.As(val, &existing) && existing != nil {
			return existing.WithLocation(stage, method)
		}
		re = c.classifyError(val, stage, method)
		if re.StackTrace == "" {
			re.StackTrace = stackOf(val)
		}
		return re
	case string:
		if typ, recoverable, ok := c.byVocabulary(strings.ToLower(val)); ok {
			return c.newError(typ, val, stage, method, recoverable, nil, nil)
		}
		return c.newError(ErrorUnknown, "Unknown error: "+val, stage, method, false, nil, nil)
	default:
		return c.newError(ErrorUnknown, fmt.Sprintf("Unknown error: %v", val), stage, method, false, nil,
			map[string]any{"valueType": fmt.Sprintf("%T", val)})
	}
}

// classifyError applies the typed rules, then the vocabularies.
func (c *Classifier) classifyError(err error, stage Stage, method Method) *RenderError {
	msg := err.Error()
	ctx := map[string]any{"errorName": fmt.Sprintf("%T", err)}
	build := func(typ ErrorType, recoverable bool) *RenderError {
		return c.newError(typ, msg, stage, method, recoverable, err, ctx)
	}

	var se *netx.StatusError
	if errors.As(err, &se) {
		ctx["status"] = se.StatusCode
		ctx["url"] = se.URL
		if se.Auth() {
			return build(ErrorAuthentication, true)
		}
		return build(ErrorNetwork, true)
	}

	switch {
	case errors.Is(err, doctype.ErrPasswordRequired),
		errors.Is(err, doctype.ErrPasswordInvalid),
		errors.Is(err, pdf.ErrInvalidPassword):
		return build(ErrorAuthentication, false)
	case errors.Is(err, netx.ErrRefreshFailed):
		return build(ErrorAuthentication, false)
	case errors.Is(err, context.Canceled):
		return c.newError(ErrorUnknown, "rendering cancelled", stage, method, false, err, ctx)
	case errors.Is(err, ErrCorruptDocument):
		return build(ErrorCorruption, false)
	case isTimeout(err):
		return build(ErrorTimeout, true)
	case isMethodFailure(err):
		return build(ErrorUnknown, true)
	}

	if isTransportError(err) {
		return build(ErrorNetwork, true)
	}

	switch {
	case errors.Is(err, ErrMemoryPressure), errors.Is(err, canvas.ErrCanvasMemory):
		return build(ErrorMemory, true)
	case errors.Is(err, canvas.ErrContextUnavailable),
		errors.Is(err, canvas.ErrCanvasTooLarge),
		errors.Is(err, canvas.ErrCanvasDestroyed):
		return build(ErrorCanvas, true)
	}

	if typ, recoverable, ok := c.byVocabulary(strings.ToLower(msg)); ok {
		return build(typ, recoverable)
	}
	return build(ErrorUnknown, true)
}

// byVocabulary matches a lower-cased message against the vocabularies in
// priority order.
func (c *Classifier) byVocabulary(msg string) (ErrorType, bool, bool) {
	switch {
	case containsAny(msg, networkWords):
		return ErrorNetwork, true, true
	case containsAny(msg, timeoutWords):
		return ErrorTimeout, true, true
	case containsAny(msg, memoryWords):
		return ErrorMemory, true, true
	case containsAny(msg, canvasWords):
		return ErrorCanvas, true, true
	case containsAny(msg, corruptionWords):
		return ErrorCorruption, false, true
	case containsAny(msg, parsingWords):
		return ErrorParsing, c.cfg.Snapshot().Retry.ParsingErrors, true
	}
	return ErrorUnknown, false, false
}

// isMethodFailure reports whether err is a method-level failure that the
// next method in the chain may not share.
func isMethodFailure(err error) bool {
	for _, target := range []error{
		ErrMethodDisabled, ErrEndpointMissing, ErrNoPages, ErrInvalidImage,
		ErrBrowserConnect, ErrPageCreate, ErrPageLoad, ErrScreenshot,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// isTransportError reports whether err comes from dialing, DNS or the HTTP
// transport rather than from an HTTP status.
func isTransportError(err error) bool {
	var (
		ue  *url.Error
		oe  *net.OpError
		dns *net.DNSError
	)
	return errors.As(err, &ue) || errors.As(err, &oe) || errors.As(err, &dns) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// stackOf returns the stack carried by err, or the current one.
func stackOf(err error) string {
	var st StackTracer
	if errors.As(err, &st) {
		if s := st.StackTrace(); s != "" {
			return s
		}
	}
	return string(debug.Stack())
}
