package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"
)

// ErrUnknownMethod is returned when a method name is not part of the chain.
var ErrUnknownMethod = errors.New("unknown rendering method")

// ErrorType is the closed failure taxonomy.
type ErrorType uint8

const (
	ErrorUnknown ErrorType = iota
	ErrorNetwork
	ErrorParsing
	ErrorCanvas
	ErrorMemory
	ErrorTimeout
	ErrorAuthentication
	ErrorCorruption
)

var errorTypeNames = [...]string{
	ErrorUnknown:        "unknown-error",
	ErrorNetwork:        "network-error",
	ErrorParsing:        "parsing-error",
	ErrorCanvas:         "canvas-error",
	ErrorMemory:         "memory-error",
	ErrorTimeout:        "timeout-error",
	ErrorAuthentication: "authentication-error",
	ErrorCorruption:     "corruption-error",
}

// ErrorTypes lists every declared error type.
var ErrorTypes = []ErrorType{
	ErrorUnknown, ErrorNetwork, ErrorParsing, ErrorCanvas,
	ErrorMemory, ErrorTimeout, ErrorAuthentication, ErrorCorruption,
}

func (t ErrorType) String() string {
	if int(t) < len(errorTypeNames) {
		return errorTypeNames[t]
	}
	return fmt.Sprintf("unknown-error-type(%d)", uint8(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t ErrorType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ErrorType) UnmarshalText(b []byte) error {
	for i, name := range errorTypeNames {
		if name == string(b) {
			*t = ErrorType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown error type %q", string(b))
}

// RenderError describes one classified failure. It is immutable once built:
// helpers that change a field return a copy.
type RenderError struct {
	Type        ErrorType      `json:"type"`
	Message     string         `json:"message"`
	Stage       Stage          `json:"stage"`
	Method      Method         `json:"method"`
	Timestamp   time.Time      `json:"timestamp"`
	StackTrace  string         `json:"stackTrace,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Recoverable bool           `json:"recoverable"`

	cause error
}

// NewRenderError builds a RenderError wrapping cause. The context map is copied.
// Timestamp is taken from time.Now; callers holding a clock overwrite it.
func NewRenderError(typ ErrorType, msg string, stage Stage, method Method, recoverable bool, cause error, ctx map[string]any) *RenderError {
	return &RenderError{
		Type:        typ,
		Message:     msg,
		Stage:       stage,
		Method:      method,
		Timestamp:   time.Now(),
		Context:     maps.Clone(ctx),
		Recoverable: recoverable,
		cause:       cause,
	}
}

func (e *RenderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Method.Valid() {
		return fmt.Sprintf("%s during %s (%s): %s", e.Type, e.Stage, e.Method, e.Message)
	}
	return fmt.Sprintf("%s during %s: %s", e.Type, e.Stage, e.Message)
}

// Unwrap returns the original error, if any.
func (e *RenderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Clone returns a deep copy sharing only the wrapped cause.
func (e *RenderError) Clone() *RenderError {
	if e == nil {
		return nil
	}
	c := *e
	c.Context = maps.Clone(e.Context)
	return &c
}

// WithContext returns a copy whose context bag is the union of e.Context and extra.
// Keys already present in e.Context win.
func (e *RenderError) WithContext(extra map[string]any) *RenderError {
	c := e.Clone()
	if c == nil {
		return nil
	}
	merged := make(map[string]any, len(extra)+len(c.Context))
	maps.Copy(merged, extra)
	maps.Copy(merged, c.Context)
	c.Context = merged
	return c
}

// WithLocation returns a copy with stage and method filled where unset.
func (e *RenderError) WithLocation(stage Stage, method Method) *RenderError {
	c := e.Clone()
	if c == nil {
		return nil
	}
	if c.Stage == StageInitializing {
		c.Stage = stage
	}
	if !c.Method.Valid() {
		c.Method = method
	}
	return c
}

// MarshalJSON keeps the wire shape stable even for a nil context bag.
func (e *RenderError) MarshalJSON() ([]byte, error) {
	type alias RenderError
	a := (*alias)(e)
	if a.Context == nil {
		c := *a
		c.Context = map[string]any{}
		a = &c
	}
	return json.Marshal(a)
}
