package types

import "fmt"

// Method identifies one strategy in the rendering fallback chain.
type Method uint8

// Rendering methods in strict fallback order. MethodNone terminates the chain.
const (
	MethodNone Method = iota
	MethodPDFJSCanvas
	MethodNativeBrowser
	MethodServerConversion
	MethodImageBased
	MethodDownloadFallback
)

var methodNames = [...]string{
	MethodNone:             "",
	MethodPDFJSCanvas:      "pdfjs-canvas",
	MethodNativeBrowser:    "native-browser",
	MethodServerConversion: "server-conversion",
	MethodImageBased:       "image-based",
	MethodDownloadFallback: "download-fallback",
}

// FallbackOrder lists every rendering method in chain order.
var FallbackOrder = []Method{
	MethodPDFJSCanvas,
	MethodNativeBrowser,
	MethodServerConversion,
	MethodImageBased,
	MethodDownloadFallback,
}

// String returns the wire name, or "unknown-method(N)" for undeclared values.
func (m Method) String() string {
	if int(m) < len(methodNames) {
		return methodNames[m]
	}
	return fmt.Sprintf("unknown-method(%d)", uint8(m))
}

// Valid reports whether m is one of the five rendering methods.
func (m Method) Valid() bool {
	return m >= MethodPDFJSCanvas && m <= MethodDownloadFallback
}

// Next returns the method following m in the fallback chain.
// Returns MethodNone at the terminal method and for any invalid input.
func (m Method) Next() Method {
	if !m.Valid() || m == MethodDownloadFallback {
		return MethodNone
	}
	return m + 1
}

// MarshalText implements encoding.TextMarshaler.
func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Method) UnmarshalText(b []byte) error {
	parsed, err := ParseMethod(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMethod converts a wire name into a Method. The empty string is MethodNone.
func ParseMethod(s string) (Method, error) {
	for i, name := range methodNames {
		if name == s {
			return Method(i), nil
		}
	}
	return MethodNone, fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}
