package assets

import (
	"fmt"
	"strings"
	"unicode"
)

// maxAssetNameLen bounds names coming from --assets-dir overrides.
const maxAssetNameLen = 64

// ValidateAssetName checks that name can be joined under styles/ or
// templates/ without escaping them. Separators and dots are rejected, so the
// loader always owns the extension, as are control and space characters.
func ValidateAssetName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidAssetName)
	case len(name) > maxAssetNameLen:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidAssetName, maxAssetNameLen)
	case strings.ContainsAny(name, "/\\."):
		return fmt.Errorf("%w: %q", ErrInvalidAssetName, name)
	case strings.ContainsFunc(name, func(r rune) bool { return unicode.IsControl(r) || unicode.IsSpace(r) }):
		return fmt.Errorf("%w: %q contains spaces or control characters", ErrInvalidAssetName, name)
	}
	return nil
}
