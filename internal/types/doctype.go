package types

import "fmt"

// DocumentType is the classification produced by document analysis.
type DocumentType uint8

const (
	DocStandard DocumentType = iota
	DocSmall
	DocLarge
	DocComplex
	DocPasswordProtected
	DocCorrupted
)

var docTypeNames = [...]string{
	DocStandard:          "standard-pdf",
	DocSmall:             "small-pdf",
	DocLarge:             "large-pdf",
	DocComplex:           "complex-pdf",
	DocPasswordProtected: "password-protected",
	DocCorrupted:         "corrupted-pdf",
}

// DocumentTypes lists every declared document type.
var DocumentTypes = []DocumentType{DocStandard, DocSmall, DocLarge, DocComplex, DocPasswordProtected, DocCorrupted}

func (d DocumentType) String() string {
	if int(d) < len(docTypeNames) {
		return docTypeNames[d]
	}
	return fmt.Sprintf("unknown-document(%d)", uint8(d))
}

// MarshalText implements encoding.TextMarshaler.
func (d DocumentType) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DocumentType) UnmarshalText(b []byte) error {
	parsed, err := ParseDocumentType(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDocumentType converts a wire name into a DocumentType.
// Short aliases ("small", "large", ...) are accepted.
func ParseDocumentType(s string) (DocumentType, error) {
	for i, name := range docTypeNames {
		if name == s {
			return DocumentType(i), nil
		}
	}
	switch s {
	case "standard":
		return DocStandard, nil
	case "small":
		return DocSmall, nil
	case "large":
		return DocLarge, nil
	case "complex":
		return DocComplex, nil
	case "password", "encrypted":
		return DocPasswordProtected, nil
	case "corrupted":
		return DocCorrupted, nil
	}
	return DocStandard, fmt.Errorf("unknown document type %q", s)
}
