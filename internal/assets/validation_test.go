package assets

// Notes:
// - ValidateAssetName guards both loaders; names are joined under styles/
//   and templates/, so anything that could leave those directories fails

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateAssetName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"viewer template", "viewer", false},
		{"report stylesheet", "default", false},
		{"hyphen and underscore", "dark_report-v2", false},
		{"mixed case", "PrintViewer", false},
		{"at the length limit", strings.Repeat("a", maxAssetNameLen), false},

		{"empty", "", true},
		{"too long", strings.Repeat("a", maxAssetNameLen+1), true},
		{"forward slash", "reports/dark", true},
		{"backslash", "reports\\dark", true},
		{"parent traversal", "../viewer", true},
		{"windows traversal", "..\\viewer", true},
		{"extension supplied", "viewer.html", true},
		{"hidden file", ".viewer", true},
		{"absolute unix path", "/etc/passwd", true},
		{"absolute windows path", "C:\\Windows", true},
		{"space", "my viewer", true},
		{"newline", "viewer\n", true},
		{"nul byte", "viewer\x00", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateAssetName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateAssetName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidAssetName) {
				t.Errorf("ValidateAssetName(%q) error = %v, want %v", tt.input, err, ErrInvalidAssetName)
			}
		})
	}
}

func TestEmbeddedLoader_Builtin(t *testing.T) {
	t.Parallel()

	l := NewEmbeddedLoader()
	if css, err := l.LoadStyle("default"); err != nil || css == "" {
		t.Errorf("LoadStyle(default) = %d bytes, %v", len(css), err)
	}
	if html, err := l.LoadTemplate("viewer"); err != nil || !strings.Contains(html, "<") {
		t.Errorf("LoadTemplate(viewer) = %d bytes, %v", len(html), err)
	}
	if _, err := l.LoadStyle("missing"); !errors.Is(err, ErrStyleNotFound) {
		t.Errorf("LoadStyle(missing) error = %v, want %v", err, ErrStyleNotFound)
	}
	if _, err := l.LoadTemplate("missing"); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("LoadTemplate(missing) error = %v, want %v", err, ErrTemplateNotFound)
	}
	if _, err := l.LoadTemplate("../viewer"); !errors.Is(err, ErrInvalidAssetName) {
		t.Errorf("LoadTemplate(../viewer) error = %v, want %v", err, ErrInvalidAssetName)
	}
}
