package yamlutil_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/alnah/go-pdfrender/internal/yamlutil"
)

type testConfig struct {
	Name    string `yaml:"name"`
	Count   int    `yaml:"count"`
	Enabled bool   `yaml:"enabled"`
}

func TestUnmarshalStrict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    []byte
		dest    any
		wantErr error
		anyErr  bool
	}{
		{name: "valid", data: []byte("name: a\ncount: 2"), dest: &testConfig{}},
		{name: "nil data", data: nil, dest: &testConfig{}, wantErr: yamlutil.ErrNilData},
		{name: "nil destination", data: []byte("name: a"), dest: nil, wantErr: yamlutil.ErrNilDestination},
		{name: "unknown field", data: []byte("name: a\nbogus: 1"), dest: &testConfig{}, anyErr: true},
		{name: "malformed", data: []byte("name: [unterminated"), dest: &testConfig{}, anyErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := yamlutil.UnmarshalStrict(tt.data, tt.dest)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
			case tt.anyErr:
				if err == nil {
					t.Error("expected an error")
				}
			default:
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
		})
	}
}

func TestUnmarshalStrict_KeepsDefaults(t *testing.T) {
	t.Parallel()

	cfg := &testConfig{Name: "default", Count: 7}
	if err := yamlutil.UnmarshalStrict([]byte("enabled: true"), cfg); err != nil {
		t.Fatalf("UnmarshalStrict: %v", err)
	}
	if cfg.Name != "default" || cfg.Count != 7 || !cfg.Enabled {
		t.Errorf("got %+v, want defaults preserved and enabled set", cfg)
	}
}

func TestDecodeStrict_SizeLimit(t *testing.T) {
	// Not parallel: mutates MaxInputSize.
	orig := yamlutil.MaxInputSize
	yamlutil.MaxInputSize = 16
	defer func() { yamlutil.MaxInputSize = orig }()

	err := yamlutil.DecodeStrict(strings.NewReader("name: "+strings.Repeat("x", 64)), &testConfig{})
	if !errors.Is(err, yamlutil.ErrInputTooLarge) {
		t.Errorf("error = %v, want ErrInputTooLarge", err)
	}
}

func TestMarshal(t *testing.T) {
	t.Parallel()

	out, err := yamlutil.Marshal(testConfig{Name: "x", Count: 1})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(out), "name: x") {
		t.Errorf("Marshal output = %q", out)
	}
}
