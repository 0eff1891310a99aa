package main

// Notes:
// - CLI tests never launch a browser: the test config disables the native
//   method and the environment map carries no browser settings
// - Documents are built with pdftest and served by httptest
// - testEnv isolates the process environment behind a LookupEnv map

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/alnah/go-pdfrender/internal/pdftest"
)

// testConfigYAML turns off the browser and makes retries immediate.
const testConfigYAML = `methods:
  nativeBrowser: false
retry:
  baseDelayMs: 0
  maxDelayMs: 0
network:
  fetchRetries: 0
  requestsPerSecond: 1000
  burst: 100
`

// testEnv returns an environment writing to buffers and reading vars.
func testEnv(vars map[string]string) (*Environment, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	env := &Environment{
		Now:    time.Now,
		Stdout: &stdout,
		Stderr: &stderr,
		LookupEnv: func(key string) (string, bool) {
			v, ok := vars[key]
			return v, ok
		},
		Environ: func() []string {
			list := make([]string, 0, len(vars))
			for k, v := range vars {
				list = append(list, k+"="+v)
			}
			sort.Strings(list)
			return list
		},
		HTTP: newHTTPClient(),
	}
	return env, &stdout, &stderr
}

// writeTestConfig writes testConfigYAML and returns its path.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	if err := os.WriteFile(path, []byte(testConfigYAML), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

// servePDF serves a generated document at every path.
func servePDF(t *testing.T, pages ...string) *httptest.Server {
	t.Helper()
	doc := pdftest.Build(pages...)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		http.ServeContent(w, r, "doc.pdf", time.Time{}, bytes.NewReader(doc))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readFile fails the test when path cannot be read.
func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path) // #nosec G304 -- test path
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return data
}
