package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alnah/go-pdfrender/internal/monitor"
)

func TestWriteMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "Test counter"})
	reg.MustRegister(c)
	c.Add(3)

	env, stdout, _ := testEnv(nil)
	if err := writeMetrics(stdoutPath, reg, env); err != nil {
		t.Fatalf("writeMetrics() error = %v", err)
	}
	out := stdout.String()
	for _, want := range []string{"# HELP test_total Test counter", "# TYPE test_total counter", "test_total 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteOutput_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "report.txt")
	env, stdout, _ := testEnv(nil)
	if err := writeOutput(path, []byte("hello"), env); err != nil {
		t.Fatalf("writeOutput() error = %v", err)
	}
	if got := string(readFile(t, path)); got != "hello" {
		t.Errorf("file = %q", got)
	}
	if stdout.Len() != 0 {
		t.Errorf("stdout = %q, want empty", stdout.String())
	}
}

func TestWriteOutput_Unwritable(t *testing.T) {
	t.Parallel()

	env, _, _ := testEnv(nil)
	path := filepath.Join(t.TempDir(), "missing", "dir", "report.txt")
	err := writeOutput(path, []byte("x"), env)
	if !errors.Is(err, ErrWriteOutput) {
		t.Errorf("writeOutput() error = %v, want ErrWriteOutput", err)
	}
	if _, statErr := os.Stat(path); statErr == nil {
		t.Error("file was created")
	}
}

func TestWriteReports_UnknownFormat(t *testing.T) {
	t.Parallel()

	env, _, _ := testEnv(nil)
	r, err := newRenderer(nil, nil, "", env)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = r.Close() })

	err = writeReports(context.Background(), r.Monitor(), reportFlags{format: "xml"}, env)
	if !errors.Is(err, monitor.ErrUnknownFormat) {
		t.Errorf("writeReports() error = %v, want ErrUnknownFormat", err)
	}
}
