package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/alnah/go-pdfrender/internal/monitor"
)

// stdoutPath selects standard output for --report-out and --metrics.
const stdoutPath = "-"

// writeReports writes the monitoring report and the metrics requested by f.
func writeReports(ctx context.Context, sys *monitor.System, f reportFlags, env *Environment) error {
	if f.format != "" {
		data, err := sys.ExportReport(ctx, f.format)
		if err != nil {
			return err
		}
		if err := writeOutput(f.output, data, env); err != nil {
			return err
		}
	}
	if f.metrics != "" {
		if err := writeMetrics(f.metrics, sys.Registry(), env); err != nil {
			return err
		}
	}
	return nil
}

// writeMetrics writes every gathered family in the Prometheus text format.
func writeMetrics(path string, g prometheus.Gatherer, env *Environment) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	return withOutput(path, env, func(w io.Writer) error {
		for _, mf := range families {
			if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
				return fmt.Errorf("%w: metrics: %v", ErrWriteOutput, err)
			}
		}
		return nil
	})
}

func writeOutput(path string, data []byte, env *Environment) error {
	return withOutput(path, env, func(w io.Writer) error {
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("%w: %v", ErrWriteOutput, err)
		}
		return nil
	})
}

// withOutput calls fn with stdout for "" or "-", else with the created file.
func withOutput(path string, env *Environment, fn func(io.Writer) error) error {
	if path == "" || path == stdoutPath {
		return fn(env.Stdout)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermissions) // #nosec G304 -- user-provided output path
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteOutput, err)
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteOutput, err)
	}
	return nil
}
