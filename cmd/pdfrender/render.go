package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	pdfrender "github.com/alnah/go-pdfrender"
	"github.com/alnah/go-pdfrender/internal/config"
	"github.com/alnah/go-pdfrender/internal/hints"
	"github.com/alnah/go-pdfrender/internal/logging"
	"github.com/alnah/go-pdfrender/internal/types"
)

// Sentinel errors for CLI operations.
var (
	ErrNoInput      = errors.New("no input specified")
	ErrInvalidFlag  = errors.New("invalid flag value")
	ErrWriteOutput  = errors.New("failed to write output")
	ErrRenderFailed = errors.New("rendering failed")
)

// maxWorkers caps concurrent renders in one batch.
const maxWorkers = 32

// runRender renders every positional URL or path into the output directory.
func runRender(ctx context.Context, args []string, env *Environment) error {
	flags, inputs, err := parseRenderFlags(args, env.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrInvalidFlag, err)
	}
	if len(inputs) == 0 {
		return ErrNoInput
	}
	if err := validateWorkers(flags.workers); err != nil {
		return err
	}

	s, err := loadSettings(flags.common.config, env)
	if err != nil {
		return err
	}
	opts, err := buildRenderOptions(flags)
	if err != nil {
		return err
	}
	s.warnings = append(s.warnings, mergeFlags(flags, s.cfg)...)
	printWarnings(s.warnings, flags.common.quiet, env)

	logger := logging.New(env.Stderr, s.cfg.Diagnostics.Level, s.cfg.Diagnostics.Format)
	mgr := config.NewManager(s.cfg, logger)
	if flags.watchConfig {
		mgr.SetOverlay(reloadOverlay(flags, env))
		startWatch(ctx, mgr, s.path, logger, env)
	}

	jobs, err := planJobs(inputs)
	if err != nil {
		return err
	}

	r, err := newRenderer(mgr, logger, flags.common.assetsDir, env)
	if err != nil {
		return err
	}
	defer r.Close()

	outDir := flags.output
	if outDir == "" {
		outDir = "."
	}
	outcomes := renderBatch(ctx, r, jobs, opts, batchParams{
		workers: resolveWorkers(flags.workers),
		outDir:  outDir,
		stream:  flags.stream,
		now:     env.Now,
	})
	failed := printOutcomes(outcomes, flags.common.quiet, flags.common.verbose, env)

	if err := writeReports(ctx, r.Monitor(), flags.report, env); err != nil {
		return err
	}
	if failed > 0 {
		return newRenderFailure(outcomes, failed)
	}
	return nil
}

// newRenderer wires a Renderer for the CLI.
func newRenderer(mgr *config.Manager, logger *slog.Logger, assetsDir string, env *Environment) (*pdfrender.Renderer, error) {
	opts := []pdfrender.Option{
		pdfrender.WithConfigManager(mgr),
		pdfrender.WithLogger(logger),
	}
	if env.HTTP != nil {
		opts = append(opts, pdfrender.WithHTTPClient(env.HTTP))
	}
	if assetsDir != "" {
		opts = append(opts, pdfrender.WithAssetsDir(assetsDir))
	}
	if env.Now != nil {
		opts = append(opts, pdfrender.WithClock(env.Now))
	}
	opts = append(opts, env.Options...)
	return pdfrender.New(opts...)
}

// startWatch reloads the config file in the background until ctx ends.
func startWatch(ctx context.Context, mgr *config.Manager, path string, logger *slog.Logger, env *Environment) {
	if path == "" {
		fmt.Fprintln(env.Stderr, "warning: --watch-config ignored: no config file in use")
		return
	}
	go func() {
		if err := mgr.Watch(ctx, path); err != nil {
			logger.Warn("config watch stopped", "path", path, "error", err)
		}
	}()
}

// reloadOverlay reapplies env vars and flags on top of a reloaded config
// file so they keep precedence over it.
func reloadOverlay(flags *renderFlags, env *Environment) func(*config.Config) []string {
	return func(cfg *config.Config) []string {
		var warnings []string
		if env.LookupEnv != nil {
			warnings = config.ApplyEnv(cfg, env.LookupEnv)
		}
		return append(warnings, mergeFlags(flags, cfg)...)
	}
}

// buildRenderOptions converts flags into per-render options.
func buildRenderOptions(flags *renderFlags) (*pdfrender.RenderOptions, error) {
	opts := &pdfrender.RenderOptions{PDFPassword: flags.password}

	if flags.timeout != "" {
		d, err := time.ParseDuration(flags.timeout)
		if err != nil {
			return nil, fmt.Errorf("%w: --timeout %q: %v", ErrInvalidFlag, flags.timeout, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("%w: --timeout must be positive, got %s", ErrInvalidFlag, d)
		}
		opts.Timeout = d
	}
	if flags.method != "" {
		m, err := types.ParseMethod(strings.ToLower(flags.method))
		if err != nil {
			return nil, err
		}
		opts.PreferredMethod = m
	}
	if flags.docType != "" {
		t, err := types.ParseDocumentType(flags.docType)
		if err != nil {
			return nil, fmt.Errorf("%w: --doc-type: %v", ErrInvalidFlag, err)
		}
		opts.TypeSpecific.DocumentType = &t
	}
	opts.TypeSpecific.MemoryManagement = flags.memory
	if flags.stream {
		opts.TypeSpecific.EnableStreaming = ptr(true)
	}
	if flags.noFallback {
		opts.FallbackEnabled = ptr(false)
	}
	if flags.diagnostics {
		opts.DiagnosticsEnabled = ptr(true)
	}
	if flags.watermark.text != "" {
		opts.Watermark = &pdfrender.Watermark{
			Text:     flags.watermark.text,
			Color:    flags.watermark.color,
			Opacity:  flags.watermark.opacity,
			Position: flags.watermark.position,
			FontSize: flags.watermark.fontSize,
		}
	}

	if err := opts.Validate(); err != nil {
		if errors.Is(err, pdfrender.ErrUnknownMethod) || errors.Is(err, pdfrender.ErrInvalidColor) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidFlag, err)
	}
	return opts, nil
}

// mergeFlags applies flags that change process-wide configuration.
// Returns the warnings raised while normalizing the result.
func mergeFlags(flags *renderFlags, cfg *config.Config) []string {
	if flags.scale > 0 {
		cfg.Rendering.Scale = flags.scale
	}
	if flags.noFallback {
		cfg.Rendering.FallbackEnabled = false
	}
	if flags.diagnostics {
		cfg.Diagnostics.Enabled = true
	}
	applyLogFlags(flags.common, cfg)
	return cfg.Normalize()
}

// applyLogFlags resolves the log level: --log-level, then --quiet or
// --verbose, then the configured level.
func applyLogFlags(f commonFlags, cfg *config.Config) {
	switch {
	case f.logLevel != "":
		cfg.Diagnostics.Level = f.logLevel
	case f.quiet:
		cfg.Diagnostics.Level = "error"
	case f.verbose:
		cfg.Diagnostics.Level = "debug"
	}
	if f.logFormat != "" {
		cfg.Diagnostics.Format = f.logFormat
	}
}

// validateWorkers checks that the worker count is within valid bounds.
func validateWorkers(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: --workers %d (must be >= 0, 0 means auto)", ErrInvalidFlag, n)
	}
	if n > maxWorkers {
		return fmt.Errorf("%w: --workers %d (maximum is %d)", ErrInvalidFlag, n, maxWorkers)
	}
	return nil
}

// resolveWorkers determines the batch concurrency.
// Priority: explicit flag > GOMAXPROCS-based calculation.
func resolveWorkers(flagWorkers int) int {
	if flagWorkers > 0 {
		return flagWorkers
	}

	// GOMAXPROCS is adjusted by automaxprocs for containers
	n := runtime.GOMAXPROCS(0) / 2

	// Minimum 1, maximum 8
	return max(1, min(n, 8))
}

// printWarnings writes configuration warnings unless quiet.
func printWarnings(warnings []string, quiet bool, env *Environment) {
	if quiet {
		return
	}
	for _, w := range warnings {
		fmt.Fprintf(env.Stderr, "warning: %s\n", w)
	}
}

// renderFailure summarizes a batch with failed documents. It unwraps to
// ErrRenderFailed and to the first failure's error.
type renderFailure struct {
	failed int
	total  int
	first  error
	kind   types.ErrorType
}

func newRenderFailure(outcomes []renderOutcome, failed int) *renderFailure {
	f := &renderFailure{failed: failed, total: len(outcomes)}
	for _, o := range outcomes {
		if o.Err == nil {
			continue
		}
		f.first = o.Err
		var re *pdfrender.RenderError
		if errors.As(o.Err, &re) {
			f.kind = re.Type
		}
		break
	}
	return f
}

func (e *renderFailure) Error() string {
	return fmt.Sprintf("%v: %d of %d documents", ErrRenderFailed, e.failed, e.total)
}

func (e *renderFailure) Unwrap() []error {
	if e.first == nil {
		return []error{ErrRenderFailed}
	}
	return []error{ErrRenderFailed, e.first}
}

// Hint suggests a remedy for the first failure's error type.
func (e *renderFailure) Hint() string { return hints.ForRenderError(e.kind) }

func ptr[T any](v T) *T { return &v }

// ensureDir creates dir with the CLI's permissions.
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrWriteOutput, filepath.Clean(dir), err)
	}
	return nil
}
