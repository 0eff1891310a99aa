package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	flag "github.com/spf13/pflag"

	pdfrender "github.com/alnah/go-pdfrender"
	"github.com/alnah/go-pdfrender/internal/config"
	"github.com/alnah/go-pdfrender/internal/fileutil"
	"github.com/alnah/go-pdfrender/internal/logging"
)

// analysis is the JSON shape printed by analyze --json.
type analysis struct {
	Input           string                    `json:"input"`
	Characteristics pdfrender.Characteristics `json:"characteristics"`
	Profile         pdfrender.Profile         `json:"profile"`
}

// runAnalyze samples each document and prints its characteristics and the
// rendering profile derived from them. Analysis never fails: unreachable
// documents are reported as the standard type.
func runAnalyze(ctx context.Context, args []string, env *Environment) error {
	flags, inputs, err := parseAnalyzeFlags(args, env.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrInvalidFlag, err)
	}
	if len(inputs) == 0 {
		return ErrNoInput
	}

	s, err := loadSettings(flags.common.config, env)
	if err != nil {
		return err
	}
	applyLogFlags(flags.common, s.cfg)
	s.warnings = append(s.warnings, s.cfg.Normalize()...)
	printWarnings(s.warnings, flags.common.quiet, env)

	logger := logging.New(env.Stderr, s.cfg.Diagnostics.Level, s.cfg.Diagnostics.Format)
	r, err := newRenderer(config.NewManager(s.cfg, logger), logger, flags.common.assetsDir, env)
	if err != nil {
		return err
	}
	defer r.Close()

	results := make([]analysis, 0, len(inputs))
	for _, in := range inputs {
		target, err := fileutil.ToTarget(in)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrNoInput, in, err)
		}
		ch, prof := r.Analyze(ctx, target)
		results = append(results, analysis{Input: in, Characteristics: ch, Profile: prof})
	}

	if flags.json {
		enc := json.NewEncoder(env.Stdout)
		enc.SetIndent("", "  ")
		if len(results) == 1 {
			return enc.Encode(results[0])
		}
		return enc.Encode(results)
	}
	for i, a := range results {
		if i > 0 {
			fmt.Fprintln(env.Stdout)
		}
		printAnalysis(env.Stdout, a)
	}
	return nil
}

// printAnalysis prints one analysis as aligned key/value pairs.
func printAnalysis(w io.Writer, a analysis) {
	ch, p := a.Characteristics, a.Profile
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\n", a.Input)
	fmt.Fprintf(tw, "  type:\t%s\n", ch.Type)
	fmt.Fprintf(tw, "  size:\t%s\n", formatBytes(ch.Size))
	if ch.Version != "" {
		fmt.Fprintf(tw, "  version:\t%s\n", ch.Version)
	}
	if ch.PageCount > 0 {
		fmt.Fprintf(tw, "  pages:\t%d\n", ch.PageCount)
	} else {
		fmt.Fprintf(tw, "  pages:\tunknown\n")
	}
	fmt.Fprintf(tw, "  complexity:\t%s\n", ch.Complexity)
	fmt.Fprintf(tw, "  images:\t%s\n", yesNo(ch.HasImages))
	fmt.Fprintf(tw, "  encrypted:\t%s\n", yesNo(ch.IsEncrypted))
	fmt.Fprintf(tw, "  valid header:\t%s\n", yesNo(ch.HeaderValid))
	fmt.Fprintf(tw, "  profile:\ttimeout %s, memory %s, streaming %s, %d concurrent pages\n",
		p.Timeout, p.MemoryManagement, yesNo(p.EnableStreaming), p.MaxConcurrentPages)
	if p.RequiresPassword {
		fmt.Fprintf(tw, "  password:\trequired\n")
	}
	_ = tw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// formatBytes renders n with a binary unit.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
