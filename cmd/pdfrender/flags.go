package main

import (
	"io"

	flag "github.com/spf13/pflag"
)

// commonFlags holds flags shared across commands.
type commonFlags struct {
	config    string
	quiet     bool
	verbose   bool
	logLevel  string
	logFormat string
	assetsDir string
}

// watermarkFlags holds watermark-related flags.
type watermarkFlags struct {
	text     string
	color    string
	opacity  float64
	position string
	fontSize float64
}

// reportFlags holds monitoring output flags.
type reportFlags struct {
	format  string // json, text, html
	output  string // file path; empty writes to stdout
	metrics string // Prometheus text exposition file
}

// renderFlags holds all flags for the render command.
type renderFlags struct {
	common      commonFlags
	output      string
	workers     int
	timeout     string
	method      string
	password    string
	scale       float64
	docType     string
	memory      string
	noFallback  bool
	diagnostics bool
	stream      bool
	watchConfig bool
	watermark   watermarkFlags
	report      reportFlags
}

// analyzeFlags holds flags for the analyze command.
type analyzeFlags struct {
	common commonFlags
	json   bool
}

// addCommonFlags adds common flags to a FlagSet.
func addCommonFlags(fs *flag.FlagSet, f *commonFlags) {
	fs.StringVarP(&f.config, "config", "c", "", "config file name or path")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "only show errors")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "show detailed timing and debug logs")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: none, error, warn, info, debug, verbose")
	fs.StringVar(&f.logFormat, "log-format", "", "log format: text, json")
	fs.StringVar(&f.assetsDir, "assets-dir", "", "directory overriding templates/ and styles/")
}

// addWatermarkFlags adds watermark flags to a FlagSet.
func addWatermarkFlags(fs *flag.FlagSet, f *watermarkFlags) {
	fs.StringVar(&f.text, "wm-text", "", "watermark text")
	fs.StringVar(&f.color, "wm-color", "", "watermark color (hex)")
	fs.Float64Var(&f.opacity, "wm-opacity", 0, "watermark opacity (0.0-1.0)")
	fs.StringVar(&f.position, "wm-position", "", "watermark position: center, top-left, top-right, bottom-left, bottom-right")
	fs.Float64Var(&f.fontSize, "wm-size", 0, "watermark font size in pixels")
}

// addReportFlags adds monitoring output flags to a FlagSet.
func addReportFlags(fs *flag.FlagSet, f *reportFlags) {
	fs.StringVar(&f.format, "report", "", "write a monitoring report: json, text, html")
	fs.StringVar(&f.output, "report-out", "", "report file (default: stdout)")
	fs.StringVar(&f.metrics, "metrics", "", "write Prometheus metrics to this file")
}

// registerRenderFlags registers every render flag on fs.
func registerRenderFlags(fs *flag.FlagSet, f *renderFlags) {
	fs.StringVarP(&f.output, "output", "o", "", "output directory (default: current directory)")
	fs.IntVarP(&f.workers, "workers", "w", 0, "parallel renders (0 = auto)")
	fs.StringVarP(&f.timeout, "timeout", "t", "", "whole-operation timeout (e.g., 30s, 2m)")
	fs.StringVarP(&f.method, "method", "m", "", "preferred method: pdfjs-canvas, native-browser, server-conversion, image-based, download-fallback")
	fs.StringVar(&f.password, "password", "", "password for encrypted documents")
	fs.Float64Var(&f.scale, "scale", 0, "raster scale for canvas rendering (1.0 = 72 dpi)")
	fs.StringVar(&f.docType, "doc-type", "", "override detected document type: small, standard, large, complex, corrupted, password-protected")
	fs.StringVar(&f.memory, "memory", "", "memory strategy: conservative, standard, aggressive")
	fs.BoolVar(&f.noFallback, "no-fallback", false, "stop after the first method")
	fs.BoolVar(&f.diagnostics, "diagnostics", false, "collect diagnostics and include them in manifests")
	fs.BoolVar(&f.stream, "stream", false, "write pages as soon as they are rendered")
	fs.BoolVar(&f.watchConfig, "watch-config", false, "reload the config file when it changes")

	addCommonFlags(fs, &f.common)
	addWatermarkFlags(fs, &f.watermark)
	addReportFlags(fs, &f.report)
}

// parseRenderFlags parses render command flags and returns positional args.
func parseRenderFlags(args []string, usage io.Writer) (*renderFlags, []string, error) {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	f := &renderFlags{}
	registerRenderFlags(fs, f)
	fs.SetOutput(usage)
	fs.Usage = func() { printRenderUsage(usage) }

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return f, fs.Args(), nil
}

// registerAnalyzeFlags registers every analyze flag on fs.
func registerAnalyzeFlags(fs *flag.FlagSet, f *analyzeFlags) {
	fs.BoolVar(&f.json, "json", false, "print JSON")
	addCommonFlags(fs, &f.common)
}

// parseAnalyzeFlags parses analyze command flags and returns positional args.
func parseAnalyzeFlags(args []string, usage io.Writer) (*analyzeFlags, []string, error) {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	f := &analyzeFlags{}
	registerAnalyzeFlags(fs, f)
	fs.SetOutput(usage)
	fs.Usage = func() { printAnalyzeUsage(usage) }

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return f, fs.Args(), nil
}
