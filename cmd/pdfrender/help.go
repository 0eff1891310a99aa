package main

import (
	"fmt"
	"io"
)

// printUsage prints the main usage message.
func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: pdfrender <command> [flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  render      Render PDF documents to page images")
	fmt.Fprintln(w, "  analyze     Show document characteristics and rendering profile")
	fmt.Fprintln(w, "  doctor      Check the rendering environment")
	fmt.Fprintln(w, "  completion  Generate shell completion script")
	fmt.Fprintln(w, "  version     Show version information")
	fmt.Fprintln(w, "  help        Show help for a command")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'pdfrender help <command>' for details on a specific command.")
}

// printRenderUsage prints usage for the render command.
func printRenderUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: pdfrender render <url|file>... [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Render PDF documents, falling back through rendering methods on failure.")
	fmt.Fprintln(w, "Each document gets a directory holding its pages and a manifest.json.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Arguments:")
	fmt.Fprintln(w, "  url|file  http(s) URL, file:// URL or local path")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Input/Output:")
	fmt.Fprintln(w, "  -o, --output <dir>        Output directory (default: current directory)")
	fmt.Fprintln(w, "  -c, --config <name>       Config file name or path")
	fmt.Fprintln(w, "  -w, --workers <n>         Parallel renders (0 = auto)")
	fmt.Fprintln(w, "      --assets-dir <dir>    Override templates/ and styles/")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Rendering:")
	fmt.Fprintln(w, "  -t, --timeout <d>         Whole-operation timeout (e.g., 30s, 2m)")
	fmt.Fprintln(w, "  -m, --method <s>          Preferred method: pdfjs-canvas, native-browser,")
	fmt.Fprintln(w, "                            server-conversion, image-based, download-fallback")
	fmt.Fprintln(w, "      --no-fallback         Stop after the first method")
	fmt.Fprintln(w, "      --password <s>        Password for encrypted documents")
	fmt.Fprintln(w, "      --scale <f>           Raster scale (1.0 = 72 dpi)")
	fmt.Fprintln(w, "      --doc-type <s>        Override detected type: small, standard, large,")
	fmt.Fprintln(w, "                            complex, corrupted, password-protected")
	fmt.Fprintln(w, "      --memory <s>          Memory strategy: conservative, standard, aggressive")
	fmt.Fprintln(w, "      --stream              Write pages as soon as they are rendered")
	fmt.Fprintln(w, "      --watch-config        Reload the config file when it changes")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Watermark:")
	fmt.Fprintln(w, "      --wm-text <s>         Watermark text")
	fmt.Fprintln(w, "      --wm-color <s>        Watermark color (hex)")
	fmt.Fprintln(w, "      --wm-opacity <f>      Watermark opacity (0.0-1.0)")
	fmt.Fprintln(w, "      --wm-position <s>     Position: center, top-left, top-right,")
	fmt.Fprintln(w, "                            bottom-left, bottom-right")
	fmt.Fprintln(w, "      --wm-size <f>         Font size in pixels")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Monitoring:")
	fmt.Fprintln(w, "      --diagnostics         Collect diagnostics into manifests")
	fmt.Fprintln(w, "      --report <s>          Write a report: json, text, html")
	fmt.Fprintln(w, "      --report-out <path>   Report file (default: stdout)")
	fmt.Fprintln(w, "      --metrics <path>      Write Prometheus metrics (- for stdout)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Output Control:")
	fmt.Fprintln(w, "  -q, --quiet               Only show errors")
	fmt.Fprintln(w, "  -v, --verbose             Show detailed timing and debug logs")
	fmt.Fprintln(w, "      --log-level <s>       none, error, warn, info, debug, verbose")
	fmt.Fprintln(w, "      --log-format <s>      text, json")
}

// printAnalyzeUsage prints usage for the analyze command.
func printAnalyzeUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: pdfrender analyze <url|file>... [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Sample each document and print its characteristics and the")
	fmt.Fprintln(w, "rendering profile derived from them.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "      --json                Print JSON")
	fmt.Fprintln(w, "  -c, --config <name>       Config file name or path")
	fmt.Fprintln(w, "  -q, --quiet               Only show errors")
	fmt.Fprintln(w, "  -v, --verbose             Show debug logs")
}

// printDoctorUsage prints usage for the doctor command.
func printDoctorUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: pdfrender doctor [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Check the browser, endpoints, environment and temp directory.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "      --json                Print JSON")
	fmt.Fprintln(w, "  -c, --config <name>       Config file name or path")
}

// runHelp prints help for a specific command.
func runHelp(args []string, env *Environment) {
	if len(args) == 0 {
		printUsage(env.Stdout)
		return
	}

	switch args[0] {
	case "render":
		printRenderUsage(env.Stdout)
	case "analyze":
		printAnalyzeUsage(env.Stdout)
	case "doctor":
		printDoctorUsage(env.Stdout)
	case "completion":
		printCompletionUsage(env.Stdout)
	case "version":
		fmt.Fprintln(env.Stdout, "Usage: pdfrender version")
		fmt.Fprintln(env.Stdout)
		fmt.Fprintln(env.Stdout, "Show version information.")
	case "help":
		fmt.Fprintln(env.Stdout, "Usage: pdfrender help [command]")
		fmt.Fprintln(env.Stdout)
		fmt.Fprintln(env.Stdout, "Show help for a command.")
	default:
		fmt.Fprintf(env.Stderr, "Unknown command: %s\n", args[0])
		printUsage(env.Stderr)
	}
}
