// Package pdfrender renders PDF documents to page images reliably: it walks
// a chain of rendering methods, bounds canvas memory, classifies failures and
// recovers from them, and records diagnostics for every operation.
//
// # Quick Start
//
// Create a renderer, render a URL, and close when done:
//
//	r, err := pdfrender.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	res := r.RenderPDF(ctx, "https://example.com/report.pdf", nil)
//	if !res.Success {
//	    log.Fatalf("%s: %s", res.Error.Type, res.Error.Message)
//	}
//	for _, p := range res.Pages {
//	    os.WriteFile(fmt.Sprintf("page-%d.png", p.Number), p.Data, 0644)
//	}
//
// RenderPDF never returns nil and never panics. A failed result carries a
// classified *RenderError whose Recoverable flag tells whether retrying
// with RetryRendering can help.
//
// # Method Chain
//
// Methods are tried in this order, each one falling back to the next:
//
//  1. pdfjs-canvas: parse the document and rasterize pages onto pooled canvases
//  2. native-browser: screenshot the headless browser's built-in viewer (go-rod)
//  3. server-conversion: POST to the configured conversion endpoint
//  4. image-based: download pre-rendered page images
//  5. download-fallback: offer the document itself; never fails
//
// The first method is chosen from learned history for similar documents, or
// from document analysis (size, encryption, complexity) when there is none.
//
// # Recovery
//
// Each failed attempt is classified (network, parsing, canvas, memory,
// timeout, authentication, corruption) and mapped to a strategy: retry,
// timeout extension, canvas recreation, memory cleanup, URL refresh or
// method fallback. Corruption errors and, by default, parsing errors are
// fatal. Every error is logged with its rendering id, stage and method.
//
// # Configuration
//
// Use functional options to customize the renderer:
//
//	r, err := pdfrender.New(
//	    pdfrender.WithLogger(logger),
//	    pdfrender.WithURLRefresh(signer.Refresh),
//	)
//
// Per-render options are passed via RenderOptions:
//
//	res := r.RenderPDF(ctx, url, &pdfrender.RenderOptions{
//	    Timeout:         30 * time.Second,
//	    PreferredMethod: pdfrender.MethodServerConversion,
//	    Watermark:       &pdfrender.Watermark{Text: "DRAFT"},
//	})
//
// # Browser Requirements
//
// The native-browser method requires Chrome/Chromium. The go-rod library
// automatically downloads a managed Chromium instance on first use
// (~/.cache/rod/browser/). For containers and CI environments, set
// PDFRENDER_BROWSER_NO_SANDBOX=true.
package pdfrender
