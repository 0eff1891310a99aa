package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	pdfrender "github.com/alnah/go-pdfrender"
	"github.com/alnah/go-pdfrender/internal/fileutil"
)

// File permission constants.
const (
	dirPermissions  = 0o750 // rwxr-x---: owner full, group read+execute
	filePermissions = 0o644 // rw-r--r--: owner read+write, others read
)

// manifestName is written next to the pages of every document.
const manifestName = "manifest.json"

// renderJob is one document of a batch.
type renderJob struct {
	Input  string // as given on the command line
	Target string // URL handed to the renderer
	Name   string // output subdirectory, unique within the batch
}

// planJobs resolves inputs to URLs and assigns unique output names.
func planJobs(inputs []string) ([]renderJob, error) {
	jobs := make([]renderJob, 0, len(inputs))
	seen := make(map[string]int, len(inputs))
	for _, in := range inputs {
		target, err := fileutil.ToTarget(in)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrNoInput, in, err)
		}
		name := fileutil.OutputName(target)
		seen[name]++
		if n := seen[name]; n > 1 {
			name = fmt.Sprintf("%s-%d", name, n)
		}
		jobs = append(jobs, renderJob{Input: in, Target: target, Name: name})
	}
	return jobs, nil
}

// renderOutcome holds the result of a single document.
type renderOutcome struct {
	Job      renderJob
	Dir      string
	Result   *pdfrender.RenderResult
	Written  int
	Err      error
	Duration time.Duration
}

// batchParams holds the settings shared by every job of a batch.
type batchParams struct {
	workers int
	outDir  string
	stream  bool
	now     func() time.Time
}

// documentRenderer is the part of the Renderer the batch uses.
type documentRenderer interface {
	RenderPDF(ctx context.Context, url string, opts *pdfrender.RenderOptions) *pdfrender.RenderResult
}

// Compile-time interface implementation check.
var _ documentRenderer = (*pdfrender.Renderer)(nil)

// renderBatch renders jobs concurrently, at most params.workers at a time.
// Outcomes keep the order of jobs.
func renderBatch(ctx context.Context, r documentRenderer, jobs []renderJob, opts *pdfrender.RenderOptions, params batchParams) []renderOutcome {
	if len(jobs) == 0 {
		return nil
	}
	if params.now == nil {
		params.now = time.Now
	}

	outcomes := make([]renderOutcome, len(jobs))
	var g errgroup.Group
	g.SetLimit(max(1, params.workers))
	for i, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = renderOutcome{Job: job, Err: err}
				return nil
			}
			outcomes[i] = renderDocument(ctx, r, job, opts, params)
			return nil
		})
	}
	_ = g.Wait() // jobs report through outcomes
	return outcomes
}

// renderDocument renders one job and writes its pages and manifest.
func renderDocument(ctx context.Context, r documentRenderer, job renderJob, opts *pdfrender.RenderOptions, params batchParams) renderOutcome {
	start := params.now()
	out := renderOutcome{Job: job, Dir: filepath.Join(params.outDir, job.Name)}

	if err := ensureDir(out.Dir); err != nil {
		out.Err = err
		return out
	}

	pw := &pageWriter{dir: out.Dir, written: make(map[int]string)}
	var jobOpts pdfrender.RenderOptions
	if opts != nil {
		jobOpts = *opts
	}
	if params.stream {
		jobOpts.OnPage = pw.write
	}

	res := r.RenderPDF(ctx, job.Target, &jobOpts)
	out.Result = res
	out.Duration = params.now().Sub(start)

	if res.Success {
		for _, p := range res.Pages {
			pw.write(p)
		}
	}
	out.Written = pw.count()

	switch {
	case pw.err != nil:
		out.Err = pw.err
	case !res.Success && res.Error != nil:
		out.Err = res.Error
	case !res.Success:
		out.Err = ErrRenderFailed
	}

	if err := writeManifest(out.Dir, job, res, pw.files()); err != nil && out.Err == nil {
		out.Err = err
	}
	return out
}

// pageWriter writes raster pages once each, whether they arrive through
// streaming or with the final result.
type pageWriter struct {
	dir string

	mu      sync.Mutex
	written map[int]string
	err     error
}

func (w *pageWriter) write(p pdfrender.Page) {
	ext := pageExtension(p.Format)
	if len(p.Data) == 0 || ext == "" {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, done := w.written[p.Number]; done || w.err != nil {
		return
	}
	name := fmt.Sprintf("page-%03d%s", p.Number, ext)
	if err := os.WriteFile(filepath.Join(w.dir, name), p.Data, filePermissions); err != nil {
		w.err = fmt.Errorf("%w: %v", ErrWriteOutput, err)
		return
	}
	w.written[p.Number] = name
}

func (w *pageWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.written)
}

func (w *pageWriter) files() map[int]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	files := make(map[int]string, len(w.written))
	for k, v := range w.written {
		files[k] = v
	}
	return files
}

func pageExtension(format string) string {
	switch format {
	case pdfrender.FormatPNG:
		return ".png"
	case pdfrender.FormatJPEG:
		return ".jpg"
	default:
		return ""
	}
}

// manifest describes a rendered document. Page data lives in the files
// listed next to each page.
type manifest struct {
	Input           string                     `json:"input"`
	URL             string                     `json:"url"`
	RenderingID     string                     `json:"renderingId"`
	Success         bool                       `json:"success"`
	Method          string                     `json:"method"`
	Attempts        int                        `json:"attempts"`
	Duration        string                     `json:"duration"`
	Pages           []manifestPage             `json:"pages"`
	Error           *pdfrender.RenderError     `json:"error,omitempty"`
	Characteristics *pdfrender.Characteristics `json:"characteristics,omitempty"`
	Diagnostics     *pdfrender.Diagnostics     `json:"diagnostics,omitempty"`
}

type manifestPage struct {
	Number int    `json:"number"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Format string `json:"format"`
	File   string `json:"file,omitempty"`
	URL    string `json:"url,omitempty"`
	Text   string `json:"text,omitempty"`
}

func writeManifest(dir string, job renderJob, res *pdfrender.RenderResult, files map[int]string) error {
	m := manifest{
		Input:           job.Input,
		URL:             job.Target,
		RenderingID:     res.RenderingID,
		Success:         res.Success,
		Method:          res.Method.String(),
		Attempts:        res.Attempts,
		Duration:        res.Duration.Round(time.Millisecond).String(),
		Pages:           make([]manifestPage, 0, len(res.Pages)),
		Error:           res.Error,
		Characteristics: res.Characteristics,
		Diagnostics:     res.Diagnostics,
	}
	for _, p := range res.Pages {
		m.Pages = append(m.Pages, manifestPage{
			Number: p.Number,
			Width:  p.Width,
			Height: p.Height,
			Format: p.Format,
			File:   files[p.Number],
			URL:    p.URL,
			Text:   p.Text,
		})
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding manifest: %v", ErrWriteOutput, err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), append(data, '\n'), filePermissions); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteOutput, err)
	}
	return nil
}

// printOutcomes prints batch results and returns the failure count.
func printOutcomes(outcomes []renderOutcome, quiet, verbose bool, env *Environment) int {
	var succeeded, failed int

	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			fmt.Fprintf(env.Stderr, "FAILED %s: %v\n", o.Job.Input, o.Err)
			continue
		}

		succeeded++
		if quiet {
			continue
		}

		switch {
		case verbose:
			fmt.Fprintf(env.Stdout, "%s -> %s (%d pages, %s, %d attempts, %v)\n",
				o.Job.Input, o.Dir, o.Written, o.Result.Method, o.Result.Attempts, o.Duration.Round(time.Millisecond))
		case o.Result.DownloadOnly():
			fmt.Fprintf(env.Stdout, "Created %s (download only)\n", o.Dir)
		default:
			fmt.Fprintf(env.Stdout, "Created %s (%d pages)\n", o.Dir, o.Written)
		}
	}

	if !quiet && len(outcomes) > 1 {
		fmt.Fprintf(env.Stdout, "\n%d succeeded, %d failed\n", succeeded, failed)
	}

	return failed
}
