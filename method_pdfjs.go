package pdfrender

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/alnah/go-pdfrender/internal/canvas"
	"github.com/alnah/go-pdfrender/internal/config"
	"github.com/alnah/go-pdfrender/internal/doctype"
	"github.com/alnah/go-pdfrender/internal/logging"
	"github.com/alnah/go-pdfrender/internal/optimizer"
)

// US Letter in points, used when a page has no readable MediaBox.
const (
	defaultPageWidthPt  = 612
	defaultPageHeightPt = 792
)

// canvasRenderer rasterizes pages onto pooled canvases: it parses the
// document, draws each page's text runs and stamps the watermark.
type canvasRenderer struct {
	cfg      *config.Manager
	canvases *canvas.Manager
	pool     *optimizer.CanvasPool
	logger   *slog.Logger
}

var _ methodRunner = (*canvasRenderer)(nil)

// pageJob is one page to rasterize. Pages share one reader, so page
// parsing is serialized through parseMu.
type pageJob struct {
	number  int
	reader  *pdf.Reader
	parseMu *sync.Mutex
}

// load parses the page's content and size in points.
func (j pageJob) load() (content pdf.Content, w, h float64) {
	j.parseMu.Lock()
	defer j.parseMu.Unlock()
	page := j.reader.Page(j.number)
	w, h = mediaBox(page)
	return page.Content(), w, h
}

func (r *canvasRenderer) Render(ctx context.Context, rc *RenderContext) ([]Page, error) {
	if len(rc.Document) == 0 {
		return nil, atStage(StageFetching, fmt.Errorf("%w: document not loaded", ErrNoPages))
	}
	rc.report(StageParsing, 0)

	reader, err := openDocument(rc)
	if err != nil {
		return nil, atStage(StageParsing, err)
	}
	n := reader.NumPage()
	if n == 0 {
		return nil, atStage(StageParsing, fmt.Errorf("%w: document has no pages", ErrCorruptDocument))
	}

	cfg := r.cfg.Snapshot()
	scale := rasterScale(cfg.Rendering)
	limit := concurrentPages(rc)
	destroyAfterUse := strings.EqualFold(memoryStrategy(rc), doctype.MemoryAggressive)

	pages := make([]Page, n)
	var (
		done     int
		streamMu sync.Mutex
		parseMu  sync.Mutex
	)
	stream := rc.Options.OnPage != nil && streamingEnabled(rc)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := 1; i <= n; i++ {
		if gctx.Err() != nil {
			break
		}
		job := pageJob{number: i, reader: reader, parseMu: &parseMu}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := r.renderPage(rc, job, scale, destroyAfterUse)
			if err != nil {
				return err
			}
			pages[job.number-1] = p

			streamMu.Lock()
			done++
			rc.report(StageRendering, float64(done)/float64(n)*100)
			if stream {
				rc.Options.OnPage(p)
			}
			streamMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc.report(StageFinalizing, 100)
	return pages, nil
}

// renderPage draws one page and returns it encoded as PNG.
func (r *canvasRenderer) renderPage(rc *RenderContext, job pageJob, scale float64, destroyAfterUse bool) (p Page, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = atStage(StageParsing, fmt.Errorf("parsing page %d: %v", job.number, rec))
		}
	}()

	if r.canvases.CheckMemoryPressure() {
		r.canvases.CleanupUnusedCanvases()
		if r.canvases.CheckMemoryPressure() {
			stats := r.canvases.MemoryStats()
			return Page{}, atStage(StageRendering, fmt.Errorf("%w: %d canvases, %d bytes",
				ErrMemoryPressure, stats.TotalCanvases, stats.TotalMemoryUsage))
		}
	}

	content, wPt, hPt := job.load()
	w, h := int(wPt*scale+0.5), int(hPt*scale+0.5)
	c, err := r.pool.Acquire(w, h, rc.RenderingID)
	if err != nil {
		return Page{}, atStage(StageRendering, fmt.Errorf("page %d: %w", job.number, err))
	}
	ctx2d := r.canvases.GetContext(c)
	if ctx2d == nil {
		rc.setCanvas(c)
		return Page{}, atStage(StageRendering, fmt.Errorf("page %d: %w", job.number, canvas.ErrContextUnavailable))
	}
	defer func() {
		if destroyAfterUse {
			r.canvases.DestroyCanvas(c)
		}
		r.pool.Release(c)
	}()

	var text strings.Builder
	for _, t := range content.Text {
		size := t.FontSize
		if size <= 0 {
			size = canvas.DefaultFontSize
		}
		ctx2d.SetFontSize(size * scale)
		ctx2d.FillText(t.S, int(t.X*scale), h-int(t.Y*scale))
		text.WriteString(t.S)
	}
	canvas.DrawWatermark(ctx2d, rc.Options.Watermark, scale)

	data, err := c.EncodePNG()
	if err != nil {
		return Page{}, atStage(StageRendering, fmt.Errorf("page %d: %w", job.number, err))
	}
	r.logger.Log(context.Background(), logging.LevelVerbose, "page rasterized",
		"renderingId", rc.RenderingID, "page", job.number, "width", w, "height", h)
	return Page{
		Number: job.number,
		Width:  w,
		Height: h,
		Format: FormatPNG,
		Data:   data,
		Text:   text.String(),
	}, nil
}

// openDocument parses rc.Document, using the password for encrypted files.
func openDocument(rc *RenderContext) (reader *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("parsing pdf: %v", rec)
		}
	}()
	data := rc.Document
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return nil, fmt.Errorf("%w: missing %%PDF- header", ErrCorruptDocument)
	}
	if rc.Characteristics != nil && rc.Characteristics.IsEncrypted {
		if err := doctype.HandlePasswordProtected(rc.Options.PDFPassword); err != nil {
			return nil, err
		}
		pw := rc.Options.PDFPassword
		reader, err = pdf.NewReaderEncrypted(bytes.NewReader(data), int64(len(data)), func() string { return pw })
	} else {
		reader, err = pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	}
	if errors.Is(err, pdf.ErrInvalidPassword) {
		if rc.Options.PDFPassword == "" {
			return nil, doctype.ErrPasswordRequired
		}
		return nil, doctype.ErrPasswordInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("parsing pdf: %w", err)
	}
	return reader, nil
}

// mediaBox returns the page size in points.
func mediaBox(p pdf.Page) (w, h float64) {
	box := p.V.Key("MediaBox")
	if box.Len() == 4 {
		w = box.Index(2).Float64() - box.Index(0).Float64()
		h = box.Index(3).Float64() - box.Index(1).Float64()
	}
	if w <= 0 || h <= 0 {
		return defaultPageWidthPt, defaultPageHeightPt
	}
	return w, h
}

// rasterScale derives the pixel scale from the configured scale and quality.
func rasterScale(r config.RenderingConfig) float64 {
	s := r.Scale
	if s <= 0 {
		s = config.DefaultScale
	}
	switch r.Quality {
	case config.QualityLow:
		s = max(s/2, 0.5)
	case config.QualityMedium:
		s = max(s*0.75, 0.5)
	}
	return s
}

// concurrentPages returns the page concurrency limit for rc.
func concurrentPages(rc *RenderContext) int {
	if n := rc.Options.TypeSpecific.MaxConcurrentPages; n > 0 {
		return n
	}
	return doctype.DefaultConcurrentPages
}

func memoryStrategy(rc *RenderContext) string {
	if s := rc.Options.TypeSpecific.MemoryManagement; s != "" {
		return s
	}
	return doctype.MemoryStandard
}

func streamingEnabled(rc *RenderContext) bool {
	return rc.Options.TypeSpecific.EnableStreaming != nil && *rc.Options.TypeSpecific.EnableStreaming
}
