// Package doctype samples a document's leading bytes to classify it and
// derives per-type rendering profiles (timeouts, memory strategy, streaming).
package doctype

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/alnah/go-pdfrender/internal/config"
	"github.com/alnah/go-pdfrender/internal/logging"
	"github.com/alnah/go-pdfrender/internal/netx"
	"github.com/alnah/go-pdfrender/internal/types"
)

// Classification thresholds.
const (
	SampleSize      = 8 << 10
	SmallThreshold  = 1 << 20
	MediumThreshold = 5 << 20
	LargeThreshold  = 10 << 20
	ManyPages       = 50
)

// Sentinel errors.
var (
	ErrPasswordRequired = errors.New("document is password protected: password required")
	ErrPasswordInvalid  = errors.New("document password is invalid")
)

// Complexity is a coarse rendering complexity class.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Characteristics describes what analysis learned about a document.
type Characteristics struct {
	Type        types.DocumentType `json:"type"`
	Size        int64              `json:"size"`
	HasImages   bool               `json:"hasImages"`
	IsEncrypted bool               `json:"isEncrypted"`
	HeaderValid bool               `json:"headerValid"`
	Version     string             `json:"version,omitempty"`
	PageCount   int                `json:"pageCount"` // 0 when unknown
	Complexity  Complexity         `json:"complexity"`
}

// fetcher is the subset of netx.Client analysis needs.
type fetcher interface {
	Head(ctx context.Context, rawURL string) (*netx.Response, error)
	GetRange(ctx context.Context, rawURL string, start, end int64) (*netx.Response, error)
}

var _ fetcher = (*netx.Client)(nil)

// Handler analyzes documents and hands out tuned profiles.
type Handler struct {
	fetch  fetcher
	cfg    *config.Manager
	logger *slog.Logger
}

// NewHandler returns a Handler fetching through f.
func NewHandler(f fetcher, cfg *config.Manager, logger *slog.Logger) *Handler {
	if cfg == nil {
		cfg = config.NewManager(nil, logger)
	}
	return &Handler{fetch: f, cfg: cfg, logger: logging.OrDiscard(logger)}
}

// Analyze classifies the document at url. When initialData is non-nil it is
// treated as the complete document and no request is made. Any fetch failure
// yields a corrupted classification with size 0.
func (h *Handler) Analyze(ctx context.Context, url string, initialData []byte) Characteristics {
	if initialData != nil {
		c := Classify(head(initialData), int64(len(initialData)))
		if c.HeaderValid {
			if n, encrypted := countPages(initialData); n > 0 || encrypted {
				c.PageCount = n
				c.IsEncrypted = c.IsEncrypted || encrypted
				c = finish(c)
			}
		}
		return c
	}

	sample, size, err := h.sample(ctx, url)
	if err != nil {
		h.logger.Warn("document analysis failed, treating as corrupted", "error", err)
		return Characteristics{Type: types.DocCorrupted, Complexity: ComplexityLow}
	}
	c := Classify(sample, size)
	if c.HeaderValid && int64(len(sample)) == size && size > 0 {
		if n, encrypted := countPages(sample); n > 0 {
			c.PageCount = n
			c.IsEncrypted = c.IsEncrypted || encrypted
			c = finish(c)
		}
	}
	h.logger.Debug("document analyzed",
		"type", c.Type, "size", c.Size, "hasImages", c.HasImages,
		"encrypted", c.IsEncrypted, "pages", c.PageCount, "complexity", c.Complexity)
	return c
}

// sample returns up to SampleSize leading bytes and the total size.
// HEAD provides the size; when HEAD is rejected the Range response does.
func (h *Handler) sample(ctx context.Context, url string) ([]byte, int64, error) {
	if h.fetch == nil {
		return nil, 0, errors.New("no fetcher configured")
	}

	size := int64(-1)
	if resp, err := h.fetch.Head(ctx, url); err == nil {
		size = resp.Length
	} else {
		if ctx.Err() != nil {
			return nil, 0, err
		}
		h.logger.Debug("HEAD rejected, falling back to range request", "error", err)
	}

	resp, err := h.fetch.GetRange(ctx, url, 0, SampleSize-1)
	if err != nil {
		return nil, 0, err
	}
	body := resp.Body
	if size < 0 {
		switch {
		case resp.StatusCode == http.StatusPartialContent:
			size = resp.TotalSize()
		case resp.StatusCode == http.StatusOK:
			size = int64(len(body))
		}
	}
	if size < 0 {
		size = int64(len(body))
	}
	if resp.StatusCode == http.StatusOK && int64(len(body)) == size {
		// Range ignored: the whole document is in hand.
		return body, size, nil
	}
	return head(body), size, nil
}

func head(data []byte) []byte {
	if len(data) > SampleSize {
		return data[:SampleSize]
	}
	return data
}

var (
	encryptMarkers = [][]byte{[]byte("/Encrypt"), []byte("/Filter/Standard"), []byte("/Filter /Standard")}
	imageMarkers   = [][]byte{
		[]byte("/Image"), []byte("/DCTDecode"), []byte("/FlateDecode"),
		[]byte("/CCITTFaxDecode"), []byte("/JBIG2Decode"),
	}
	versionPattern = regexp.MustCompile(`^%PDF-(\d\.\d)`)
	countPattern   = regexp.MustCompile(`/Count\s+(\d+)`)
	linearPattern  = regexp.MustCompile(`/Linearized\b[^>]*?/N\s+(\d+)`)
)

// Classify derives characteristics from a leading sample and a total size.
func Classify(sample []byte, size int64) Characteristics {
	c := Characteristics{Size: max(size, 0)}
	if m := versionPattern.FindSubmatch(sample); m != nil {
		c.HeaderValid = true
		c.Version = string(m[1])
	} else if bytes.HasPrefix(sample, []byte("%PDF-")) {
		c.HeaderValid = true
	}
	for _, m := range encryptMarkers {
		if bytes.Contains(sample, m) {
			c.IsEncrypted = true
			break
		}
	}
	for _, m := range imageMarkers {
		if bytes.Contains(sample, m) {
			c.HasImages = true
			break
		}
	}
	c.PageCount = estimatePages(sample)
	return finish(c)
}

// finish assigns Type and Complexity from the other fields.
func finish(c Characteristics) Characteristics {
	switch {
	case !c.HeaderValid:
		c.Type = types.DocCorrupted
	case c.IsEncrypted:
		c.Type = types.DocPasswordProtected
	case c.Size < SmallThreshold:
		c.Type = types.DocSmall
	case c.Size > LargeThreshold:
		c.Type = types.DocLarge
	case c.HasImages:
		c.Type = types.DocComplex
	default:
		c.Type = types.DocStandard
	}
	c.Complexity = Score(c.Size, c.HasImages, c.PageCount)
	return c
}

// Score weighs size, images and page count into a complexity class.
func Score(size int64, hasImages bool, pageCount int) Complexity {
	score := 0
	switch {
	case size > LargeThreshold:
		score += 2
	case size > MediumThreshold:
		score++
	}
	if hasImages {
		score += 2
	}
	if pageCount > ManyPages {
		score++
	}
	switch {
	case score >= 4:
		return ComplexityHigh
	case score >= 2:
		return ComplexityMedium
	default:
		return ComplexityLow
	}
}

// estimatePages reads a page count from a linearization dictionary or the
// largest /Count in the sample. It returns 0 when neither is present.
func estimatePages(sample []byte) int {
	if m := linearPattern.FindSubmatch(sample); m != nil {
		if n, err := strconv.Atoi(string(m[1])); err == nil {
			return n
		}
	}
	best := 0
	for _, m := range countPattern.FindAllSubmatch(sample, -1) {
		if n, err := strconv.Atoi(string(m[1])); err == nil && n > best {
			best = n
		}
	}
	return best
}

// countPages parses a complete document. encrypted is true when the parser
// refused it for lack of a password.
func countPages(data []byte) (n int, encrypted bool) {
	defer func() {
		if r := recover(); r != nil {
			n, encrypted = 0, false
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, errors.Is(err, pdf.ErrInvalidPassword)
	}
	return r.NumPage(), false
}

// VerifyPassword opens a complete document with password.
func VerifyPassword(data []byte, password string) (err error) {
	if password == "" {
		return ErrPasswordRequired
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("opening document: %v", r)
		}
	}()
	_, err = pdf.NewReaderEncrypted(bytes.NewReader(data), int64(len(data)), func() string { return password })
	if errors.Is(err, pdf.ErrInvalidPassword) {
		return ErrPasswordInvalid
	}
	return err
}

// HandlePasswordProtected checks that a password was supplied for an
// encrypted document. Without one rendering must not proceed.
func HandlePasswordProtected(password string) error {
	if password == "" {
		return ErrPasswordRequired
	}
	return nil
}

// Memory management strategies.
const (
	MemoryConservative = "conservative"
	MemoryStandard     = "standard"
	MemoryAggressive   = "aggressive"
)

// Profile holds rendering options tuned for one document type.
type Profile struct {
	DocumentType       types.DocumentType `json:"documentType"`
	Timeout            time.Duration      `json:"timeout"`
	MemoryManagement   string             `json:"memoryManagement"`
	EnableStreaming    bool               `json:"enableStreaming"`
	MaxConcurrentPages int                `json:"maxConcurrentPages"`
	RequiresPassword   bool               `json:"requiresPassword"`
}

// DefaultConcurrentPages bounds page rendering for types without a
// specific limit.
const DefaultConcurrentPages = 4

// OptimizedOptions returns the profile for t.
func (h *Handler) OptimizedOptions(t types.DocumentType) Profile {
	return OptimizedOptions(t, h.cfg.Snapshot().Rendering.Timeout())
}

// OptimizedOptions returns the profile for t, using standard as the
// timeout for types without a specific one.
func OptimizedOptions(t types.DocumentType, standard time.Duration) Profile {
	p := Profile{
		DocumentType:       t,
		Timeout:            standard,
		MemoryManagement:   MemoryStandard,
		MaxConcurrentPages: DefaultConcurrentPages,
	}
	switch t {
	case types.DocSmall:
		p.Timeout = 5 * time.Second
		p.MemoryManagement = MemoryConservative
	case types.DocLarge:
		p.Timeout = 60 * time.Second
		p.MemoryManagement = MemoryAggressive
		p.EnableStreaming = true
		p.MaxConcurrentPages = 2
	case types.DocComplex:
		p.Timeout = 45 * time.Second
		p.MemoryManagement = MemoryAggressive
		p.MaxConcurrentPages = 1
	case types.DocPasswordProtected:
		p.RequiresPassword = true
	case types.DocCorrupted:
		p.MemoryManagement = MemoryConservative
		p.MaxConcurrentPages = 1
	}
	return p
}
