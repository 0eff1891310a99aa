package pdfrender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder for page images
	_ "image/png"  // register decoder for page images
	"net/url"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/alnah/go-pdfrender/internal/config"
	"github.com/alnah/go-pdfrender/internal/netx"
)

// remoteFetcher is the subset of netx.Client the remote methods need.
type remoteFetcher interface {
	Get(ctx context.Context, rawURL string, onProgress netx.ProgressFunc) (*netx.Response, error)
	PostJSON(ctx context.Context, rawURL string, in, out any) error
}

var (
	_ remoteFetcher = (*netx.Client)(nil)
	_ methodRunner  = (*serverRenderer)(nil)
	_ methodRunner  = (*imageRenderer)(nil)
	_ methodRunner  = downloadRenderer{}
)

// conversionRequest is the body posted to the conversion endpoint.
type conversionRequest struct {
	URL      string  `json:"url"`
	Quality  string  `json:"quality"`
	Scale    float64 `json:"scale"`
	Password string  `json:"password,omitempty"`
}

// remotePage is one page as described by the conversion or image endpoint.
type remotePage struct {
	Number int    `json:"number"`
	URL    string `json:"url,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Format string `json:"format,omitempty"`
	Data   []byte `json:"data,omitempty"` // base64 in JSON
}

// pageManifest lists the pages of a converted document.
type pageManifest struct {
	Pages []remotePage `json:"pages"`
}

// serverRenderer asks the conversion endpoint to render the document.
type serverRenderer struct {
	cfg   *config.Manager
	fetch remoteFetcher
}

func (r *serverRenderer) Render(ctx context.Context, rc *RenderContext) ([]Page, error) {
	cfg := r.cfg.Snapshot()
	if cfg.Endpoints.Conversion == "" {
		return nil, fmt.Errorf("%w: conversion", ErrEndpointMissing)
	}
	rc.report(StageRendering, 0)

	req := conversionRequest{
		URL:      rc.URL,
		Quality:  cfg.Rendering.Quality,
		Scale:    rasterScale(cfg.Rendering),
		Password: rc.Options.PDFPassword,
	}
	var manifest pageManifest
	if err := r.fetch.PostJSON(ctx, cfg.Endpoints.Conversion, req, &manifest); err != nil {
		return nil, atStage(StageFetching, err)
	}
	if len(manifest.Pages) == 0 {
		return nil, fmt.Errorf("%w: conversion returned an empty page list", ErrNoPages)
	}

	pages := make([]Page, 0, len(manifest.Pages))
	for i, rp := range sortedPages(manifest.Pages) {
		if len(rp.Data) == 0 && rp.URL == "" {
			return nil, fmt.Errorf("%w: page %d has neither data nor url", ErrInvalidImage, rp.Number)
		}
		p := Page{
			Number: rp.Number,
			Width:  rp.Width,
			Height: rp.Height,
			Format: rp.Format,
			Data:   rp.Data,
			URL:    rp.URL,
		}
		if len(rp.Data) > 0 {
			format, w, h, err := decodeImageConfig(rp.Data)
			if err != nil {
				return nil, fmt.Errorf("page %d: %w", rp.Number, err)
			}
			p.Format, p.Width, p.Height = format, w, h
		}
		pages = append(pages, p)
		rc.report(StageRendering, float64(i+1)/float64(len(manifest.Pages))*100)
	}
	return pages, nil
}

// imageRenderer downloads pre-rendered page images listed by the image
// endpoint.
type imageRenderer struct {
	cfg   *config.Manager
	fetch remoteFetcher
}

func (r *imageRenderer) Render(ctx context.Context, rc *RenderContext) ([]Page, error) {
	cfg := r.cfg.Snapshot()
	if cfg.Endpoints.Images == "" {
		return nil, fmt.Errorf("%w: images", ErrEndpointMissing)
	}
	manifestURL, err := withQuery(cfg.Endpoints.Images, "url", rc.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: images: %v", ErrEndpointMissing, err)
	}
	resp, err := r.fetch.Get(ctx, manifestURL, nil)
	if err != nil {
		return nil, atStage(StageFetching, err)
	}
	var manifest pageManifest
	if err := json.Unmarshal(resp.Body, &manifest); err != nil {
		return nil, fmt.Errorf("%w: decoding image manifest: %v", ErrInvalidImage, err)
	}
	if len(manifest.Pages) == 0 {
		return nil, fmt.Errorf("%w: image manifest is empty", ErrNoPages)
	}

	list := sortedPages(manifest.Pages)
	pages := make([]Page, len(list))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrentPages(rc))
	for i, rp := range list {
		g.Go(func() error {
			if rp.URL == "" {
				return fmt.Errorf("%w: page %d has no url", ErrInvalidImage, rp.Number)
			}
			img, err := r.fetch.Get(gctx, rp.URL, nil)
			if err != nil {
				return atStage(StageFetching, err)
			}
			format, w, h, err := decodeImageConfig(img.Body)
			if err != nil {
				return fmt.Errorf("page %d: %w", rp.Number, err)
			}
			pages[i] = Page{Number: rp.Number, Width: w, Height: h, Format: format, Data: img.Body, URL: rp.URL}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	rc.report(StageRendering, 100)
	return pages, nil
}

// downloadRenderer offers the document itself. It cannot fail.
type downloadRenderer struct{}

func (downloadRenderer) Render(_ context.Context, rc *RenderContext) ([]Page, error) {
	rc.report(StageFinalizing, 100)
	return []Page{{Number: 1, Format: FormatDownload, URL: rc.URL}}, nil
}

// decodeImageConfig validates an encoded page image.
func decodeImageConfig(data []byte) (format string, w, h int, err error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", 0, 0, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	return format, cfg.Width, cfg.Height, nil
}

// sortedPages orders pages by number, numbering unnumbered ones by position.
func sortedPages(in []remotePage) []remotePage {
	out := slices.Clone(in)
	for i := range out {
		if out[i].Number <= 0 {
			out[i].Number = i + 1
		}
	}
	slices.SortStableFunc(out, func(a, b remotePage) int { return a.Number - b.Number })
	return out
}

// withQuery returns endpoint with key=value added to its query.
func withQuery(endpoint, key, value string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
