// Package canvas manages raster drawing surfaces used for page rendering.
//
// The Manager owns a registry of canvases and accounts for their memory as
// width*height*4 bytes each. Best-effort operations (clear, destroy, cleanup)
// report their outcome as a boolean or count and never return an error:
// whatever happens, the canvas is left unusable or empty, never half-freed.
package canvas

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"sync"
	"time"
)

// Browser-equivalent surface limits. Canvases larger than this cannot
// provide a drawing context.
const (
	MaxDimension = 32_767
	MaxArea      = 268_435_456
	BytesPerPx   = 4
)

// Sentinel errors.
var (
	ErrContextUnavailable = errors.New("canvas 2d context unavailable")
	ErrCanvasTooLarge     = errors.New("canvas exceeds maximum size")
	ErrCanvasMemory       = errors.New("canvas memory limit exceeded")
	ErrCanvasDestroyed    = errors.New("canvas destroyed")
)

// Canvas is one RGBA drawing surface. The zero-sized state after Destroy is
// permanent; use Manager.RecreateCanvas to get a usable replacement.
type Canvas struct {
	id   uint64
	size int64 // bytes accounted at creation

	mu     sync.Mutex
	width  int
	height int
	img    *image.RGBA

	// guarded by Manager.mu
	lastUsed time.Time
	inUse    bool
	owner    string
}

// ID returns the registry id of c.
func (c *Canvas) ID() uint64 { return c.id }

// Width returns the current width, 0 once destroyed.
func (c *Canvas) Width() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width
}

// Height returns the current height, 0 once destroyed.
func (c *Canvas) Height() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// Bytes returns the memory accounted for c.
func (c *Canvas) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return surfaceBytes(c.width, c.height)
}

// Snapshot returns a copy of the pixels, or nil once destroyed.
func (c *Canvas) Snapshot() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.img == nil {
		return nil
	}
	out := image.NewRGBA(c.img.Bounds())
	copy(out.Pix, c.img.Pix)
	return out
}

// EncodePNG writes the current pixels as PNG.
func (c *Canvas) EncodePNG() ([]byte, error) {
	snap := c.Snapshot()
	if snap == nil {
		return nil, ErrCanvasDestroyed
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, snap); err != nil {
		return nil, fmt.Errorf("encoding canvas: %w", err)
	}
	return buf.Bytes(), nil
}

// wipe zeroes the dimensions and drops the pixel buffer.
func (c *Canvas) wipe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.width, c.height = 0, 0
	c.img = nil
}

// fill paints the whole surface with col.
func (c *Canvas) fill(col color.Color) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.img == nil {
		return false
	}
	draw.Draw(c.img, c.img.Bounds(), image.NewUniform(col), image.Point{}, draw.Src)
	return true
}

func surfaceBytes(w, h int) int64 {
	return int64(w) * int64(h) * BytesPerPx
}

// validSize reports whether a w×h surface can hold a drawing context.
func validSize(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrContextUnavailable, w, h)
	}
	if w > MaxDimension || h > MaxDimension || int64(w)*int64(h) > MaxArea {
		return fmt.Errorf("%w: %dx%d", ErrCanvasTooLarge, w, h)
	}
	return nil
}
