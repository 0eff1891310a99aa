package canvas

import (
	"cmp"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"
)

// Watermark positions.
const (
	PositionCenter      = "center"
	PositionTopLeft     = "top-left"
	PositionTopRight    = "top-right"
	PositionBottomLeft  = "bottom-left"
	PositionBottomRight = "bottom-right"
)

// Watermark defaults.
const (
	DefaultWatermarkColor    = "#888888"
	DefaultWatermarkOpacity  = 0.15
	DefaultWatermarkFontSize = 48
	watermarkMargin          = 24
)

var ErrInvalidColor = errors.New("invalid hex color")

// Watermark is text stamped over a rendered page.
type Watermark struct {
	Text     string  `json:"text" yaml:"text"`
	Opacity  float64 `json:"opacity,omitempty" yaml:"opacity"`   // 0.0 to 1.0
	Position string  `json:"position,omitempty" yaml:"position"` // center, top-left, ...
	FontSize float64 `json:"fontSize,omitempty" yaml:"fontSize"` // pixels at scale 1
	Color    string  `json:"color,omitempty" yaml:"color"`       // #RGB or #RRGGBB
}

// Validate checks the color and position.
func (w *Watermark) Validate() error {
	if w == nil {
		return nil
	}
	if w.Color != "" {
		if _, err := ParseHexColor(w.Color); err != nil {
			return err
		}
	}
	switch w.Position {
	case "", PositionCenter, PositionTopLeft, PositionTopRight, PositionBottomLeft, PositionBottomRight:
	default:
		return fmt.Errorf("invalid watermark position %q", w.Position)
	}
	if w.Opacity < 0 || w.Opacity > 1 {
		return fmt.Errorf("watermark opacity %g out of range [0, 1]", w.Opacity)
	}
	return nil
}

// DrawWatermark stamps w onto the context's canvas, scaling the font size by
// scale. It reports false when there is nothing to draw or the canvas is gone.
func DrawWatermark(ctx *Context, w *Watermark, scale float64) bool {
	if ctx == nil || w == nil || strings.TrimSpace(w.Text) == "" {
		return false
	}
	col, err := ParseHexColor(cmp.Or(w.Color, DefaultWatermarkColor))
	if err != nil {
		col, _ = ParseHexColor(DefaultWatermarkColor)
	}
	opacity := w.Opacity
	if opacity == 0 {
		opacity = DefaultWatermarkOpacity
	}
	size := w.FontSize
	if size <= 0 {
		size = DefaultWatermarkFontSize
	}
	if scale > 0 {
		size *= scale
	}

	ctx.Save()
	defer ctx.Restore()
	ctx.SetFillColor(col)
	ctx.SetGlobalAlpha(opacity)
	ctx.SetFontSize(size)

	cw, ch := ctx.Canvas().Width(), ctx.Canvas().Height()
	tw := ctx.MeasureText(w.Text)
	x, y := watermarkOrigin(w.Position, cw, ch, tw, int(size))
	return ctx.FillText(w.Text, x, y)
}

// watermarkOrigin returns the text baseline origin for a position.
func watermarkOrigin(pos string, cw, ch, tw, size int) (int, int) {
	m := watermarkMargin
	switch pos {
	case PositionTopLeft:
		return m, m + size
	case PositionTopRight:
		return cw - tw - m, m + size
	case PositionBottomLeft:
		return m, ch - m
	case PositionBottomRight:
		return cw - tw - m, ch - m
	default:
		return (cw - tw) / 2, (ch + size/2) / 2
	}
}

// ParseHexColor parses #RGB or #RRGGBB.
func ParseHexColor(s string) (color.NRGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return color.NRGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// Bounds returns the canvas rectangle, empty once destroyed.
func (c *Canvas) Bounds() image.Rectangle {
	return image.Rect(0, 0, c.Width(), c.Height())
}
