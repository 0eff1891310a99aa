package canvas

import (
	"image"
	"image/color"
	"image/draw"
	"sync"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// DefaultFontSize is the text size of a fresh Context, in pixels.
const DefaultFontSize = 16

// Context is a 2D drawing context bound to one canvas. It is not safe for
// concurrent use; each render operation uses its own Context.
type Context struct {
	canvas *Canvas
	state  drawState
	stack  []drawState
}

type drawState struct {
	fill     color.Color
	alpha    float64
	fontSize float64
}

func newContext(c *Canvas) *Context {
	return &Context{
		canvas: c,
		state:  drawState{fill: color.Black, alpha: 1, fontSize: DefaultFontSize},
	}
}

// Canvas returns the canvas this context draws on.
func (ctx *Context) Canvas() *Canvas { return ctx.canvas }

// Save pushes the current fill, alpha and font size.
func (ctx *Context) Save() {
	ctx.stack = append(ctx.stack, ctx.state)
}

// Restore pops the last saved state. It reports false when nothing was saved
// or the canvas has been destroyed.
func (ctx *Context) Restore() bool {
	if len(ctx.stack) == 0 || ctx.canvas.Width() == 0 {
		return false
	}
	ctx.state = ctx.stack[len(ctx.stack)-1]
	ctx.stack = ctx.stack[:len(ctx.stack)-1]
	return true
}

// SetFillColor sets the color used by FillRect and FillText.
func (ctx *Context) SetFillColor(c color.Color) {
	if c == nil {
		c = color.Black
	}
	ctx.state.fill = c
}

// SetGlobalAlpha sets the opacity applied to every drawing operation.
// Values are clamped to [0, 1].
func (ctx *Context) SetGlobalAlpha(a float64) {
	ctx.state.alpha = min(max(a, 0), 1)
}

// SetFontSize sets the text size in pixels. Non-positive sizes are ignored.
func (ctx *Context) SetFontSize(px float64) {
	if px > 0 {
		ctx.state.fontSize = px
	}
}

// ClearRect makes r fully transparent.
func (ctx *Context) ClearRect(r image.Rectangle) bool {
	return ctx.withImage(func(img *image.RGBA) {
		draw.Draw(img, r.Intersect(img.Bounds()), image.Transparent, image.Point{}, draw.Src)
	})
}

// FillRect paints r with the fill color at the current alpha.
func (ctx *Context) FillRect(r image.Rectangle) bool {
	src := image.NewUniform(ctx.state.fill)
	mask := image.NewUniform(color.Alpha{A: alpha8(ctx.state.alpha)})
	return ctx.withImage(func(img *image.RGBA) {
		draw.DrawMask(img, r.Intersect(img.Bounds()), src, image.Point{}, mask, image.Point{}, draw.Over)
	})
}

// DrawImage scales src into dst.
func (ctx *Context) DrawImage(src image.Image, dst image.Rectangle) bool {
	if src == nil || dst.Empty() {
		return false
	}
	var opts *xdraw.Options
	if ctx.state.alpha < 1 {
		opts = &xdraw.Options{SrcMask: image.NewUniform(color.Alpha{A: alpha8(ctx.state.alpha)})}
	}
	return ctx.withImage(func(img *image.RGBA) {
		xdraw.CatmullRom.Scale(img, dst, src, src.Bounds(), xdraw.Over, opts)
	})
}

// FillText draws text with its baseline starting at (x, y).
func (ctx *Context) FillText(text string, x, y int) bool {
	face, err := newFace(ctx.state.fontSize)
	if err != nil {
		return false
	}
	defer face.Close()

	src := image.NewUniform(withAlpha(ctx.state.fill, ctx.state.alpha))
	return ctx.withImage(func(img *image.RGBA) {
		d := font.Drawer{Dst: img, Src: src, Face: face, Dot: fixed.P(x, y)}
		d.DrawString(text)
	})
}

// MeasureText returns the advance width of text at the current font size.
func (ctx *Context) MeasureText(text string) int {
	face, err := newFace(ctx.state.fontSize)
	if err != nil {
		return 0
	}
	defer face.Close()
	return font.MeasureString(face, text).Ceil()
}

// withImage runs fn with the canvas pixels locked. It reports false when
// the canvas has been destroyed.
func (ctx *Context) withImage(fn func(*image.RGBA)) bool {
	c := ctx.canvas
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.img == nil {
		return false
	}
	fn(c.img)
	return true
}

func alpha8(a float64) uint8 {
	return uint8(min(max(a, 0), 1)*255 + 0.5)
}

func withAlpha(c color.Color, a float64) color.Color {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	n.A = uint8(float64(n.A)*min(max(a, 0), 1) + 0.5)
	return n
}

var parsedFont = sync.OnceValues(func() (*opentype.Font, error) {
	return opentype.Parse(goregular.TTF)
})

// newFace returns a face at size px. Faces hold glyph buffers and are not
// shared between goroutines.
func newFace(px float64) (font.Face, error) {
	f, err := parsedFont()
	if err != nil {
		return nil, err
	}
	return opentype.NewFace(f, &opentype.FaceOptions{Size: px, DPI: 72, Hinting: font.HintingNone})
}
