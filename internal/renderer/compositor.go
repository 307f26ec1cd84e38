package renderer

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/ivlev/faceless/internal/effects"
	"github.com/ivlev/faceless/internal/source"
	"github.com/ivlev/faceless/internal/system"
)

// Default canvas size.
const (
	DefaultWidth  = 1280
	DefaultHeight = 720
)

// Compositor owns the drawing surface that captured frames are taken from.
// It is not safe for concurrent use.
type Compositor struct {
	canvas *image.RGBA
	scaler xdraw.Scaler
	bg     *image.Uniform
}

// NewCompositor creates a black canvas of the given size. Non-positive
// dimensions fall back to the defaults.
func NewCompositor(width, height int) *Compositor {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	c := &Compositor{
		canvas: image.NewRGBA(image.Rect(0, 0, width, height)),
		scaler: xdraw.ApproxBiLinear,
		bg:     image.NewUniform(color.Black),
	}
	c.clear()
	return c
}

// SetScaler replaces the interpolation used to draw frames, e.g.
// xdraw.CatmullRom for offline renders.
func (c *Compositor) SetScaler(s xdraw.Scaler) {
	if s != nil {
		c.scaler = s
	}
}

// Size returns the canvas dimensions.
func (c *Compositor) Size() (int, int) {
	return c.canvas.Rect.Dx(), c.canvas.Rect.Dy()
}

// Canvas exposes the current surface. Callers must not modify it.
func (c *Compositor) Canvas() *image.RGBA {
	return c.canvas
}

// RenderFrame clears the canvas to black and draws frame scaled into dst.
// Parts of dst outside the canvas are clipped.
func (c *Compositor) RenderFrame(frame source.DecodedFrame, dst effects.Rect) {
	c.clear()
	if frame.Image == nil {
		return
	}
	r := toPixels(dst)
	if r.Empty() {
		return
	}
	c.scaler.Scale(c.canvas, r, frame.Image, frame.Image.Bounds(), xdraw.Over, nil)
}

// Snapshot copies the canvas into a pooled buffer. Release it with
// system.PutImage once written.
func (c *Compositor) Snapshot() *image.RGBA {
	img := system.GetImage(c.canvas.Rect)
	copy(img.Pix, c.canvas.Pix)
	return img
}

func (c *Compositor) clear() {
	draw.Draw(c.canvas, c.canvas.Rect, c.bg, image.Point{}, draw.Src)
}

func toPixels(r effects.Rect) image.Rectangle {
	x0 := int(math.Round(r.X))
	y0 := int(math.Round(r.Y))
	x1 := int(math.Round(r.X + r.W))
	y1 := int(math.Round(r.Y + r.H))
	return image.Rect(x0, y0, x1, y1)
}
