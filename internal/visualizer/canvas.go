package visualizer

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"sync"
)

// Canvas is a 2D drawing surface
type Canvas interface {
	Size() (width, height int)
	Fill(c color.Color)
	FillRect(x, y, w, h float64, c color.Color)
}

// ImageCanvas paints into an in-memory RGBA image
type ImageCanvas struct {
	mu  sync.RWMutex
	img *image.RGBA
}

// NewImageCanvas creates a black canvas
func NewImageCanvas(width, height int) *ImageCanvas {
	c := &ImageCanvas{img: image.NewRGBA(image.Rect(0, 0, width, height))}
	c.Fill(color.Black)
	return c
}

func (c *ImageCanvas) Size() (int, int) {
	b := c.img.Bounds()
	return b.Dx(), b.Dy()
}

func (c *ImageCanvas) Fill(col color.Color) {
	c.mu.Lock()
	defer c.mu.Unlock()
	draw.Draw(c.img, c.img.Bounds(), image.NewUniform(col), image.Point{}, draw.Src)
}

// FillRect fills the rectangle, clipped to the canvas. Edges round to the
// nearest pixel.
func (c *ImageCanvas) FillRect(x, y, w, h float64, col color.Color) {
	r := image.Rect(
		int(math.Round(x)), int(math.Round(y)),
		int(math.Round(x+w)), int(math.Round(y+h)),
	).Intersect(c.img.Bounds())
	if r.Empty() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	draw.Draw(c.img, r, image.NewUniform(col), image.Point{}, draw.Src)
}

// At returns the pixel at x, y
func (c *ImageCanvas) At(x, y int) color.RGBA {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.img.RGBAAt(x, y)
}

// Snapshot returns a copy of the current image
func (c *ImageCanvas) Snapshot() *image.RGBA {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := image.NewRGBA(c.img.Bounds())
	copy(out.Pix, c.img.Pix)
	return out
}

// WritePNG encodes the current image as PNG
func (c *ImageCanvas) WritePNG(w io.Writer) error {
	return png.Encode(w, c.Snapshot())
}

// HSL converts hue in degrees and saturation and lightness in percent to RGB
func HSL(h, s, l float64) color.RGBA {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	s = math.Max(0, math.Min(100, s)) / 100
	l = math.Max(0, math.Min(100, l)) / 100

	chroma := (1 - math.Abs(2*l-1)) * s
	hp := h / 60
	x := chroma * (1 - math.Abs(math.Mod(hp, 2)-1))

	var r, g, b float64
	switch {
	case hp < 1:
		r, g, b = chroma, x, 0
	case hp < 2:
		r, g, b = x, chroma, 0
	case hp < 3:
		r, g, b = 0, chroma, x
	case hp < 4:
		r, g, b = 0, x, chroma
	case hp < 5:
		r, g, b = x, 0, chroma
	default:
		r, g, b = chroma, 0, x
	}

	m := l - chroma/2
	return color.RGBA{
		R: uint8(math.Round((r + m) * 255)),
		G: uint8(math.Round((g + m) * 255)),
		B: uint8(math.Round((b + m) * 255)),
		A: 255,
	}
}
