package chart

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"strings"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Default render size in pixels.
const (
	DefaultWidth  = 800
	DefaultHeight = 500
)

// ErrClosed is returned when using an Image after Close.
var ErrClosed = errors.New("chart image already closed")

// Image is a rasterized figure. It owns its pixel buffer until Close.
type Image struct {
	rgba *image.RGBA
}

// Render rasterizes the figure. Callers must Close the result when done.
func (f *Figure) Render(width, height int) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid size %dx%d", width, height)
	}
	sc, err := f.layout(width, height)
	if err != nil {
		return nil, err
	}

	icon, err := oksvg.ReadIconStream(strings.NewReader(sc.svg(false)))
	if err != nil {
		return nil, fmt.Errorf("parsing svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(width), float64(height))

	rgba := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(rgba, rgba.Bounds(), image.White, image.Point{}, draw.Src)
	scanner := rasterx.NewScannerGV(width, height, rgba, rgba.Bounds())
	icon.Draw(rasterx.NewDasher(width, height, scanner), 1.0)

	drawLabels(rgba, sc.labels)
	return &Image{rgba: rgba}, nil
}

func drawLabels(dst draw.Image, labels []label) {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(color.RGBA{0x33, 0x33, 0x33, 0xff}), Face: face}
	for _, l := range labels {
		x := l.x
		switch l.anchor {
		case anchorMiddle:
			x -= float64(d.MeasureString(l.text).Round()) / 2
		case anchorEnd:
			x -= float64(d.MeasureString(l.text).Round())
		}
		d.Dot = fixed.P(int(x), int(l.y))
		d.DrawString(l.text)
	}
}

// Bounds reports the image size.
func (img *Image) Bounds() image.Rectangle {
	if img.rgba == nil {
		return image.Rectangle{}
	}
	return img.rgba.Bounds()
}

// At exposes a pixel, mainly for tests.
func (img *Image) At(x, y int) color.Color {
	if img.rgba == nil {
		return color.Transparent
	}
	return img.rgba.At(x, y)
}

// PNG encodes the image.
func (img *Image) PNG(w io.Writer) error {
	if img.rgba == nil {
		return ErrClosed
	}
	return png.Encode(w, img.rgba)
}

// Close releases the pixel buffer. It is safe to call more than once.
func (img *Image) Close() error {
	img.rgba = nil
	return nil
}

// RenderPNG renders at the default size and writes PNG bytes to w,
// releasing the raster before returning.
func (f *Figure) RenderPNG(w io.Writer) error {
	img, err := f.Render(DefaultWidth, DefaultHeight)
	if err != nil {
		return err
	}
	defer img.Close()
	return img.PNG(w)
}
