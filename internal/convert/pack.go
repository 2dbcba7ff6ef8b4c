// Package convert turns arbitrary images into the one-value-per-pixel gray
// levels loaded into the controller.
package convert

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/MaxHalford/halfgone"
	"github.com/disintegration/imaging"
)

// Options describe the target frame.
type Options struct {
	// Width and Height of the target area in pixels.
	Width, Height int
	// Rotation in degrees counter-clockwise: 0, 90, 180 or 270. It is applied
	// before fitting.
	Rotation int
	// Bits per pixel of the output levels: 2, 3, 4 or 8.
	Bits int
	// Binary restricts output to black and white, for the fast A2 and DU
	// waveforms.
	Binary bool
	// Dither uses Floyd-Steinberg error diffusion for Binary output instead
	// of a plain threshold.
	Dither bool
}

// Frame is a converted image.
type Frame struct {
	Width, Height int
	Bits          int
	// Pixels holds one level per pixel, row-major, 0 is black.
	Pixels []uint16
}

// Pack rotates, fits and quantizes img according to o.
func Pack(img image.Image, o Options) (*Frame, error) {
	if o.Width <= 0 || o.Height <= 0 {
		return nil, fmt.Errorf("convert: invalid target size %dx%d", o.Width, o.Height)
	}
	switch o.Bits {
	case 2, 3, 4, 8:
	default:
		return nil, fmt.Errorf("convert: unsupported bits per pixel %d", o.Bits)
	}
	rotated, err := Rotate(img, o.Rotation)
	if err != nil {
		return nil, err
	}
	g := Fit(rotated, o.Width, o.Height)
	if o.Binary {
		if o.Dither {
			g = halfgone.FloydSteinbergDitherer{}.Apply(g)
		} else {
			g = halfgone.ThresholdDitherer{Threshold: 127}.Apply(g)
		}
	}
	return &Frame{Width: o.Width, Height: o.Height, Bits: o.Bits, Pixels: Quantize(g, o.Bits)}, nil
}

// Rotate turns img counter-clockwise by degrees.
func Rotate(img image.Image, degrees int) (image.Image, error) {
	switch ((degrees % 360) + 360) % 360 {
	case 0:
		return img, nil
	case 90:
		return imaging.Rotate90(img), nil
	case 180:
		return imaging.Rotate180(img), nil
	case 270:
		return imaging.Rotate270(img), nil
	}
	return nil, fmt.Errorf("convert: rotation %d is not a multiple of 90", degrees)
}

// Fit scales img down to fit inside w x h keeping its aspect ratio, centres
// it on a white background and converts it to gray. Smaller images are
// centred without upscaling.
func Fit(img image.Image, w, h int) *image.Gray {
	b := img.Bounds()
	var src image.Image = img
	if b.Dx() != w || b.Dy() != h {
		bg := imaging.New(w, h, color.White)
		src = imaging.PasteCenter(bg, imaging.Fit(img, w, h, imaging.Lanczos))
	}
	g := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(g, g.Bounds(), src, src.Bounds().Min, draw.Src)
	return g
}

// Quantize maps 8-bit gray to 2^bits evenly spaced levels with rounding.
func Quantize(g *image.Gray, bits int) []uint16 {
	b := g.Bounds()
	maxV := uint32(1)<<bits - 1
	out := make([]uint16, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[g.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			out = append(out, uint16((uint32(row[x])*maxV+127)/255))
		}
	}
	return out
}
