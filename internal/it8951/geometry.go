package it8951

import (
	"fmt"
	"image"
)

// Rect is an area of the panel in pixels.
type Rect struct {
	X, Y, W, H uint16
}

// Area is the number of pixels covered by r.
func (r Rect) Area() int {
	return int(r.W) * int(r.H)
}

// Within reports whether r lies entirely inside outer.
func (r Rect) Within(outer Rect) bool {
	return r.X >= outer.X &&
		r.Y >= outer.Y &&
		int(r.X)+int(r.W) <= int(outer.X)+int(outer.W) &&
		int(r.Y)+int(r.H) <= int(outer.Y)+int(outer.H)
}

// Words returns [x, y, w, h] as sent in command arguments.
func (r Rect) Words() []uint16 {
	return []uint16{r.X, r.Y, r.W, r.H}
}

// Image converts r to an image.Rectangle.
func (r Rect) Image() image.Rectangle {
	return image.Rect(int(r.X), int(r.Y), int(r.X)+int(r.W), int(r.Y)+int(r.H))
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.W, r.H, r.X, r.Y)
}

// RectFromImage converts an image.Rectangle, failing if any coordinate does
// not fit in 16 bits.
func RectFromImage(ir image.Rectangle) (Rect, error) {
	ir = ir.Canon()
	if ir.Min.X < 0 || ir.Min.Y < 0 || ir.Max.X > 0xFFFF || ir.Max.Y > 0xFFFF {
		return Rect{}, fmt.Errorf("%w: %v does not fit 16-bit coordinates", ErrOutOfBounds, ir)
	}
	return Rect{X: uint16(ir.Min.X), Y: uint16(ir.Min.Y), W: uint16(ir.Dx()), H: uint16(ir.Dy())}, nil
}

// ImageInfo describes the pixel format of an image load.
type ImageInfo struct {
	Endianness Endianness
	Depth      ColorDepth
	Rotation   Rotation
}

// Word packs the info as the first LD_IMG_AREA argument.
func (i ImageInfo) Word() uint16 {
	return uint16(i.Endianness)<<8 | uint16(i.Depth)<<4 | uint16(i.Rotation)
}
