package it8951

import (
	"fmt"
	"math/bits"
)

// pixelsPerWord is how many pixels of depth c share a 16-bit word.
func pixelsPerWord(c ColorDepth) int {
	switch c {
	case BPP2:
		return 8
	case BPP3, BPP4:
		return 4
	case BPP8:
		return 2
	}
	return 0
}

// checkPixels validates a one-value-per-pixel buffer for r at depth c.
func checkPixels(c ColorDepth, r Rect, pixels []uint16) error {
	if len(pixels) != r.Area() {
		return fmt.Errorf("%w: %d pixels for a %s area of %d", ErrSizeMismatch, len(pixels), r, r.Area())
	}
	if pixelsPerWord(c) == 0 {
		return fmt.Errorf("%w: unknown color depth %d", ErrInvalidValue, uint16(c))
	}
	maxV := c.MaxValue()
	for i, p := range pixels {
		if p > 0xFF || p > maxV {
			return fmt.Errorf("%w: pixel %d at (%d,%d) exceeds %d for %s", ErrInvalidColor,
				p, int(r.X)+i%int(r.W), int(r.Y)+i/int(r.W), maxV, c)
		}
	}
	return nil
}

// PackPixels packs one value per pixel into the word stream expected after
// LD_IMG_AREA. Pixel i within a word occupies the i-th lowest slot. Each row
// starts at slot X mod pixels-per-word and ends on a word boundary. 3bpp
// values are stored shifted left by one within a 4-bit slot. Big-endian
// images have the bytes of each word swapped.
func PackPixels(info ImageInfo, r Rect, pixels []uint16) ([]uint16, error) {
	if err := checkPixels(info.Depth, r, pixels); err != nil {
		return nil, err
	}
	ppw := pixelsPerWord(info.Depth)
	slot := 16 / ppw
	pad := int(r.X) % ppw
	w, h := int(r.W), int(r.H)
	rowWords := (pad + w + ppw - 1) / ppw
	out := make([]uint16, rowWords*h)
	for y := 0; y < h; y++ {
		row := out[y*rowWords : (y+1)*rowWords]
		for x := 0; x < w; x++ {
			v := pixels[y*w+x]
			if info.Depth == BPP3 {
				v <<= 1
			}
			pos := pad + x
			row[pos/ppw] |= v << (slot * (pos % ppw))
		}
	}
	if info.Endianness == BigEndian {
		for i, v := range out {
			out[i] = bits.ReverseBytes16(v)
		}
	}
	return out, nil
}
