// Package wire converts between 16-bit protocol words and the big-endian
// byte stream clocked over the SPI bus.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrFormat is returned when a byte stream cannot be split into words.
	ErrFormat = errors.New("wire: malformed byte stream")
	// ErrRange is returned when a value does not fit in 16 bits.
	ErrRange = errors.New("wire: value out of 16-bit range")
)

// WordsToBytes encodes each word high byte first.
func WordsToBytes(words []uint16) []byte {
	out := make([]byte, 2*len(words))
	PutWords(out, words)
	return out
}

// PutWords encodes words into dst, which must hold at least 2*len(words)
// bytes.
func PutWords(dst []byte, words []uint16) {
	for i, w := range words {
		binary.BigEndian.PutUint16(dst[2*i:], w)
	}
}

// BytesToWords decodes pairs of bytes, high byte first.
func BytesToWords(b []byte) ([]uint16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("%w: odd length %d", ErrFormat, len(b))
	}
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(b[2*i:])
	}
	return out, nil
}

// Words converts untyped integers into protocol words, rejecting anything
// outside 0..0xFFFF.
func Words(values ...int) ([]uint16, error) {
	out := make([]uint16, len(values))
	for i, v := range values {
		if v < 0 || v > 0xFFFF {
			return nil, fmt.Errorf("%w: value %d at index %d", ErrRange, v, i)
		}
		out[i] = uint16(v)
	}
	return out, nil
}
