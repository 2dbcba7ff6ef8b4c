package it8951

import (
	"errors"

	"it8951ctl/internal/wire"
)

var (
	// ErrFormat reports a malformed byte stream from the bus.
	ErrFormat = wire.ErrFormat
	// ErrProtocol reports a response of unexpected size or shape.
	ErrProtocol = errors.New("it8951: protocol error")
	// ErrOutOfBounds reports a rectangle that does not fit the panel.
	ErrOutOfBounds = errors.New("it8951: rectangle out of bounds")
	// ErrInvalidColor reports a colour or pixel value above the allowed range.
	ErrInvalidColor = errors.New("it8951: invalid color")
	// ErrSizeMismatch reports a pixel count that disagrees with the target area.
	ErrSizeMismatch = errors.New("it8951: size mismatch")
	// ErrInvalidValue reports an argument outside its domain.
	ErrInvalidValue = errors.New("it8951: invalid value")
	// ErrInitialization reports a controller that returned unusable identity data.
	ErrInitialization = errors.New("it8951: initialization failed")
	// ErrDeviceNotResponding reports a ready or LUT wait that timed out.
	ErrDeviceNotResponding = errors.New("it8951: device not responding")
)
