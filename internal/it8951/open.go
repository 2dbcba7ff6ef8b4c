package it8951

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Wiring names the bus and pins on the host, e.g. "" or "/dev/spidev0.0" for
// the port and "GPIO8" for a pin.
type Wiring struct {
	Port string
	CS   string
	HRDY string
	// RST is optional.
	RST string
}

// Open initializes the host drivers, opens the SPI port and pins named in w
// and returns a Driver. Init still has to be called.
func Open(w Wiring, opts *Opts) (*Driver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("it8951: periph host init: %w", err)
	}

	cs, err := lookupPin(w.CS, "cs")
	if err != nil {
		return nil, err
	}
	hrdy, err := lookupPin(w.HRDY, "hrdy")
	if err != nil {
		return nil, err
	}
	o := DefaultOpts
	if opts != nil {
		o = *opts
	}
	if w.RST != "" {
		rst, err := lookupPin(w.RST, "rst")
		if err != nil {
			return nil, err
		}
		o.RST = rst
	}

	port, err := spireg.Open(w.Port)
	if err != nil {
		return nil, fmt.Errorf("it8951: open spi port %q: %w", w.Port, err)
	}
	dev, err := NewSPI(port, cs, hrdy, &o)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return New(dev), nil
}

func lookupPin(name, role string) (gpio.PinIO, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: %s pin not configured", ErrInvalidValue, role)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("it8951: %s pin %q not found", role, name)
	}
	return p, nil
}
