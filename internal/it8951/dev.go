// Package it8951 drives an IT8951 e-paper timing controller over SPI with a
// software chip-select and the HRDY handshake line.
//
// Every 16-bit word on the bus is gated on HRDY. Frames are one of:
//
//	command: 0x6000, opcode
//	write:   0x0000, word...
//	read:    0x1000, dummy, word...
//
// Chip-select is driven low for the duration of one frame and always released
// before the call returns.
package it8951

import (
	"fmt"
	"io"
	"time"

	"github.com/jpillora/backoff"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	appLog "it8951ctl/internal/log"
	"it8951ctl/internal/wire"
)

// MaxSpeed is the fastest SPI clock the controller accepts.
const MaxSpeed = 24 * physic.MegaHertz

// defaultMaxTx is used when the connection does not report a limit.
const defaultMaxTx = 4096

// Opts holds the bus and timing configuration.
type Opts struct {
	// MaxHz is the SPI clock. Values above MaxSpeed are clamped.
	MaxHz physic.Frequency
	// ReadyTimeout bounds each wait on HRDY.
	ReadyTimeout time.Duration
	// DisplayTimeout bounds each wait for the LUT engines to go idle.
	DisplayTimeout time.Duration
	// RST is the optional hardware reset line.
	RST gpio.PinOut
}

// DefaultOpts is used by NewSPI when opts is nil; zero fields in a non-nil
// opts fall back to these values too.
var DefaultOpts = Opts{
	MaxHz:          12 * physic.MegaHertz,
	ReadyTimeout:   3 * time.Second,
	DisplayTimeout: 30 * time.Second,
}

// Dev is the framing layer. It owns the SPI connection and the CS/HRDY pins
// and is not safe for concurrent use.
type Dev struct {
	c      spi.Conn
	closer io.Closer
	cs     gpio.PinOut
	hrdy   gpio.PinIn
	rst    gpio.PinOut
	opts   Opts
	maxTx  int

	sleep func(time.Duration)
	now   func() time.Time
}

// NewSPI connects to p in mode 0 with the hardware chip-select disabled; cs is
// toggled manually around each frame and hrdy is sampled before every word.
func NewSPI(p spi.Port, cs gpio.PinOut, hrdy gpio.PinIn, opts *Opts) (*Dev, error) {
	o := DefaultOpts
	if opts != nil {
		o = *opts
		if o.MaxHz == 0 {
			o.MaxHz = DefaultOpts.MaxHz
		}
		if o.ReadyTimeout <= 0 {
			o.ReadyTimeout = DefaultOpts.ReadyTimeout
		}
		if o.DisplayTimeout <= 0 {
			o.DisplayTimeout = DefaultOpts.DisplayTimeout
		}
	}
	if o.MaxHz > MaxSpeed {
		o.MaxHz = MaxSpeed
	}
	if cs == nil || hrdy == nil {
		return nil, fmt.Errorf("%w: cs and hrdy pins are required", ErrInvalidValue)
	}

	c, err := p.Connect(o.MaxHz, spi.Mode0|spi.NoCS, 8)
	if err != nil {
		return nil, fmt.Errorf("it8951: spi connect: %w", err)
	}
	if err := cs.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("it8951: cs %s: %w", cs, err)
	}
	if err := hrdy.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("it8951: hrdy %s: %w", hrdy, err)
	}
	if o.RST != nil {
		if err := o.RST.Out(gpio.High); err != nil {
			return nil, fmt.Errorf("it8951: rst %s: %w", o.RST, err)
		}
	}

	maxTx := defaultMaxTx
	if l, ok := c.(conn.Limits); ok {
		if m := l.MaxTxSize(); m > 0 {
			maxTx = m
		}
	}

	d := &Dev{
		c:     c,
		cs:    cs,
		hrdy:  hrdy,
		rst:   o.RST,
		opts:  o,
		maxTx: maxTx,
		sleep: time.Sleep,
		now:   time.Now,
	}
	if pc, ok := p.(io.Closer); ok {
		d.closer = pc
	}
	return d, nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("it8951{%s, cs=%s, hrdy=%s}", d.c, d.cs, d.hrdy)
}

// Close releases the SPI port if it can be closed.
func (d *Dev) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

// Reset pulses the reset line. It is a no-op when no reset pin is wired.
func (d *Dev) Reset() error {
	if d.rst == nil {
		return nil
	}
	for _, step := range []struct {
		l gpio.Level
		t time.Duration
	}{
		{gpio.High, 200 * time.Millisecond},
		{gpio.Low, 10 * time.Millisecond},
		{gpio.High, 200 * time.Millisecond},
	} {
		if err := d.rst.Out(step.l); err != nil {
			return fmt.Errorf("it8951: reset: %w", err)
		}
		d.sleep(step.t)
	}
	return nil
}

// SendCommand sends a command frame.
func (d *Dev) SendCommand(cmd Command) error {
	appLog.Debug("it8951 command", "cmd", cmd)
	return d.frame(func() error {
		if err := d.writeWord(preambleCommand); err != nil {
			return err
		}
		return d.writeWord(uint16(cmd))
	})
}

// WriteData sends a write frame with one HRDY check per word. An empty slice
// produces no bus activity.
func (d *Dev) WriteData(words []uint16) error {
	if len(words) == 0 {
		return nil
	}
	return d.frame(func() error {
		if err := d.writeWord(preambleWrite); err != nil {
			return err
		}
		for _, w := range words {
			if err := d.writeWord(w); err != nil {
				return err
			}
		}
		return nil
	})
}

// SendCommandArgs sends cmd followed by a separate write frame holding args.
func (d *Dev) SendCommandArgs(cmd Command, args []uint16) error {
	if err := d.SendCommand(cmd); err != nil {
		return err
	}
	return d.WriteData(args)
}

// ReadData reads n words. The controller echoes the preamble and then a dummy
// word before the payload; both are dropped.
func (d *Dev) ReadData(n int) ([]uint16, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative read length %d", ErrInvalidValue, n)
	}
	if n == 0 {
		return []uint16{}, nil
	}
	rx := make([]byte, 2*(n+2))
	err := d.frame(func() error {
		if err := d.txWord(preambleRead, rx[0:2]); err != nil {
			return err
		}
		for i := 1; i < n+2; i++ {
			if err := d.txWord(0, rx[2*i:2*i+2]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	words, err := wire.BytesToWords(rx)
	if err != nil {
		return nil, err
	}
	return words[2:], nil
}

// WriteBulk sends a write frame whose payload is clocked out in chunks bounded
// by the connection's transfer limit. The bytes on the wire are the same as
// WriteData; HRDY is checked before the preamble and before each chunk.
func (d *Dev) WriteBulk(words []uint16) error {
	if len(words) == 0 {
		return nil
	}
	buf := wire.WordsToBytes(words)
	return d.frame(func() error {
		if err := d.writeWord(preambleWrite); err != nil {
			return err
		}
		for len(buf) > 0 {
			n := min(len(buf), d.maxTx)
			// Keep chunks word aligned.
			n &^= 1
			if n == 0 {
				n = 2
			}
			if err := d.waitReady(); err != nil {
				return err
			}
			if err := d.c.Tx(buf[:n], nil); err != nil {
				return fmt.Errorf("it8951: spi tx: %w", err)
			}
			buf = buf[n:]
		}
		return nil
	})
}

// frame runs fn with CS asserted and releases CS on every path.
func (d *Dev) frame(fn func() error) (err error) {
	if err := d.cs.Out(gpio.Low); err != nil {
		return fmt.Errorf("it8951: cs low: %w", err)
	}
	defer func() {
		if e := d.cs.Out(gpio.High); e != nil && err == nil {
			err = fmt.Errorf("it8951: cs high: %w", e)
		}
	}()
	return fn()
}

func (d *Dev) writeWord(w uint16) error {
	return d.txWord(w, nil)
}

func (d *Dev) txWord(w uint16, r []byte) error {
	if err := d.waitReady(); err != nil {
		return err
	}
	if err := d.c.Tx([]byte{byte(w >> 8), byte(w)}, r); err != nil {
		return fmt.Errorf("it8951: spi tx: %w", err)
	}
	return nil
}

// waitReady polls HRDY until it is high or ReadyTimeout elapses.
func (d *Dev) waitReady() error {
	if d.hrdy.Read() == gpio.High {
		return nil
	}
	b := &backoff.Backoff{Min: 10 * time.Microsecond, Max: time.Millisecond, Factor: 2}
	deadline := d.now().Add(d.opts.ReadyTimeout)
	for {
		if d.hrdy.Read() == gpio.High {
			return nil
		}
		if !d.now().Before(deadline) {
			return fmt.Errorf("%w: HRDY low for %s", ErrDeviceNotResponding, d.opts.ReadyTimeout)
		}
		d.sleep(b.Duration())
	}
}

// poll calls done until it reports true, sleeping with backoff in between,
// and gives up after timeout.
func (d *Dev) poll(timeout time.Duration, what string, done func() (bool, error)) error {
	b := &backoff.Backoff{Min: time.Millisecond, Max: 50 * time.Millisecond, Factor: 2}
	deadline := d.now().Add(timeout)
	for {
		ok, err := done()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !d.now().Before(deadline) {
			return fmt.Errorf("%w: %s after %s", ErrDeviceNotResponding, what, timeout)
		}
		d.sleep(b.Duration())
	}
}
