package it8951

import (
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"it8951ctl/internal/wire"
)

// fakeBus records the bytes written in each CS frame and answers reads from
// a queue. Unqueued reads return zeros.
type fakeBus struct {
	t      *testing.T
	csLow  bool
	frames [][]byte
	rx     []byte
	txErr  error
	maxTx  int
	sizes  []int

	hz   physic.Frequency
	mode spi.Mode
	bits int
}

func (b *fakeBus) String() string { return "fakebus" }

func (b *fakeBus) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	b.hz, b.mode, b.bits = f, mode, bits
	return b, nil
}

func (b *fakeBus) Tx(w, r []byte) error {
	if !b.csLow {
		b.t.Errorf("Tx with CS high: %#v", w)
	}
	if r != nil && len(r) != len(w) {
		b.t.Errorf("Tx read buffer %d bytes for %d written", len(r), len(w))
	}
	if b.txErr != nil {
		return b.txErr
	}
	b.frames[len(b.frames)-1] = append(b.frames[len(b.frames)-1], w...)
	b.sizes = append(b.sizes, len(w))
	if r != nil {
		n := copy(r, b.rx)
		b.rx = b.rx[n:]
	}
	return nil
}

func (b *fakeBus) Duplex() conn.Duplex { return conn.Full }

func (b *fakeBus) TxPackets(p []spi.Packet) error { return errors.New("fakebus: no packets") }

func (b *fakeBus) MaxTxSize() int { return b.maxTx }

// queueRead queues the response to one ReadData call: the preamble echo and
// dummy word followed by words.
func (b *fakeBus) queueRead(words ...uint16) {
	b.rx = append(b.rx, 0xAA, 0xAA, 0x55, 0x55)
	b.rx = append(b.rx, wire.WordsToBytes(words)...)
}

// frameWords decodes every recorded frame.
func (b *fakeBus) frameWords() [][]uint16 {
	out := make([][]uint16, len(b.frames))
	for i, f := range b.frames {
		w, err := wire.BytesToWords(f)
		if err != nil {
			b.t.Fatalf("frame %d: %v", i, err)
		}
		out[i] = w
	}
	return out
}

func (b *fakeBus) reset() {
	b.frames = nil
	b.sizes = nil
}

// csPin opens and closes frames on the bus.
type csPin struct {
	gpiotest.Pin
	bus         *fakeBus
	transitions int
}

func (p *csPin) Out(l gpio.Level) error {
	if l == gpio.Low {
		if p.bus.csLow {
			p.bus.t.Errorf("CS asserted twice")
		}
		p.bus.frames = append(p.bus.frames, []byte{})
	}
	p.bus.csLow = l == gpio.Low
	p.transitions++
	return p.Pin.Out(l)
}

type fixture struct {
	dev   *Dev
	bus   *fakeBus
	cs    *csPin
	hrdy  *gpiotest.Pin
	clock time.Time
	slept []time.Duration
}

func newFixture(t *testing.T, opts *Opts) *fixture {
	t.Helper()
	bus := &fakeBus{t: t}
	cs := &csPin{Pin: gpiotest.Pin{N: "CS"}, bus: bus}
	hrdy := &gpiotest.Pin{N: "HRDY"}
	dev, err := NewSPI(bus, cs, hrdy, opts)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{dev: dev, bus: bus, cs: cs, hrdy: hrdy, clock: time.Unix(0, 0)}
	dev.now = func() time.Time { return f.clock }
	dev.sleep = func(d time.Duration) {
		f.slept = append(f.slept, d)
		f.clock = f.clock.Add(d)
	}
	cs.transitions = 0
	bus.reset()
	return f
}

// newDriver returns a driver that behaves as if Init ran against a panel of
// the given size.
func newDriver(t *testing.T, w, h uint16) (*Driver, *fixture) {
	t.Helper()
	f := newFixture(t, nil)
	d := New(f.dev)
	d.info = DeviceInfo{Width: w, Height: h, BufferAddr: 0x001236E0}
	d.panel = d.info.Panel()
	d.ready = true
	return d, f
}

func wordsEqual(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func checkFrames(t *testing.T, got, want [][]uint16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d frames, want %d\ngot:  %04X\nwant: %04X", len(got), len(want), got, want)
	}
	for i := range want {
		if !wordsEqual(got[i], want[i]) {
			t.Errorf("frame %d = %04X, want %04X", i, got[i], want[i])
		}
	}
}

// readFrame is what ReadData(n) puts on the bus.
func readFrame(n int) []uint16 {
	return append([]uint16{0x1000}, make([]uint16, n+1)...)
}
