package it8951

import (
	"bytes"
	"errors"
	"slices"
	"testing"
	"time"

	"periph.io/x/conn/v3/conntest"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spitest"
)

func TestNewSPI(t *testing.T) {
	data := []struct {
		opts *Opts
		want physic.Frequency
	}{
		{nil, 12 * physic.MegaHertz},
		{&Opts{}, 12 * physic.MegaHertz},
		{&Opts{MaxHz: 2 * physic.MegaHertz}, 2 * physic.MegaHertz},
		{&Opts{MaxHz: 50 * physic.MegaHertz}, MaxSpeed},
	}
	for i, line := range data {
		f := newFixture(t, line.opts)
		if f.bus.hz != line.want {
			t.Errorf("#%d: connected at %s, want %s", i, f.bus.hz, line.want)
		}
		if f.bus.mode != spi.Mode0|spi.NoCS || f.bus.bits != 8 {
			t.Errorf("#%d: mode %s bits %d", i, f.bus.mode, f.bus.bits)
		}
		if f.cs.Read() != gpio.High {
			t.Errorf("#%d: CS not idle high", i)
		}
		if f.hrdy.P != gpio.PullUp {
			t.Errorf("#%d: HRDY pull %s", i, f.hrdy.P)
		}
	}
}

func TestNewSPIMissingPins(t *testing.T) {
	if _, err := NewSPI(&fakeBus{t: t}, nil, &gpiotest.Pin{}, nil); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("got %v", err)
	}
}

func TestSendCommandPlayback(t *testing.T) {
	port := &spitest.Playback{
		Playback: conntest.Playback{
			Ops: []conntest.IO{
				{W: []byte{0x60, 0x00}},
				{W: []byte{0x03, 0x02}},
			},
			DontPanic: true,
		},
	}
	cs := &gpiotest.Pin{N: "CS"}
	hrdy := &gpiotest.Pin{N: "HRDY"}
	dev, err := NewSPI(port, cs, hrdy, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.SendCommand(CmdGetDevInfo); err != nil {
		t.Fatal(err)
	}
	if cs.Read() != gpio.High {
		t.Fatal("CS left low")
	}
	if err := dev.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestSendCommand(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.dev.SendCommand(CmdGetDevInfo); err != nil {
		t.Fatal(err)
	}
	if len(f.bus.frames) != 1 || !bytes.Equal(f.bus.frames[0], []byte{0x60, 0x00, 0x03, 0x02}) {
		t.Fatalf("frames %#v", f.bus.frames)
	}
	if f.cs.transitions != 2 || f.cs.Read() != gpio.High {
		t.Fatalf("CS transitions %d, level %s", f.cs.transitions, f.cs.Read())
	}
}

func TestWriteData(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.dev.WriteData([]uint16{0x0001, 0x062C}); err != nil {
		t.Fatal(err)
	}
	want := []byte{0x00, 0x00, 0x00, 0x01, 0x06, 0x2C}
	if len(f.bus.frames) != 1 || !bytes.Equal(f.bus.frames[0], want) {
		t.Fatalf("frames %#v, want %#v", f.bus.frames, want)
	}
	if !slices.Equal(f.bus.sizes, []int{2, 2, 2}) {
		t.Fatalf("transfers %v, want one per word", f.bus.sizes)
	}
}

func TestWriteDataEmpty(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.dev.WriteData(nil); err != nil {
		t.Fatal(err)
	}
	if len(f.bus.frames) != 0 || f.cs.transitions != 0 {
		t.Fatalf("bus activity: %d frames, %d CS transitions", len(f.bus.frames), f.cs.transitions)
	}
}

func TestSendCommandArgsTwoFrames(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.dev.SendCommandArgs(CmdVCOM, []uint16{1, 1580}); err != nil {
		t.Fatal(err)
	}
	checkFrames(t, f.bus.frameWords(), [][]uint16{
		{0x6000, 0x0039},
		{0x0000, 0x0001, 0x062C},
	})
	if f.cs.transitions != 4 {
		t.Fatalf("CS transitions %d", f.cs.transitions)
	}
}

func TestReadData(t *testing.T) {
	f := newFixture(t, nil)
	f.bus.queueRead(0x062C)
	got, err := f.dev.ReadData(1)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []uint16{0x062C}) {
		t.Fatalf("got %04X", got)
	}
	if want := []byte{0x10, 0x00, 0x00, 0x00, 0x00, 0x00}; !bytes.Equal(f.bus.frames[0], want) {
		t.Fatalf("wrote %#v, want %#v", f.bus.frames[0], want)
	}
}

func TestReadDataZero(t *testing.T) {
	f := newFixture(t, nil)
	got, err := f.dev.ReadData(0)
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("got %v, %v", got, err)
	}
	if len(f.bus.frames) != 0 || f.cs.transitions != 0 {
		t.Fatal("bus activity for an empty read")
	}
	if _, err := f.dev.ReadData(-1); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("got %v", err)
	}
}

func TestReadyTimeout(t *testing.T) {
	f := newFixture(t, &Opts{ReadyTimeout: 50 * time.Millisecond})
	f.hrdy.L = gpio.Low
	err := f.dev.SendCommand(CmdSysRun)
	if !errors.Is(err, ErrDeviceNotResponding) {
		t.Fatalf("got %v", err)
	}
	if f.cs.Read() != gpio.High {
		t.Fatal("CS left low after timeout")
	}
	if len(f.bus.frames) != 1 || len(f.bus.frames[0]) != 0 {
		t.Fatalf("frames %#v", f.bus.frames)
	}
	if elapsed := f.clock.Sub(time.Unix(0, 0)); elapsed < 50*time.Millisecond {
		t.Fatalf("gave up after %s", elapsed)
	}
}

func TestReadyWaits(t *testing.T) {
	f := newFixture(t, nil)
	f.hrdy.L = gpio.Low
	sleep := f.dev.sleep
	f.dev.sleep = func(d time.Duration) {
		sleep(d)
		if len(f.slept) == 3 {
			f.hrdy.L = gpio.High
		}
	}
	if err := f.dev.SendCommand(CmdSysRun); err != nil {
		t.Fatal(err)
	}
	if len(f.slept) != 3 {
		t.Fatalf("slept %d times", len(f.slept))
	}
	if f.slept[1] <= f.slept[0] {
		t.Fatalf("no backoff: %v", f.slept)
	}
	if !bytes.Equal(f.bus.frames[0], []byte{0x60, 0x00, 0x00, 0x01}) {
		t.Fatalf("frame %#v", f.bus.frames[0])
	}
}

func TestTxErrorReleasesCS(t *testing.T) {
	f := newFixture(t, nil)
	boom := errors.New("boom")
	f.bus.txErr = boom
	if err := f.dev.WriteData([]uint16{1}); !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
	if f.cs.Read() != gpio.High {
		t.Fatal("CS left low after Tx error")
	}
}

func TestWriteBulkChunks(t *testing.T) {
	f := newFixture(t, nil)
	f.dev.maxTx = 4
	if err := f.dev.WriteBulk([]uint16{1, 2, 3, 4, 5}); err != nil {
		t.Fatal(err)
	}
	want := []byte{0, 0, 0, 1, 0, 2, 0, 3, 0, 4, 0, 5}
	if len(f.bus.frames) != 1 || !bytes.Equal(f.bus.frames[0], want) {
		t.Fatalf("frames %#v", f.bus.frames)
	}
	if !slices.Equal(f.bus.sizes, []int{2, 4, 4, 2}) {
		t.Fatalf("transfer sizes %v", f.bus.sizes)
	}
}

func TestMaxTxFromLimits(t *testing.T) {
	bus := &fakeBus{t: t, maxTx: 64}
	dev, err := NewSPI(bus, &gpiotest.Pin{}, &gpiotest.Pin{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if dev.maxTx != 64 {
		t.Fatalf("maxTx %d", dev.maxTx)
	}
}

func TestReset(t *testing.T) {
	rst := &gpiotest.Pin{N: "RST"}
	f := newFixture(t, &Opts{RST: rst})
	if rst.Read() != gpio.High {
		t.Fatal("RST not released at construction")
	}
	if err := f.dev.Reset(); err != nil {
		t.Fatal(err)
	}
	want := []time.Duration{200 * time.Millisecond, 10 * time.Millisecond, 200 * time.Millisecond}
	if !slices.Equal(f.slept, want) {
		t.Fatalf("slept %v, want %v", f.slept, want)
	}
	if rst.Read() != gpio.High {
		t.Fatal("RST left low")
	}
}
