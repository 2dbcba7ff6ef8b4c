// Package panel serializes access to the controller and implements the
// image-level operations used by the CLI, the HTTP API and the scheduler.
package panel

import (
	"fmt"
	"image"
	"sync"
	"time"

	"it8951ctl/internal/convert"
	"it8951ctl/internal/it8951"
	appLog "it8951ctl/internal/log"
)

// Controller is the part of *it8951.Driver a Session needs.
type Controller interface {
	Info() it8951.DeviceInfo
	Panel() it8951.Rect
	WritePixels(info it8951.ImageInfo, r it8951.Rect, pixels []uint16) error
	DisplayArea(r it8951.Rect, mode it8951.DisplayMode) error
	WaitDisplayReady() error
	Clear(mode it8951.DisplayMode) error
	VCOM() (int, error)
	SetVCOM(mV int, persist bool) error
	Temperature() (it8951.Temperature, error)
	ForceTemperature(celsius int16) error
	CancelForcedTemperature() error
	Sleep() error
	SystemRun() error
}

// Options configure how images are prepared.
type Options struct {
	// Rotation in degrees counter-clockwise applied to every image.
	Rotation int
	// Bits per pixel loaded into the controller, 4 or 8.
	Bits int
	// Dither enables error diffusion for the black and white waveforms.
	Dither bool
}

// Status is a snapshot of the session.
type Status struct {
	Info       it8951.DeviceInfo `json:"info"`
	Asleep     bool              `json:"asleep"`
	LastMode   string            `json:"last_mode,omitempty"`
	LastUpdate time.Time         `json:"last_update,omitzero"`
}

// Session is safe for concurrent use.
type Session struct {
	mu   sync.Mutex
	c    Controller
	opts Options

	last       image.Image
	lastMode   it8951.DisplayMode
	lastUpdate time.Time
	asleep     bool
}

// New returns a Session over an initialized controller.
func New(c Controller, opts Options) *Session {
	if opts.Bits == 0 {
		opts.Bits = 4
	}
	return &Session{c: c, opts: opts}
}

// Binary reports whether mode only renders black and white.
func Binary(mode it8951.DisplayMode) bool {
	return mode == it8951.ModeA2 || mode == it8951.ModeDU
}

// Show converts img to the panel format, loads it and refreshes the whole
// panel with mode.
func (s *Session) Show(img image.Image, mode it8951.DisplayMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.show(img, mode)
}

func (s *Session) show(img image.Image, mode it8951.DisplayMode) error {
	if err := s.wake(); err != nil {
		return err
	}
	depth, err := it8951.DepthForBits(s.opts.Bits)
	if err != nil {
		return err
	}
	p := s.c.Panel()
	frame, err := convert.Pack(img, convert.Options{
		Width:    int(p.W),
		Height:   int(p.H),
		Rotation: s.opts.Rotation,
		Bits:     s.opts.Bits,
		Binary:   Binary(mode),
		Dither:   s.opts.Dither,
	})
	if err != nil {
		return err
	}
	start := time.Now()
	if err := s.c.WritePixels(it8951.ImageInfo{Depth: depth}, p, frame.Pixels); err != nil {
		return fmt.Errorf("panel: load image: %w", err)
	}
	if err := s.c.DisplayArea(p, mode); err != nil {
		return fmt.Errorf("panel: display: %w", err)
	}
	s.last = img
	s.lastMode = mode
	s.lastUpdate = time.Now()
	appLog.Info("panel updated", "mode", mode, "bits", s.opts.Bits, "elapsed", time.Since(start))
	return nil
}

// Clear whitens the panel with mode and forgets the last image.
func (s *Session) Clear(mode it8951.DisplayMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.wake(); err != nil {
		return err
	}
	if err := s.c.Clear(mode); err != nil {
		return err
	}
	s.last = nil
	s.lastUpdate = time.Now()
	appLog.Info("panel cleared", "mode", mode)
	return nil
}

// Redraw clears the panel with the INIT waveform and shows the last image
// again with GC16, removing accumulated ghosting. Without a previous image
// it only clears.
func (s *Session) Redraw() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.wake(); err != nil {
		return err
	}
	if err := s.c.Clear(it8951.ModeINIT); err != nil {
		return err
	}
	if s.last == nil {
		s.lastUpdate = time.Now()
		return nil
	}
	if err := s.c.WaitDisplayReady(); err != nil {
		return err
	}
	return s.show(s.last, it8951.ModeGC16)
}

// Sleep waits for the current refresh and puts the controller to sleep.
// Any later operation wakes it first.
func (s *Session) Sleep() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.asleep {
		return nil
	}
	if err := s.c.WaitDisplayReady(); err != nil {
		return err
	}
	if err := s.c.Sleep(); err != nil {
		return err
	}
	s.asleep = true
	return nil
}

// Wake brings the controller out of sleep.
func (s *Session) Wake() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wake()
}

func (s *Session) wake() error {
	if !s.asleep {
		return nil
	}
	if err := s.c.SystemRun(); err != nil {
		return err
	}
	s.asleep = false
	return nil
}

// Status returns a snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Info: s.c.Info(), Asleep: s.asleep, LastUpdate: s.lastUpdate}
	if s.last != nil {
		st.LastMode = s.lastMode.String()
	}
	return st
}

// Last returns the image shown most recently, or nil after a Clear.
func (s *Session) Last() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// VCOM returns the controller VCOM in mV.
func (s *Session) VCOM() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.wake(); err != nil {
		return 0, err
	}
	return s.c.VCOM()
}

// SetVCOM sets VCOM in mV and returns the value read back.
func (s *Session) SetVCOM(mV int, persist bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.wake(); err != nil {
		return 0, err
	}
	if err := s.c.SetVCOM(mV, persist); err != nil {
		return 0, err
	}
	got, err := s.c.VCOM()
	if err != nil {
		return 0, err
	}
	if got != mV {
		appLog.Warn("panel vcom not applied", "want_mv", mV, "got_mv", got)
	}
	return got, nil
}

// Temperature returns the controller temperature readings.
func (s *Session) Temperature() (it8951.Temperature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.wake(); err != nil {
		return it8951.Temperature{}, err
	}
	return s.c.Temperature()
}

// ForceTemperature overrides the sensor; cancel with CancelForcedTemperature.
func (s *Session) ForceTemperature(celsius int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.wake(); err != nil {
		return err
	}
	return s.c.ForceTemperature(celsius)
}

// CancelForcedTemperature returns to the sensor reading.
func (s *Session) CancelForcedTemperature() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.wake(); err != nil {
		return err
	}
	return s.c.CancelForcedTemperature()
}
