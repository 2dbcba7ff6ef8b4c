package it8951

import (
	"fmt"
)

// ValidateRect fails unless r lies inside the panel.
func (d *Driver) ValidateRect(r Rect) error {
	if !d.ready {
		return fmt.Errorf("%w: panel size unknown before Init", ErrInitialization)
	}
	if !r.Within(d.panel) {
		return fmt.Errorf("%w: %s does not fit panel %s", ErrOutOfBounds, r, d.panel)
	}
	return nil
}

func checkMode(mode DisplayMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: display mode %d", ErrInvalidValue, uint16(mode))
	}
	return nil
}

// FillRect fills r in the image buffer with colour without refreshing.
func (d *Driver) FillRect(r Rect, colour uint16) error {
	if colour > 0xFF {
		return fmt.Errorf("%w: fill colour %d exceeds 255", ErrInvalidColor, colour)
	}
	if err := d.ValidateRect(r); err != nil {
		return err
	}
	return d.dev.SendCommandArgs(CmdFillRect, append(r.Words(), colour))
}

// FillRectDisplay fills r with colour and refreshes it with mode in a single
// command.
func (d *Driver) FillRectDisplay(r Rect, mode DisplayMode, colour uint16) error {
	if colour > 0xFF {
		return fmt.Errorf("%w: fill colour %d exceeds 255", ErrInvalidColor, colour)
	}
	if err := checkMode(mode); err != nil {
		return err
	}
	if err := d.ValidateRect(r); err != nil {
		return err
	}
	return d.dev.SendCommandArgs(CmdFillRect, append(r.Words(), 0x1100|uint16(mode), colour))
}

// WritePixels loads pixels, one value per pixel in row-major order, into the
// image buffer at r. It waits for any running refresh to finish first.
func (d *Driver) WritePixels(info ImageInfo, r Rect, pixels []uint16) error {
	if err := checkPixels(info.Depth, r, pixels); err != nil {
		return err
	}
	if err := d.ValidateRect(r); err != nil {
		return err
	}
	packed, err := PackPixels(info, r, pixels)
	if err != nil {
		return err
	}
	if err := d.WaitDisplayReady(); err != nil {
		return err
	}
	args := append([]uint16{info.Word()}, r.Words()...)
	if err := d.dev.SendCommandArgs(CmdLoadImageArea, args); err != nil {
		return err
	}
	if err := d.dev.WriteBulk(packed); err != nil {
		return err
	}
	return d.dev.SendCommand(CmdLoadImageEnd)
}

// DisplayArea refreshes r from the image buffer using mode. It returns once
// the command is issued; use WaitDisplayReady to wait for completion.
func (d *Driver) DisplayArea(r Rect, mode DisplayMode) error {
	if err := checkMode(mode); err != nil {
		return err
	}
	if err := d.ValidateRect(r); err != nil {
		return err
	}
	return d.dev.SendCommandArgs(CmdDisplayArea, append(r.Words(), uint16(mode)))
}

// DisplayBufferArea refreshes r from an image held at addr instead of the
// default buffer.
func (d *Driver) DisplayBufferArea(r Rect, mode DisplayMode, addr uint32) error {
	if addr >= maxBufferAddr {
		return fmt.Errorf("%w: buffer address 0x%08X exceeds 26 bits", ErrInvalidValue, addr)
	}
	if err := checkMode(mode); err != nil {
		return err
	}
	if err := d.ValidateRect(r); err != nil {
		return err
	}
	return d.dev.SendCommandArgs(CmdDisplayBuf, append(r.Words(), uint16(mode), uint16(addr), uint16(addr>>16)))
}

// up1srExtra holds the 1bpp enable bit in the high half of UP1SR.
const up1srExtra = UP1SR + 2

// Display1bpp refreshes r in 1bpp mode, mapping set bits to fg and clear bits
// to bg. The area must already hold data in the controller's 1bpp layout.
// The controller is left in its normal mode on return.
func (d *Driver) Display1bpp(r Rect, mode DisplayMode, bg, fg uint8) error {
	if err := checkMode(mode); err != nil {
		return err
	}
	if err := d.ValidateRect(r); err != nil {
		return err
	}
	v, err := d.ReadReg(up1srExtra)
	if err != nil {
		return err
	}
	if err := d.WriteReg(up1srExtra, v|1<<2); err != nil {
		return err
	}
	if err := d.WriteReg(BGVR, uint16(fg)<<8|uint16(bg)); err != nil {
		return err
	}
	if err := d.DisplayArea(r, mode); err != nil {
		return err
	}
	if err := d.WaitDisplayReady(); err != nil {
		return err
	}
	v, err = d.ReadReg(up1srExtra)
	if err != nil {
		return err
	}
	return d.WriteReg(up1srExtra, v&^(1<<2))
}

// Clear loads an all-white 4bpp frame and refreshes the panel with mode.
func (d *Driver) Clear(mode DisplayMode) error {
	if err := checkMode(mode); err != nil {
		return err
	}
	if !d.ready {
		return fmt.Errorf("%w: panel size unknown before Init", ErrInitialization)
	}
	white := make([]uint16, d.panel.Area())
	for i := range white {
		white[i] = 0xF
	}
	if err := d.WritePixels(ImageInfo{Depth: BPP4}, d.panel, white); err != nil {
		return err
	}
	return d.DisplayArea(d.panel, mode)
}
