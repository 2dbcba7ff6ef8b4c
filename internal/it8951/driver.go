package it8951

import (
	"fmt"

	appLog "it8951ctl/internal/log"
	"it8951ctl/internal/wire"
)

// KeepVCOM passed to Init leaves the controller's VCOM untouched.
const KeepVCOM = 0

// maxBufferAddr is one past the highest image buffer address the controller
// can address.
const maxBufferAddr = 1 << 26

// Temperature holds both readings reported by the controller, in degrees
// Celsius.
type Temperature struct {
	Real   int16 `json:"real"`
	Forced int16 `json:"forced"`
}

// InitReport describes the outcome of Init.
type InitReport struct {
	Info DeviceInfo
	// VCOM is the value read back at the end of Init, in mV.
	VCOM int
	// VCOMWritten is set when Init had to change VCOM.
	VCOMWritten bool
	// VCOMMatches is false when the read back value differs from the target.
	VCOMMatches bool
}

// Driver implements the controller operations on top of Dev. Init must be
// called before any imaging operation.
type Driver struct {
	dev   *Dev
	info  DeviceInfo
	panel Rect
	ready bool
}

// New wraps dev. No bus traffic is generated until Init.
func New(dev *Dev) *Driver {
	return &Driver{dev: dev}
}

func (d *Driver) String() string {
	return d.dev.String()
}

// Close releases the underlying bus.
func (d *Driver) Close() error {
	return d.dev.Close()
}

// Info returns the identity captured by Init.
func (d *Driver) Info() DeviceInfo {
	return d.info
}

// Panel returns the full panel area, zero before Init.
func (d *Driver) Panel() Rect {
	return d.panel
}

// Init resets the controller if a reset line is wired, reads its identity,
// points the image loader at its buffer, enables packed mode and calibrates
// VCOM to targetVCOM. A VCOM read back that does not match is logged and
// reported, not returned as an error.
func (d *Driver) Init(targetVCOM int) (InitReport, error) {
	var rep InitReport
	if targetVCOM != KeepVCOM {
		if err := checkVCOM(targetVCOM); err != nil {
			return rep, err
		}
	}
	if err := d.dev.Reset(); err != nil {
		return rep, err
	}
	info, err := d.QueryDeviceInfo()
	if err != nil {
		return rep, err
	}
	if info.Width == 0 || info.Height == 0 {
		return rep, fmt.Errorf("%w: controller reports a %dx%d panel", ErrInitialization, info.Width, info.Height)
	}
	rep.Info = info
	if err := d.SetImageBufferBaseAddress(info.BufferAddr); err != nil {
		return rep, err
	}
	if err := d.SetPackedMode(true); err != nil {
		return rep, err
	}
	d.info = info
	d.panel = info.Panel()
	d.ready = true
	appLog.Info("it8951 device", "size", fmt.Sprintf("%dx%d", info.Width, info.Height),
		"buffer", fmt.Sprintf("0x%08X", info.BufferAddr), "fw", info.FirmwareVersion, "lut", info.LUTVersion)

	vcom, err := d.VCOM()
	if err != nil {
		return rep, err
	}
	rep.VCOM = vcom
	rep.VCOMMatches = true
	if targetVCOM == KeepVCOM || vcom == targetVCOM {
		return rep, nil
	}

	if err := d.SetVCOM(targetVCOM, false); err != nil {
		return rep, err
	}
	rep.VCOMWritten = true
	got, err := d.VCOM()
	if err != nil {
		return rep, err
	}
	rep.VCOM = got
	rep.VCOMMatches = got == targetVCOM
	if rep.VCOMMatches {
		appLog.Info("it8951 vcom set", "from_mv", vcom, "to_mv", got)
	} else {
		appLog.Warn("it8951 vcom not applied", "want_mv", targetVCOM, "got_mv", got)
	}
	return rep, nil
}

// QueryDeviceInfo asks the controller for its identity.
func (d *Driver) QueryDeviceInfo() (DeviceInfo, error) {
	if err := d.dev.SendCommand(CmdGetDevInfo); err != nil {
		return DeviceInfo{}, err
	}
	words, err := d.dev.ReadData(deviceInfoWords)
	if err != nil {
		return DeviceInfo{}, err
	}
	return ParseDeviceInfo(wire.WordsToBytes(words))
}

// WriteReg writes one register.
func (d *Driver) WriteReg(reg Register, value uint16) error {
	return d.dev.SendCommandArgs(CmdRegWrite, []uint16{uint16(reg), value})
}

// ReadReg reads one register.
func (d *Driver) ReadReg(reg Register) (uint16, error) {
	if err := d.dev.SendCommandArgs(CmdRegRead, []uint16{uint16(reg)}); err != nil {
		return 0, err
	}
	w, err := d.dev.ReadData(1)
	if err != nil {
		return 0, err
	}
	return w[0], nil
}

// SetImageBufferBaseAddress sets the address image loads are written to.
func (d *Driver) SetImageBufferBaseAddress(addr uint32) error {
	if addr >= maxBufferAddr {
		return fmt.Errorf("%w: buffer address 0x%08X exceeds 26 bits", ErrInvalidValue, addr)
	}
	if err := d.WriteReg(LISAR, uint16(addr)); err != nil {
		return err
	}
	return d.WriteReg(LISAR+2, uint16(addr>>16))
}

// SetPackedMode toggles packed pixel writes.
func (d *Driver) SetPackedMode(enable bool) error {
	return d.WriteReg(I80CPCR, boolWord(enable))
}

// VCOM returns the current VCOM in mV. The controller stores the magnitude
// only; VCOM is always negative.
func (d *Driver) VCOM() (int, error) {
	if err := d.dev.SendCommandArgs(CmdVCOM, []uint16{0}); err != nil {
		return 0, err
	}
	w, err := d.dev.ReadData(1)
	if err != nil {
		return 0, err
	}
	return -int(w[0]), nil
}

// SetVCOM sets VCOM to mV, which must be negative. When persist is set the
// controller also stores it in flash.
func (d *Driver) SetVCOM(mV int, persist bool) error {
	if err := checkVCOM(mV); err != nil {
		return err
	}
	op := uint16(1)
	if persist {
		op = 2
	}
	return d.dev.SendCommandArgs(CmdVCOM, []uint16{op, uint16(-mV)})
}

func checkVCOM(mV int) error {
	if mV >= 0 {
		return fmt.Errorf("%w: VCOM must be negative, got %d mV", ErrInvalidValue, mV)
	}
	if mV < -0xFFFF {
		return fmt.Errorf("%w: VCOM %d mV out of range", ErrInvalidValue, mV)
	}
	return nil
}

// SetPower runs the panel power-on or power-off sequence.
func (d *Driver) SetPower(on bool) error {
	return d.dev.SendCommandArgs(CmdPowerSequence, []uint16{boolWord(on)})
}

// SystemRun wakes the controller from standby or sleep.
func (d *Driver) SystemRun() error {
	return d.dev.SendCommand(CmdSysRun)
}

// Standby puts the controller in standby.
func (d *Driver) Standby() error {
	return d.dev.SendCommand(CmdStandby)
}

// Sleep puts the controller to sleep.
func (d *Driver) Sleep() error {
	return d.dev.SendCommand(CmdSleep)
}

// Temperature returns the sensor reading followed by the forced value.
func (d *Driver) Temperature() (Temperature, error) {
	if err := d.dev.SendCommandArgs(CmdTemperature, []uint16{0}); err != nil {
		return Temperature{}, err
	}
	w, err := d.dev.ReadData(2)
	if err != nil {
		return Temperature{}, err
	}
	return Temperature{Real: int16(w[0]), Forced: int16(w[1])}, nil
}

// ForceTemperature makes the waveform selection use celsius instead of the
// sensor.
func (d *Driver) ForceTemperature(celsius int16) error {
	return d.dev.SendCommandArgs(CmdTemperature, []uint16{1, uint16(celsius)})
}

// CancelForcedTemperature returns to the sensor reading.
func (d *Driver) CancelForcedTemperature() error {
	return d.dev.SendCommandArgs(CmdTemperature, []uint16{2})
}

// SetBppMode selects 2bpp or the default bit depth for the display engine.
func (d *Driver) SetBppMode(is2bpp bool) error {
	return d.dev.SendCommandArgs(CmdBppSettings, []uint16{boolWord(is2bpp)})
}

// WaitDisplayReady blocks until every LUT engine is idle.
func (d *Driver) WaitDisplayReady() error {
	return d.dev.poll(d.dev.opts.DisplayTimeout, "display busy", func() (bool, error) {
		v, err := d.ReadReg(LUTAFSR)
		return v == 0, err
	})
}

func boolWord(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}
