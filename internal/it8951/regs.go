package it8951

import (
	"fmt"
	"strconv"
	"strings"
)

// Register is a 16-bit IT8951 register address.
type Register uint16

// Register base regions.
const (
	BaseSystem     Register = 0x0000
	BaseMemoryConv Register = 0x0200
	BaseSDCard     Register = 0x0600
	BaseTherm      Register = 0x0800
	BaseSPI        Register = 0x0E00
	BaseDispCtrl   Register = 0x1000
	BaseINTC       Register = 0x1400
	BaseHSUART     Register = 0x1C00
	BaseGPIO       Register = 0x1E00
	BaseJPG        Register = 0x4000
	BaseImageProc  Register = 0x4600
	BaseI2C        Register = 0x4C00
	BaseUSB        Register = 0x4E00
)

// Display controller registers.
const (
	LUT0EWHR  = BaseDispCtrl + 0x000 // LUT0 engine width/height
	LUT0XYR   = BaseDispCtrl + 0x040 // LUT0 XY
	LUT0BADDR = BaseDispCtrl + 0x080 // LUT0 base address
	LUT0MFN   = BaseDispCtrl + 0x0C0 // LUT0 mode and frame number
	LUT01AF   = BaseDispCtrl + 0x114 // LUT0 and LUT1 active flag
	UP0SR     = BaseDispCtrl + 0x134 // update parameter 0 setting
	UP1SR     = BaseDispCtrl + 0x138 // update parameter 1 setting
	LUT0ABFRV = BaseDispCtrl + 0x13C // LUT0 alpha blend and fill rectangle value
	UPBBADDR  = BaseDispCtrl + 0x17C // update buffer base address
	LUT0IMXY  = BaseDispCtrl + 0x180 // LUT0 image buffer X/Y offset
	LUTAFSR   = BaseDispCtrl + 0x224 // LUT status, nonzero while any LUT is busy
	BGVR      = BaseDispCtrl + 0x250 // 1bpp foreground/background values
)

// System and memory converter registers.
const (
	I80CPCR = BaseSystem + 0x04 // packed mode enable
	MCSR    = BaseMemoryConv + 0x00
	LISAR   = BaseMemoryConv + 0x08 // image buffer address, low half; high half at LISAR+2
)

func (r Register) String() string {
	return fmt.Sprintf("0x%04X", uint16(r))
}

// Command is a host command opcode.
type Command uint16

const (
	CmdSysRun        Command = 0x0001
	CmdStandby       Command = 0x0002
	CmdSleep         Command = 0x0003
	CmdRegRead       Command = 0x0010
	CmdRegWrite      Command = 0x0011
	CmdMemBurstReadT Command = 0x0012
	CmdMemBurstReadS Command = 0x0013
	CmdMemBurstWrite Command = 0x0014
	CmdMemBurstEnd   Command = 0x0015
	CmdLoadImage     Command = 0x0020
	CmdLoadImageArea Command = 0x0021
	CmdLoadImageEnd  Command = 0x0022
	CmdDisplayArea   Command = 0x0034
	CmdDisplayBuf    Command = 0x0037
	CmdPowerSequence Command = 0x0038
	CmdVCOM          Command = 0x0039
	CmdFillRect      Command = 0x003A
	CmdTemperature   Command = 0x0040
	CmdBppSettings   Command = 0x0080
	CmdLoadImage1bpp Command = 0x0095
	CmdGetDevInfo    Command = 0x0302
)

var commandNames = map[Command]string{
	CmdSysRun:        "SYS_RUN",
	CmdStandby:       "STANDBY",
	CmdSleep:         "SLEEP",
	CmdRegRead:       "REG_RD",
	CmdRegWrite:      "REG_WR",
	CmdMemBurstReadT: "MEM_BST_RD_T",
	CmdMemBurstReadS: "MEM_BST_RD_S",
	CmdMemBurstWrite: "MEM_BST_WR",
	CmdMemBurstEnd:   "MEM_BST_END",
	CmdLoadImage:     "LD_IMG",
	CmdLoadImageArea: "LD_IMG_AREA",
	CmdLoadImageEnd:  "LD_IMG_END",
	CmdDisplayArea:   "DPY_AREA",
	CmdDisplayBuf:    "DPY_BUF_AREA",
	CmdPowerSequence: "POWER_SEQUENCE",
	CmdVCOM:          "VCOM",
	CmdFillRect:      "FILL_RECT",
	CmdTemperature:   "TEMPERATURE",
	CmdBppSettings:   "BPP_SETTINGS",
	CmdLoadImage1bpp: "LD_IMG_1BPP",
	CmdGetDevInfo:    "GET_DEV_INFO",
}

func (c Command) String() string {
	if s, ok := commandNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Command(0x%04X)", uint16(c))
}

// Frame preambles.
const (
	preambleCommand uint16 = 0x6000
	preambleWrite   uint16 = 0x0000
	preambleRead    uint16 = 0x1000
)

// DisplayMode selects the refresh waveform.
type DisplayMode uint16

const (
	ModeINIT  DisplayMode = 0
	ModeDU    DisplayMode = 1
	ModeGC16  DisplayMode = 2
	ModeGL16  DisplayMode = 3
	ModeGLR16 DisplayMode = 4
	ModeGLD16 DisplayMode = 5
	ModeA2    DisplayMode = 6
	ModeDU4   DisplayMode = 7
)

var modeNames = [...]string{"INIT", "DU", "GC16", "GL16", "GLR16", "GLD16", "A2", "DU4"}

func (m DisplayMode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("DisplayMode(%d)", uint16(m))
}

// Valid reports whether m is a known waveform mode.
func (m DisplayMode) Valid() bool {
	return int(m) < len(modeNames)
}

// ParseDisplayMode accepts a mode name such as "GC16" or its numeric code.
func ParseDisplayMode(s string) (DisplayMode, error) {
	for i, n := range modeNames {
		if strings.EqualFold(s, n) {
			return DisplayMode(i), nil
		}
	}
	if n, err := strconv.ParseUint(s, 10, 16); err == nil && DisplayMode(n).Valid() {
		return DisplayMode(n), nil
	}
	return 0, fmt.Errorf("%w: unknown display mode %q", ErrInvalidValue, s)
}

// ColorDepth is the bits-per-pixel code used in ImageInfo.
type ColorDepth uint16

const (
	BPP2 ColorDepth = 0
	BPP3 ColorDepth = 1
	BPP4 ColorDepth = 2
	BPP8 ColorDepth = 3
)

// Bits returns the number of bits per pixel, or 0 for an unknown code.
func (c ColorDepth) Bits() int {
	switch c {
	case BPP2:
		return 2
	case BPP3:
		return 3
	case BPP4:
		return 4
	case BPP8:
		return 8
	}
	return 0
}

// MaxValue is the largest pixel value representable at this depth.
func (c ColorDepth) MaxValue() uint16 {
	return uint16(1)<<c.Bits() - 1
}

func (c ColorDepth) String() string {
	if b := c.Bits(); b != 0 {
		return fmt.Sprintf("%dbpp", b)
	}
	return fmt.Sprintf("ColorDepth(%d)", uint16(c))
}

// DepthForBits maps 2, 3, 4 or 8 bits per pixel to its code.
func DepthForBits(bits int) (ColorDepth, error) {
	switch bits {
	case 2:
		return BPP2, nil
	case 3:
		return BPP3, nil
	case 4:
		return BPP4, nil
	case 8:
		return BPP8, nil
	}
	return 0, fmt.Errorf("%w: unsupported bits per pixel %d", ErrInvalidValue, bits)
}

// Rotation of the loaded image in 90 degree steps.
type Rotation uint16

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 1
	Rotate180 Rotation = 2
	Rotate270 Rotation = 3
)

// Endianness of the pixel words in a load.
type Endianness uint16

const (
	LittleEndian Endianness = 0
	BigEndian    Endianness = 1
)
