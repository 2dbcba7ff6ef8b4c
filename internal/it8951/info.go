package it8951

import (
	"fmt"

	"it8951ctl/internal/wire"
)

// DeviceInfoSize is the byte length of a GET_DEV_INFO response.
const DeviceInfoSize = 40

const deviceInfoWords = DeviceInfoSize / 2

// DeviceInfo is the controller identity returned by GET_DEV_INFO.
type DeviceInfo struct {
	Width           uint16 `json:"width"`
	Height          uint16 `json:"height"`
	BufferAddr      uint32 `json:"buffer_addr"`
	FirmwareVersion string `json:"firmware_version"`
	LUTVersion      string `json:"lut_version"`
}

// ParseDeviceInfo decodes a raw response: width, height, buffer address low
// and high halves, then two 8-word version strings.
func ParseDeviceInfo(raw []byte) (DeviceInfo, error) {
	if len(raw) != DeviceInfoSize {
		return DeviceInfo{}, fmt.Errorf("%w: device info is %d bytes, want %d", ErrProtocol, len(raw), DeviceInfoSize)
	}
	w, err := wire.BytesToWords(raw)
	if err != nil {
		return DeviceInfo{}, err
	}
	return DeviceInfo{
		Width:           w[0],
		Height:          w[1],
		BufferAddr:      uint32(w[3])<<16 | uint32(w[2]),
		FirmwareVersion: versionString(w[4:12]),
		LUTVersion:      versionString(w[12:20]),
	}, nil
}

// versionString reads the high byte then the low byte of each word and stops
// at the first NUL.
func versionString(words []uint16) string {
	b := make([]byte, 0, 2*len(words))
	for _, w := range words {
		for _, c := range []byte{byte(w >> 8), byte(w)} {
			if c == 0 {
				return string(b)
			}
			b = append(b, c)
		}
	}
	return string(b)
}

// Panel is the full panel area.
func (i DeviceInfo) Panel() Rect {
	return Rect{W: i.Width, H: i.Height}
}

func (i DeviceInfo) String() string {
	return fmt.Sprintf("%dx%d buffer=0x%08X fw=%q lut=%q", i.Width, i.Height, i.BufferAddr, i.FirmwareVersion, i.LUTVersion)
}
