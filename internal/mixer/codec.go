package mixer

import (
	"bytes"
	"fmt"

	"github.com/lunixbochs/struc"

	"hoverfc/internal/control"
)

// Packets start with a 4-byte ASCII tag and one pad byte; floats are
// little-endian IEEE 754.
const (
	FrameTag        = "ACTF"
	RateSetpointTag = "RTSP"

	FrameSize        = 5 + control.FrameSlots*4
	RateSetpointSize = 5 + 4*4 + 1
)

type framePacket struct {
	Header    string    `struc:"[4]uint8,little"`
	Padding__ byte      `struc:"pad"`
	Slots     []float32 `struc:"[16]float32,little"`
}

type rateSetpointPacket struct {
	Header    string  `struc:"[4]uint8,little"`
	Padding__ byte    `struc:"pad"`
	Wx        float32 `struc:"float32,little"`
	Wy        float32 `struc:"float32,little"`
	Wz        float32 `struc:"float32,little"`
	Throttle  float32 `struc:"float32,little"`
	Engine    uint8   `struc:"uint8"`
}

func EncodeFrame(f control.Frame) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(FrameSize)
	if err := struc.Pack(&buf, &framePacket{Header: FrameTag, Slots: f[:]}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

func EncodeRateSetpoint(sp control.RateSetpoint) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(RateSetpointSize)
	if err := struc.Pack(&buf, &rateSetpointPacket{
		Header:   RateSetpointTag,
		Wx:       sp.Wx,
		Wy:       sp.Wy,
		Wz:       sp.Wz,
		Throttle: sp.Throttle,
		Engine:   sp.Engine.Wire(),
	}); err != nil {
		return nil, fmt.Errorf("encode rate setpoint: %w", err)
	}
	return buf.Bytes(), nil
}

// Tag returns the packet tag, or "" if b is too short.
func Tag(b []byte) string {
	if len(b) < 5 {
		return ""
	}
	return string(b[:4])
}

func DecodeFrame(b []byte) (control.Frame, error) {
	var f control.Frame
	if len(b) != FrameSize || Tag(b) != FrameTag {
		return f, fmt.Errorf("decode frame: bad header or length %d", len(b))
	}
	var p framePacket
	if err := struc.Unpack(bytes.NewReader(b), &p); err != nil {
		return f, fmt.Errorf("decode frame: %w", err)
	}
	copy(f[:], p.Slots)
	return f, nil
}

func DecodeRateSetpoint(b []byte) (control.RateSetpoint, error) {
	if len(b) != RateSetpointSize || Tag(b) != RateSetpointTag {
		return control.RateSetpoint{}, fmt.Errorf("decode rate setpoint: bad header or length %d", len(b))
	}
	var p rateSetpointPacket
	if err := struc.Unpack(bytes.NewReader(b), &p); err != nil {
		return control.RateSetpoint{}, fmt.Errorf("decode rate setpoint: %w", err)
	}
	return control.RateSetpoint{
		Wx:       p.Wx,
		Wy:       p.Wy,
		Wz:       p.Wz,
		Throttle: p.Throttle,
		Engine:   control.EngineModeFromWire(int(p.Engine)),
	}, nil
}
