package control

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"hoverfc/internal/pid"
)

// EngineMode selects how throttle is resolved on a tick.
type EngineMode uint8

const (
	// EngineLocked forces zero thrust.
	EngineLocked EngineMode = iota
	// EngineDirect passes the throttle request through open loop.
	EngineDirect
	// EngineClosedLoop runs the head-velocity loop.
	EngineClosedLoop
	// EngineUnknown is any unrecognized wire value. It resolves like EngineLocked.
	EngineUnknown
)

// EngineModeFromWire maps the integer carried in setpoint messages.
func EngineModeFromWire(v int) EngineMode {
	switch v {
	case 0:
		return EngineLocked
	case 1:
		return EngineDirect
	case 2:
		return EngineClosedLoop
	default:
		return EngineUnknown
	}
}

// Wire returns the integer encoding; EngineUnknown encodes as 255.
func (m EngineMode) Wire() uint8 {
	if m >= EngineUnknown {
		return 255
	}
	return uint8(m)
}

func (m EngineMode) String() string {
	switch m {
	case EngineLocked:
		return "locked"
	case EngineDirect:
		return "direct"
	case EngineClosedLoop:
		return "closed_loop"
	default:
		return "unknown"
	}
}

// RateSetpoint is a body-rate command (rad/s) plus a throttle request in [-1,1].
type RateSetpoint struct {
	Wx, Wy, Wz float32
	Throttle   float32
	Engine     EngineMode
}

// AttitudeSetpoint is a target orientation plus the head speed used for thrust.
type AttitudeSetpoint struct {
	Orientation mgl32.Quat
	HeadSpeed   float32
	Engine      EngineMode
}

// HoverSetpoint is a hover command. Roll and pitch are in degrees, yaw rate in
// degrees per second and vertical speed in m/s.
type HoverSetpoint struct {
	Roll, Pitch   float32
	YawRate       float32
	VerticalSpeed float32
	Engine        EngineMode
}

// FrameSlots is the size of the actuator frame sent to the mixer.
const FrameSlots = 16

// Frame is the actuator-axis frame. Slots 0..3 carry aileron, elevator, rudder
// and throttle; the rest are reserved and always zero.
type Frame [FrameSlots]float32

const (
	SlotAileron = iota
	SlotElevator
	SlotRudder
	SlotThrottle
)

// NewFrame builds a frame from the four control axes.
func NewFrame(s Surfaces, throttle float32) Frame {
	var f Frame
	f[SlotAileron] = s.Aileron
	f[SlotElevator] = s.Elevator
	f[SlotRudder] = s.Rudder
	f[SlotThrottle] = throttle
	return f
}

func (f Frame) Aileron() float32  { return f[SlotAileron] }
func (f Frame) Elevator() float32 { return f[SlotElevator] }
func (f Frame) Rudder() float32   { return f[SlotRudder] }
func (f Frame) Throttle() float32 { return f[SlotThrottle] }

func (f Frame) String() string {
	return fmt.Sprintf("ail=%.3f ele=%.3f rud=%.3f thr=%.3f", f.Aileron(), f.Elevator(), f.Rudder(), f.Throttle())
}

// Surfaces are the three attitude actuator axes.
type Surfaces struct {
	Aileron, Elevator, Rudder float32
}

// ScalarGains are the head-velocity loop gains.
type ScalarGains struct {
	P, I, D float32
}

// Params holds every tunable read by the control laws. It is replaced wholesale
// by the parameter reload cycle and never mutated by the laws.
type Params struct {
	Rate         pid.Gains
	Attitude     pid.Gains
	HeadVelocity ScalarGains

	// MaxAngularVelocity bounds the attitude integral contribution at half its value.
	MaxAngularVelocity mgl32.Vec3
	// ThrustWeightRatio is validated and served with the other params. The
	// head-velocity law does not read it.
	ThrustWeightRatio float32

	FilterAttitude float32
	FilterRate     float32
	// AttitudeDBlend mixes attitude-error derivative (1) against direct rate damping (0).
	AttitudeDBlend float32

	// UnrealFrame marks sensor input as coming from a left-handed simulator frame.
	UnrealFrame bool
	// ResetOnModeSwitch clears law memory whenever the dispatched mode changes.
	ResetOnModeSwitch bool
}

// DefaultParams returns the stock tuning.
func DefaultParams() Params {
	return Params{
		Rate:               pid.Uniform(1, 0, 0),
		Attitude:           pid.Uniform(2, 0, 0),
		HeadVelocity:       ScalarGains{P: 1, I: 0.1, D: 0.05},
		MaxAngularVelocity: mgl32.Vec3{10, 10, 10},
		ThrustWeightRatio:  2,
		FilterAttitude:     0.1,
		FilterRate:         0.1,
	}
}
