package control

import (
	"github.com/go-gl/mathgl/mgl32"

	"hoverfc/internal/pid"
)

// MaxRateIntegral bounds each axis' integral contribution in the rate loop.
const MaxRateIntegral = 0.8

var rateIntegralBound = mgl32.Vec3{MaxRateIntegral, MaxRateIntegral, MaxRateIntegral}

// RateController is the innermost loop: body-rate error to surface commands.
//
// Not safe for concurrent use.
type RateController struct {
	pid pid.Filtered
}

// Run returns the surface commands driving measured toward target. Output x, y
// and z map to aileron, elevator and rudder.
func (c *RateController) Run(dt float32, p *Params, target, measured mgl32.Vec3) Surfaces {
	out := c.pid.Update(dt, p.Rate, p.FilterRate, rateIntegralBound, target.Sub(measured))
	return Surfaces{Aileron: out[0], Elevator: out[1], Rudder: out[2]}
}

func (c *RateController) Reset() { c.pid.Reset() }

// Integral exposes the integrator for status and tests.
func (c *RateController) Integral() mgl32.Vec3 { return c.pid.Integral() }

// ManualRateTarget maps a stick rate command onto the rate loop's axes for the
// tail-sitter airframe: aileron follows -wz, elevator wy, rudder -wx.
func ManualRateTarget(sp RateSetpoint) mgl32.Vec3 {
	return mgl32.Vec3{-sp.Wz, sp.Wy, -sp.Wx}
}

// ResolveThrottle applies the engine mode. closedLoop is only called for
// EngineClosedLoop so the head-velocity loop state advances only when in use.
func ResolveThrottle(mode EngineMode, request float32, closedLoop func() float32) float32 {
	switch mode {
	case EngineDirect:
		return mgl32.Clamp((request+1)/2, 0, 1)
	case EngineClosedLoop:
		if closedLoop == nil {
			return 0
		}
		return closedLoop()
	default:
		return 0
	}
}
