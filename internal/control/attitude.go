package control

import (
	"github.com/go-gl/mathgl/mgl32"

	"hoverfc/internal/geom"
	"hoverfc/internal/pid"
)

// AttitudeController turns an SO3 attitude error into a body-rate setpoint.
//
// The proportional term acts on the low-passed error while the integrator
// accumulates the raw error. Not safe for concurrent use.
type AttitudeController struct {
	pid   pid.Filtered
	deriv mgl32.Vec3
}

// Run returns the body-rate setpoint (rad/s) including the feed-forward rate.
func (c *AttitudeController) Run(dt float32, p *Params, target, measured mgl32.Quat, rate, feedForward mgl32.Vec3) mgl32.Vec3 {
	raw := geom.AttitudeError(measured, target)

	c.pid.Accumulate(dt, raw)
	filtered, prev := c.pid.LowPass(p.FilterAttitude, raw)

	blend := p.AttitudeDBlend
	c.deriv = rate.Mul(-(1 - blend)).Add(prev.Sub(filtered).Mul(blend))

	c.pid.Clamp(p.Attitude.I, p.MaxAngularVelocity.Mul(0.5))

	return pid.Combine(p.Attitude, filtered, c.deriv, c.pid.Integral()).Add(feedForward)
}

func (c *AttitudeController) Reset() {
	c.pid.Reset()
	c.deriv = mgl32.Vec3{}
}

func (c *AttitudeController) Integral() mgl32.Vec3 { return c.pid.Integral() }
