package control

import (
	"github.com/go-gl/mathgl/mgl32"

	"hoverfc/internal/geom"
	"hoverfc/internal/pid"
)

const (
	// Gravity in m/s^2.
	Gravity = 9.81

	// TiltThreshold is cos(45deg). Below it the airframe flies wing-borne and
	// no gravity compensation is added.
	TiltThreshold = 0.707

	headVelocityIntegralRatio = 5
)

// HeadVelocityController resolves closed-loop throttle from a forward/vertical
// velocity target.
//
// Not safe for concurrent use.
type HeadVelocityController struct {
	integ pid.Scalar
}

// Run returns a throttle fraction in [0,1]. forward is the body-frame forward
// velocity and vertAccel the measured vertical acceleration, which stands in for
// the derivative of the error.
func (c *HeadVelocityController) Run(dt float32, p *Params, target, forward, vertAccel float32, att mgl32.Quat) float32 {
	g := p.HeadVelocity
	err := target - forward
	integral := c.integ.Accumulate(dt, err, g.I, headVelocityIntegralRatio)

	accSP := err*g.P + vertAccel*g.D + integral*g.I
	if accSP < -Gravity {
		accSP = -Gravity
	}

	return mgl32.Clamp((accSP+Gravity/TiltFactor(att))/Gravity, 0, 1)
}

func (c *HeadVelocityController) Reset() { c.integ.Reset() }

func (c *HeadVelocityController) Integral() float32 { return c.integ.Integral() }

// TiltFactor is the cosine between the rotated forward axis and the reference
// vertical. Past TiltThreshold it reports 1 so no compensation is applied.
func TiltFactor(att mgl32.Quat) float32 {
	f := att.Rotate(geom.UnitX).Dot(geom.UnitX)
	if f < TiltThreshold {
		return 1
	}
	return f
}
