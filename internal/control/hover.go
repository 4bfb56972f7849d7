package control

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"hoverfc/internal/geom"
)

// hoverBase is the neutral hover attitude: the airframe pitched 90 degrees about
// its lateral axis relative to the control frame.
var hoverBase = mgl32.QuatRotate(math.Pi/2, geom.UnitY)

// HoverBase returns the neutral hover attitude.
func HoverBase() mgl32.Quat { return hoverBase }

// SynthesizeHover builds the attitude setpoint for a hover command. Roll and pitch
// are taken from the command; yaw is held at the current yaw and only the yaw
// rate is commanded, returned as a body-frame feed-forward rate.
func SynthesizeHover(sp HoverSetpoint, att mgl32.Quat) (AttitudeSetpoint, mgl32.Vec3) {
	_, _, yaw := geom.EulerZYX(att.Mul(hoverBase.Inverse()))

	roll := mgl32.DegToRad(sp.Roll)
	pitch := -mgl32.DegToRad(sp.Pitch)

	target := mgl32.QuatRotate(yaw, geom.UnitZ).
		Mul(mgl32.QuatRotate(pitch, geom.UnitY)).
		Mul(mgl32.QuatRotate(roll, geom.UnitX)).
		Mul(hoverBase)

	yawRate := mgl32.Vec3{0, 0, mgl32.DegToRad(sp.YawRate)}
	feedForward := att.Inverse().Rotate(yawRate)

	return AttitudeSetpoint{
		Orientation: target,
		HeadSpeed:   sp.VerticalSpeed,
		Engine:      sp.Engine,
	}, feedForward
}
