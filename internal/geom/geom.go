package geom

import (
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

var (
	ErrNonFinite      = errors.New("geom: non-finite value")
	ErrZeroQuaternion = errors.New("geom: zero-norm quaternion")
)

// Unit axes of the body/control frame.
var (
	UnitX = mgl32.Vec3{1, 0, 0}
	UnitY = mgl32.Vec3{0, 1, 0}
	UnitZ = mgl32.Vec3{0, 0, 1}
)

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// FiniteVec reports whether every component of v is finite.
func FiniteVec(v mgl32.Vec3) bool {
	return finite(v[0]) && finite(v[1]) && finite(v[2])
}

// FiniteQuat reports whether every component of q is finite.
func FiniteQuat(q mgl32.Quat) bool {
	return finite(q.W) && FiniteVec(q.V)
}

// Finite reports whether every value is finite.
func Finite(vals ...float32) bool {
	for _, v := range vals {
		if !finite(v) {
			return false
		}
	}
	return true
}

// UnitQuat validates q and renormalizes it to unit length.
func UnitQuat(q mgl32.Quat) (mgl32.Quat, error) {
	if !FiniteQuat(q) {
		return mgl32.Quat{}, ErrNonFinite
	}
	n := q.Len()
	if n < 1e-6 {
		return mgl32.Quat{}, ErrZeroQuaternion
	}
	return q.Scale(1 / n), nil
}

// WrapPi folds an angle in radians into (-pi, pi].
func WrapPi(angle float32) float32 {
	if angle > math.Pi {
		return angle - 2*math.Pi
	}
	if angle < -math.Pi {
		return angle + 2*math.Pi
	}
	return angle
}

// AxisAngle decomposes a unit quaternion into a unit axis and an angle in [0, 2pi).
// The identity rotation returns the X axis and zero.
func AxisAngle(q mgl32.Quat) (mgl32.Vec3, float32) {
	n := q.V.Len()
	if n < 1e-7 {
		return UnitX, 0
	}
	angle := float32(2 * math.Atan2(float64(n), float64(q.W)))
	return q.V.Mul(1 / n), angle
}

// AttitudeError returns the rotation vector (axis * wrapped angle) that takes
// measured onto target, expressed in the measured body frame.
func AttitudeError(measured, target mgl32.Quat) mgl32.Vec3 {
	rel := measured.Inverse().Mul(target)
	axis, angle := AxisAngle(rel)
	return axis.Mul(WrapPi(angle))
}

// FromRotationVector is the inverse of AttitudeError's encoding: a rotation of
// |v| radians about v.
func FromRotationVector(v mgl32.Vec3) mgl32.Quat {
	angle := v.Len()
	if angle < 1e-7 {
		return mgl32.QuatIdent()
	}
	return mgl32.QuatRotate(angle, v.Mul(1/angle))
}

// EulerZYX returns roll, pitch and yaw in radians for the Z-Y-X (yaw, pitch, roll)
// Tait-Bryan decomposition of q.
func EulerZYX(q mgl32.Quat) (roll, pitch, yaw float32) {
	w, x, y, z := float64(q.W), float64(q.V[0]), float64(q.V[1]), float64(q.V[2])

	roll = float32(math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y)))

	s := 2 * (w*y - z*x)
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	pitch = float32(math.Asin(s))

	yaw = float32(math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z)))
	return roll, pitch, yaw
}

// SameOrientation reports whether a and b describe the same rotation (q and -q are
// equivalent) within eps.
func SameOrientation(a, b mgl32.Quat, eps float32) bool {
	d := a.Dot(b)
	if d < 0 {
		d = -d
	}
	return d >= 1-eps
}

// Left-handed simulator frames are mirrored across the XZ plane.

func MirrorVec(v mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{v[0], -v[1], v[2]}
}

// MirrorRate mirrors an angular rate, which is a pseudo-vector and flips sign
// under reflection.
func MirrorRate(v mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{-v[0], v[1], -v[2]}
}

func MirrorQuat(q mgl32.Quat) mgl32.Quat {
	return mgl32.Quat{W: q.W, V: mgl32.Vec3{-q.V[0], q.V[1], -q.V[2]}}
}
