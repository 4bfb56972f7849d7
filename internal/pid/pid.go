package pid

import "github.com/go-gl/mathgl/mgl32"

// Epsilon is the smallest integral gain for which the anti-windup clamp applies.
// Below it the bound/gain division is meaningless and the clamp is skipped.
const Epsilon = 1e-2

// Gains holds per-axis PID gains.
type Gains struct {
	P, I, D mgl32.Vec3
}

// Uniform returns gains with the same P/I/D on every axis.
func Uniform(p, i, d float32) Gains {
	return Gains{
		P: mgl32.Vec3{p, p, p},
		I: mgl32.Vec3{i, i, i},
		D: mgl32.Vec3{d, d, d},
	}
}

// Filtered is a three-axis PID with a one-pole low-pass on the error and a
// per-axis clamped integrator.
//
// The zero value is ready to use. Not safe for concurrent use.
type Filtered struct {
	last     mgl32.Vec3
	integral mgl32.Vec3
	deriv    mgl32.Vec3
}

// Update runs one step of the filtered PID and returns the control output.
//
// The derivative is (raw - previous filtered error) / dt and the integral
// accumulates the raw error; the proportional term uses the filtered error.
func (f *Filtered) Update(dt float32, g Gains, k float32, bound mgl32.Vec3, raw mgl32.Vec3) mgl32.Vec3 {
	if dt <= 0 {
		return Combine(g, f.last, mgl32.Vec3{}, f.integral)
	}
	filtered, prev := f.LowPass(k, raw)
	f.deriv = raw.Sub(prev).Mul(1 / dt)
	f.Accumulate(dt, raw)
	f.Clamp(g.I, bound)
	return Combine(g, filtered, f.deriv, f.integral)
}

// LowPass blends raw into the filter state (prev*(1-k) + raw*k) and returns the
// new and previous filtered values.
func (f *Filtered) LowPass(k float32, raw mgl32.Vec3) (filtered, prev mgl32.Vec3) {
	prev = f.last
	filtered = prev.Mul(1 - k).Add(raw.Mul(k))
	f.last = filtered
	return filtered, prev
}

// Accumulate adds raw*dt to the integrator.
func (f *Filtered) Accumulate(dt float32, raw mgl32.Vec3) {
	f.integral = f.integral.Add(raw.Mul(dt))
}

// Clamp keeps integral*gainI inside ±bound on every axis whose gain exceeds Epsilon.
func (f *Filtered) Clamp(gainI, bound mgl32.Vec3) {
	for i := 0; i < 3; i++ {
		f.integral[i] = clampAxis(f.integral[i], gainI[i], bound[i])
	}
}

func clampAxis(integral, gainI, bound float32) float32 {
	if gainI <= Epsilon {
		return integral
	}
	if integral*gainI > bound {
		return bound / gainI
	}
	if integral*gainI < -bound {
		return -bound / gainI
	}
	return integral
}

func (f *Filtered) Integral() mgl32.Vec3   { return f.integral }
func (f *Filtered) Filtered() mgl32.Vec3   { return f.last }
func (f *Filtered) Derivative() mgl32.Vec3 { return f.deriv }

// Reset clears filter and integrator memory.
func (f *Filtered) Reset() {
	*f = Filtered{}
}

// Combine returns P*p + D*d + I*i elementwise.
func Combine(g Gains, p, d, i mgl32.Vec3) mgl32.Vec3 {
	return mul(g.P, p).Add(mul(g.D, d)).Add(mul(g.I, i))
}

func mul(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{a[0] * b[0], a[1] * b[1], a[2] * b[2]}
}

// Scalar is a single-axis integrator with a ratio clamp, used by the
// head-velocity loop.
//
// Not safe for concurrent use.
type Scalar struct {
	integral float32
}

// Accumulate adds err*dt and clamps the integrator to ±ratio*gainI when gainI
// exceeds Epsilon.
func (s *Scalar) Accumulate(dt, err, gainI, ratio float32) float32 {
	s.integral += err * dt
	if gainI > Epsilon {
		if s.integral/gainI > ratio {
			s.integral = ratio * gainI
		}
		if s.integral/gainI < -ratio {
			s.integral = -ratio * gainI
		}
	}
	return s.integral
}

func (s *Scalar) Integral() float32 { return s.integral }

func (s *Scalar) Reset() { s.integral = 0 }
