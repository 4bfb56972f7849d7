package flight

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"hoverfc/internal/control"
	"hoverfc/internal/geom"
)

// DefaultTick is the fast-cycle period. The control laws integrate with this
// fixed step rather than a measured wall-clock delta.
const DefaultTick = 5 * time.Millisecond

// ErrInactive is returned when a rate setpoint arrives while not in manual mode.
var ErrInactive = errors.New("flight: rate setpoint ignored outside manual mode")

// State is everything the fast cycle reads. Producers mutate it under
// Controller.mu; each tick works on a copy taken under the same lock.
type State struct {
	Orientation mgl32.Quat
	Rate        mgl32.Vec3
	// GroundVelocity is north-east-down in m/s.
	GroundVelocity mgl32.Vec3
	// Accel is the body-frame linear acceleration in m/s^2.
	Accel mgl32.Vec3

	Mode Mode

	RateSP     control.RateSetpoint
	AttitudeSP control.AttitudeSetpoint
	HoverSP    control.HoverSetpoint

	Params control.Params
}

// Output is the result of one fast tick.
type Output struct {
	Mode  Mode
	Frame control.Frame
	// RateSetpoint is the attitude cascade's resolved rate command; valid only
	// when Cascade is true.
	RateSetpoint control.RateSetpoint
	Cascade      bool
}

// Emitter receives the fast cycle's products. Implementations must not block.
type Emitter interface {
	EmitFrame(control.Frame)
	EmitRateSetpoint(control.RateSetpoint)
}

type Config struct {
	Tick   time.Duration
	Params control.Params
}

// Controller owns the shared control state and the three control-law instances.
//
// Update and Set methods are safe for concurrent use with each other and with
// Tick. Tick calls are serialized.
type Controller struct {
	dt float32

	mu    sync.Mutex
	state State

	// Owned by the tick; guarded by tickMu.
	tickMu   sync.Mutex
	lastMode Mode
	rate     control.RateController
	attitude control.AttitudeController
	head     control.HeadVelocityController

	ticks    atomic.Uint64
	rejected atomic.Uint64
	ignored  atomic.Uint64
}

func New(cfg Config) *Controller {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	c := &Controller{dt: float32(cfg.Tick.Seconds())}
	c.state.Orientation = mgl32.QuatIdent()
	c.state.AttitudeSP.Orientation = mgl32.QuatIdent()
	c.state.Params = cfg.Params
	return c
}

func (c *Controller) reject(err error) error {
	c.rejected.Add(1)
	return err
}

// UpdatePose stores a fused orientation and body rate. Non-finite or zero-norm
// input is discarded and the previous state kept.
func (c *Controller) UpdatePose(q mgl32.Quat, rate mgl32.Vec3) error {
	q, err := geom.UnitQuat(q)
	if err != nil {
		return c.reject(fmt.Errorf("pose: %w", err))
	}
	if !geom.FiniteVec(rate) {
		return c.reject(fmt.Errorf("pose rate: %w", geom.ErrNonFinite))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Params.UnrealFrame {
		q = geom.MirrorQuat(q)
		rate = geom.MirrorRate(rate)
	}
	c.state.Orientation = q
	c.state.Rate = rate
	return nil
}

// UpdateVelocity stores the ground-relative velocity (north, east, down).
func (c *Controller) UpdateVelocity(ned mgl32.Vec3) error {
	if !geom.FiniteVec(ned) {
		return c.reject(fmt.Errorf("velocity: %w", geom.ErrNonFinite))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Params.UnrealFrame {
		ned = geom.MirrorVec(ned)
	}
	c.state.GroundVelocity = ned
	return nil
}

// UpdateAccel stores the body-frame linear acceleration.
func (c *Controller) UpdateAccel(a mgl32.Vec3) error {
	if !geom.FiniteVec(a) {
		return c.reject(fmt.Errorf("accel: %w", geom.ErrNonFinite))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Params.UnrealFrame {
		a = geom.MirrorVec(a)
	}
	c.state.Accel = a
	return nil
}

// SetMode is driven by the external state machine only.
func (c *Controller) SetMode(m Mode) {
	c.mu.Lock()
	c.state.Mode = m
	c.mu.Unlock()
}

// SetRateSetpoint stores a stick rate command. It is dropped unless the current
// mode is manual.
func (c *Controller) SetRateSetpoint(sp control.RateSetpoint) error {
	if !geom.Finite(sp.Wx, sp.Wy, sp.Wz, sp.Throttle) {
		return c.reject(fmt.Errorf("rate setpoint: %w", geom.ErrNonFinite))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Mode != ModeManual {
		c.ignored.Add(1)
		return ErrInactive
	}
	c.state.RateSP = sp
	return nil
}

func (c *Controller) SetAttitudeSetpoint(sp control.AttitudeSetpoint) error {
	q, err := geom.UnitQuat(sp.Orientation)
	if err != nil {
		return c.reject(fmt.Errorf("attitude setpoint: %w", err))
	}
	if !geom.Finite(sp.HeadSpeed) {
		return c.reject(fmt.Errorf("attitude setpoint head speed: %w", geom.ErrNonFinite))
	}
	sp.Orientation = q
	c.mu.Lock()
	c.state.AttitudeSP = sp
	c.mu.Unlock()
	return nil
}

func (c *Controller) SetHoverSetpoint(sp control.HoverSetpoint) error {
	if !geom.Finite(sp.Roll, sp.Pitch, sp.YawRate, sp.VerticalSpeed) {
		return c.reject(fmt.Errorf("hover setpoint: %w", geom.ErrNonFinite))
	}
	c.mu.Lock()
	c.state.HoverSP = sp
	c.mu.Unlock()
	return nil
}

// SetParams replaces the tunables. Control-law memory is left untouched.
func (c *Controller) SetParams(p control.Params) {
	c.mu.Lock()
	c.state.Params = p
	c.mu.Unlock()
}

func (c *Controller) Params() control.Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Params
}

// Snapshot returns a copy of the shared state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Counters reports ticks run, inputs rejected as malformed and rate setpoints
// ignored outside manual mode.
func (c *Controller) Counters() (ticks, rejected, ignored uint64) {
	return c.ticks.Load(), c.rejected.Load(), c.ignored.Load()
}

// Step runs one tick and hands the products to e: the frame exactly once, and
// the resolved rate setpoint when the attitude cascade ran.
func (c *Controller) Step(e Emitter) Output {
	out := c.Tick()
	if e != nil {
		e.EmitFrame(out.Frame)
		if out.Cascade {
			e.EmitRateSetpoint(out.RateSetpoint)
		}
	}
	return out
}

// Tick runs the control cascade for the active mode on a snapshot of the state.
func (c *Controller) Tick() Output {
	c.mu.Lock()
	s := c.state
	c.mu.Unlock()

	c.tickMu.Lock()
	defer c.tickMu.Unlock()
	c.ticks.Add(1)
	return c.run(&s)
}

func (c *Controller) run(s *State) Output {
	p := &s.Params
	if s.Mode != c.lastMode {
		if p.ResetOnModeSwitch {
			c.resetLaws()
		}
		c.lastMode = s.Mode
	}

	switch s.Mode {
	case ModeManual:
		return c.runManual(s)
	case ModeAttitude:
		return c.runAttitude(s, s.AttitudeSP, mgl32.Vec3{})
	case ModeHover:
		sp, ff := control.SynthesizeHover(s.HoverSP, s.Orientation)
		out := c.runAttitude(s, sp, ff)
		out.Mode = ModeHover
		return out
	default:
		return Output{Mode: s.Mode}
	}
}

func (c *Controller) runManual(s *State) Output {
	sp := s.RateSP
	surfaces := c.rate.Run(c.dt, &s.Params, control.ManualRateTarget(sp), s.Rate)
	throttle := control.ResolveThrottle(sp.Engine, sp.Throttle, func() float32 {
		return c.headVelocity(s, sp.Throttle)
	})
	return Output{Mode: ModeManual, Frame: control.NewFrame(surfaces, throttle)}
}

func (c *Controller) runAttitude(s *State, sp control.AttitudeSetpoint, feedForward mgl32.Vec3) Output {
	rateSP := c.attitude.Run(c.dt, &s.Params, sp.Orientation, s.Orientation, s.Rate, feedForward)
	surfaces := c.rate.Run(c.dt, &s.Params, rateSP, s.Rate)
	throttle := control.ResolveThrottle(sp.Engine, sp.HeadSpeed, func() float32 {
		return c.headVelocity(s, sp.HeadSpeed)
	})
	return Output{
		Mode:  ModeAttitude,
		Frame: control.NewFrame(surfaces, throttle),
		RateSetpoint: control.RateSetpoint{
			Wx:       rateSP[0],
			Wy:       rateSP[1],
			Wz:       rateSP[2],
			Throttle: sp.HeadSpeed,
			Engine:   sp.Engine,
		},
		Cascade: true,
	}
}

func (c *Controller) headVelocity(s *State, target float32) float32 {
	local := s.Orientation.Inverse().Rotate(s.GroundVelocity)
	return c.head.Run(c.dt, &s.Params, target, local[0], s.Accel[2], s.Orientation)
}

func (c *Controller) resetLaws() {
	c.rate.Reset()
	c.attitude.Reset()
	c.head.Reset()
}
