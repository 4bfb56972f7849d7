package flight

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"hoverfc/internal/control"
	"hoverfc/internal/geom"
	"hoverfc/internal/pid"
)

type recordingEmitter struct {
	frames []control.Frame
	rates  []control.RateSetpoint
}

func (r *recordingEmitter) EmitFrame(f control.Frame)                { r.frames = append(r.frames, f) }
func (r *recordingEmitter) EmitRateSetpoint(sp control.RateSetpoint) { r.rates = append(r.rates, sp) }

func newTestController() *Controller {
	p := control.DefaultParams()
	p.FilterRate = 1
	p.FilterAttitude = 1
	return New(Config{Params: p})
}

func nearQuat(a, b mgl32.Quat, tol float32) bool {
	if mgl32.Abs(a.W-b.W) > tol {
		return false
	}
	for i := range a.V {
		if mgl32.Abs(a.V[i]-b.V[i]) > tol {
			return false
		}
	}
	return true
}

func TestModeFromWire(t *testing.T) {
	cases := map[int]Mode{0: ModeIdle, 1: ModeIdle, 2: ModeAttitude, 3: ModeManual, 4: ModeHover, 5: ModeUnknown, -3: ModeUnknown}
	for in, want := range cases {
		if got := ModeFromWire(in); got != want {
			t.Fatalf("ModeFromWire(%d)=%v want %v", in, got, want)
		}
	}
}

func TestTick_IdleAndUnknownEmitZeroFrame(t *testing.T) {
	for _, m := range []Mode{ModeIdle, ModeUnknown, Mode(200)} {
		c := newTestController()
		_ = c.UpdatePose(mgl32.QuatRotate(1, geom.UnitX), mgl32.Vec3{1, 2, 3})
		_ = c.SetAttitudeSetpoint(control.AttitudeSetpoint{Orientation: mgl32.QuatIdent(), Engine: control.EngineDirect, HeadSpeed: 1})
		c.SetMode(m)
		e := &recordingEmitter{}
		out := c.Step(e)
		if out.Frame != (control.Frame{}) {
			t.Fatalf("mode %v: frame=%v want zero", m, out.Frame)
		}
		if len(e.frames) != 1 || len(e.rates) != 0 {
			t.Fatalf("mode %v: frames=%d rates=%d want 1 0", m, len(e.frames), len(e.rates))
		}
	}
}

func TestStep_EmitsFrameExactlyOncePerTickInEveryMode(t *testing.T) {
	c := newTestController()
	e := &recordingEmitter{}
	modes := []Mode{ModeIdle, ModeManual, ModeAttitude, ModeHover, ModeUnknown}
	for _, m := range modes {
		c.SetMode(m)
		c.Step(e)
	}
	if len(e.frames) != len(modes) {
		t.Fatalf("frames=%d want %d", len(e.frames), len(modes))
	}
	// Only attitude and hover run the cascade.
	if len(e.rates) != 2 {
		t.Fatalf("rate setpoints=%d want 2", len(e.rates))
	}
}

func TestManual_RateScenario(t *testing.T) {
	c := newTestController()
	c.SetMode(ModeManual)
	if err := c.SetRateSetpoint(control.RateSetpoint{Wx: 1, Engine: control.EngineDirect, Throttle: 0}); err != nil {
		t.Fatalf("SetRateSetpoint() error: %v", err)
	}
	out := c.Tick()
	if mgl32.Abs(out.Frame.Rudder()+1) > 1e-6 {
		t.Fatalf("rudder=%v want -1", out.Frame.Rudder())
	}
	if out.Frame.Aileron() != 0 || out.Frame.Elevator() != 0 {
		t.Fatalf("frame=%v want aileron/elevator 0", out.Frame)
	}
	if out.Frame.Throttle() != 0.5 {
		t.Fatalf("throttle=%v want 0.5", out.Frame.Throttle())
	}
	if out.Cascade {
		t.Fatalf("manual mode must not publish a resolved rate setpoint")
	}
}

func TestRateSetpoint_IgnoredOutsideManual(t *testing.T) {
	c := newTestController()
	c.SetMode(ModeAttitude)
	err := c.SetRateSetpoint(control.RateSetpoint{Wx: 5})
	if !errors.Is(err, ErrInactive) {
		t.Fatalf("err=%v want %v", err, ErrInactive)
	}
	c.SetMode(ModeManual)
	if got := c.Snapshot().RateSP; got.Wx != 0 {
		t.Fatalf("rate setpoint leaked: %+v", got)
	}
	_, _, ignored := c.Counters()
	if ignored != 1 {
		t.Fatalf("ignored=%d want 1", ignored)
	}
}

func TestLockedEngineAlwaysZeroThrottle(t *testing.T) {
	c := newTestController()
	_ = c.UpdateVelocity(mgl32.Vec3{3, 1, -2})
	_ = c.UpdateAccel(mgl32.Vec3{0, 0, 5})

	c.SetMode(ModeManual)
	_ = c.SetRateSetpoint(control.RateSetpoint{Wx: 1, Throttle: 1, Engine: control.EngineLocked})
	if thr := c.Tick().Frame.Throttle(); thr != 0 {
		t.Fatalf("manual throttle=%v want 0", thr)
	}

	c.SetMode(ModeAttitude)
	_ = c.SetAttitudeSetpoint(control.AttitudeSetpoint{Orientation: mgl32.QuatRotate(0.3, geom.UnitZ), HeadSpeed: 5, Engine: control.EngineLocked})
	if thr := c.Tick().Frame.Throttle(); thr != 0 {
		t.Fatalf("attitude throttle=%v want 0", thr)
	}

	c.SetMode(ModeHover)
	_ = c.SetHoverSetpoint(control.HoverSetpoint{Roll: 5, VerticalSpeed: 3, Engine: control.EngineLocked})
	if thr := c.Tick().Frame.Throttle(); thr != 0 {
		t.Fatalf("hover throttle=%v want 0", thr)
	}
}

func TestAttitude_PublishesResolvedRateSetpoint(t *testing.T) {
	c := newTestController()
	c.SetMode(ModeAttitude)
	_ = c.SetAttitudeSetpoint(control.AttitudeSetpoint{
		Orientation: mgl32.QuatRotate(0.5, geom.UnitY),
		HeadSpeed:   0.2,
		Engine:      control.EngineDirect,
	})
	e := &recordingEmitter{}
	out := c.Step(e)
	if !out.Cascade || len(e.rates) != 1 {
		t.Fatalf("cascade=%v rates=%d", out.Cascade, len(e.rates))
	}
	sp := e.rates[0]
	if mgl32.Abs(sp.Wy-1) > 1e-5 || mgl32.Abs(sp.Wx) > 1e-5 || mgl32.Abs(sp.Wz) > 1e-5 {
		t.Fatalf("rate sp=%+v want wy=1", sp)
	}
	if sp.Throttle != 0.2 || sp.Engine != control.EngineDirect {
		t.Fatalf("rate sp throttle=%v engine=%v", sp.Throttle, sp.Engine)
	}
	// Rate loop consumes the setpoint without remapping: elevator follows wy.
	if mgl32.Abs(out.Frame.Elevator()-1) > 1e-5 {
		t.Fatalf("elevator=%v want 1", out.Frame.Elevator())
	}
	if mgl32.Abs(out.Frame.Throttle()-0.6) > 1e-6 {
		t.Fatalf("throttle=%v want 0.6", out.Frame.Throttle())
	}
}

func TestAttitude_ClosedLoopHoverBaseline(t *testing.T) {
	c := newTestController()
	c.SetMode(ModeAttitude)
	_ = c.SetAttitudeSetpoint(control.AttitudeSetpoint{Orientation: mgl32.QuatIdent(), Engine: control.EngineClosedLoop})
	out := c.Tick()
	if mgl32.Abs(out.Frame.Throttle()-1) > 1e-6 {
		t.Fatalf("throttle=%v want 1", out.Frame.Throttle())
	}
}

func TestHover_NeutralCommandHoldsHoverAttitude(t *testing.T) {
	c := newTestController()
	_ = c.UpdatePose(control.HoverBase(), mgl32.Vec3{})
	c.SetMode(ModeHover)
	_ = c.SetHoverSetpoint(control.HoverSetpoint{Engine: control.EngineDirect})
	out := c.Tick()
	want := control.Frame{}
	want[control.SlotThrottle] = 0.5
	for i := range out.Frame {
		if mgl32.Abs(out.Frame[i]-want[i]) > 1e-5 {
			t.Fatalf("frame=%v want %v", out.Frame, want)
		}
	}
	if out.Mode != ModeHover || !out.Cascade {
		t.Fatalf("mode=%v cascade=%v", out.Mode, out.Cascade)
	}
}

func TestUpdatePose_RejectsNonFiniteAndKeepsLastGood(t *testing.T) {
	c := newTestController()
	good := mgl32.QuatRotate(0.2, geom.UnitZ)
	if err := c.UpdatePose(good, mgl32.Vec3{0.1, 0, 0}); err != nil {
		t.Fatalf("UpdatePose() error: %v", err)
	}
	nan := float32(math.NaN())
	if err := c.UpdatePose(mgl32.Quat{W: nan}, mgl32.Vec3{}); !errors.Is(err, geom.ErrNonFinite) {
		t.Fatalf("err=%v want %v", err, geom.ErrNonFinite)
	}
	if err := c.UpdatePose(mgl32.QuatIdent(), mgl32.Vec3{float32(math.Inf(1)), 0, 0}); !errors.Is(err, geom.ErrNonFinite) {
		t.Fatalf("err=%v want %v", err, geom.ErrNonFinite)
	}
	if err := c.UpdatePose(mgl32.Quat{}, mgl32.Vec3{}); !errors.Is(err, geom.ErrZeroQuaternion) {
		t.Fatalf("err=%v want %v", err, geom.ErrZeroQuaternion)
	}
	s := c.Snapshot()
	if !nearQuat(s.Orientation, good, 1e-6) || s.Rate[0] != 0.1 {
		t.Fatalf("state=%v %v want last good", s.Orientation, s.Rate)
	}
	_, rejected, _ := c.Counters()
	if rejected != 3 {
		t.Fatalf("rejected=%d want 3", rejected)
	}
}

func TestUpdatePose_RenormalizesOrientation(t *testing.T) {
	c := newTestController()
	_ = c.UpdatePose(mgl32.Quat{W: 2, V: mgl32.Vec3{0, 0, 2}}, mgl32.Vec3{})
	if l := c.Snapshot().Orientation.Len(); mgl32.Abs(l-1) > 1e-6 {
		t.Fatalf("len=%v want 1", l)
	}
}

func TestUnrealFrame_MirrorsSensorInput(t *testing.T) {
	p := control.DefaultParams()
	p.UnrealFrame = true
	c := New(Config{Params: p})
	q := mgl32.QuatRotate(0.4, mgl32.Vec3{1, 1, 0}.Normalize())
	_ = c.UpdatePose(q, mgl32.Vec3{1, 2, 3})
	_ = c.UpdateVelocity(mgl32.Vec3{1, 2, 3})
	_ = c.UpdateAccel(mgl32.Vec3{4, 5, 6})
	s := c.Snapshot()
	if !nearQuat(s.Orientation, geom.MirrorQuat(q), 1e-6) {
		t.Fatalf("orientation=%v", s.Orientation)
	}
	if s.Rate != (mgl32.Vec3{-1, 2, -3}) || s.GroundVelocity != (mgl32.Vec3{1, -2, 3}) || s.Accel != (mgl32.Vec3{4, -5, 6}) {
		t.Fatalf("rate=%v vel=%v accel=%v", s.Rate, s.GroundVelocity, s.Accel)
	}
}

func TestParamReloadDoesNotChangeOutput(t *testing.T) {
	run := func(reload bool) []control.Frame {
		p := control.DefaultParams()
		p.Rate = pid.Uniform(0.8, 0.5, 0.01)
		p.Attitude = pid.Uniform(2, 0.3, 0.1)
		c := New(Config{Params: p})
		_ = c.UpdatePose(mgl32.QuatRotate(0.1, geom.UnitX), mgl32.Vec3{0.05, -0.02, 0.01})
		_ = c.SetAttitudeSetpoint(control.AttitudeSetpoint{Orientation: mgl32.QuatRotate(0.4, geom.UnitY), Engine: control.EngineClosedLoop})
		c.SetMode(ModeAttitude)
		var frames []control.Frame
		for i := 0; i < 50; i++ {
			if reload {
				c.SetParams(c.Params())
			}
			frames = append(frames, c.Tick().Frame)
		}
		return frames
	}
	a, b := run(false), run(true)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("tick %d: %v != %v", i, a[i], b[i])
		}
	}
}

func TestModeSwitch_CarriesIntegralByDefault(t *testing.T) {
	p := control.DefaultParams()
	p.Rate = pid.Uniform(0, 1, 0)
	c := New(Config{Params: p})
	c.SetMode(ModeManual)
	_ = c.SetRateSetpoint(control.RateSetpoint{Wx: 1})
	for i := 0; i < 10; i++ {
		c.Tick()
	}
	c.SetMode(ModeIdle)
	c.Tick()
	c.SetMode(ModeManual)
	_ = c.SetRateSetpoint(control.RateSetpoint{})
	out := c.Tick()
	if out.Frame.Rudder() == 0 {
		t.Fatalf("expected stale integral to carry over, rudder=0")
	}
}

func TestModeSwitch_ResetWhenConfigured(t *testing.T) {
	p := control.DefaultParams()
	p.Rate = pid.Uniform(0, 1, 0)
	p.ResetOnModeSwitch = true
	c := New(Config{Params: p})
	c.SetMode(ModeManual)
	_ = c.SetRateSetpoint(control.RateSetpoint{Wx: 1})
	for i := 0; i < 10; i++ {
		c.Tick()
	}
	c.SetMode(ModeIdle)
	c.Tick()
	c.SetMode(ModeManual)
	_ = c.SetRateSetpoint(control.RateSetpoint{})
	out := c.Tick()
	if out.Frame.Rudder() != 0 {
		t.Fatalf("rudder=%v want 0 after reset", out.Frame.Rudder())
	}
}

// Run with -race.
func TestConcurrentUpdatesAndTicks(t *testing.T) {
	c := newTestController()
	var wg sync.WaitGroup
	stop := make(chan struct{})

	producers := []func(i int){
		func(i int) { _ = c.UpdatePose(mgl32.QuatRotate(float32(i%10)*0.01, geom.UnitZ), mgl32.Vec3{0.1, 0, 0}) },
		func(i int) { _ = c.UpdateVelocity(mgl32.Vec3{float32(i % 3), 0, 0}) },
		func(i int) { _ = c.UpdateAccel(mgl32.Vec3{0, 0, float32(i % 5)}) },
		func(i int) { c.SetMode(ModeFromWire(i % 6)) },
		func(i int) { _ = c.SetRateSetpoint(control.RateSetpoint{Wx: 1, Engine: control.EngineDirect}) },
		func(i int) { _ = c.SetHoverSetpoint(control.HoverSetpoint{Roll: float32(i % 7)}) },
		func(i int) { c.SetParams(control.DefaultParams()) },
	}
	for _, fn := range producers {
		wg.Add(1)
		go func(fn func(int)) {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				fn(i)
			}
		}(fn)
	}

	e := &recordingEmitter{}
	for i := 0; i < 2000; i++ {
		out := c.Step(e)
		for _, v := range out.Frame {
			if !geom.Finite(v) {
				t.Fatalf("tick %d: non-finite output %v", i, out.Frame)
			}
		}
	}
	close(stop)
	wg.Wait()

	if len(e.frames) != 2000 {
		t.Fatalf("frames=%d want 2000", len(e.frames))
	}
}
