package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"hoverfc/internal/control"
	"hoverfc/internal/flight"
)

// ErrUnknownType is returned for envelopes whose type has no handler.
var ErrUnknownType = errors.New("bus: unknown message type")

// Sink receives decoded messages. *flight.Controller implements it.
type Sink interface {
	UpdatePose(q mgl32.Quat, rate mgl32.Vec3) error
	UpdateVelocity(ned mgl32.Vec3) error
	UpdateAccel(a mgl32.Vec3) error
	SetMode(m flight.Mode)
	SetRateSetpoint(sp control.RateSetpoint) error
	SetAttitudeSetpoint(sp control.AttitudeSetpoint) error
	SetHoverSetpoint(sp control.HoverSetpoint) error
}

var _ Sink = (*flight.Controller)(nil)

type envelope struct {
	Type string `json:"type"`
}

// Quaternions are [w, x, y, z].
type poseMsg struct {
	Q    [4]float32 `json:"q"`
	Rate [3]float32 `json:"rate"`
}

type velocityMsg struct {
	North float32 `json:"north"`
	East  float32 `json:"east"`
	Down  float32 `json:"down"`
}

type accelMsg struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

type modeMsg struct {
	Mode *int `json:"mode"`
}

type rateSPMsg struct {
	Wx         float32 `json:"wx"`
	Wy         float32 `json:"wy"`
	Wz         float32 `json:"wz"`
	Throttle   float32 `json:"throttle"`
	EngineMode int     `json:"engine_mode"`
}

type attitudeSPMsg struct {
	W          float32 `json:"w"`
	X          float32 `json:"x"`
	Y          float32 `json:"y"`
	Z          float32 `json:"z"`
	HeadSpeed  float32 `json:"head_speed"`
	EngineMode int     `json:"engine_mode"`
}

type hoverSPMsg struct {
	Roll          float32 `json:"roll"`
	Pitch         float32 `json:"pitch"`
	YawRate       float32 `json:"yaw_rate"`
	VerticalSpeed float32 `json:"vertical_speed"`
	EngineMode    int     `json:"engine_mode"`
}

// TypeCounts tallies one message type.
type TypeCounts struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
	// Ignored counts well-formed messages the sink declined, e.g. a rate
	// setpoint outside manual mode.
	Ignored uint64 `json:"ignored"`
}

// Dispatcher decodes envelopes and routes them to a Sink.
type Dispatcher struct {
	sink Sink

	mu        sync.Mutex
	counts    map[string]*TypeCounts
	unknown   uint64
	malformed uint64
}

func NewDispatcher(sink Sink) *Dispatcher {
	return &Dispatcher{sink: sink, counts: make(map[string]*TypeCounts)}
}

// Dispatch handles one raw message. Malformed input is counted and returned as
// an error; the sink state is untouched in that case.
func (d *Dispatcher) Dispatch(raw []byte) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.count("", errMalformed)
		return fmt.Errorf("bus: envelope: %w", err)
	}
	err := route(d.sink, env.Type, raw)
	d.count(env.Type, err)
	return err
}

var errMalformed = errors.New("malformed")

func (d *Dispatcher) count(typ string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if errors.Is(err, errMalformed) {
		d.malformed++
		return
	}
	if errors.Is(err, ErrUnknownType) {
		d.unknown++
		return
	}
	c := d.counts[typ]
	if c == nil {
		c = &TypeCounts{}
		d.counts[typ] = c
	}
	switch {
	case err == nil:
		c.Accepted++
	case errors.Is(err, flight.ErrInactive):
		c.Ignored++
	default:
		c.Rejected++
	}
}

type DispatchSnapshot struct {
	Types     map[string]TypeCounts `json:"types"`
	Unknown   uint64                `json:"unknown"`
	Malformed uint64                `json:"malformed"`
}

func (d *Dispatcher) Snapshot() DispatchSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := DispatchSnapshot{Types: make(map[string]TypeCounts, len(d.counts)), Unknown: d.unknown, Malformed: d.malformed}
	for k, v := range d.counts {
		out.Types[k] = *v
	}
	return out
}

// Types lists the message types the dispatcher understands.
func Types() []string {
	out := make([]string, 0, len(handlers))
	for k := range handlers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var handlers = map[string]func(Sink, []byte) error{
	"pose": func(s Sink, raw []byte) error {
		var m poseMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		return s.UpdatePose(mgl32.Quat{W: m.Q[0], V: mgl32.Vec3{m.Q[1], m.Q[2], m.Q[3]}}, m.Rate)
	},
	"velocity": func(s Sink, raw []byte) error {
		var m velocityMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		return s.UpdateVelocity(mgl32.Vec3{m.North, m.East, m.Down})
	},
	"accel": func(s Sink, raw []byte) error {
		var m accelMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		return s.UpdateAccel(mgl32.Vec3{m.X, m.Y, m.Z})
	},
	"mode": func(s Sink, raw []byte) error {
		var m modeMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		if m.Mode == nil {
			return fmt.Errorf("mode field is required")
		}
		s.SetMode(flight.ModeFromWire(*m.Mode))
		return nil
	},
	"rate_sp": func(s Sink, raw []byte) error {
		var m rateSPMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		return s.SetRateSetpoint(control.RateSetpoint{
			Wx:       m.Wx,
			Wy:       m.Wy,
			Wz:       m.Wz,
			Throttle: m.Throttle,
			Engine:   control.EngineModeFromWire(m.EngineMode),
		})
	},
	"attitude_sp": func(s Sink, raw []byte) error {
		var m attitudeSPMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		return s.SetAttitudeSetpoint(control.AttitudeSetpoint{
			Orientation: mgl32.Quat{W: m.W, V: mgl32.Vec3{m.X, m.Y, m.Z}},
			HeadSpeed:   m.HeadSpeed,
			Engine:      control.EngineModeFromWire(m.EngineMode),
		})
	},
	"hover_sp": func(s Sink, raw []byte) error {
		var m hoverSPMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		return s.SetHoverSetpoint(control.HoverSetpoint{
			Roll:          m.Roll,
			Pitch:         m.Pitch,
			YawRate:       m.YawRate,
			VerticalSpeed: m.VerticalSpeed,
			Engine:        control.EngineModeFromWire(m.EngineMode),
		})
	},
}

func route(s Sink, typ string, raw []byte) error {
	h, ok := handlers[typ]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownType, typ)
	}
	if err := h(s, raw); err != nil {
		return fmt.Errorf("bus: %s: %w", typ, err)
	}
	return nil
}
