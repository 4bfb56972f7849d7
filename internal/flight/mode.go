package flight

// Mode is the control law selected by the external state machine.
type Mode uint8

const (
	// ModeIdle zeroes every output.
	ModeIdle Mode = iota
	// ModeManual feeds stick rate commands straight into the rate loop.
	ModeManual
	// ModeAttitude runs the attitude cascade on the live attitude setpoint.
	ModeAttitude
	// ModeHover synthesizes an attitude setpoint from the hover command.
	ModeHover
	// ModeUnknown is any unrecognized wire value. It behaves exactly like ModeIdle.
	ModeUnknown
)

// ModeFromWire maps the state machine's integer mode. Both "nothing" (0) and
// "disarm" (1) are idle.
func ModeFromWire(v int) Mode {
	switch v {
	case 0, 1:
		return ModeIdle
	case 2:
		return ModeAttitude
	case 3:
		return ModeManual
	case 4:
		return ModeHover
	default:
		return ModeUnknown
	}
}

// Active reports whether a control law runs in this mode.
func (m Mode) Active() bool {
	switch m {
	case ModeManual, ModeAttitude, ModeHover:
		return true
	default:
		return false
	}
}

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeManual:
		return "manual"
	case ModeAttitude:
		return "attitude"
	case ModeHover:
		return "hover"
	default:
		return "unknown"
	}
}
