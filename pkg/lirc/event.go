package lirc

// ControlSignal classifies out-of-band lircd messages.
type ControlSignal int

const (
	ControlNone         ControlSignal = iota // line carried a button event
	ControlReconfigured                      // lircd re-read its configuration (SIGHUP)
)

func (c ControlSignal) String() string {
	switch c {
	case ControlNone:
		return "none"
	case ControlReconfigured:
		return "reconfigured"
	default:
		return "unknown"
	}
}

// Event is a decoded button press. Button and Remote come from the lircd
// configuration; Repeat counts how many times a held button has repeated
// since the initial press.
type Event struct {
	Button string
	Remote string
	Repeat int
}

// Message is the result of decoding one lircd line: either a control
// signal or a button event.
type Message struct {
	Control ControlSignal
	Event   Event // zero when Control != ControlNone
}

// IsControl reports whether the line was a control message rather than a
// button event.
func (m Message) IsControl() bool {
	return m.Control != ControlNone
}
