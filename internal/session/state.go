package session

// State is the controller's lifecycle position. Exactly one is active.
type State int

const (
	Idle State = iota
	Listening
	Processing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Listening:
		return "Listening"
	case Processing:
		return "Processing"
	default:
		return "Unknown"
	}
}
