package subscription

// State is the lifecycle position of a Subscription.
type State int32

// Subscription states. Every Closed* state is absorbing.
const (
	StateIdle State = iota
	StateOpen
	StateClosedByTerminalEvent
	StateClosedByError
	StateClosedByDisposal
)

// Closed reports whether s is one of the absorbing closed states.
func (s State) Closed() bool {
	return s >= StateClosedByTerminalEvent
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateClosedByTerminalEvent:
		return "closed_by_terminal_event"
	case StateClosedByError:
		return "closed_by_error"
	case StateClosedByDisposal:
		return "closed_by_disposal"
	default:
		return "unknown"
	}
}
