package call

// State is the session state of the call manager.
type State int

const (
	StateIdle State = iota
	// StateRequesting: we called out and wait for the remote to answer.
	StateRequesting
	// StateRinging: a remote offer is waiting for the local user.
	StateRinging
	// StateNegotiating: descriptions exchanged, transport not yet connected.
	StateNegotiating
	StateActive
)

var validTransitions = map[State][]State{
	StateIdle:        {StateRequesting, StateRinging},
	StateRequesting:  {StateNegotiating, StateIdle},
	StateRinging:     {StateNegotiating, StateIdle},
	StateNegotiating: {StateActive, StateIdle},
	StateActive:      {StateIdle},
}

func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateRinging:
		return "ringing"
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}
