package valuation

// State is a step of the submission state machine:
//
//	Idle → Validating → Geocoding → Predicting → Succeeded|Failed → Idle
type State int

const (
	StateIdle State = iota
	StateValidating
	StateGeocoding
	StatePredicting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateGeocoding:
		return "geocoding"
	case StatePredicting:
		return "predicting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends a submission.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Busy reports whether a submission is in flight while in s.
func (s State) Busy() bool {
	return s == StateValidating || s == StateGeocoding || s == StatePredicting
}

var transitions = map[State][]State{
	StateIdle:       {StateValidating},
	StateValidating: {StateGeocoding, StateFailed},
	StateGeocoding:  {StatePredicting, StateFailed},
	StatePredicting: {StateSucceeded, StateFailed},
	StateSucceeded:  {StateIdle},
	StateFailed:     {StateIdle},
}

// CanTransition reports whether the machine may move from s to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Observer is notified of every state the orchestrator enters.
type Observer func(State)
