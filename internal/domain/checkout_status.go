package domain

type AttemptState string

const (
	AttemptIdle       AttemptState = "IDLE"
	AttemptValidating AttemptState = "VALIDATING"
	AttemptCommitting AttemptState = "COMMITTING"
	AttemptCommitted  AttemptState = "COMMITTED"
	AttemptRejected   AttemptState = "REJECTED"
)

func (s AttemptState) IsTerminal() bool {
	return s == AttemptCommitted || s == AttemptRejected
}

// CanTransitionTo reports whether one checkout attempt may move from s to next.
// A rejected attempt is finished; the caller retries with a fresh attempt.
func (s AttemptState) CanTransitionTo(next AttemptState) bool {
	switch s {
	case AttemptIdle:
		return next == AttemptValidating
	case AttemptValidating:
		return next == AttemptCommitting || next == AttemptRejected
	case AttemptCommitting:
		return next == AttemptCommitted || next == AttemptRejected
	default:
		return false
	}
}

// String representation (for logging)
func (s AttemptState) String() string {
	return string(s)
}

// Attempt tracks the state of a single checkout attempt.
type Attempt struct {
	state AttemptState
}

func NewAttempt() *Attempt {
	return &Attempt{state: AttemptIdle}
}

func (a *Attempt) State() AttemptState {
	return a.state
}

func (a *Attempt) Transition(next AttemptState) error {
	if !a.state.CanTransitionTo(next) {
		return ErrIllegalTransition
	}
	a.state = next
	return nil
}
