package reconcile

// State is the workflow's position in the reconciliation lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateSelecting  State = "selecting"
	StateConfirming State = "confirming"
	StatePersisting State = "persisting"
	StateSettled    State = "settled"
	StateFailed     State = "failed"
)

// next returns the state the workflow rests in after s. Settled returns to
// Idle for the next item; Failed returns to Selecting so the user can retry
// or pick another item.
func (s State) next() State {
	switch s {
	case StateSettled:
		return StateIdle
	case StateFailed:
		return StateSelecting
	default:
		return s
	}
}
