package validation

// Transition is the pure validation state transition function.
//
//	NOT_STARTED  + any trigger        -> IN_PROGRESS
//	IN_PROGRESS  + error|fatal > 0    -> FAILED
//	IN_PROGRESS  + warning > 0        -> PARTIAL_PASS
//	IN_PROGRESS  + otherwise          -> PASSED
//	PARTIAL_PASS + override approved  -> PASSED
//	PARTIAL_PASS + no override        -> PARTIAL_PASS
//
// Every other state maps to itself.
func Transition(current State, counts Counts, overrideApproved bool) State {
	switch current {
	case StateNotStarted:
		return StateInProgress
	case StateInProgress:
		switch {
		case counts.HasBlocking():
			return StateFailed
		case counts.HasWarnings():
			return StatePartialPass
		default:
			return StatePassed
		}
	case StatePartialPass:
		if overrideApproved {
			return StatePassed
		}
		return StatePartialPass
	default:
		return current
	}
}

// Resolve runs the full NOT_STARTED path for a fresh count set.
func Resolve(counts Counts) State {
	return Transition(Transition(StateNotStarted, counts, false), counts, false)
}

// CanProceed reports whether the workflow may continue past this state.
// PARTIAL_PASS proceeds (it needs reviewer attention but does not block).
func CanProceed(state State) bool {
	return state == StatePassed || state == StatePartialPass
}

// CanMerge reports whether a merge commit is allowed without an override.
// PARTIAL_PASS merges only with an explicit approver override, recorded
// as a change request event by the caller.
func CanMerge(state State) bool {
	return state == StatePassed
}
