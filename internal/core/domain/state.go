package domain

import "errors"

// ErrInvalidTransition is returned when a trial is moved to a state its
// current state does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed trial state transitions.
// Key is the current state, value is the list of valid next states.
var ValidTransitions = map[TrialState][]TrialState{
	TrialRequested: {TrialActive, TrialInfeasible},
	TrialActive: {
		TrialStopping,
		TrialSucceeded,
		TrialInfeasible,
		TrialStopped,
	},
	TrialStopping: {
		// Back to active when the evaluating client never acknowledged
		// the stop and the decision expired.
		TrialActive,
		TrialSucceeded,
		TrialInfeasible,
		TrialStopped,
	},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to TrialState) bool {
	validTargets, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, target := range validTargets {
		if target == to {
			return true
		}
	}
	return false
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s TrialState) string {
	switch s {
	case TrialRequested:
		return "Requested - parameters assigned, waiting for a client"
	case TrialActive:
		return "Active - a client is evaluating the trial"
	case TrialStopping:
		return "Stopping - a policy asked the client to halt"
	case TrialSucceeded:
		return "Succeeded - completed with a final measurement"
	case TrialInfeasible:
		return "Infeasible - parameters could not be evaluated"
	case TrialStopped:
		return "Stopped - halted early by a stopping policy"
	default:
		return "Unknown state"
	}
}
