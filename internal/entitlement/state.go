package entitlement

import (
	"time"
)

// trialTransitions is the single authoritative transition table for the
// trial lifecycle. Every state change in the engine goes through
// transition(); no caller re-derives state from field comparisons.
var trialTransitions = map[TrialState][]TrialState{
	TrialActive:    {TrialActive, TrialExhausted, TrialExpired, TrialActivated, TrialRevoked},
	TrialExhausted: {TrialExpired, TrialActivated, TrialRevoked},
	TrialExpired:   {TrialActivated, TrialRevoked},
	TrialActivated: {TrialRevoked},
	TrialRevoked:   {},
}

// CanTransition reports whether the trial lifecycle permits moving from
// one state to another. ACTIVATED and REVOKED are terminal for trial
// credit purposes: neither ever returns to ACTIVE.
func CanTransition(from, to TrialState) bool {
	for _, next := range trialTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a trial in the given state can never again
// consume trial credits.
func IsTerminal(s TrialState) bool {
	switch s {
	case TrialExhausted, TrialExpired, TrialActivated, TrialRevoked:
		return true
	}
	return false
}

// transition advances a registration to the target state and stamps the
// matching lifecycle timestamp. It returns an InvalidState error when the
// table forbids the move.
func transition(reg *TrialRegistration, to TrialState, now time.Time) error {
	if !CanTransition(reg.State, to) {
		return invalidState("trial_transition",
			"trial registration cannot move from %s to %s", reg.State, to)
	}
	reg.State = to
	switch to {
	case TrialExhausted:
		if reg.ExhaustedAt == nil {
			t := now
			reg.ExhaustedAt = &t
		}
	case TrialActivated:
		t := now
		reg.ActivatedAt = &t
	case TrialRevoked:
		t := now
		reg.RevokedAt = &t
	}
	return nil
}
