// ABOUTME: Decision tagged variant returned by conflict resolution
// ABOUTME: Grant, Deny with a reason, or PreemptAndGrant naming the victims

package reservation

// Outcome tags the kind of Decision.
type Outcome string

const (
	OutcomeGrant           Outcome = "GRANT"
	OutcomeDeny            Outcome = "DENY"
	OutcomePreemptAndGrant Outcome = "PREEMPT_AND_GRANT"
)

// DenyReason explains a denial. Denials are ordinary outcomes, not errors.
type DenyReason string

const (
	DenyScheduleConflict DenyReason = "SCHEDULE_CONFLICT"
	DenyTaskIDExists     DenyReason = "TASK_ID_ALREADY_EXISTS"
	DenyWindowExpired    DenyReason = "WINDOW_EXPIRED"
)

// Decision is the result of resolving a request against a device schedule.
//
// Only the fields relevant to Outcome are populated:
//   - Grant: Reservation
//   - Deny: Reason, Conflicts
//   - PreemptAndGrant: Victims, Reservation
type Decision struct {
	Outcome Outcome
	Reason  DenyReason

	// Victims are the reservation IDs that must give up the window.
	Victims []string

	// Conflicts are the reservation IDs that caused a denial.
	Conflicts []string

	// Reservation is the granted reservation as committed by the engine.
	Reservation *Reservation
}

// Grant returns a plain grant decision.
func Grant() Decision {
	return Decision{Outcome: OutcomeGrant}
}

// Deny returns a denial with the given reason and blocking reservation IDs.
func Deny(reason DenyReason, conflicts ...string) Decision {
	return Decision{Outcome: OutcomeDeny, Reason: reason, Conflicts: conflicts}
}

// PreemptAndGrant returns a decision that grants after preempting victims.
func PreemptAndGrant(victims ...string) Decision {
	return Decision{Outcome: OutcomePreemptAndGrant, Victims: victims}
}

// Granted reports whether the request was (or will be) given the window.
func (d Decision) Granted() bool {
	return d.Outcome == OutcomeGrant || d.Outcome == OutcomePreemptAndGrant
}
