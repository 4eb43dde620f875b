package dispute

import (
	"fmt"
	"time"
)

// allowedTransitions lists every status change the engine may perform.
// Terminal statuses have no outgoing edges.
var allowedTransitions = map[Status]map[Status]struct{}{
	StatusPendingReconciliation: {
		StatusAwaitingStaffReview: {},
		StatusClosedWithdrawn:     {},
	},
	StatusAwaitingStaffReview: {
		StatusResolvedLearnerWin: {},
		StatusResolvedTutorWin:   {},
		StatusResolvedDraw:       {},
	},
	StatusClosedWithdrawn:    {},
	StatusClosedResolved:     {},
	StatusResolvedLearnerWin: {},
	StatusResolvedTutorWin:   {},
	StatusResolvedDraw:       {},
}

// Known reports whether s is one of the enumerated statuses.
func (s Status) Known() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	next, ok := allowedTransitions[s]
	return ok && len(next) == 0
}

// Open reports whether the dispute still awaits a decision.
func (s Status) Open() bool {
	return s == StatusPendingReconciliation || s == StatusAwaitingStaffReview
}

// Resolved reports whether s is a staff outcome.
func (s Status) Resolved() bool {
	return s == StatusResolvedLearnerWin || s == StatusResolvedTutorWin || s == StatusResolvedDraw
}

// ActiveStatuses are the non-terminal statuses, in lifecycle order.
func ActiveStatuses() []Status {
	return []Status{StatusPendingReconciliation, StatusAwaitingStaffReview}
}

// CanTransition reports whether the lifecycle allows from -> to.
func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// ValidateTransition returns an ErrInvalidState error when from -> to is not
// part of the lifecycle.
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %d -> %d", ErrInvalidState, from, to)
	}
	return nil
}

// CanRespond reports whether the tutor may still answer d at now.
func CanRespond(d Dispute, now time.Time) bool {
	return d.Status == StatusPendingReconciliation &&
		now.Before(d.ReconciliationEndTime) &&
		d.TutorResponse == nil
}

// CanResolve reports whether staff may decide d.
func CanResolve(d Dispute) bool {
	return d.Status == StatusAwaitingStaffReview
}

// CanWithdraw reports whether the learner may withdraw d. There is no time
// bound, only the status gate.
func CanWithdraw(d Dispute) bool {
	return d.Status == StatusPendingReconciliation
}

// ReconciliationExpired reports whether d sits in reconciliation past its
// deadline and is due for escalation.
func ReconciliationExpired(d Dispute, now time.Time) bool {
	return d.Status == StatusPendingReconciliation && !now.Before(d.ReconciliationEndTime)
}
