package dispute

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPendingReconciliation, StatusAwaitingStaffReview}: true,
		{StatusPendingReconciliation, StatusClosedWithdrawn}:     true,
		{StatusAwaitingStaffReview, StatusResolvedLearnerWin}:    true,
		{StatusAwaitingStaffReview, StatusResolvedTutorWin}:      true,
		{StatusAwaitingStaffReview, StatusResolvedDraw}:          true,
	}

	for from := Status(0); from <= StatusResolvedDraw; from++ {
		for to := Status(0); to <= StatusResolvedDraw; to++ {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%d, %d) = %v, want %v", from, to, got, want)
			}
		}
	}
	if CanTransition(Status(99), StatusAwaitingStaffReview) {
		t.Error("unknown status must not transition")
	}
}

func TestStatusClassification(t *testing.T) {
	for _, s := range []Status{StatusClosedWithdrawn, StatusClosedResolved, StatusResolvedLearnerWin, StatusResolvedTutorWin, StatusResolvedDraw} {
		if !s.Terminal() {
			t.Errorf("status %d should be terminal", s)
		}
		if s.Open() {
			t.Errorf("status %d should not be open", s)
		}
	}
	for _, s := range ActiveStatuses() {
		if s.Terminal() || !s.Open() {
			t.Errorf("status %d should be active", s)
		}
	}
	if Status(7).Known() {
		t.Error("status 7 is not part of the lifecycle")
	}
	if StatusClosedResolved.Resolved() {
		t.Error("legacy closed status carries no resolution")
	}
}

func TestPredicates(t *testing.T) {
	end := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	pending := Dispute{Status: StatusPendingReconciliation, ReconciliationEndTime: end}

	if !CanRespond(pending, end.Add(-time.Millisecond)) {
		t.Error("respond must be allowed just before the deadline")
	}
	if CanRespond(pending, end) {
		t.Error("respond must be refused at the deadline")
	}
	if !ReconciliationExpired(pending, end) {
		t.Error("dispute must be expired at the deadline")
	}
	if !CanWithdraw(pending) || CanResolve(pending) {
		t.Error("pending dispute: withdraw allowed, resolve refused")
	}

	answered := pending
	text := "already answered"
	answered.TutorResponse = &text
	if CanRespond(answered, end.Add(-time.Hour)) {
		t.Error("respond must be refused once a response exists")
	}

	review := Dispute{Status: StatusAwaitingStaffReview, ReconciliationEndTime: end}
	if !CanResolve(review) || CanWithdraw(review) || CanRespond(review, end.Add(-time.Hour)) {
		t.Error("review dispute: only resolve allowed")
	}
	if ReconciliationExpired(review, end.Add(time.Hour)) {
		t.Error("only pending disputes expire")
	}
}

func TestResolutionStatus(t *testing.T) {
	cases := map[Resolution]Status{
		ResolutionLearnerWin: StatusResolvedLearnerWin,
		ResolutionTutorWin:   StatusResolvedTutorWin,
		ResolutionDraw:       StatusResolvedDraw,
	}
	for res, want := range cases {
		if !res.Valid() {
			t.Errorf("resolution %d should be valid", res)
		}
		if got := res.Status(); got != want {
			t.Errorf("Resolution(%d).Status() = %d, want %d", res, got, want)
		}
	}
	if Resolution(3).Valid() {
		t.Error("resolution 3 must be rejected")
	}
}

func TestTotalPagesFor(t *testing.T) {
	tests := []struct{ total, size, want int }{
		{0, 20, 0},
		{1, 20, 1},
		{20, 20, 1},
		{21, 20, 2},
		{5, 0, 0},
	}
	for _, tc := range tests {
		if got := TotalPagesFor(tc.total, tc.size); got != tc.want {
			t.Errorf("TotalPagesFor(%d, %d) = %d, want %d", tc.total, tc.size, got, tc.want)
		}
	}
}
