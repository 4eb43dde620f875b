package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"tutorflow/auth"
	"tutorflow/dispute"
	"tutorflow/notify"
)

// Stats counts what an actor attempted. Rejected covers domain refusals that
// are expected under contention; Faults covers everything else, typically
// connections killed by chaos.
type Stats struct {
	Attempts  atomic.Int64
	Succeeded atomic.Int64
	Rejected  atomic.Int64
	Faults    atomic.Int64
}

func (s *Stats) String() string {
	return fmt.Sprintf("attempts=%d ok=%d rejected=%d faults=%d",
		s.Attempts.Load(), s.Succeeded.Load(), s.Rejected.Load(), s.Faults.Load())
}

func (s *Stats) record(err error, expected ...error) {
	s.Attempts.Add(1)
	if err == nil {
		s.Succeeded.Add(1)
		return
	}
	for _, e := range expected {
		if errors.Is(err, e) {
			s.Rejected.Add(1)
			return
		}
	}
	s.Faults.Add(1)
}

// Filer keeps opening disputes on the learner's lessons. A second open
// dispute on the same lesson must be refused.
func Filer(ctx context.Context, svc *dispute.Service, learnerID string, slotIDs []string, stats *Stats, stop <-chan struct{}) error {
	return loop(ctx, stop, 20, func() {
		_, err := svc.Create(ctx, dispute.CreateParams{
			LearnerID:     learnerID,
			BookingSlotID: slotIDs[rand.Intn(len(slotIDs))],
			Reason: dispute.Reason{
				Code:   dispute.ReasonCode(rand.Intn(5)),
				Detail: "Stress dispute",
			},
		})
		stats.record(err, dispute.ErrValidation)
	})
}

// Responder answers a random active dispute raised against the tutor.
func Responder(ctx context.Context, svc *dispute.Service, tutorID string, stats *Stats, stop <-chan struct{}) error {
	return loop(ctx, stop, 15, func() {
		active, err := svc.ListForTutor(ctx, tutorID, true)
		if err != nil || len(active) == 0 {
			return
		}
		d := active[rand.Intn(len(active))]
		_, err = svc.Respond(ctx, d.ID, tutorID, "The lesson went as booked.")
		stats.record(err, dispute.ErrInvalidState, dispute.ErrWindowExpired)
	})
}

// Withdrawer withdraws a random active dispute filed by the learner.
func Withdrawer(ctx context.Context, svc *dispute.Service, learnerID string, stats *Stats, stop <-chan struct{}) error {
	return loop(ctx, stop, 40, func() {
		active, err := svc.ListForLearner(ctx, learnerID, true)
		if err != nil || len(active) == 0 {
			return
		}
		d := active[rand.Intn(len(active))]
		_, err = svc.Withdraw(ctx, d.ID, learnerID)
		stats.record(err, dispute.ErrInvalidState)
	})
}

// Escalator runs the expiry sweep as the scheduler would.
func Escalator(ctx context.Context, svc *dispute.Service, stats *Stats, stop <-chan struct{}) error {
	return loop(ctx, stop, 25, func() {
		_, err := svc.EscalateExpired(ctx, 20)
		stats.record(err)
	})
}

// Resolver closes a random dispute from the staff review queue.
func Resolver(ctx context.Context, svc *dispute.Service, staffID string, stats *Stats, stop <-chan struct{}) error {
	staff := dispute.Actor{ID: staffID, Role: auth.RoleStaff}
	review := dispute.StatusAwaitingStaffReview
	resolutions := []dispute.Resolution{dispute.ResolutionLearnerWin, dispute.ResolutionTutorWin, dispute.ResolutionDraw}

	return loop(ctx, stop, 30, func() {
		page, err := svc.ListForStaff(ctx, staff, dispute.StaffFilter{Status: &review}, 1, 10)
		if err != nil || len(page.Items) == 0 {
			return
		}
		d := page.Items[rand.Intn(len(page.Items))]
		_, err = svc.Resolve(ctx, d.ID, staff, resolutions[rand.Intn(len(resolutions))], "Stress ruling")
		stats.record(err, dispute.ErrInvalidState)
	})
}

// Relay drains the outbox through the given relay.
func Relay(ctx context.Context, relay *notify.Relay, stats *Stats, stop <-chan struct{}) error {
	return loop(ctx, stop, 50, func() {
		_, err := relay.DrainOnce(ctx)
		stats.record(err)
	})
}

// FlakySink is a notify.Sink that refuses roughly one delivery in ten.
type FlakySink struct {
	Delivered atomic.Int64
}

func (s *FlakySink) Name() string { return "flaky" }

func (s *FlakySink) Deliver(_ context.Context, _ dispute.Event) error {
	if rand.Intn(10) == 0 {
		return errors.New("flaky sink: simulated outage")
	}
	s.Delivered.Add(1)
	return nil
}

func loop(ctx context.Context, stop <-chan struct{}, pauseMs int, step func()) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		step()
		time.Sleep(time.Duration(pauseMs+rand.Intn(pauseMs)) * time.Millisecond)
	}
}
