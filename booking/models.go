package booking

import "time"

type SlotStatus string

const (
	SlotStatusBooked    SlotStatus = "booked"
	SlotStatusCompleted SlotStatus = "completed"
	SlotStatusCancelled SlotStatus = "cancelled"
)

// Slot captures the subset of a booked lesson slot the dispute flow reads.
type Slot struct {
	ID        string
	LearnerID string
	TutorID   string
	StartsAt  time.Time
	EndsAt    time.Time
	Status    SlotStatus
	CreatedAt time.Time
}

// Disputable reports whether a learner may file a dispute against the slot.
func (s Slot) Disputable() bool {
	return s.Status == SlotStatusCompleted
}
