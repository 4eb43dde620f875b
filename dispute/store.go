package dispute

import (
	"context"
	"errors"
	"time"
)

// ErrCaseNumberTaken is returned by Insert when another dispute already holds
// the case number. Create retries with a fresh id.
var ErrCaseNumberTaken = errors.New("dispute: case number already taken")

// Store persists disputes. UpdateFields must be atomic: it applies patch only
// when the stored status still equals expected, and records event in the same
// unit of work. A mismatch yields ErrInvalidState, a missing row ErrNotFound.
// Insert rejects a second open dispute on a lesson with ErrValidation and a
// duplicate case number with ErrCaseNumberTaken.
type Store interface {
	Insert(ctx context.Context, d Dispute, event Event) (Dispute, error)
	FindByID(ctx context.Context, id string) (Dispute, error)
	FindMany(ctx context.Context, filter ListFilter) (Page, error)
	UpdateFields(ctx context.Context, id string, expected Status, patch Patch, event Event) (Dispute, error)
}

// Patch enumerates the mutable columns. Nil fields are left untouched; Status
// is always written.
type Patch struct {
	Status             Status
	TutorResponse      *string
	TutorRespondedAt   *time.Time
	StaffReviewEndTime *time.Time
	Resolution         *Resolution
	StaffNotes         *string
	ResolvedAt         *time.Time
}

// ListFilter narrows FindMany. Zero values mean "no restriction".
type ListFilter struct {
	LearnerID  string
	TutorID    string
	Statuses   []Status
	SearchTerm string
	// ReconciliationEndsBefore selects disputes whose reconciliation deadline
	// is at or before the given instant.
	ReconciliationEndsBefore *time.Time
	Page                     int
	PageSize                 int
}

// Page is one slice of a FindMany result.
type Page struct {
	Items      []Dispute
	TotalItems int
	TotalPages int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// TotalPagesFor computes the page count for total items at pageSize.
func TotalPagesFor(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}
