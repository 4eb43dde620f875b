package dispute

import "time"

// Status is the numeric lifecycle state of a dispute. Values are stable across
// the system and persisted as-is.
type Status int

const (
	StatusPendingReconciliation Status = 0
	StatusClosedWithdrawn       Status = 1
	// StatusClosedResolved is a legacy alias kept for records created before
	// resolutions were split by outcome. The engine never produces it.
	StatusClosedResolved        Status = 2
	StatusAwaitingStaffReview   Status = 3
	StatusResolvedLearnerWin    Status = 4
	StatusResolvedTutorWin      Status = 5
	StatusResolvedDraw          Status = 6
)

// Resolution is the staff outcome. Its values coincide with the terminal
// status the dispute moves to.
type Resolution int

const (
	ResolutionLearnerWin Resolution = Resolution(StatusResolvedLearnerWin)
	ResolutionTutorWin   Resolution = Resolution(StatusResolvedTutorWin)
	ResolutionDraw       Resolution = Resolution(StatusResolvedDraw)
)

// Status returns the terminal status a resolution moves the dispute to.
func (r Resolution) Status() Status {
	return Status(r)
}

// Valid reports whether r is one of the outcomes staff may pick.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionLearnerWin, ResolutionTutorWin, ResolutionDraw:
		return true
	default:
		return false
	}
}

// ReasonCode classifies the learner's complaint.
type ReasonCode int

const (
	ReasonTutorAbsent          ReasonCode = 0
	ReasonLessonQuality        ReasonCode = 1
	ReasonTechnicalIssue       ReasonCode = 2
	ReasonInappropriateConduct ReasonCode = 3
	ReasonOther                ReasonCode = 4
)

func (c ReasonCode) Valid() bool {
	return c >= ReasonTutorAbsent && c <= ReasonOther
}

// Reason is the learner-supplied justification, immutable after creation.
type Reason struct {
	Code   ReasonCode
	Detail string
}

// Dispute mirrors the disputes table. LearnerName and TutorName are joined
// from users on reads and never written.
type Dispute struct {
	ID                    string
	CaseNumber            string
	Status                Status
	LearnerID             string
	TutorID               string
	BookingSlotID         string
	Reason                Reason
	EvidenceURLs          []string
	TutorResponse         *string
	TutorRespondedAt      *time.Time
	ReconciliationEndTime time.Time
	StaffReviewEndTime    *time.Time
	Resolution            *Resolution
	StaffNotes            *string
	ResolvedAt            *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time

	LearnerName string
	TutorName   string
}

// Event is emitted for every successful transition, creation included.
// PreviousStatus is nil on creation.
type Event struct {
	ID             string    `json:"eventId"`
	DisputeID      string    `json:"disputeId"`
	CaseNumber     string    `json:"caseNumber"`
	PreviousStatus *Status   `json:"previousStatus"`
	NewStatus      Status    `json:"newStatus"`
	ActorID        string    `json:"actorId"`
	LearnerID      string    `json:"learnerId"`
	TutorID        string    `json:"tutorId"`
	OccurredAt     time.Time `json:"occurredAt"`
}

const (
	// SystemActorID marks transitions performed by the expiry sweep.
	SystemActorID = "system"

	// OutboxTopicDisputeUpdated is the outbox topic every dispute event is
	// enqueued under.
	OutboxTopicDisputeUpdated = "dispute.updated"
)
