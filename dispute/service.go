package dispute

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"tutorflow/auth"
	"tutorflow/booking"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxCaseNumberAttempts bounds how often Create draws a new id after a case
// number collision.
const maxCaseNumberAttempts = 5

// SlotReader resolves booking slots for the create precondition.
type SlotReader interface {
	GetByID(ctx context.Context, id string) (booking.Slot, error)
}

// Policy holds the tunable time windows and text bounds of the lifecycle.
type Policy struct {
	ReconciliationWindow time.Duration
	// StaffReviewWindow sets staffReviewEndTime when a dispute enters review.
	// Zero leaves it unset. The deadline is informational and not enforced.
	StaffReviewWindow time.Duration
	MinResponseLength int
	MaxResponseLength int
	MaxReasonLength   int
	MaxEvidenceItems  int
	MaxEvidenceLength int
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		ReconciliationWindow: 24 * time.Hour,
		StaffReviewWindow:    72 * time.Hour,
		MinResponseLength:    10,
		MaxResponseLength:    4000,
		MaxReasonLength:      2000,
		MaxEvidenceItems:     10,
		MaxEvidenceLength:    500,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.ReconciliationWindow <= 0 {
		p.ReconciliationWindow = d.ReconciliationWindow
	}
	if p.StaffReviewWindow < 0 {
		p.StaffReviewWindow = 0
	}
	if p.MinResponseLength <= 0 {
		p.MinResponseLength = d.MinResponseLength
	}
	if p.MaxResponseLength <= 0 {
		p.MaxResponseLength = d.MaxResponseLength
	}
	if p.MaxReasonLength <= 0 {
		p.MaxReasonLength = d.MaxReasonLength
	}
	if p.MaxEvidenceItems <= 0 {
		p.MaxEvidenceItems = d.MaxEvidenceItems
	}
	if p.MaxEvidenceLength <= 0 {
		p.MaxEvidenceLength = d.MaxEvidenceLength
	}
	return p
}

// Actor is the caller performing an operation.
type Actor struct {
	ID   string
	Role auth.Role
}

// CreateParams is the learner input for a new dispute.
type CreateParams struct {
	LearnerID     string
	BookingSlotID string
	Reason        Reason
	EvidenceURLs  []string
}

// StaffFilter narrows the staff dispute queue.
type StaffFilter struct {
	Status     *Status
	SearchTerm string
}

// Service is the dispute lifecycle engine. It holds no per-dispute state;
// concurrent safety comes from Store.UpdateFields.
type Service struct {
	store       Store
	slots       SlotReader
	policy      Policy
	logger      *zap.Logger
	now         func() time.Time
	idGenerator func() string
}

func NewService(store Store, slots SlotReader, policy Policy, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:       store,
		slots:       slots,
		policy:      policy.withDefaults(),
		logger:      logger,
		now:         time.Now,
		idGenerator: func() string { return uuid.NewString() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// Policy returns the effective policy after defaults.
func (s *Service) Policy() Policy {
	return s.policy
}

// Create files a new dispute in PendingReconciliation.
func (s *Service) Create(ctx context.Context, params CreateParams) (Dispute, error) {
	if params.LearnerID == "" {
		return Dispute{}, fmt.Errorf("%w: learner id required", ErrValidation)
	}
	if params.BookingSlotID == "" {
		return Dispute{}, fmt.Errorf("%w: booking slot id required", ErrValidation)
	}
	reason, err := s.validateReason(params.Reason)
	if err != nil {
		return Dispute{}, err
	}
	evidence, err := s.validateEvidence(params.EvidenceURLs)
	if err != nil {
		return Dispute{}, err
	}

	slot, err := s.slots.GetByID(ctx, params.BookingSlotID)
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			return Dispute{}, fmt.Errorf("%w: booking slot %s", ErrNotFound, params.BookingSlotID)
		}
		return Dispute{}, fmt.Errorf("dispute: load slot: %w", err)
	}
	if slot.LearnerID != params.LearnerID {
		// Other learners' slots read as missing.
		return Dispute{}, fmt.Errorf("%w: booking slot %s", ErrNotFound, params.BookingSlotID)
	}
	if !slot.Disputable() {
		return Dispute{}, fmt.Errorf("%w: booking slot is %s, only completed lessons can be disputed", ErrValidation, slot.Status)
	}

	now := s.now().UTC()
	var created Dispute
	for attempt := 1; ; attempt++ {
		id := s.idGenerator()
		d := Dispute{
			ID:                    id,
			CaseNumber:            caseNumber(id, now),
			Status:                StatusPendingReconciliation,
			LearnerID:             slot.LearnerID,
			TutorID:               slot.TutorID,
			BookingSlotID:         slot.ID,
			Reason:                reason,
			EvidenceURLs:          evidence,
			ReconciliationEndTime: now.Add(s.policy.ReconciliationWindow),
			CreatedAt:             now,
			UpdatedAt:             now,
		}

		created, err = s.store.Insert(ctx, d, s.newEvent(d, nil, d.Status, params.LearnerID, now))
		if err == nil {
			break
		}
		if !errors.Is(err, ErrCaseNumberTaken) || attempt == maxCaseNumberAttempts {
			return Dispute{}, err
		}
		s.logger.Warn("Case number collision, regenerating",
			zap.String("case_number", d.CaseNumber),
			zap.Int("attempt", attempt),
		)
	}

	s.logger.Info("Dispute created",
		zap.String("dispute_id", created.ID),
		zap.String("case_number", created.CaseNumber),
		zap.String("learner_id", created.LearnerID),
		zap.String("tutor_id", created.TutorID),
		zap.String("booking_slot_id", created.BookingSlotID),
		zap.Time("reconciliation_end_time", created.ReconciliationEndTime),
	)

	return created, nil
}

// Respond records the tutor's answer and moves the dispute to staff review.
func (s *Service) Respond(ctx context.Context, disputeID, actorID, responseText string) (Dispute, error) {
	d, err := s.store.FindByID(ctx, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	if actorID == "" || actorID != d.TutorID {
		return Dispute{}, fmt.Errorf("%w: only the tutor of the disputed lesson may respond", ErrForbidden)
	}
	if d.Status != StatusPendingReconciliation || d.TutorResponse != nil {
		return Dispute{}, fmt.Errorf("%w: dispute %s is no longer awaiting a tutor response", ErrInvalidState, d.CaseNumber)
	}
	now := s.now().UTC()
	if !CanRespond(d, now) {
		return Dispute{}, fmt.Errorf("%w: the response window closed at %s", ErrWindowExpired, d.ReconciliationEndTime.UTC().Format(time.RFC3339))
	}

	text := strings.TrimSpace(responseText)
	if n := utf8.RuneCountInString(text); n < s.policy.MinResponseLength {
		return Dispute{}, fmt.Errorf("%w: response must be at least %d characters", ErrValidation, s.policy.MinResponseLength)
	} else if n > s.policy.MaxResponseLength {
		return Dispute{}, fmt.Errorf("%w: response must be at most %d characters", ErrValidation, s.policy.MaxResponseLength)
	}

	patch := Patch{
		Status:             StatusAwaitingStaffReview,
		TutorResponse:      &text,
		TutorRespondedAt:   &now,
		StaffReviewEndTime: s.staffReviewDeadline(now),
	}
	updated, err := s.transition(ctx, d, patch, actorID, now)
	if err != nil {
		return Dispute{}, err
	}

	s.logger.Info("Dispute responded",
		zap.String("dispute_id", updated.ID),
		zap.String("case_number", updated.CaseNumber),
		zap.String("tutor_id", actorID),
	)
	return updated, nil
}

// Withdraw closes a dispute on the learner's request. Only the status gates
// it; there is no time bound.
func (s *Service) Withdraw(ctx context.Context, disputeID, actorID string) (Dispute, error) {
	d, err := s.store.FindByID(ctx, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	if actorID == "" || actorID != d.LearnerID {
		return Dispute{}, fmt.Errorf("%w: only the learner who filed the dispute may withdraw it", ErrForbidden)
	}
	if !CanWithdraw(d) {
		return Dispute{}, fmt.Errorf("%w: dispute %s can no longer be withdrawn", ErrInvalidState, d.CaseNumber)
	}

	now := s.now().UTC()
	updated, err := s.transition(ctx, d, Patch{Status: StatusClosedWithdrawn}, actorID, now)
	if err != nil {
		return Dispute{}, err
	}

	s.logger.Info("Dispute withdrawn",
		zap.String("dispute_id", updated.ID),
		zap.String("case_number", updated.CaseNumber),
		zap.String("learner_id", actorID),
	)
	return updated, nil
}

// Resolve records the staff decision and closes the dispute with the status
// matching the resolution.
func (s *Service) Resolve(ctx context.Context, disputeID string, actor Actor, resolution Resolution, notes string) (Dispute, error) {
	if actor.ID == "" || !actor.Role.IsStaff() {
		return Dispute{}, fmt.Errorf("%w: only staff may resolve disputes", ErrForbidden)
	}
	d, err := s.store.FindByID(ctx, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	if !CanResolve(d) {
		return Dispute{}, fmt.Errorf("%w: dispute %s is not awaiting staff review", ErrInvalidState, d.CaseNumber)
	}
	if !resolution.Valid() {
		return Dispute{}, fmt.Errorf("%w: unknown resolution code %d", ErrValidation, resolution)
	}
	trimmed := strings.TrimSpace(notes)
	if trimmed == "" {
		return Dispute{}, fmt.Errorf("%w: staff notes are required", ErrValidation)
	}

	now := s.now().UTC()
	patch := Patch{
		Status:     resolution.Status(),
		Resolution: &resolution,
		StaffNotes: &trimmed,
		ResolvedAt: &now,
	}
	updated, err := s.transition(ctx, d, patch, actor.ID, now)
	if err != nil {
		return Dispute{}, err
	}

	s.logger.Info("Dispute resolved",
		zap.String("dispute_id", updated.ID),
		zap.String("case_number", updated.CaseNumber),
		zap.String("staff_id", actor.ID),
		zap.Int("resolution", int(resolution)),
	)
	return updated, nil
}

// EscalateExpired promotes disputes whose reconciliation window lapsed
// without a tutor response to AwaitingStaffReview. Disputes that another
// actor moved concurrently are skipped. It returns the number promoted.
func (s *Service) EscalateExpired(ctx context.Context, limit int) (int, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	now := s.now().UTC()
	page, err := s.store.FindMany(ctx, ListFilter{
		Statuses:                 []Status{StatusPendingReconciliation},
		ReconciliationEndsBefore: &now,
		Page:                     1,
		PageSize:                 limit,
	})
	if err != nil {
		return 0, fmt.Errorf("dispute: find expired: %w", err)
	}

	promoted := 0
	for _, d := range page.Items {
		if err := ctx.Err(); err != nil {
			return promoted, err
		}
		if !ReconciliationExpired(d, now) {
			continue
		}
		patch := Patch{
			Status:             StatusAwaitingStaffReview,
			StaffReviewEndTime: s.staffReviewDeadline(now),
		}
		if _, err := s.transition(ctx, d, patch, SystemActorID, now); err != nil {
			if errors.Is(err, ErrInvalidState) || errors.Is(err, ErrNotFound) {
				s.logger.Debug("Skipping escalation, dispute moved concurrently",
					zap.String("dispute_id", d.ID))
				continue
			}
			return promoted, err
		}
		promoted++
		s.logger.Info("Dispute escalated to staff review",
			zap.String("dispute_id", d.ID),
			zap.String("case_number", d.CaseNumber),
			zap.Time("reconciliation_end_time", d.ReconciliationEndTime),
		)
	}
	return promoted, nil
}

// Get returns the dispute when the actor is its learner, its tutor or staff.
func (s *Service) Get(ctx context.Context, disputeID string, actor Actor) (Dispute, error) {
	d, err := s.store.FindByID(ctx, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	if !visibleTo(d, actor) {
		return Dispute{}, fmt.Errorf("%w: dispute %s is not visible to this user", ErrForbidden, disputeID)
	}
	return d, nil
}

// ListForLearner returns the learner's disputes, newest first. With
// onlyActive, terminal disputes are omitted.
func (s *Service) ListForLearner(ctx context.Context, learnerID string, onlyActive bool) ([]Dispute, error) {
	if learnerID == "" {
		return nil, fmt.Errorf("%w: learner id required", ErrValidation)
	}
	return s.listOwned(ctx, ListFilter{LearnerID: learnerID}, onlyActive)
}

// ListForTutor returns disputes raised against the tutor, newest first.
func (s *Service) ListForTutor(ctx context.Context, tutorID string, onlyActive bool) ([]Dispute, error) {
	if tutorID == "" {
		return nil, fmt.Errorf("%w: tutor id required", ErrValidation)
	}
	return s.listOwned(ctx, ListFilter{TutorID: tutorID}, onlyActive)
}

// ListForStaff returns one page of the staff queue.
func (s *Service) ListForStaff(ctx context.Context, actor Actor, filter StaffFilter, page, pageSize int) (Page, error) {
	if !actor.Role.IsStaff() {
		return Page{}, fmt.Errorf("%w: staff only", ErrForbidden)
	}
	if page < 1 {
		return Page{}, fmt.Errorf("%w: page must be >= 1", ErrValidation)
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return Page{}, fmt.Errorf("%w: pageSize must be between 1 and %d", ErrValidation, MaxPageSize)
	}
	lf := ListFilter{
		SearchTerm: strings.TrimSpace(filter.SearchTerm),
		Page:       page,
		PageSize:   pageSize,
	}
	if filter.Status != nil {
		if !filter.Status.Known() {
			return Page{}, fmt.Errorf("%w: unknown status %d", ErrValidation, *filter.Status)
		}
		lf.Statuses = []Status{*filter.Status}
	}

	result, err := s.store.FindMany(ctx, lf)
	if err != nil {
		return Page{}, fmt.Errorf("dispute: list for staff: %w", err)
	}
	return result, nil
}

func (s *Service) listOwned(ctx context.Context, filter ListFilter, onlyActive bool) ([]Dispute, error) {
	if onlyActive {
		filter.Statuses = ActiveStatuses()
	}
	result, err := s.store.FindMany(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	return result.Items, nil
}

// transition validates the edge against the lifecycle table and applies it
// through the store's compare-and-swap.
func (s *Service) transition(ctx context.Context, d Dispute, patch Patch, actorID string, now time.Time) (Dispute, error) {
	if err := ValidateTransition(d.Status, patch.Status); err != nil {
		return Dispute{}, err
	}
	prev := d.Status
	event := s.newEvent(d, &prev, patch.Status, actorID, now)
	return s.store.UpdateFields(ctx, d.ID, d.Status, patch, event)
}

func (s *Service) newEvent(d Dispute, prev *Status, next Status, actorID string, now time.Time) Event {
	return Event{
		ID:             s.idGenerator(),
		DisputeID:      d.ID,
		CaseNumber:     d.CaseNumber,
		PreviousStatus: prev,
		NewStatus:      next,
		ActorID:        actorID,
		LearnerID:      d.LearnerID,
		TutorID:        d.TutorID,
		OccurredAt:     now,
	}
}

func (s *Service) staffReviewDeadline(now time.Time) *time.Time {
	if s.policy.StaffReviewWindow <= 0 {
		return nil
	}
	deadline := now.Add(s.policy.StaffReviewWindow)
	return &deadline
}

func (s *Service) validateReason(r Reason) (Reason, error) {
	if !r.Code.Valid() {
		return Reason{}, fmt.Errorf("%w: unknown reason code %d", ErrValidation, r.Code)
	}
	detail := strings.TrimSpace(r.Detail)
	if detail == "" {
		return Reason{}, fmt.Errorf("%w: please describe the problem", ErrValidation)
	}
	if utf8.RuneCountInString(detail) > s.policy.MaxReasonLength {
		return Reason{}, fmt.Errorf("%w: description must be at most %d characters", ErrValidation, s.policy.MaxReasonLength)
	}
	return Reason{Code: r.Code, Detail: detail}, nil
}

func (s *Service) validateEvidence(items []string) ([]string, error) {
	if len(items) > s.policy.MaxEvidenceItems {
		return nil, fmt.Errorf("%w: at most %d evidence items", ErrValidation, s.policy.MaxEvidenceItems)
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: evidence item %d is empty", ErrValidation, i+1)
		}
		if utf8.RuneCountInString(trimmed) > s.policy.MaxEvidenceLength {
			return nil, fmt.Errorf("%w: evidence item %d exceeds %d characters", ErrValidation, i+1, s.policy.MaxEvidenceLength)
		}
		out = append(out, trimmed)
	}
	return out, nil
}

func visibleTo(d Dispute, actor Actor) bool {
	if actor.ID == "" {
		return false
	}
	return actor.Role.IsStaff() || actor.ID == d.LearnerID || actor.ID == d.TutorID
}

// caseNumber derives the human-facing reference from the creation date and
// the dispute id, e.g. DSP-20261018-3FA2C1.
func caseNumber(id string, createdAt time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(suffix) > 6 {
		suffix = suffix[:6]
	}
	return fmt.Sprintf("DSP-%s-%s", createdAt.UTC().Format("20060102"), suffix)
}
