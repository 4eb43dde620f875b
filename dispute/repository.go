package dispute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	uniqueViolation      = "23505"
	openSlotConstraint   = "uq_disputes_open_slot"
	caseNumberConstraint = "uq_disputes_case_number"
)

const selectDispute = `
	SELECT d.id::text, d.case_number, d.status, d.learner_id::text, d.tutor_id::text, d.booking_slot_id::text,
	       d.reason_code, d.reason_detail, d.evidence_urls, d.tutor_response, d.tutor_responded_at,
	       d.reconciliation_end_time, d.staff_review_end_time, d.resolution, d.staff_notes, d.resolved_at,
	       d.created_at, d.updated_at,
	       COALESCE(l.full_name, ''), COALESCE(t.full_name, '')
	FROM disputes d
	LEFT JOIN users l ON l.id = d.learner_id
	LEFT JOIN users t ON t.id = d.tutor_id
`

const findByIDQuery = selectDispute + ` WHERE d.id = $1`

const casUpdateQuery = `
	UPDATE disputes
	SET status = $3,
	    tutor_response = COALESCE($4, tutor_response),
	    tutor_responded_at = COALESCE($5, tutor_responded_at),
	    staff_review_end_time = COALESCE($6, staff_review_end_time),
	    resolution = COALESCE($7, resolution),
	    staff_notes = COALESCE($8, staff_notes),
	    resolved_at = COALESCE($9, resolved_at),
	    updated_at = $10
	WHERE id = $1 AND status = $2
`

// PGRepository implements Store on PostgreSQL. Every write records the
// transition in dispute_events and enqueues it in outbox within the same
// transaction.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Insert(ctx context.Context, d Dispute, event Event) (Dispute, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin insert: %w", err)
	}
	defer tx.Rollback(ctx)

	evidence := d.EvidenceURLs
	if evidence == nil {
		evidence = []string{}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO disputes (id, case_number, status, learner_id, tutor_id, booking_slot_id,
			reason_code, reason_detail, evidence_urls, reconciliation_end_time, staff_review_end_time,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		d.ID,
		d.CaseNumber,
		int16(d.Status),
		d.LearnerID,
		d.TutorID,
		d.BookingSlotID,
		int16(d.Reason.Code),
		d.Reason.Detail,
		evidence,
		d.ReconciliationEndTime,
		d.StaffReviewEndTime,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			switch pgErr.ConstraintName {
			case openSlotConstraint:
				return Dispute{}, fmt.Errorf("%w: an open dispute already exists for this lesson", ErrValidation)
			case caseNumberConstraint:
				return Dispute{}, fmt.Errorf("%w: %s", ErrCaseNumberTaken, d.CaseNumber)
			}
		}
		return Dispute{}, fmt.Errorf("dispute: insert: %w", err)
	}

	if err := recordEvent(ctx, tx, event); err != nil {
		return Dispute{}, err
	}

	created, err := scanDispute(tx.QueryRow(ctx, findByIDQuery, d.ID))
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: reload inserted: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) FindByID(ctx context.Context, id string) (Dispute, error) {
	key, ok := parseID(id)
	if !ok {
		return Dispute{}, fmt.Errorf("%w: dispute %s", ErrNotFound, id)
	}
	d, err := scanDispute(r.pool.QueryRow(ctx, findByIDQuery, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, fmt.Errorf("%w: dispute %s", ErrNotFound, id)
		}
		return Dispute{}, fmt.Errorf("dispute: find by id: %w", err)
	}
	return d, nil
}

func (r *PGRepository) FindMany(ctx context.Context, filter ListFilter) (Page, error) {
	where := []string{"1=1"}
	args := []any{}

	if filter.LearnerID != "" {
		key, ok := parseID(filter.LearnerID)
		if !ok {
			return Page{Items: []Dispute{}}, nil
		}
		where = append(where, fmt.Sprintf("d.learner_id = $%d", len(args)+1))
		args = append(args, key)
	}
	if filter.TutorID != "" {
		key, ok := parseID(filter.TutorID)
		if !ok {
			return Page{Items: []Dispute{}}, nil
		}
		where = append(where, fmt.Sprintf("d.tutor_id = $%d", len(args)+1))
		args = append(args, key)
	}
	if len(filter.Statuses) > 0 {
		codes := make([]int16, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			codes = append(codes, int16(s))
		}
		where = append(where, fmt.Sprintf("d.status = ANY($%d)", len(args)+1))
		args = append(args, codes)
	}
	if filter.SearchTerm != "" {
		n := len(args) + 1
		where = append(where, fmt.Sprintf("(d.case_number ILIKE $%d OR l.full_name ILIKE $%d OR t.full_name ILIKE $%d)", n, n, n))
		args = append(args, "%"+escapeLike(filter.SearchTerm)+"%")
	}
	if filter.ReconciliationEndsBefore != nil {
		where = append(where, fmt.Sprintf("d.reconciliation_end_time <= $%d", len(args)+1))
		args = append(args, *filter.ReconciliationEndsBefore)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	orderBy := " ORDER BY d.created_at DESC, d.id DESC"
	if filter.ReconciliationEndsBefore != nil {
		orderBy = " ORDER BY d.reconciliation_end_time ASC, d.id ASC"
	}

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	query := selectDispute + whereClause + orderBy
	if filter.PageSize > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.PageSize, (page-1)*filter.PageSize)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return Page{}, fmt.Errorf("dispute: query list: %w", err)
	}
	defer rows.Close()

	items := []Dispute{}
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return Page{}, fmt.Errorf("dispute: scan list: %w", err)
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("dispute: iterate list: %w", err)
	}

	countQuery := `SELECT COUNT(*) FROM disputes d
		LEFT JOIN users l ON l.id = d.learner_id
		LEFT JOIN users t ON t.id = d.tutor_id` + whereClause
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("dispute: count list: %w", err)
	}

	result := Page{Items: items, TotalItems: total}
	if filter.PageSize > 0 {
		result.TotalPages = TotalPagesFor(total, filter.PageSize)
	} else if total > 0 {
		result.TotalPages = 1
	}
	return result, nil
}

// UpdateFields applies patch when the row is still in expected. The status
// predicate in the UPDATE is the compare-and-swap; a zero row count is
// resolved into ErrNotFound or ErrInvalidState.
func (r *PGRepository) UpdateFields(ctx context.Context, id string, expected Status, patch Patch, event Event) (Dispute, error) {
	key, ok := parseID(id)
	if !ok {
		return Dispute{}, fmt.Errorf("%w: dispute %s", ErrNotFound, id)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin update: %w", err)
	}
	defer tx.Rollback(ctx)

	var resolution *int16
	if patch.Resolution != nil {
		v := int16(*patch.Resolution)
		resolution = &v
	}

	tag, err := tx.Exec(ctx, casUpdateQuery,
		key,
		int16(expected),
		int16(patch.Status),
		patch.TutorResponse,
		patch.TutorRespondedAt,
		patch.StaffReviewEndTime,
		resolution,
		patch.StaffNotes,
		patch.ResolvedAt,
		event.OccurredAt,
	)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current int16
		err := tx.QueryRow(ctx, `SELECT status FROM disputes WHERE id = $1`, key).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, fmt.Errorf("%w: dispute %s", ErrNotFound, id)
		}
		if err != nil {
			return Dispute{}, fmt.Errorf("dispute: update check: %w", err)
		}
		return Dispute{}, fmt.Errorf("%w: dispute %s moved from %d to %d concurrently", ErrInvalidState, id, expected, current)
	}

	if err := recordEvent(ctx, tx, event); err != nil {
		return Dispute{}, err
	}

	updated, err := scanDispute(tx.QueryRow(ctx, findByIDQuery, key))
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: reload updated: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit update: %w", err)
	}
	return updated, nil
}

// Events returns the recorded history of a dispute, oldest first.
func (r *PGRepository) Events(ctx context.Context, disputeID string) ([]Event, error) {
	key, ok := parseID(disputeID)
	if !ok {
		return []Event{}, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT e.id::text, e.dispute_id::text, d.case_number, e.previous_status, e.new_status, e.actor_id,
		       d.learner_id::text, d.tutor_id::text, e.occurred_at
		FROM dispute_events e
		JOIN disputes d ON d.id = e.dispute_id
		WHERE e.dispute_id = $1
		ORDER BY e.occurred_at ASC, e.seq ASC
	`, key)
	if err != nil {
		return nil, fmt.Errorf("dispute: query events: %w", err)
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var (
			ev   Event
			prev *int16
			next int16
		)
		if err := rows.Scan(&ev.ID, &ev.DisputeID, &ev.CaseNumber, &prev, &next, &ev.ActorID, &ev.LearnerID, &ev.TutorID, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("dispute: scan event: %w", err)
		}
		if prev != nil {
			p := Status(*prev)
			ev.PreviousStatus = &p
		}
		ev.NewStatus = Status(next)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate events: %w", err)
	}
	return out, nil
}

func recordEvent(ctx context.Context, tx pgx.Tx, event Event) error {
	var prev *int16
	if event.PreviousStatus != nil {
		v := int16(*event.PreviousStatus)
		prev = &v
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO dispute_events (id, dispute_id, previous_status, new_status, actor_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.ID, event.DisputeID, prev, int16(event.NewStatus), event.ActorID, event.OccurredAt); err != nil {
		return fmt.Errorf("dispute: insert event: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("dispute: encode event: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO outbox (topic, message_key, payload)
		VALUES ($1, $2, $3::jsonb)
	`, OutboxTopicDisputeUpdated, event.DisputeID, string(payload)); err != nil {
		return fmt.Errorf("dispute: enqueue outbox: %w", err)
	}
	return nil
}

func scanDispute(row pgx.Row) (Dispute, error) {
	var (
		d          Dispute
		status     int16
		reasonCode int16
		resolution *int16
	)
	err := row.Scan(
		&d.ID,
		&d.CaseNumber,
		&status,
		&d.LearnerID,
		&d.TutorID,
		&d.BookingSlotID,
		&reasonCode,
		&d.Reason.Detail,
		&d.EvidenceURLs,
		&d.TutorResponse,
		&d.TutorRespondedAt,
		&d.ReconciliationEndTime,
		&d.StaffReviewEndTime,
		&resolution,
		&d.StaffNotes,
		&d.ResolvedAt,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.LearnerName,
		&d.TutorName,
	)
	if err != nil {
		return Dispute{}, err
	}
	d.Status = Status(status)
	d.Reason.Code = ReasonCode(reasonCode)
	if resolution != nil {
		res := Resolution(*resolution)
		d.Resolution = &res
	}
	normalizeTimes(&d)
	return d, nil
}

func normalizeTimes(d *Dispute) {
	d.ReconciliationEndTime = d.ReconciliationEndTime.UTC()
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	for _, t := range []*time.Time{d.TutorRespondedAt, d.StaffReviewEndTime, d.ResolvedAt} {
		if t != nil {
			*t = t.UTC()
		}
	}
}

// parseID normalizes a client-supplied id. Malformed ids cannot match any row.
func parseID(id string) (string, bool) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return u.String(), true
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
