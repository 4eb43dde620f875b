package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested slot does not exist.
var ErrNotFound = errors.New("booking: slot not found")

// Repository provides read access to booking slots.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a slot by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Slot, error) {
	key, err := uuid.Parse(id)
	if err != nil {
		return Slot{}, ErrNotFound
	}

	const query = `
		SELECT id::text, learner_id::text, tutor_id::text, starts_at, ends_at, status, created_at
		FROM booking_slots
		WHERE id = $1
	`

	slot, err := scanSlot(r.pool.QueryRow(ctx, query, key.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Slot{}, ErrNotFound
		}
		return Slot{}, fmt.Errorf("booking: query by id: %w", err)
	}

	return slot, nil
}

// ListDisputable returns up to limit completed slots of the learner that have
// no open dispute, most recent lesson first.
func (r *Repository) ListDisputable(ctx context.Context, learnerID string, limit int) ([]Slot, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	learner, err := uuid.Parse(learnerID)
	if err != nil {
		return []Slot{}, nil
	}

	const query = `
		SELECT s.id::text, s.learner_id::text, s.tutor_id::text, s.starts_at, s.ends_at, s.status, s.created_at
		FROM booking_slots s
		WHERE s.learner_id = $1
		  AND s.status = 'completed'
		  AND NOT EXISTS (
			SELECT 1 FROM disputes d
			WHERE d.booking_slot_id = s.id AND d.status IN (0, 3)
		  )
		ORDER BY s.starts_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, learner.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("booking: list disputable: %w", err)
	}
	defer rows.Close()

	slots := make([]Slot, 0, limit)
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("booking: scan slot: %w", err)
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("booking: iterate slots: %w", err)
	}

	return slots, nil
}

func scanSlot(row pgx.Row) (Slot, error) {
	var slot Slot
	err := row.Scan(
		&slot.ID,
		&slot.LearnerID,
		&slot.TutorID,
		&slot.StartsAt,
		&slot.EndsAt,
		&slot.Status,
		&slot.CreatedAt,
	)
	return slot, err
}
