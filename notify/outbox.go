package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Message is one pending outbox row.
type Message struct {
	ID       int64
	Topic    string
	Key      string
	Payload  []byte
	Attempts int
}

// BatchResult summarizes one drain pass.
type BatchResult struct {
	Delivered int
	Failed    int
	Dead      int
}

// Outbox hands pending messages to deliver and records each outcome.
type Outbox interface {
	Drain(ctx context.Context, limit int, deliver func(context.Context, Message) error) (BatchResult, error)
}

// PGOutbox claims rows with FOR UPDATE SKIP LOCKED so several relays can run
// side by side without double delivery.
type PGOutbox struct {
	pool        *pgxpool.Pool
	maxAttempts int
}

func NewPGOutbox(pool *pgxpool.Pool, maxAttempts int) *PGOutbox {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &PGOutbox{pool: pool, maxAttempts: maxAttempts}
}

func (o *PGOutbox) Drain(ctx context.Context, limit int, deliver func(context.Context, Message) error) (BatchResult, error) {
	var result BatchResult

	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("outbox: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, topic, message_key, payload::text, attempts
		FROM outbox
		WHERE processed_at IS NULL AND dead_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return result, fmt.Errorf("outbox: claim: %w", err)
	}

	var batch []Message
	for rows.Next() {
		var (
			m       Message
			payload string
		)
		if err := rows.Scan(&m.ID, &m.Topic, &m.Key, &payload, &m.Attempts); err != nil {
			rows.Close()
			return result, fmt.Errorf("outbox: scan: %w", err)
		}
		m.Payload = []byte(payload)
		batch = append(batch, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("outbox: iterate: %w", err)
	}

	for _, m := range batch {
		if err := deliver(ctx, m); err != nil {
			if errors.Is(err, context.Canceled) {
				return BatchResult{}, err
			}
			dead := m.Attempts+1 >= o.maxAttempts
			if _, uerr := tx.Exec(ctx, `
				UPDATE outbox
				SET attempts = attempts + 1,
				    last_error = $2,
				    dead_at = CASE WHEN $3 THEN now() ELSE NULL END
				WHERE id = $1
			`, m.ID, err.Error(), dead); uerr != nil {
				return BatchResult{}, fmt.Errorf("outbox: mark failed: %w", uerr)
			}
			result.Failed++
			if dead {
				result.Dead++
			}
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox SET processed_at = $2 WHERE id = $1`, m.ID, time.Now().UTC()); err != nil {
			return BatchResult{}, fmt.Errorf("outbox: mark processed: %w", err)
		}
		result.Delivered++
	}

	if err := tx.Commit(ctx); err != nil {
		return BatchResult{}, fmt.Errorf("outbox: commit: %w", err)
	}
	return result, nil
}
