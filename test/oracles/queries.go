package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns queries that must yield zero rows at every point of a run.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_open_dispute_per_lesson",
			SQL: `SELECT booking_slot_id, COUNT(*) FROM disputes
                  WHERE status IN (0, 3)
                  GROUP BY booking_slot_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_resolution_iff_resolved",
			SQL: `SELECT id, status, resolution FROM disputes
                  WHERE (resolution IS NOT NULL) <> (status IN (4, 5, 6))
                     OR (resolved_at IS NOT NULL) <> (status IN (4, 5, 6))`,
		},
		{
			Name: "O3_event_chain_follows_transitions",
			SQL: `WITH chain AS (
                      SELECT dispute_id, previous_status, new_status,
                             LAG(new_status) OVER (PARTITION BY dispute_id ORDER BY seq) AS prior,
                             ROW_NUMBER() OVER (PARTITION BY dispute_id ORDER BY seq) AS n
                      FROM dispute_events)
                  SELECT * FROM chain
                  WHERE (n = 1 AND (previous_status IS NOT NULL OR new_status <> 0))
                     OR (n > 1 AND previous_status IS DISTINCT FROM prior)
                     OR (n > 1 AND (previous_status, new_status) NOT IN ((0, 3), (0, 1), (3, 4), (3, 5), (3, 6))))`,
		},
		{
			Name: "O4_latest_event_matches_status",
			SQL: `SELECT d.id, d.status, e.new_status FROM disputes d
                  JOIN LATERAL (
                      SELECT new_status FROM dispute_events
                      WHERE dispute_id = d.id ORDER BY seq DESC LIMIT 1
                  ) e ON TRUE
                  WHERE e.new_status <> d.status`,
		},
		{
			Name: "O5_outbox_matches_events",
			SQL: `SELECT d.id,
                         (SELECT COUNT(*) FROM dispute_events e WHERE e.dispute_id = d.id) AS events,
                         (SELECT COUNT(*) FROM outbox o WHERE o.message_key = d.id::text) AS messages
                  FROM disputes d
                  WHERE (SELECT COUNT(*) FROM dispute_events e WHERE e.dispute_id = d.id)
                     <> (SELECT COUNT(*) FROM outbox o WHERE o.message_key = d.id::text)`,
		},
		{
			Name: "O6_response_inside_window",
			SQL: `SELECT id, tutor_responded_at, reconciliation_end_time FROM disputes
                  WHERE tutor_responded_at IS NOT NULL
                    AND tutor_responded_at >= reconciliation_end_time`,
		},
		{
			Name: "O7_no_early_escalation",
			SQL: `SELECT e.id FROM dispute_events e
                  JOIN disputes d ON d.id = e.dispute_id
                  WHERE e.new_status = 3 AND e.actor_id = 'system'
                    AND e.occurred_at < d.reconciliation_end_time`,
		},
		{
			Name: "O8_outbox_single_outcome",
			SQL: `SELECT id FROM outbox WHERE processed_at IS NOT NULL AND dead_at IS NOT NULL`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
