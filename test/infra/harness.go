package infra

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Harness owns the database used by the stress run: where it lives, its pool,
// and how to tear it down.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	teardown  func(context.Context) error
	dsn       string
	shared    bool
}

// NewHarness resolves a database in this order: overrideDSN,
// STRESS_TEST_PG_DSN, a Docker container, then a local PostgreSQL. Shared
// databases get an isolated schema.
func NewHarness(ctx context.Context, overrideDSN string, logger *zap.Logger) (*Harness, error) {
	h := &Harness{}

	switch {
	case overrideDSN != "":
		h.dsn, h.shared = overrideDSN, true
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		h.dsn, h.shared = os.Getenv("STRESS_TEST_PG_DSN"), true
	case dockerAvailable(ctx):
		c, dsn, err := StartPostgres16(ctx)
		if err != nil {
			return nil, fmt.Errorf("start postgres container: %w", err)
		}
		h.container, h.dsn = c, dsn
	default:
		dsn, err := InitLocalDatabase(ctx)
		if err != nil {
			return nil, fmt.Errorf("init local database: %w", err)
		}
		h.dsn = dsn
	}

	pool, teardown, err := ApplyMigrations(ctx, h.dsn, h.shared, logger)
	if err != nil {
		_ = h.container.Terminate(ctx)
		return nil, err
	}
	h.pool, h.teardown = pool, teardown
	return h, nil
}

// Pool exposes the migrated pgx pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// Close tears down resources. Errors are returned but every step still runs.
func (h *Harness) Close(ctx context.Context) error {
	if h.pool != nil {
		h.pool.Close()
	}
	var firstErr error
	if h.teardown != nil {
		firstErr = h.teardown(ctx)
	}
	if err := h.container.Terminate(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Reset truncates mutable tables to provide a clean slate between runs.
func (h *Harness) Reset(ctx context.Context) error {
	tables := []string{
		"outbox",
		"dispute_events",
		"disputes",
		"booking_slots",
		"users",
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, tbl := range tables {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+tbl+" CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", tbl, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reset commit: %w", err)
	}
	return nil
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}
