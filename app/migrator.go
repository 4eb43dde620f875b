package app

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"tutorflow/migrations"
)

// goose keeps its dialect and base FS in package globals.
var gooseMu sync.Mutex

// Migrator applies the embedded goose migrations.
type Migrator struct {
	db     *sql.DB
	fsys   fs.FS
	logger *zap.Logger
}

// NewMigrator wraps the pool in a database/sql handle for goose. The pool
// itself stays owned by the caller.
func NewMigrator(pool *pgxpool.Pool, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{
		db:     stdlib.OpenDBFromPool(pool),
		fsys:   migrations.FS,
		logger: logger,
	}
}

// Up applies every pending migration.
func (mg *Migrator) Up(ctx context.Context) error {
	mg.logger.Info("Applying database migrations")

	err := mg.withGoose(func() error {
		return goose.UpContext(ctx, mg.db, ".")
	})
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, err := mg.Version(ctx)
	if err != nil {
		return err
	}
	mg.logger.Info("Migrations applied", zap.Int64("version", version))
	return nil
}

// Down rolls back the most recent migration.
func (mg *Migrator) Down(ctx context.Context) error {
	err := mg.withGoose(func() error {
		return goose.DownContext(ctx, mg.db, ".")
	})
	if err != nil {
		return fmt.Errorf("rollback migration: %w", err)
	}
	mg.logger.Info("Rolled back one migration")
	return nil
}

// Version reports the current schema version.
func (mg *Migrator) Version(ctx context.Context) (int64, error) {
	var version int64
	err := mg.withGoose(func() error {
		var err error
		version, err = goose.GetDBVersionContext(ctx, mg.db)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get version: %w", err)
	}
	return version, nil
}

// Close releases the database/sql handle but not the pool.
func (mg *Migrator) Close() error {
	if mg.db != nil {
		return mg.db.Close()
	}
	return nil
}

func (mg *Migrator) withGoose(fn func() error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(mg.fsys)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return fn()
}
