package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"tutorflow/app"
	"tutorflow/db"
)

// ApplicationName tags every backend opened by the stress pool so chaos can
// target them without touching unrelated sessions.
const ApplicationName = "tutorflow-stress"

// ApplyMigrations opens a pool against dsn and runs the embedded goose
// migrations. When isolate is true, a per-run schema is created and dropped
// via the returned teardown func.
func ApplyMigrations(ctx context.Context, dsn string, isolate bool, logger *zap.Logger) (*pgxpool.Pool, func(context.Context) error, error) {
	cfg, err := db.ParseConfig(dsn, db.PoolOptions{
		ApplicationName: ApplicationName,
		MaxConns:        32,
		MaxConnIdleTime: 30 * time.Second,
	})
	if err != nil {
		return nil, nil, err
	}

	cleanup := func(context.Context) error { return nil }

	if isolate {
		schema := fmt.Sprintf("stress_run_%d", time.Now().UnixNano())
		ident := pgx.Identifier{schema}.Sanitize()

		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("connect for schema: %w", err)
		}
		if _, err := conn.Exec(ctx, "CREATE SCHEMA "+ident); err != nil {
			conn.Close(ctx)
			return nil, nil, fmt.Errorf("create schema %s: %w", schema, err)
		}
		conn.Close(ctx)

		cfg.ConnConfig.RuntimeParams["search_path"] = schema + ",public"

		cleanup = func(ctx context.Context) error {
			dropConn, err := pgx.Connect(ctx, dsn)
			if err != nil {
				return err
			}
			defer dropConn.Close(ctx)
			_, err = dropConn.Exec(ctx, "DROP SCHEMA IF EXISTS "+ident+" CASCADE")
			return err
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect pool: %w", err)
	}

	migrator := app.NewMigrator(pool, logger)
	defer migrator.Close()
	if err := migrator.Up(ctx); err != nil {
		pool.Close()
		_ = cleanup(ctx)
		return nil, nil, err
	}

	return pool, cleanup, nil
}
