package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"tutorflow/app"
	"tutorflow/auth"
	"tutorflow/booking"
	"tutorflow/catalog"
	"tutorflow/config"
	"tutorflow/db"
	"tutorflow/dispute"
	"tutorflow/notify"
)

// runtime holds the process-wide dependencies shared by the subcommands.
type runtime struct {
	cfg      *config.Config
	logger   *zap.Logger
	pool     *pgxpool.Pool
	catalog  *catalog.Catalog
	disputes *dispute.Service
	slots    *booking.Service
	auth     *auth.Service
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, fromFile, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := app.NewLogger(cfg.Environment)
	if fromFile {
		logger.Info("Loaded configuration from .env file")
	} else {
		logger.Debug("No .env file found, using environment variables")
	}
	return cfg, logger, nil
}

func bootstrap(ctx context.Context) (*runtime, func(), error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return nil, nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		ApplicationName: cfg.DBApplicationName,
		MaxConns:        int32(cfg.DBMaxConns),
		MinConns:        int32(cfg.DBMinConns),
		MaxConnIdleTime: cfg.DBMaxConnIdleTime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap database pool: %w", err)
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	slots := booking.NewService(booking.NewRepository(pool))
	policy := dispute.DefaultPolicy()
	policy.ReconciliationWindow = cfg.ReconciliationWindow
	policy.StaffReviewWindow = cfg.StaffReviewWindow

	rt := &runtime{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		catalog:  cat,
		disputes: dispute.NewService(dispute.NewRepository(pool), slots, policy, logger.Named("dispute")),
		slots:    slots,
		auth:     auth.NewService(auth.NewRepository(pool), cfg.JWTSecret),
	}

	cleanup := func() {
		pool.Close()
		_ = logger.Sync()
	}
	return rt, cleanup, nil
}

func (rt *runtime) sweeper() *app.Sweeper {
	return app.NewSweeper(rt.disputes, rt.cfg.SweepInterval, rt.cfg.SweepBatchSize, rt.logger)
}

// relay builds the outbox relay with every sink the configuration enables.
// The returned func closes the sink clients.
func (rt *runtime) relay(ctx context.Context) (*notify.Relay, func()) {
	sinks := []notify.Sink{notify.NewLogSink(rt.logger)}
	var closers []func()

	if len(rt.cfg.KafkaBrokers) > 0 {
		sink, err := notify.NewKafkaSink(rt.cfg.KafkaBrokers, rt.cfg.KafkaTopic)
		if err != nil {
			rt.logger.Warn("Kafka sink disabled", zap.Error(err))
		} else {
			sinks = append(sinks, sink)
			closers = append(closers, func() { _ = sink.Close() })
		}
	}

	if rt.cfg.RedisURL != "" {
		client, err := notify.ConnectRedis(ctx, rt.cfg.RedisURL)
		if err != nil {
			rt.logger.Warn("Redis sink disabled", zap.Error(err))
		} else {
			sinks = append(sinks, notify.NewRedisSink(client))
			closers = append(closers, func() { _ = client.Close() })
		}
	}

	if rt.cfg.TelegramToken != "" {
		b, err := notify.NewTelegramBot(rt.cfg.TelegramToken)
		if err != nil {
			rt.logger.Warn("Telegram sink disabled", zap.Error(err))
		} else {
			sinks = append(sinks, notify.NewTelegramSink(b, rt.cfg.TelegramStaffChatID, rt.catalog))
		}
	}

	outbox := notify.NewPGOutbox(rt.pool, rt.cfg.RelayMaxAttempts)
	relay := notify.NewRelay(outbox, sinks, rt.cfg.RelayInterval, rt.cfg.RelayBatchSize, rt.logger)
	return relay, func() {
		for _, c := range closers {
			c()
		}
	}
}
