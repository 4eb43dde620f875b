package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Escalator promotes disputes whose reconciliation window lapsed.
type Escalator interface {
	EscalateExpired(ctx context.Context, limit int) (int, error)
}

// Sweeper periodically runs the expiry escalation.
type Sweeper struct {
	escalator Escalator
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
	stopChan  chan struct{}
	stopOnce  sync.Once
}

func NewSweeper(escalator Escalator, interval time.Duration, batchSize int, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		escalator: escalator,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger.Named("sweeper"),
		stopChan:  make(chan struct{}),
	}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled
// or Stop is called.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("Starting expiry sweeper", zap.Duration("interval", s.interval))

	s.SweepOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepOnce(ctx)
		case <-s.stopChan:
			s.logger.Info("Expiry sweeper stopped")
			return nil
		case <-ctx.Done():
			s.logger.Info("Expiry sweeper cancelled")
			return nil
		}
	}
}

func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// SweepOnce drains expired disputes in batches and returns how many were
// escalated. Failures are logged, the next tick retries.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	total := 0
	for {
		n, err := s.escalator.EscalateExpired(ctx, s.batchSize)
		total += n
		if err != nil {
			s.logger.Error("Failed to escalate expired disputes", zap.Error(err))
			return total
		}
		if n == 0 || (s.batchSize > 0 && n < s.batchSize) {
			break
		}
	}
	if total > 0 {
		s.logger.Info("Escalated expired disputes", zap.Int("count", total))
	}
	return total
}
