package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tutorflow/dispute"
)

// Sink receives every dispute transition event.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event dispute.Event) error
}

// Relay drains the outbox and fans each event out to the configured sinks.
// A message is marked processed only when every sink accepted it.
type Relay struct {
	outbox    Outbox
	sinks     []Sink
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

func NewRelay(outbox Outbox, sinks []Sink, interval time.Duration, batchSize int, logger *zap.Logger) *Relay {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		outbox:    outbox,
		sinks:     sinks,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger.Named("relay"),
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	names := make([]string, 0, len(r.sinks))
	for _, s := range r.sinks {
		names = append(names, s.Name())
	}
	r.logger.Info("Starting outbox relay",
		zap.Duration("interval", r.interval),
		zap.Strings("sinks", names),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.DrainOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("Outbox iteration failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			r.logger.Info("Outbox relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// DrainOnce processes a single batch.
func (r *Relay) DrainOnce(ctx context.Context) (BatchResult, error) {
	result, err := r.outbox.Drain(ctx, r.batchSize, r.deliver)
	if err != nil {
		return result, err
	}
	if result.Delivered > 0 || result.Failed > 0 {
		r.logger.Debug("Outbox batch drained",
			zap.Int("delivered", result.Delivered),
			zap.Int("failed", result.Failed),
			zap.Int("dead", result.Dead),
		)
	}
	if result.Dead > 0 {
		r.logger.Warn("Outbox messages moved to dead letter", zap.Int("count", result.Dead))
	}
	return result, nil
}

func (r *Relay) deliver(ctx context.Context, m Message) error {
	if m.Topic != dispute.OutboxTopicDisputeUpdated {
		return fmt.Errorf("notify: unknown topic %q", m.Topic)
	}
	var event dispute.Event
	if err := json.Unmarshal(m.Payload, &event); err != nil {
		return fmt.Errorf("notify: decode message %d: %w", m.ID, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sink := range r.sinks {
		g.Go(func() error {
			if err := sink.Deliver(gctx, event); err != nil {
				r.logger.Warn("Sink delivery failed",
					zap.String("sink", sink.Name()),
					zap.Int64("outbox_id", m.ID),
					zap.String("dispute_id", event.DisputeID),
					zap.Error(err),
				)
				return fmt.Errorf("%s: %w", sink.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
