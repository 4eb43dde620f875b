package notify

import (
	"context"

	"go.uber.org/zap"

	"tutorflow/dispute"
)

// LogSink writes every event to the structured log. It is always enabled so
// deployments without a broker still see the event stream.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("events")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, event dispute.Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("dispute_id", event.DisputeID),
		zap.String("case_number", event.CaseNumber),
		zap.Int("new_status", int(event.NewStatus)),
		zap.String("actor_id", event.ActorID),
		zap.Time("occurred_at", event.OccurredAt),
	}
	if event.PreviousStatus != nil {
		fields = append(fields, zap.Int("previous_status", int(*event.PreviousStatus)))
	}
	s.logger.Info("Dispute event", fields...)
	return nil
}
