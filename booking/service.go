package booking

import "context"

// SlotReader abstracts repository operations for the service.
type SlotReader interface {
	GetByID(ctx context.Context, id string) (Slot, error)
	ListDisputable(ctx context.Context, learnerID string, limit int) ([]Slot, error)
}

// Service exposes business-level slot lookups.
type Service struct {
	repo SlotReader
}

// NewService builds a Service using the provided repository.
func NewService(repo SlotReader) *Service {
	return &Service{repo: repo}
}

// GetByID returns the slot for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Slot, error) {
	return s.repo.GetByID(ctx, id)
}

// ListDisputable returns the learner's completed slots still open to a dispute.
func (s *Service) ListDisputable(ctx context.Context, learnerID string, limit int) ([]Slot, error) {
	return s.repo.ListDisputable(ctx, learnerID, limit)
}
