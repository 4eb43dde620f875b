package booking

import (
	"context"
	"errors"
	"testing"
)

type stubReader struct {
	slots     map[string]Slot
	lastLimit int
}

func (s *stubReader) GetByID(_ context.Context, id string) (Slot, error) {
	slot, ok := s.slots[id]
	if !ok {
		return Slot{}, ErrNotFound
	}
	return slot, nil
}

func (s *stubReader) ListDisputable(_ context.Context, learnerID string, limit int) ([]Slot, error) {
	s.lastLimit = limit
	var out []Slot
	for _, slot := range s.slots {
		if slot.LearnerID == learnerID && slot.Disputable() {
			out = append(out, slot)
		}
	}
	return out, nil
}

func TestSlotDisputable(t *testing.T) {
	cases := map[SlotStatus]bool{
		SlotStatusBooked:    false,
		SlotStatusCompleted: true,
		SlotStatusCancelled: false,
	}
	for status, want := range cases {
		if got := (Slot{Status: status}).Disputable(); got != want {
			t.Errorf("Slot{Status: %q}.Disputable() = %v, want %v", status, got, want)
		}
	}
}

func TestServiceDelegatesToReader(t *testing.T) {
	reader := &stubReader{slots: map[string]Slot{
		"s1": {ID: "s1", LearnerID: "l1", Status: SlotStatusCompleted},
		"s2": {ID: "s2", LearnerID: "l1", Status: SlotStatusBooked},
		"s3": {ID: "s3", LearnerID: "l2", Status: SlotStatusCompleted},
	}}
	svc := NewService(reader)

	slot, err := svc.GetByID(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if slot.LearnerID != "l1" {
		t.Fatalf("unexpected slot: %+v", slot)
	}

	if _, err := svc.GetByID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	slots, err := svc.ListDisputable(context.Background(), "l1", 10)
	if err != nil {
		t.Fatalf("ListDisputable: %v", err)
	}
	if len(slots) != 1 || slots[0].ID != "s1" {
		t.Fatalf("expected only s1, got %+v", slots)
	}
	if reader.lastLimit != 10 {
		t.Fatalf("limit not forwarded: %d", reader.lastLimit)
	}
}
