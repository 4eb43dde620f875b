package dispute

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// memStore is an in-memory Store with the same compare-and-swap contract as
// PGRepository.
type memStore struct {
	mu       sync.Mutex
	disputes map[string]Dispute
	events   []Event
	names    map[string]string

	failUpdate error
}

func newMemStore() *memStore {
	return &memStore{
		disputes: make(map[string]Dispute),
		names:    make(map[string]string),
	}
}

func (m *memStore) Insert(_ context.Context, d Dispute, event Event) (Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.disputes[d.ID]; ok {
		return Dispute{}, fmt.Errorf("memstore: duplicate id %s", d.ID)
	}
	for _, existing := range m.disputes {
		if existing.BookingSlotID == d.BookingSlotID && existing.Status.Open() {
			return Dispute{}, fmt.Errorf("%w: an open dispute already exists for this lesson", ErrValidation)
		}
		if existing.CaseNumber == d.CaseNumber {
			return Dispute{}, fmt.Errorf("%w: %s", ErrCaseNumberTaken, d.CaseNumber)
		}
	}
	m.disputes[d.ID] = cloneDispute(d)
	m.events = append(m.events, event)
	return m.withNames(d), nil
}

func (m *memStore) FindByID(_ context.Context, id string) (Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.disputes[id]
	if !ok {
		return Dispute{}, fmt.Errorf("%w: dispute %s", ErrNotFound, id)
	}
	return m.withNames(d), nil
}

func (m *memStore) FindMany(_ context.Context, filter ListFilter) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []Dispute
	for _, d := range m.disputes {
		if filter.LearnerID != "" && d.LearnerID != filter.LearnerID {
			continue
		}
		if filter.TutorID != "" && d.TutorID != filter.TutorID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, d.Status) {
			continue
		}
		if filter.ReconciliationEndsBefore != nil && d.ReconciliationEndTime.After(*filter.ReconciliationEndsBefore) {
			continue
		}
		if term := strings.ToLower(filter.SearchTerm); term != "" {
			hay := strings.ToLower(d.CaseNumber + " " + m.names[d.LearnerID] + " " + m.names[d.TutorID])
			if !strings.Contains(hay, term) {
				continue
			}
		}
		matched = append(matched, m.withNames(d))
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	page := Page{TotalItems: total}
	if filter.PageSize <= 0 {
		page.Items = matched
		if total > 0 {
			page.TotalPages = 1
		}
		return page, nil
	}
	p := filter.Page
	if p <= 0 {
		p = 1
	}
	start := (p - 1) * filter.PageSize
	if start > total {
		start = total
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	page.Items = matched[start:end]
	page.TotalPages = TotalPagesFor(total, filter.PageSize)
	return page, nil
}

func (m *memStore) UpdateFields(_ context.Context, id string, expected Status, patch Patch, event Event) (Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failUpdate != nil {
		return Dispute{}, m.failUpdate
	}
	d, ok := m.disputes[id]
	if !ok {
		return Dispute{}, fmt.Errorf("%w: dispute %s", ErrNotFound, id)
	}
	if d.Status != expected {
		return Dispute{}, fmt.Errorf("%w: dispute %s moved concurrently", ErrInvalidState, id)
	}

	d.Status = patch.Status
	if patch.TutorResponse != nil {
		d.TutorResponse = patch.TutorResponse
	}
	if patch.TutorRespondedAt != nil {
		d.TutorRespondedAt = patch.TutorRespondedAt
	}
	if patch.StaffReviewEndTime != nil {
		d.StaffReviewEndTime = patch.StaffReviewEndTime
	}
	if patch.Resolution != nil {
		d.Resolution = patch.Resolution
	}
	if patch.StaffNotes != nil {
		d.StaffNotes = patch.StaffNotes
	}
	if patch.ResolvedAt != nil {
		d.ResolvedAt = patch.ResolvedAt
	}
	d.UpdatedAt = event.OccurredAt

	m.disputes[id] = d
	m.events = append(m.events, event)
	return m.withNames(d), nil
}

// set overwrites a stored dispute, bypassing the engine.
func (m *memStore) set(d Dispute) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disputes[d.ID] = cloneDispute(d)
}

func (m *memStore) eventsFor(id string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Event
	for _, e := range m.events {
		if e.DisputeID == id {
			out = append(out, e)
		}
	}
	return out
}

func (m *memStore) withNames(d Dispute) Dispute {
	out := cloneDispute(d)
	out.LearnerName = m.names[d.LearnerID]
	out.TutorName = m.names[d.TutorID]
	return out
}

func cloneDispute(d Dispute) Dispute {
	if d.EvidenceURLs != nil {
		d.EvidenceURLs = append([]string(nil), d.EvidenceURLs...)
	}
	return d
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
