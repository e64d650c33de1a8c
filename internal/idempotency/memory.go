package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/ingestcore/internal/domain"
)

// MemoryStore is an in-memory Store fake for ingress and dispatch tests.
// Reserve enforces the same (tenant, idempotency key) uniqueness a real
// unique index would, via a plain map keyed on both fields.
type MemoryStore struct {
	mu     sync.Mutex
	byKey  map[string]*domain.Event
	byID   map[string]*domain.Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKey: make(map[string]*domain.Event),
		byID:  make(map[string]*domain.Event),
	}
}

func mapKey(tenantID, idempotencyKey string) string {
	return tenantID + "\x00" + idempotencyKey
}

func (m *MemoryStore) Reserve(_ context.Context, ev *domain.Event) (Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := mapKey(ev.TenantID, ev.IdempotencyKey)
	if existing, ok := m.byKey[key]; ok {
		return Reservation{Inserted: false, Event: existing}, nil
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	ev.Status = domain.EventPending

	stored := *ev
	m.byKey[key] = &stored
	m.byID[ev.ID] = &stored
	return Reservation{Inserted: true, Event: &stored}, nil
}

func (m *MemoryStore) MarkCompleted(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.byID[eventID]
	if !ok {
		return ErrNotFound
	}
	ev.Status = domain.EventCompleted
	now := time.Now().UTC()
	ev.ProcessedAt = &now
	ev.ErrorMessage = ""
	return nil
}

func (m *MemoryStore) MarkFailed(_ context.Context, eventID string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.byID[eventID]
	if !ok {
		return ErrNotFound
	}
	ev.Status = domain.EventFailed
	now := time.Now().UTC()
	ev.ProcessedAt = &now
	ev.ErrorMessage = reason
	return nil
}

func (m *MemoryStore) MarkIgnored(_ context.Context, eventID string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.byID[eventID]
	if !ok {
		return ErrNotFound
	}
	ev.Status = domain.EventIgnored
	now := time.Now().UTC()
	ev.ProcessedAt = &now
	ev.ErrorMessage = reason
	return nil
}

func (m *MemoryStore) Retry(_ context.Context, eventID string) (*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.byID[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	ev.Status = domain.EventPending
	ev.RetryCount++
	ev.ErrorMessage = ""
	return ev, nil
}

func (m *MemoryStore) FailedRetryEligible(_ context.Context, tenantID string, maxRetries int, cutoff time.Time) ([]*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Event
	for _, ev := range m.byID {
		if ev.TenantID != tenantID || ev.Status != domain.EventFailed {
			continue
		}
		if ev.RetryCount >= maxRetries || ev.ReceivedAt.Before(cutoff) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
