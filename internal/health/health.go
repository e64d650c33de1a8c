// Package health rolls up registration and event-processing status for
// operator-facing inspection and drives retry of failed events (spec
// §4.L).
package health

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ocx/ingestcore/internal/dispatch"
	"github.com/ocx/ingestcore/internal/domain"
	"github.com/ocx/ingestcore/internal/idempotency"
	"github.com/ocx/ingestcore/internal/tenancy"
)

// maxRegistrationFailures is the consecutive-failure threshold past
// which a topic/shop registration is marked failed (spec §4.L).
const maxRegistrationFailures = 5

// RegistrationStatus summarizes one topic's registration health for one
// shop.
type RegistrationStatus struct {
	Topic          string
	Shop           string
	Status         string // active, failed
	FailureCount   int
	LastFailureAt  *time.Time
}

// TopicCount pairs a topic with an occurrence count, used for both
// EventCountsByStatus and EventsByTopic.
type TopicCount struct {
	Key   string
	Count int
}

// Monitor tracks registration health and exposes event-log rollups. It
// is the health/retry surface described in spec §4.L, instrumented with
// Prometheus counters grounded on internal/escrow/metrics.go's pattern.
type Monitor struct {
	db       *sql.DB
	store    idempotency.Store
	registry *dispatch.Registry
	metrics  *Metrics

	mu           sync.Mutex
	registrations map[registrationKey]*registrationState
}

type registrationKey struct {
	topic string
	shop  string
}

type registrationState struct {
	status       string
	failureCount int
	lastFailure  *time.Time
}

// NewMonitor wires registry to scope, so every dispatch the monitor drives
// (retries included) gives each handler its own tenant-scoped transaction
// the same way the ingress pipeline's dispatches do.
func NewMonitor(db *sql.DB, store idempotency.Store, scope *tenancy.Scope, registry *dispatch.Registry, metrics *Metrics) *Monitor {
	if registry != nil {
		registry.Scope = scope
	}
	return &Monitor{
		db:            db,
		store:         store,
		registry:      registry,
		metrics:       metrics,
		registrations: make(map[registrationKey]*registrationState),
	}
}

// RecordRegistrationFailure increments a topic/shop's consecutive
// failure count. Past maxRegistrationFailures the registration flips to
// failed (spec §4.L).
func (m *Monitor) RecordRegistrationFailure(topic, shop string) RegistrationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := registrationKey{topic: topic, shop: shop}
	state, ok := m.registrations[key]
	if !ok {
		state = &registrationState{status: "active"}
		m.registrations[key] = state
	}
	now := time.Now().UTC()
	state.failureCount++
	state.lastFailure = &now
	if state.failureCount > maxRegistrationFailures {
		state.status = "failed"
	}

	if m.metrics != nil {
		m.metrics.RecordRegistrationOutcome(topic, shop, state.status == "failed")
	}
	return m.snapshot(key, state)
}

// RecordRegistrationSuccess zeros a topic/shop's failure count and marks
// it active (spec §4.L).
func (m *Monitor) RecordRegistrationSuccess(topic, shop string) RegistrationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := registrationKey{topic: topic, shop: shop}
	state, ok := m.registrations[key]
	if !ok {
		state = &registrationState{}
		m.registrations[key] = state
	}
	state.status = "active"
	state.failureCount = 0
	state.lastFailure = nil

	if m.metrics != nil {
		m.metrics.RecordRegistrationOutcome(topic, shop, false)
	}
	return m.snapshot(key, state)
}

func (m *Monitor) snapshot(key registrationKey, state *registrationState) RegistrationStatus {
	return RegistrationStatus{
		Topic:         key.topic,
		Shop:          key.shop,
		Status:        state.status,
		FailureCount:  state.failureCount,
		LastFailureAt: state.lastFailure,
	}
}

// Registrations lists every tracked topic/shop registration's current
// status.
func (m *Monitor) Registrations() []RegistrationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]RegistrationStatus, 0, len(m.registrations))
	for key, state := range m.registrations {
		out = append(out, m.snapshot(key, state))
	}
	return out
}

// EventCountsByStatus returns the number of events received by tenant in
// the last 24 hours, grouped by terminal status (spec §4.L).
func (m *Monitor) EventCountsByStatus(ctx context.Context, tenantID string) ([]TopicCount, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT status, count(*)
		FROM events
		WHERE tenant_id = $1 AND received_at >= now() - interval '24 hours'
		GROUP BY status`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("health: event counts by status: %w", err)
	}
	defer rows.Close()

	var out []TopicCount
	for rows.Next() {
		var tc TopicCount
		if err := rows.Scan(&tc.Key, &tc.Count); err != nil {
			return nil, fmt.Errorf("health: scan event counts by status: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// EventsByTopic returns event counts for one tenant over the last days
// days, grouped by topic (spec §4.L).
func (m *Monitor) EventsByTopic(ctx context.Context, tenantID string, days int) ([]TopicCount, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT topic, count(*)
		FROM events
		WHERE tenant_id = $1 AND received_at >= now() - ($2 || ' days')::interval
		GROUP BY topic
		ORDER BY count(*) DESC`, tenantID, days)
	if err != nil {
		return nil, fmt.Errorf("health: events by topic: %w", err)
	}
	defer rows.Close()

	var out []TopicCount
	for rows.Next() {
		var tc TopicCount
		if err := rows.Scan(&tc.Key, &tc.Count); err != nil {
			return nil, fmt.Errorf("health: scan events by topic: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// FailedEventsEligibleForRetry lists failed events under maxRetries
// whose received_at falls within the last window (spec §4.L).
func (m *Monitor) FailedEventsEligibleForRetry(ctx context.Context, tenantID string, maxRetries int, window time.Duration) ([]*domain.Event, error) {
	return m.store.FailedRetryEligible(ctx, tenantID, maxRetries, time.Now().UTC().Add(-window))
}

// Retry resets a failed event to pending, increments its retry count,
// and re-runs dispatch under the same tenant scope against the original
// payload. The idempotency key is unchanged (spec §4.L, §8 property 5):
// a retry is not a new delivery, it is the same delivery run again.
func (m *Monitor) Retry(ctx context.Context, tenantID, eventID string) error {
	ev, err := m.store.Retry(ctx, eventID)
	if err != nil {
		return fmt.Errorf("health: retry: %w", err)
	}

	start := time.Now()
	result := m.registry.Dispatch(ctx, ev.Topic, tenantID, ev.Payload, ev.ID)

	if m.metrics != nil {
		m.metrics.RecordHandlerDuration(ev.Topic, time.Since(start).Seconds())
	}

	if !result.OK() {
		_ = m.store.MarkFailed(ctx, ev.ID, result.FirstFailure.Error())
		if m.metrics != nil {
			m.metrics.RecordEvent("failed")
		}
		return fmt.Errorf("health: retry dispatch: %w", result.FirstFailure)
	}

	if markErr := m.store.MarkCompleted(ctx, ev.ID); markErr != nil {
		return fmt.Errorf("health: mark retry completed: %w", markErr)
	}
	if m.metrics != nil {
		m.metrics.RecordEvent("completed")
	}
	return nil
}
