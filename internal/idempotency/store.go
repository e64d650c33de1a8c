// Package idempotency reserves and tracks the processing status of
// inbound events (spec §4.E). The event log doubles as the idempotency
// table: a row is reserved atomically before any handler runs, so
// at-least-once delivery from upstream sources never causes more than
// one dispatch per (tenant, idempotency key).
package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/ingestcore/internal/domain"
)

// ErrNotFound is returned by Retry when the named event does not exist.
var ErrNotFound = errors.New("idempotency: event not found")

// Reservation is the outcome of Reserve.
type Reservation struct {
	Inserted bool
	Event    *domain.Event
}

// Store is the event log / idempotency reservation contract (spec §4.E).
type Store interface {
	// Reserve atomically inserts a pending event row if no row exists yet
	// for (tenantID, idempotencyKey); otherwise it returns the existing
	// row with Inserted=false.
	Reserve(ctx context.Context, ev *domain.Event) (Reservation, error)
	MarkCompleted(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID string, reason string) error
	MarkIgnored(ctx context.Context, eventID string, reason string) error
	// Retry resets a failed event to pending and increments retry_count
	// without allocating a new row (spec §8 property 5).
	Retry(ctx context.Context, eventID string) (*domain.Event, error)
	// FailedRetryEligible lists failed events under maxRetries whose
	// received_at falls within cutoff, per tenant (spec §4.H).
	FailedRetryEligible(ctx context.Context, tenantID string, maxRetries int, cutoff time.Time) ([]*domain.Event, error)
}

// PostgresStore implements Store against the shared event log table,
// which carries a unique index on (tenant_id, idempotency_key).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Reserve(ctx context.Context, ev *domain.Event) (Reservation, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	headers, err := json.Marshal(ev.Headers)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: marshal headers: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO events (id, tenant_id, external_source_id, topic, external_event_id,
		                     payload, hmac_verified, status, idempotency_key, received_at, headers)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, 'pending', $8, $9, $10)
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING
		RETURNING id, status, received_at`,
		ev.ID, ev.TenantID, ev.ExternalSourceID, ev.Topic, ev.ExternalEventID,
		ev.Payload, ev.HMACVerified, ev.IdempotencyKey, ev.ReceivedAt, headers)

	var insertedID string
	var status domain.EventStatus
	var receivedAt time.Time
	if err := row.Scan(&insertedID, &status, &receivedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			existing, getErr := s.getByKey(ctx, ev.TenantID, ev.IdempotencyKey)
			if getErr != nil {
				return Reservation{}, getErr
			}
			return Reservation{Inserted: false, Event: existing}, nil
		}
		return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
	}

	ev.ID = insertedID
	ev.Status = status
	ev.ReceivedAt = receivedAt
	return Reservation{Inserted: true, Event: ev}, nil
}

func (s *PostgresStore) getByKey(ctx context.Context, tenantID, key string) (*domain.Event, error) {
	ev := &domain.Event{TenantID: tenantID, IdempotencyKey: key}
	var headers []byte
	var externalEventID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, external_source_id, topic, external_event_id, payload, hmac_verified,
		       status, processed_at, error_message, retry_count, received_at, headers
		FROM events WHERE tenant_id = $1 AND idempotency_key = $2`, tenantID, key).Scan(
		&ev.ID, &ev.ExternalSourceID, &ev.Topic, &externalEventID, &ev.Payload, &ev.HMACVerified,
		&ev.Status, &ev.ProcessedAt, &ev.ErrorMessage, &ev.RetryCount, &ev.ReceivedAt, &headers)
	if err != nil {
		return nil, fmt.Errorf("idempotency: get by key: %w", err)
	}
	ev.ExternalEventID = externalEventID.String
	_ = json.Unmarshal(headers, &ev.Headers)
	return ev, nil
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE events SET status = 'completed', processed_at = now(), error_message = ''
		WHERE id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("idempotency: mark completed: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, eventID string, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE events SET status = 'failed', processed_at = now(), error_message = $2
		WHERE id = $1`, eventID, reason)
	if err != nil {
		return fmt.Errorf("idempotency: mark failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkIgnored(ctx context.Context, eventID string, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE events SET status = 'ignored', processed_at = now(), error_message = $2
		WHERE id = $1`, eventID, reason)
	if err != nil {
		return fmt.Errorf("idempotency: mark ignored: %w", err)
	}
	return nil
}

func (s *PostgresStore) Retry(ctx context.Context, eventID string) (*domain.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE events
		SET status = 'pending', retry_count = retry_count + 1, error_message = ''
		WHERE id = $1
		RETURNING id, tenant_id, external_source_id, topic, payload, hmac_verified,
		          status, idempotency_key, retry_count, received_at`, eventID)

	ev := &domain.Event{}
	if err := row.Scan(&ev.ID, &ev.TenantID, &ev.ExternalSourceID, &ev.Topic, &ev.Payload,
		&ev.HMACVerified, &ev.Status, &ev.IdempotencyKey, &ev.RetryCount, &ev.ReceivedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("idempotency: retry: %w", err)
	}
	return ev, nil
}

func (s *PostgresStore) FailedRetryEligible(ctx context.Context, tenantID string, maxRetries int, cutoff time.Time) ([]*domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, retry_count, received_at
		FROM events
		WHERE tenant_id = $1 AND status = 'failed' AND retry_count < $2 AND received_at >= $3
		ORDER BY received_at ASC`, tenantID, maxRetries, cutoff)
	if err != nil {
		return nil, fmt.Errorf("idempotency: failed retry eligible: %w", err)
	}
	defer rows.Close()

	var out []*domain.Event
	for rows.Next() {
		ev := &domain.Event{TenantID: tenantID, Status: domain.EventFailed}
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.RetryCount, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("idempotency: scan failed retry eligible: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
