package idempotency

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"

	"github.com/google/uuid"
	"github.com/ocx/ingestcore/internal/domain"
)

// SpannerStore is an alternate idempotency-store backend for deployment
// tiers that already run Cloud Spanner instead of Postgres, mirroring the
// dual-backend shape of the teacher's reputation wallet (spanner.go next
// to a primary SQL-backed store): same Store contract, different engine.
type SpannerStore struct {
	client *spanner.Client
}

func NewSpannerStore(ctx context.Context, databasePath string) (*SpannerStore, error) {
	client, err := spanner.NewClient(ctx, databasePath)
	if err != nil {
		return nil, fmt.Errorf("idempotency: spanner client: %w", err)
	}
	return &SpannerStore{client: client}, nil
}

func (s *SpannerStore) Close() {
	s.client.Close()
}

func (s *SpannerStore) Reserve(ctx context.Context, ev *domain.Event) (Reservation, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}

	var reservation Reservation
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		key := spanner.Key{ev.TenantID, ev.IdempotencyKey}
		row, err := txn.ReadRowUsingIndex(ctx, "Events", "EventsByIdempotencyKey", key,
			[]string{"EventID", "Status", "RetryCount", "ReceivedAt"})
		if err == nil {
			existing := &domain.Event{TenantID: ev.TenantID, IdempotencyKey: ev.IdempotencyKey}
			if scanErr := row.Columns(&existing.ID, &existing.Status, &existing.RetryCount, &existing.ReceivedAt); scanErr != nil {
				return scanErr
			}
			reservation = Reservation{Inserted: false, Event: existing}
			return nil
		}
		if spanner.ErrCode(err) != codes.NotFound {
			return err
		}

		mutation := spanner.Insert("Events",
			[]string{"EventID", "TenantID", "ExternalSourceID", "Topic", "ExternalEventID",
				"Payload", "HMACVerified", "Status", "IdempotencyKey", "ReceivedAt"},
			[]interface{}{ev.ID, ev.TenantID, ev.ExternalSourceID, ev.Topic, ev.ExternalEventID,
				ev.Payload, ev.HMACVerified, string(domain.EventPending), ev.IdempotencyKey, ev.ReceivedAt},
		)
		if err := txn.BufferWrite([]*spanner.Mutation{mutation}); err != nil {
			return err
		}
		ev.Status = domain.EventPending
		reservation = Reservation{Inserted: true, Event: ev}
		return nil
	})
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: spanner reserve: %w", err)
	}
	return reservation, nil
}

func (s *SpannerStore) MarkCompleted(ctx context.Context, eventID string) error {
	return s.setStatus(ctx, eventID, domain.EventCompleted, "")
}

func (s *SpannerStore) MarkFailed(ctx context.Context, eventID string, reason string) error {
	return s.setStatus(ctx, eventID, domain.EventFailed, reason)
}

func (s *SpannerStore) MarkIgnored(ctx context.Context, eventID string, reason string) error {
	return s.setStatus(ctx, eventID, domain.EventIgnored, reason)
}

func (s *SpannerStore) setStatus(ctx context.Context, eventID string, status domain.EventStatus, reason string) error {
	_, err := s.client.Apply(ctx, []*spanner.Mutation{
		spanner.Update("Events",
			[]string{"EventID", "Status", "ProcessedAt", "ErrorMessage"},
			[]interface{}{eventID, string(status), spanner.CommitTimestamp, reason},
		),
	})
	if err != nil {
		return fmt.Errorf("idempotency: spanner set status: %w", err)
	}
	return nil
}

func (s *SpannerStore) Retry(ctx context.Context, eventID string) (*domain.Event, error) {
	ev := &domain.Event{ID: eventID}
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		row, err := txn.ReadRow(ctx, "Events", spanner.Key{eventID}, []string{"TenantID", "Topic", "RetryCount"})
		if err != nil {
			if spanner.ErrCode(err) == codes.NotFound {
				return ErrNotFound
			}
			return err
		}
		var retryCount int64
		if err := row.Columns(&ev.TenantID, &ev.Topic, &retryCount); err != nil {
			return err
		}
		ev.RetryCount = int(retryCount) + 1
		ev.Status = domain.EventPending
		return txn.BufferWrite([]*spanner.Mutation{
			spanner.Update("Events",
				[]string{"EventID", "Status", "RetryCount", "ErrorMessage"},
				[]interface{}{eventID, string(domain.EventPending), ev.RetryCount, ""},
			),
		})
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *SpannerStore) FailedRetryEligible(ctx context.Context, tenantID string, maxRetries int, cutoff time.Time) ([]*domain.Event, error) {
	stmt := spanner.Statement{
		SQL: `SELECT EventID, Topic, RetryCount, ReceivedAt FROM Events
		      WHERE TenantID = @tenantID AND Status = @status AND RetryCount < @maxRetries AND ReceivedAt >= @cutoff
		      ORDER BY ReceivedAt ASC`,
		Params: map[string]interface{}{
			"tenantID":   tenantID,
			"status":     string(domain.EventFailed),
			"maxRetries": int64(maxRetries),
			"cutoff":     cutoff,
		},
	}
	iter := s.client.Single().Query(ctx, stmt)
	defer iter.Stop()

	var out []*domain.Event
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("idempotency: spanner failed retry eligible: %w", err)
		}
		ev := &domain.Event{TenantID: tenantID, Status: domain.EventFailed}
		var retryCount int64
		if err := row.Columns(&ev.ID, &ev.Topic, &retryCount, &ev.ReceivedAt); err != nil {
			return nil, err
		}
		ev.RetryCount = int(retryCount)
		out = append(out, ev)
	}
	return out, nil
}

var _ Store = (*SpannerStore)(nil)
