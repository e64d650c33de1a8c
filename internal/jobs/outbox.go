package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// OutboxDispatcher wraps an inner Dispatcher with a durable fallback
// (spec §4.K): if the inner sink cannot acknowledge within the bounded
// timeout, the job is spooled to a Postgres outbox row tagged with its
// tenant id instead of being dropped, and a background Flusher retries
// it. The row is written through the dispatcher's own *sql.DB, outside
// the caller's tenant-scoped transaction.
type OutboxDispatcher struct {
	inner   Dispatcher
	db      *sql.DB
	timeout time.Duration
	log     *slog.Logger
}

func NewOutboxDispatcher(inner Dispatcher, db *sql.DB, timeout time.Duration, log *slog.Logger) *OutboxDispatcher {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &OutboxDispatcher{inner: inner, db: db, timeout: timeout, log: log}
}

func (d *OutboxDispatcher) Enqueue(ctx context.Context, topic string, payload []byte, opts Options) error {
	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	err := d.inner.Enqueue(attemptCtx, topic, payload, opts)
	cancel()
	if err == nil {
		return nil
	}

	d.log.WarnContext(ctx, "job dispatch missed deadline, spooling to outbox",
		"topic", topic, "tenant_id", opts.TenantID, "error", err)
	return d.spool(ctx, topic, payload, opts)
}

func (d *OutboxDispatcher) spool(ctx context.Context, topic string, payload []byte, opts Options) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO job_outbox (id, tenant_id, topic, job_id, payload, attempts, status, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, 0, 'pending', now())`,
		uuid.NewString(), opts.TenantID, topic, opts.JobID, payload)
	if err != nil {
		return fmt.Errorf("jobs: spool to outbox: %w", err)
	}
	return nil
}

var _ Dispatcher = (*OutboxDispatcher)(nil)

// Flusher periodically drains pending outbox rows through the inner
// dispatcher, retrying until it succeeds or the row exceeds maxAttempts.
type Flusher struct {
	inner       Dispatcher
	db          *sql.DB
	interval    time.Duration
	maxAttempts int
	log         *slog.Logger
}

func NewFlusher(inner Dispatcher, db *sql.DB, interval time.Duration, maxAttempts int, log *slog.Logger) *Flusher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if log == nil {
		log = slog.Default()
	}
	return &Flusher{inner: inner, db: db, interval: interval, maxAttempts: maxAttempts, log: log}
}

// Run blocks, flushing on each tick, until ctx is cancelled.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.flushOnce(ctx); err != nil {
				f.log.ErrorContext(ctx, "outbox flush cycle failed", "error", err)
			}
		}
	}
}

func (f *Flusher) flushOnce(ctx context.Context) error {
	rows, err := f.db.QueryContext(ctx, `
		SELECT id, tenant_id, topic, COALESCE(job_id, ''), payload, attempts
		FROM job_outbox
		WHERE status = 'pending' AND attempts < $1
		ORDER BY created_at ASC
		LIMIT 100`, f.maxAttempts)
	if err != nil {
		return fmt.Errorf("jobs: query outbox: %w", err)
	}
	defer rows.Close()

	type row struct {
		id, tenantID, topic, jobID string
		payload                    []byte
		attempts                   int
	}
	var pending []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.tenantID, &r.topic, &r.jobID, &r.payload, &r.attempts); err != nil {
			return fmt.Errorf("jobs: scan outbox row: %w", err)
		}
		pending = append(pending, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range pending {
		err := f.inner.Enqueue(ctx, r.topic, r.payload, Options{TenantID: r.tenantID, JobID: r.jobID})
		if err != nil {
			if _, execErr := f.db.ExecContext(ctx, `
				UPDATE job_outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1`,
				r.id, err.Error()); execErr != nil {
				f.log.ErrorContext(ctx, "outbox attempt-count update failed", "id", r.id, "error", execErr)
			}
			continue
		}
		if _, execErr := f.db.ExecContext(ctx, `
			UPDATE job_outbox SET status = 'delivered', delivered_at = now() WHERE id = $1`, r.id); execErr != nil {
			f.log.ErrorContext(ctx, "outbox delivered-flag update failed", "id", r.id, "error", execErr)
		}
	}
	return nil
}
