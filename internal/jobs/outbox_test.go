package jobs

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

// TestOutboxDispatcher_FallsBackWhenInnerMissesDeadline exercises the
// spool path against real Postgres. Skipped unless INGEST_PG_DSN is set,
// consistent with the rest of the storage-backed packages.
func TestOutboxDispatcher_FallsBackWhenInnerMissesDeadline(t *testing.T) {
	dsn := os.Getenv("INGEST_PG_DSN")
	if dsn == "" {
		t.Skip("INGEST_PG_DSN not set, skipping Postgres-backed outbox test")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS job_outbox (
		id text PRIMARY KEY,
		tenant_id text NOT NULL,
		topic text NOT NULL,
		job_id text,
		payload bytea NOT NULL,
		attempts int NOT NULL DEFAULT 0,
		status text NOT NULL,
		last_error text,
		created_at timestamptz NOT NULL,
		delivered_at timestamptz
	)`)
	require.NoError(t, err)
	defer db.Exec(`DROP TABLE job_outbox`)

	slowInner := DispatcherFunc(func(ctx context.Context, topic string, payload []byte, opts Options) error {
		<-ctx.Done()
		return ctx.Err()
	})

	d := NewOutboxDispatcher(slowInner, db, 5*time.Millisecond, slog.Default())
	require.NoError(t, d.Enqueue(context.Background(), "orders/sync", []byte(`{}`), Options{TenantID: "tenant-1"}))

	var count int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM job_outbox WHERE tenant_id = 'tenant-1' AND status = 'pending'`).Scan(&count))
	require.Equal(t, 1, count)
}
