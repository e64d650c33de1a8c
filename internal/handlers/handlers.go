// Package handlers implements the per-topic domain handlers dispatch
// hands events to (spec §4.I). Every handler is a dispatch.Handler
// closure over a Handlers value; all storage writes go through the
// *sql.Tx carried on ctx by the active tenancy.Scope, never through a
// handler-held *sql.DB, so every write is automatically tenant-scoped.
package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ocx/ingestcore/internal/blob"
	"github.com/ocx/ingestcore/internal/jobs"
	"github.com/ocx/ingestcore/internal/tenancy"
)

// Uploader is the abstract attachment sink Receipts uploads through,
// satisfied by *blob.Store; tests substitute a fake that records what was
// uploaded instead of calling out to object storage.
type Uploader interface {
	Upload(tenantID string, att blob.Attachment) (string, error)
}

// Handlers bundles the dependencies every domain handler needs.
type Handlers struct {
	Jobs  jobs.Dispatcher
	Blob  Uploader
	Clock func() (unixMs int64)
}

func tx(ctx context.Context) (*sql.Tx, error) {
	t, ok := tenancy.TxFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("handlers: no active tenant scope on context")
	}
	return t, nil
}

func decode(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("handlers: decode payload: %w", err)
	}
	return nil
}

// minorUnits parses a decimal dollar-style string ("19.99") into integer
// minor units (1999). Money is never carried as float64 past this point
// (spec §4.I: "divisions by 100 are forbidden outside presentation").
func minorUnits(decimal string) int64 {
	decimal = strings.TrimSpace(decimal)
	if decimal == "" {
		return 0
	}
	neg := strings.HasPrefix(decimal, "-")
	decimal = strings.TrimPrefix(decimal, "-")

	whole, frac, _ := strings.Cut(decimal, ".")
	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}

	w, _ := strconv.ParseInt(whole, 10, 64)
	f, _ := strconv.ParseInt(frac, 10, 64)
	total := w*100 + f
	if neg {
		total = -total
	}
	return total
}

func (h *Handlers) enqueue(ctx context.Context, topic, tenantID, eventID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("handlers: marshal job payload: %w", err)
	}
	return h.Jobs.Enqueue(ctx, topic, body, jobs.Options{TenantID: tenantID, JobID: eventID + ":" + topic})
}
