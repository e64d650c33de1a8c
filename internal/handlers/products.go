package handlers

import (
	"context"
	"fmt"
)

type productPayload struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// ProductUpsert stores a minimal row and triggers a full-product sync
// job, since the webhook payload itself lacks enough detail (spec §4.I).
func (h *Handlers) ProductUpsert(ctx context.Context, tenantID string, payload []byte, eventID string) error {
	var p productPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	t, err := tx(ctx)
	if err != nil {
		return err
	}
	if _, err := t.ExecContext(ctx, `
		INSERT INTO products (tenant_id, external_id, title, status, synced_at)
		VALUES ($1, $2, $3, 'active', now())
		ON CONFLICT (tenant_id, external_id) DO UPDATE SET title = EXCLUDED.title, synced_at = now()`,
		tenantID, p.ID, p.Title,
	); err != nil {
		return fmt.Errorf("handlers: upsert product: %w", err)
	}
	return h.enqueue(ctx, "products.sync", tenantID, eventID, map[string]any{"product_external_id": p.ID})
}

// ProductDelete archives the local row without deleting it.
func (h *Handlers) ProductDelete(ctx context.Context, tenantID string, payload []byte, eventID string) error {
	var p productPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	t, err := tx(ctx)
	if err != nil {
		return err
	}
	if _, err := t.ExecContext(ctx, `
		UPDATE products SET status = 'archived', synced_at = now() WHERE tenant_id = $1 AND external_id = $2`,
		tenantID, p.ID,
	); err != nil {
		return fmt.Errorf("handlers: archive product: %w", err)
	}
	return nil
}
