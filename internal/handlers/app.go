package handlers

import (
	"context"
	"fmt"
)

// AppUninstalled marks the connection disconnected, clears sealed
// credentials, marks all webhook registrations for the shop deleted, and
// triggers a cleanup job. No further writes (spec §4.I).
func (h *Handlers) AppUninstalled(ctx context.Context, tenantID string, payload []byte, eventID string) error {
	t, err := tx(ctx)
	if err != nil {
		return err
	}

	if _, err := t.ExecContext(ctx, `
		UPDATE connections SET status = 'disconnected', sealed_access_token = NULL, sealed_webhook_secret = NULL
		WHERE tenant_id = $1`,
		tenantID,
	); err != nil {
		return fmt.Errorf("handlers: disconnect connection: %w", err)
	}

	if _, err := t.ExecContext(ctx, `
		UPDATE webhook_registrations SET status = 'deleted' WHERE tenant_id = $1`,
		tenantID,
	); err != nil {
		return fmt.Errorf("handlers: mark registrations deleted: %w", err)
	}

	return h.enqueue(ctx, "connections.cleanup", tenantID, eventID, map[string]any{"tenant_id": tenantID})
}
