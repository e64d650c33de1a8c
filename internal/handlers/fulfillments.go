package handlers

import (
	"context"
	"fmt"
)

type fulfillmentPayload struct {
	ID             int64  `json:"id"`
	OrderID        int64  `json:"order_id"`
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number"`
}

// OrderFulfilled upserts a fulfillment row, sets the order's fulfillment
// status, and enqueues review-request and post-fulfill jobs.
func (h *Handlers) OrderFulfilled(ctx context.Context, tenantID string, payload []byte, eventID string) error {
	var p fulfillmentPayload
	if err := decode(payload, &p); err != nil {
		return err
	}

	t, err := tx(ctx)
	if err != nil {
		return err
	}

	var orderID string
	if err := t.QueryRowContext(ctx, `
		SELECT id FROM orders WHERE tenant_id = $1 AND external_id = $2`,
		tenantID, p.OrderID,
	).Scan(&orderID); err != nil {
		return fmt.Errorf("handlers: locate order for fulfillment: %w", err)
	}

	if _, err := t.ExecContext(ctx, `
		INSERT INTO fulfillments (order_id, external_id, status, tracking_no, synced_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (order_id, external_id) DO UPDATE SET
			status = EXCLUDED.status, tracking_no = EXCLUDED.tracking_no, synced_at = now()`,
		orderID, p.ID, p.Status, p.TrackingNumber,
	); err != nil {
		return fmt.Errorf("handlers: upsert fulfillment: %w", err)
	}

	if _, err := t.ExecContext(ctx, `
		UPDATE orders SET fulfillment_status = $2, synced_at = now() WHERE id = $1`,
		orderID, p.Status,
	); err != nil {
		return fmt.Errorf("handlers: update order fulfillment status: %w", err)
	}

	for _, topic := range []string{"orders.review_request", "orders.post_fulfill"} {
		if err := h.enqueue(ctx, topic, tenantID, eventID, map[string]any{"order_id": orderID}); err != nil {
			return err
		}
	}
	return nil
}
