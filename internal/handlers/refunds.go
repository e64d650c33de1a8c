package handlers

import (
	"context"
	"fmt"
)

type refundPayload struct {
	ID      int64  `json:"id"`
	OrderID int64  `json:"order_id"`
	Transactions []struct {
		Status string `json:"status"`
		Amount string `json:"amount"`
		Currency string `json:"currency"`
	} `json:"transactions"`
	RefundLineItems []struct {
		ID       int64  `json:"id"`
		Quantity int    `json:"quantity"`
		Subtotal string `json:"subtotal"`
	} `json:"refund_line_items"`
}

// Refund inserts a refund row aggregating successful refund transactions
// into one minor-unit total, increments the order's refunded amount,
// replaces refund line items, and enqueues the follow-up jobs.
func (h *Handlers) Refund(ctx context.Context, tenantID string, payload []byte, eventID string) error {
	var p refundPayload
	if err := decode(payload, &p); err != nil {
		return err
	}

	var totalMinor int64
	currency := ""
	for _, txn := range p.Transactions {
		if txn.Status != "success" {
			continue
		}
		totalMinor += minorUnits(txn.Amount)
		if currency == "" {
			currency = txn.Currency
		}
	}

	t, err := tx(ctx)
	if err != nil {
		return err
	}

	var orderID, refundID string
	if err := t.QueryRowContext(ctx, `
		SELECT id FROM orders WHERE tenant_id = $1 AND external_id = $2`,
		tenantID, p.OrderID,
	).Scan(&orderID); err != nil {
		return fmt.Errorf("handlers: locate order for refund: %w", err)
	}

	if err := t.QueryRowContext(ctx, `
		INSERT INTO refunds (order_id, external_id, amount_minor, currency_code, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (order_id, external_id) DO UPDATE SET amount_minor = EXCLUDED.amount_minor
		RETURNING id`,
		orderID, p.ID, totalMinor, currency,
	).Scan(&refundID); err != nil {
		return fmt.Errorf("handlers: upsert refund: %w", err)
	}

	if _, err := t.ExecContext(ctx, `
		UPDATE orders SET refunded_minor = refunded_minor + $2, synced_at = now() WHERE id = $1`,
		orderID, totalMinor,
	); err != nil {
		return fmt.Errorf("handlers: increment refunded amount: %w", err)
	}

	if _, err := t.ExecContext(ctx, `DELETE FROM refund_line_items WHERE refund_id = $1`, refundID); err != nil {
		return fmt.Errorf("handlers: clear refund line items: %w", err)
	}
	for _, li := range p.RefundLineItems {
		if _, err := t.ExecContext(ctx, `
			INSERT INTO refund_line_items (refund_id, external_id, quantity, subtotal_minor)
			VALUES ($1, $2, $3, $4)`,
			refundID, li.ID, li.Quantity, minorUnits(li.Subtotal),
		); err != nil {
			return fmt.Errorf("handlers: insert refund line item: %w", err)
		}
	}

	for _, topic := range []string{"refunds.commission_adjustment", "refunds.pixel", "refunds.analytics"} {
		if err := h.enqueue(ctx, topic, tenantID, eventID, map[string]any{"refund_id": refundID, "order_id": orderID}); err != nil {
			return err
		}
	}
	return nil
}
