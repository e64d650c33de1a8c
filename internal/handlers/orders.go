package handlers

import (
	"context"
	"fmt"
)

type orderPayload struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	Currency          string `json:"currency"`
	TotalPrice        string `json:"total_price"`
	SubtotalPrice     string `json:"subtotal_price"`
	TotalDiscounts    string `json:"total_discounts"`
	TotalTax          string `json:"total_tax"`
	FinancialStatus   string `json:"financial_status"`
	FulfillmentStatus string `json:"fulfillment_status"`
	Customer          struct {
		ID int64 `json:"id"`
	} `json:"customer"`
	LineItems []struct {
		ID    int64  `json:"id"`
		Title string `json:"title"`
		Qty   int    `json:"quantity"`
		Price string `json:"price"`
		SKU   string `json:"sku"`
	} `json:"line_items"`
}

func (h *Handlers) upsertOrder(ctx context.Context, tenantID string, p orderPayload) (orderID string, err error) {
	t, err := tx(ctx)
	if err != nil {
		return "", err
	}

	err = t.QueryRowContext(ctx, `
		INSERT INTO orders (tenant_id, external_id, name, currency, gross_sales_minor, discounts_minor, net_sales_minor, taxes_minor, total_minor, financial_status, fulfillment_status, customer_external_id, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $5 - $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (tenant_id, external_id) DO UPDATE SET
			name = EXCLUDED.name,
			currency = EXCLUDED.currency,
			gross_sales_minor = EXCLUDED.gross_sales_minor,
			discounts_minor = EXCLUDED.discounts_minor,
			net_sales_minor = EXCLUDED.net_sales_minor,
			taxes_minor = EXCLUDED.taxes_minor,
			total_minor = EXCLUDED.total_minor,
			financial_status = EXCLUDED.financial_status,
			fulfillment_status = EXCLUDED.fulfillment_status,
			customer_external_id = EXCLUDED.customer_external_id,
			synced_at = now()
		RETURNING id`,
		tenantID, p.ID, p.Name, p.Currency,
		minorUnits(p.SubtotalPrice), minorUnits(p.TotalDiscounts), minorUnits(p.TotalTax), minorUnits(p.TotalPrice),
		p.FinancialStatus, p.FulfillmentStatus, p.Customer.ID,
	).Scan(&orderID)
	if err != nil {
		return "", fmt.Errorf("handlers: upsert order: %w", err)
	}
	return orderID, nil
}

func (h *Handlers) replaceOrderLineItems(ctx context.Context, orderID string, p orderPayload) error {
	t, err := tx(ctx)
	if err != nil {
		return err
	}
	if _, err := t.ExecContext(ctx, `DELETE FROM order_line_items WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("handlers: clear line items: %w", err)
	}
	for _, li := range p.LineItems {
		if _, err := t.ExecContext(ctx, `
			INSERT INTO order_line_items (order_id, external_id, title, quantity, price_minor, sku)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			orderID, li.ID, li.Title, li.Qty, minorUnits(li.Price), li.SKU,
		); err != nil {
			return fmt.Errorf("handlers: insert line item: %w", err)
		}
	}
	return nil
}

// OrderCreate upserts the order, replaces its line items, and enqueues
// the three follow-up jobs spec §4.I names for order creation.
func (h *Handlers) OrderCreate(ctx context.Context, tenantID string, payload []byte, eventID string) error {
	var p orderPayload
	if err := decode(payload, &p); err != nil {
		return err
	}

	orderID, err := h.upsertOrder(ctx, tenantID, p)
	if err != nil {
		return err
	}
	if err := h.replaceOrderLineItems(ctx, orderID, p); err != nil {
		return err
	}

	for _, topic := range []string{"orders.attribution", "orders.commission", "orders.post_create"} {
		if err := h.enqueue(ctx, topic, tenantID, eventID, map[string]any{"order_id": orderID}); err != nil {
			return err
		}
	}
	return nil
}

// OrderUpdated refreshes financial/fulfillment status only.
func (h *Handlers) OrderUpdated(ctx context.Context, tenantID string, payload []byte, eventID string) error {
	var p orderPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	t, err := tx(ctx)
	if err != nil {
		return err
	}
	_, err = t.ExecContext(ctx, `
		UPDATE orders SET financial_status = $3, fulfillment_status = $4, synced_at = now()
		WHERE tenant_id = $1 AND external_id = $2`,
		tenantID, p.ID, p.FinancialStatus, p.FulfillmentStatus)
	if err != nil {
		return fmt.Errorf("handlers: update order status: %w", err)
	}
	return nil
}

// OrderPaid runs OrderUpdated plus the gift-card-reward and pixel jobs.
func (h *Handlers) OrderPaid(ctx context.Context, tenantID string, payload []byte, eventID string) error {
	if err := h.OrderUpdated(ctx, tenantID, payload, eventID); err != nil {
		return err
	}
	var p orderPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	for _, topic := range []string{"orders.gift_card_reward", "orders.pixel"} {
		if err := h.enqueue(ctx, topic, tenantID, eventID, map[string]any{"order_external_id": p.ID}); err != nil {
			return err
		}
	}
	return nil
}

// OrderCancelled runs OrderUpdated plus commission-reversal and
// A/B-exclusion jobs.
func (h *Handlers) OrderCancelled(ctx context.Context, tenantID string, payload []byte, eventID string) error {
	if err := h.OrderUpdated(ctx, tenantID, payload, eventID); err != nil {
		return err
	}
	var p orderPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	for _, topic := range []string{"orders.commission_reversal", "orders.ab_exclusion"} {
		if err := h.enqueue(ctx, topic, tenantID, eventID, map[string]any{"order_external_id": p.ID}); err != nil {
			return err
		}
	}
	return nil
}
