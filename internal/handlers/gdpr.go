package handlers

import (
	"context"
	"fmt"

	"github.com/ocx/ingestcore/internal/idempotency"
)

type gdprCustomersRedactPayload struct {
	Customer struct {
		ID int64 `json:"id"`
	} `json:"customer"`
	OrdersToRedact []int64 `json:"orders_to_redact"`
}

// GDPRCustomersRedact anonymizes the customer's PII, rewrites the
// redacted email column on the listed orders to the same deterministic
// sentinel, and deletes the customer's address rows.
func (h *Handlers) GDPRCustomersRedact(ctx context.Context, tenantID string, payload []byte, eventID string) error {
	var p gdprCustomersRedactPayload
	if err := decode(payload, &p); err != nil {
		return err
	}

	t, err := tx(ctx)
	if err != nil {
		return err
	}

	sentinel := anonymizedEmail(p.Customer.ID)
	var customerID string
	err = t.QueryRowContext(ctx, `
		UPDATE customers SET email = $3, first_name = 'Redacted', last_name = 'Customer', phone = NULL, anonymized = true, synced_at = now()
		WHERE tenant_id = $1 AND external_id = $2
		RETURNING id`,
		tenantID, p.Customer.ID, sentinel,
	).Scan(&customerID)
	if err != nil {
		return fmt.Errorf("handlers: anonymize customer for gdpr redact: %w", err)
	}

	if _, err := t.ExecContext(ctx, `DELETE FROM customer_addresses WHERE customer_id = $1`, customerID); err != nil {
		return fmt.Errorf("handlers: delete addresses for gdpr redact: %w", err)
	}

	for _, orderExternalID := range p.OrdersToRedact {
		if _, err := t.ExecContext(ctx, `
			UPDATE orders SET email = $3, synced_at = now() WHERE tenant_id = $1 AND external_id = $2`,
			tenantID, orderExternalID, sentinel,
		); err != nil {
			return fmt.Errorf("handlers: redact order %d: %w", orderExternalID, err)
		}
	}
	return nil
}

// GDPRShopRedact runs 48h after uninstall: marks the connection deleted
// and nulls all sealed credential columns.
func (h *Handlers) GDPRShopRedact(ctx context.Context, tenantID string, payload []byte, eventID string) error {
	t, err := tx(ctx)
	if err != nil {
		return err
	}
	if _, err := t.ExecContext(ctx, `
		UPDATE connections SET status = 'deleted', sealed_access_token = NULL, sealed_webhook_secret = NULL
		WHERE tenant_id = $1`,
		tenantID,
	); err != nil {
		return fmt.Errorf("handlers: gdpr shop redact: %w", err)
	}
	return nil
}

// GDPRCustomersDataRequest is logged only: the shared event-log row
// already carries the audit trail; this handler inserts nothing further
// beyond a fixed-key marker so repeated data-request notifications never
// duplicate the audit entry.
func (h *Handlers) GDPRCustomersDataRequest(ctx context.Context, tenantID string, payload []byte, eventID string) error {
	var p struct {
		Customer struct {
			ID int64 `json:"id"`
		} `json:"customer"`
		Shop string `json:"shop_domain"`
	}
	if err := decode(payload, &p); err != nil {
		return err
	}

	key := idempotency.GDPRDataRequestKey(fmt.Sprintf("%d", p.Customer.ID), p.Shop)
	t, err := tx(ctx)
	if err != nil {
		return err
	}
	if _, err := t.ExecContext(ctx, `
		INSERT INTO gdpr_data_request_log (tenant_id, idempotency_key, customer_external_id, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING`,
		tenantID, key, p.Customer.ID,
	); err != nil {
		return fmt.Errorf("handlers: log gdpr data request: %w", err)
	}
	return nil
}
