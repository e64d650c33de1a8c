package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

type customerPayload struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Addresses []struct {
		ID      int64  `json:"id"`
		Address1 string `json:"address1"`
		City    string `json:"city"`
		Country string `json:"country"`
	} `json:"addresses"`
}

func (h *Handlers) upsertCustomer(ctx context.Context, tenantID string, p customerPayload) (customerID string, err error) {
	t, err := tx(ctx)
	if err != nil {
		return "", err
	}
	err = t.QueryRowContext(ctx, `
		INSERT INTO customers (tenant_id, external_id, email, first_name, last_name, phone, anonymized, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, false, now())
		ON CONFLICT (tenant_id, external_id) DO UPDATE SET
			email = EXCLUDED.email, first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name, phone = EXCLUDED.phone, synced_at = now()
		RETURNING id`,
		tenantID, p.ID, p.Email, p.FirstName, p.LastName, p.Phone,
	).Scan(&customerID)
	if err != nil {
		return "", fmt.Errorf("handlers: upsert customer: %w", err)
	}
	return customerID, nil
}

func (h *Handlers) replaceCustomerAddresses(ctx context.Context, customerID string, p customerPayload) error {
	t, err := tx(ctx)
	if err != nil {
		return err
	}
	if _, err := t.ExecContext(ctx, `DELETE FROM customer_addresses WHERE customer_id = $1`, customerID); err != nil {
		return fmt.Errorf("handlers: clear addresses: %w", err)
	}
	for _, addr := range p.Addresses {
		if _, err := t.ExecContext(ctx, `
			INSERT INTO customer_addresses (customer_id, external_id, line1, city, country)
			VALUES ($1, $2, $3, $4, $5)`,
			customerID, addr.ID, addr.Address1, addr.City, addr.Country,
		); err != nil {
			return fmt.Errorf("handlers: insert address: %w", err)
		}
	}
	return nil
}

// CustomerUpsert upserts the customer and replaces its address list,
// then enqueues a customer-sync job.
func (h *Handlers) CustomerUpsert(ctx context.Context, tenantID string, payload []byte, eventID string) error {
	var p customerPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	customerID, err := h.upsertCustomer(ctx, tenantID, p)
	if err != nil {
		return err
	}
	if err := h.replaceCustomerAddresses(ctx, customerID, p); err != nil {
		return err
	}
	return h.enqueue(ctx, "customers.sync", tenantID, eventID, map[string]any{"customer_id": customerID})
}

// anonymizedEmail derives a deterministic sentinel address from an
// external customer id, so repeated redaction requests for the same
// customer always produce the same placeholder.
func anonymizedEmail(externalID int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("customer:%d", externalID)))
	return fmt.Sprintf("redacted-%s@anonymized.invalid", hex.EncodeToString(sum[:])[:16])
}

// CustomerDelete anonymizes PII and hard-deletes addresses, preserving
// order history.
func (h *Handlers) CustomerDelete(ctx context.Context, tenantID string, payload []byte, eventID string) error {
	var p customerPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	t, err := tx(ctx)
	if err != nil {
		return err
	}

	var customerID string
	err = t.QueryRowContext(ctx, `
		UPDATE customers SET email = $3, first_name = 'Redacted', last_name = 'Customer', phone = NULL, anonymized = true, synced_at = now()
		WHERE tenant_id = $1 AND external_id = $2
		RETURNING id`,
		tenantID, p.ID, anonymizedEmail(p.ID),
	).Scan(&customerID)
	if err != nil {
		return fmt.Errorf("handlers: anonymize customer: %w", err)
	}

	if _, err := t.ExecContext(ctx, `DELETE FROM customer_addresses WHERE customer_id = $1`, customerID); err != nil {
		return fmt.Errorf("handlers: delete addresses: %w", err)
	}
	return nil
}
