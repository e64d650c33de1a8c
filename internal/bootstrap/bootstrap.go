// Package bootstrap registers the commerce webhook subscriptions a
// tenant needs right after OAuth install, recording each registration's
// outcome so internal/health can track registration status per
// topic/shop (spec.md §9: "some topics... are Partner-registered only;
// a reimplementation must not attempt to programmatically register
// those").
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/ocx/ingestcore/internal/health"
)

// Topics lists every webhook topic this core ingests (spec.md §4.I /
// §9). The four GDPR topics are intentionally absent: Shopify only
// grants those to Partner-level apps through its own dashboard, never
// through the subscriptions API, so RegisterAll must never attempt them.
var Topics = []string{
	"orders/create",
	"orders/updated",
	"orders/paid",
	"orders/cancelled",
	"orders/fulfilled",
	"products/create",
	"products/update",
	"products/delete",
	"customers/create",
	"customers/update",
	"refunds/create",
	"fulfillments/create",
	"fulfillments/update",
	"app/uninstalled",
}

// skippedGDPRTopics documents, for operator-facing logging, which
// topics RegisterAll deliberately never registers.
var skippedGDPRTopics = []string{
	"customers/redact",
	"shop/redact",
	"customers/data_request",
	"customers/delete",
}

// SubscriptionAPI registers and removes webhook subscriptions against
// the upstream commerce platform. Left as an interface, the same way
// internal/oauth.Exchanger abstracts the token endpoint, so registration
// logic is testable without a live HTTP call; cmd/api wires a concrete
// REST-backed implementation.
type SubscriptionAPI interface {
	Subscribe(ctx context.Context, shop, topic, callbackURL string) (externalID string, err error)
	Unsubscribe(ctx context.Context, shop, externalID string) error
}

// Registrar persists registration outcomes and updates
// internal/health's registration-status rollup.
type Registrar struct {
	DB      *sql.DB
	API     SubscriptionAPI
	Monitor *health.Monitor

	CallbackBaseURL string
}

// RegisterAll subscribes shop to every topic in Topics, skipping the
// GDPR-only topics, and records each outcome in webhook_registrations.
// A single topic's failure does not stop the remaining topics from being
// attempted (spec.md §4.H's per-handler isolation principle, applied
// here to per-topic registration).
func (r *Registrar) RegisterAll(ctx context.Context, tenantID, shop string) error {
	slog.Info("bootstrap: skipping partner-registered-only topics",
		"tenant", tenantID, "shop", shop, "topics", skippedGDPRTopics)

	var firstErr error
	for _, topic := range Topics {
		if err := r.registerOne(ctx, tenantID, shop, topic); err != nil {
			slog.Warn("bootstrap: webhook registration failed", "tenant", tenantID, "shop", shop, "topic", topic, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
	}
	return firstErr
}

func (r *Registrar) registerOne(ctx context.Context, tenantID, shop, topic string) error {
	callbackURL := r.CallbackBaseURL + "/webhooks/commerce/" + shop

	externalID, err := r.API.Subscribe(ctx, shop, topic, callbackURL)
	if err != nil {
		if r.Monitor != nil {
			r.Monitor.RecordRegistrationFailure(topic, shop)
		}
		r.recordStatus(ctx, tenantID, topic, "", "failed")
		return fmt.Errorf("bootstrap: subscribe %s: %w", topic, err)
	}

	if r.Monitor != nil {
		r.Monitor.RecordRegistrationSuccess(topic, shop)
	}
	r.recordStatus(ctx, tenantID, topic, externalID, "active")
	return nil
}

func (r *Registrar) recordStatus(ctx context.Context, tenantID, topic, externalID, status string) {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO webhook_registrations (tenant_id, topic, external_id, status, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, now())
		ON CONFLICT (tenant_id, topic) DO UPDATE
		SET external_id = EXCLUDED.external_id, status = EXCLUDED.status, updated_at = now()`,
		tenantID, topic, externalID, status)
	if err != nil {
		slog.Warn("bootstrap: record registration status failed", "tenant", tenantID, "topic", topic, "error", err)
	}
}

// DeregisterAll removes every active subscription for shop, called from
// the app/uninstalled handler's cleanup job rather than inline in the
// webhook handler itself (spec.md §4.I: app/uninstalled only marks rows
// deleted and enqueues a cleanup job; it does not call out to the
// commerce API synchronously).
func (r *Registrar) DeregisterAll(ctx context.Context, tenantID, shop string) error {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT topic, external_id FROM webhook_registrations
		WHERE tenant_id = $1 AND status = 'active' AND external_id IS NOT NULL`, tenantID)
	if err != nil {
		return fmt.Errorf("bootstrap: list active registrations: %w", err)
	}
	defer rows.Close()

	type reg struct{ topic, externalID string }
	var regs []reg
	for rows.Next() {
		var rg reg
		if err := rows.Scan(&rg.topic, &rg.externalID); err != nil {
			return fmt.Errorf("bootstrap: scan registration: %w", err)
		}
		regs = append(regs, rg)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var firstErr error
	for _, rg := range regs {
		if err := r.API.Unsubscribe(ctx, shop, rg.externalID); err != nil {
			slog.Warn("bootstrap: unsubscribe failed", "tenant", tenantID, "topic", rg.topic, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		r.recordStatus(ctx, tenantID, rg.topic, "", "deleted")
	}
	return firstErr
}
