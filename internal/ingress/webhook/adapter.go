// Package webhook adapts commerce platform webhooks (Shopify-shaped:
// shop-domain / topic / hmac-sha256 headers) to the shared ingress
// pipeline (spec §4.F).
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ocx/ingestcore/internal/idempotency"
	"github.com/ocx/ingestcore/internal/ingress"
	"github.com/ocx/ingestcore/internal/ingresserr"
	"github.com/ocx/ingestcore/internal/seal"
	"github.com/ocx/ingestcore/internal/tenancy"
	"github.com/ocx/ingestcore/internal/verify"
)

// Adapter implements ingress.Adapter for commerce webhooks.
type Adapter struct {
	// WebhookSecretSealer must already be bound to seal.PurposeWebhookSecret
	// (see seal.Keyring); Sealer.Open carries no purpose argument of its own.
	WebhookSecretSealer seal.Sealer
	AppWebhookSecret    []byte // fallback when a connection has no per-tenant secret
	HeaderPrefix        string // e.g. "Shopify": looks for X-Shopify-Shop-Domain etc.
}

func New(webhookSecretSealer seal.Sealer, appWebhookSecret []byte, headerPrefix string) *Adapter {
	return &Adapter{WebhookSecretSealer: webhookSecretSealer, AppWebhookSecret: appWebhookSecret, HeaderPrefix: headerPrefix}
}

func (a *Adapter) Name() string { return "webhook" }

func (a *Adapter) header(r *http.Request, name string) string {
	return r.Header.Get(fmt.Sprintf("X-%s-%s", a.HeaderPrefix, name))
}

func (a *Adapter) Parse(r *http.Request) (*ingress.IncomingEvent, error) {
	shop := strings.ToLower(a.header(r, "Shop-Domain"))
	topic := a.header(r, "Topic")
	signature := a.header(r, "Hmac-Sha256")
	webhookID := a.header(r, "Webhook-Id")

	if shop == "" || topic == "" || signature == "" {
		return nil, ingresserr.ErrMissingHeaders
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("webhook: read body: %w", err)
	}

	var decoded map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, fmt.Errorf("%w: %v", ingresserr.ErrMalformedPayload, err)
		}
	}
	resourceID := extractResourceID(decoded, shop)

	headers := map[string][]string{
		"X-" + a.HeaderPrefix + "-Shop-Domain":   {shop},
		"X-" + a.HeaderPrefix + "-Topic":         {topic},
		"X-" + a.HeaderPrefix + "-Hmac-Sha256":   {signature},
		"X-" + a.HeaderPrefix + "-Webhook-Id":    {webhookID},
		"X-" + a.HeaderPrefix + "-Api-Version":   {a.header(r, "Api-Version")},
	}

	return &ingress.IncomingEvent{
		Topic:            topic,
		ExternalSourceID: shop,
		ExternalEventID:  webhookID,
		RawBody:          body,
		Headers:          headers,
		IdempotencyKey:   idempotency.WebhookKey(topic, resourceID, webhookID),
	}, nil
}

// extractResourceID pulls the payload's top-level "id" field, falling
// back to the shop domain when the payload carries none (e.g. an empty
// GDPR shop/redact body); per spec §9's note that a fully typed
// per-topic parse is left to handlers, ingress only needs a stable
// resource identifier for the idempotency key.
func extractResourceID(payload map[string]any, fallback string) string {
	if payload == nil {
		return fallback
	}
	switch id := payload["id"].(type) {
	case float64:
		return fmt.Sprintf("%.0f", id)
	case string:
		if id != "" {
			return id
		}
	}
	return fallback
}

func (a *Adapter) Authenticate(ctx context.Context, ev *ingress.IncomingEvent, creds *tenancy.SealedCredentials) (bool, error) {
	secret := a.AppWebhookSecret
	if creds != nil && creds.SealedWebhookSecret != "" {
		opened, err := a.WebhookSecretSealer.Open(creds.SealedWebhookSecret)
		if err != nil {
			return false, fmt.Errorf("webhook: open sealed secret: %w", err)
		}
		secret = opened
	}
	if len(secret) == 0 {
		return false, ingresserr.ErrMissingConfig
	}

	claimed := ""
	if vs := ev.Headers["X-"+a.HeaderPrefix+"-Hmac-Sha256"]; len(vs) > 0 {
		claimed = vs[0]
	}
	return verify.WebhookBody(ev.RawBody, claimed, secret), nil
}

func (a *Adapter) Resolve(ctx context.Context, registry tenancy.Registry, ev *ingress.IncomingEvent) (*ingress.Resolution, error) {
	tenantID, ok, err := registry.ResolveByShop(ctx, ev.ExternalSourceID)
	if err != nil {
		return nil, fmt.Errorf("webhook: resolve by shop: %w", err)
	}
	if !ok {
		return nil, nil
	}

	creds, err := registry.GetSealedCredentials(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("webhook: get credentials: %w", err)
	}
	return &ingress.Resolution{TenantID: tenantID, Creds: creds}, nil
}

// Classify is a no-op for webhooks; spec §4.J content classification
// applies only to inbound mail.
func (a *Adapter) Classify(ctx context.Context, ev *ingress.IncomingEvent, resolution *ingress.Resolution) (string, bool, string, error) {
	return "", false, "", nil
}

var _ ingress.Adapter = (*Adapter)(nil)
