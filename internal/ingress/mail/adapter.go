// Package mail adapts inbound-email webhooks (svix-style envelope:
// id / timestamp / signature headers, recipient address as source
// identifier) to the shared ingress pipeline (spec §4.G).
package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ocx/ingestcore/internal/classify"
	"github.com/ocx/ingestcore/internal/domain"
	"github.com/ocx/ingestcore/internal/idempotency"
	"github.com/ocx/ingestcore/internal/ingress"
	"github.com/ocx/ingestcore/internal/ingresserr"
	"github.com/ocx/ingestcore/internal/seal"
	"github.com/ocx/ingestcore/internal/tenancy"
	"github.com/ocx/ingestcore/internal/verify"
)

// SpamThreshold is the default normalized spam score at or above which an
// inbound mail is classified as spam and ignored (spec §4.J).
const SpamThreshold = 0.5

// message is the narrow envelope shape the relay posts: svix-style
// id/timestamp/signature plus the parsed mail fields classification needs.
type message struct {
	ID      string              `json:"id"`
	To      string              `json:"to"`
	From    string              `json:"from"`
	Subject string              `json:"subject"`
	Text    string              `json:"text"`
	Headers map[string][]string `json:"headers"`
}

// Adapter implements ingress.Adapter for inbound mail.
type Adapter struct {
	// WebhookSecretSealer must already be bound to seal.PurposeWebhookSecret.
	WebhookSecretSealer seal.Sealer
	AppWebhookSecret    []byte
	SpamThreshold       float64

	now func() time.Time // overridable in tests
}

func New(webhookSecretSealer seal.Sealer, appWebhookSecret []byte) *Adapter {
	return &Adapter{
		WebhookSecretSealer: webhookSecretSealer,
		AppWebhookSecret:    appWebhookSecret,
		SpamThreshold:       SpamThreshold,
		now:                 time.Now,
	}
}

func (a *Adapter) Name() string { return "mail" }

func (a *Adapter) Parse(r *http.Request) (*ingress.IncomingEvent, error) {
	svixID := r.Header.Get("Svix-Id")
	svixTimestamp := r.Header.Get("Svix-Timestamp")
	svixSignature := r.Header.Get("Svix-Signature")
	if svixID == "" || svixTimestamp == "" || svixSignature == "" {
		return nil, ingresserr.ErrMissingHeaders
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("mail: read body: %w", err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ingresserr.ErrMalformedPayload)
	}

	var msg message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ingresserr.ErrMalformedPayload, err)
	}
	toAddr := strings.ToLower(strings.TrimSpace(msg.To))
	if toAddr == "" {
		return nil, fmt.Errorf("%w: missing recipient", ingresserr.ErrMalformedPayload)
	}

	headers := msg.Headers
	if headers == nil {
		headers = map[string][]string{}
	}
	headers["Svix-Id"] = []string{svixID}
	headers["Svix-Timestamp"] = []string{svixTimestamp}
	headers["Svix-Signature"] = []string{svixSignature}

	return &ingress.IncomingEvent{
		Topic:            "inbound.mail.received",
		ExternalSourceID: toAddr,
		ExternalEventID:  svixID,
		RawBody:          body,
		Headers:          headers,
		IdempotencyKey:   idempotency.MailKey(svixID, msg.From, toAddr, msg.ID),
	}, nil
}

func (a *Adapter) Authenticate(ctx context.Context, ev *ingress.IncomingEvent, creds *tenancy.SealedCredentials) (bool, error) {
	id := headerFirst(ev.Headers, "Svix-Id")
	timestamp := headerFirst(ev.Headers, "Svix-Timestamp")
	signature := headerFirst(ev.Headers, "Svix-Signature")

	if !verify.MailTimestampFresh(timestamp, a.now()) {
		return false, nil
	}

	secrets := make([][]byte, 0, 2)
	if creds != nil && creds.SealedWebhookSecret != "" {
		opened, err := a.WebhookSecretSealer.Open(creds.SealedWebhookSecret)
		if err != nil {
			return false, fmt.Errorf("mail: open sealed secret: %w", err)
		}
		secrets = append(secrets, opened)
	}
	if len(a.AppWebhookSecret) > 0 {
		secrets = append(secrets, a.AppWebhookSecret)
	}
	if len(secrets) == 0 {
		return false, ingresserr.ErrMissingConfig
	}

	return verify.MailSignature(id, timestamp, ev.RawBody, signature, secrets), nil
}

func (a *Adapter) Resolve(ctx context.Context, registry tenancy.Registry, ev *ingress.IncomingEvent) (*ingress.Resolution, error) {
	res, ok, err := registry.ResolveByInboundAddress(ctx, ev.ExternalSourceID)
	if err != nil {
		return nil, fmt.Errorf("mail: resolve by inbound address: %w", err)
	}
	if !ok {
		return nil, nil
	}

	creds, err := registry.GetSealedCredentials(ctx, res.TenantID)
	if err != nil {
		return nil, fmt.Errorf("mail: get credentials: %w", err)
	}
	return &ingress.Resolution{TenantID: res.TenantID, Creds: creds, Purpose: string(res.Purpose)}, nil
}

// Classify runs the content classifier (spec §4.J) and maps the resolved
// inbound address's purpose to a dispatch topic, short-circuiting dispatch
// for auto-replies and mail over the spam threshold.
func (a *Adapter) Classify(ctx context.Context, ev *ingress.IncomingEvent, resolution *ingress.Resolution) (string, bool, string, error) {
	var msg message
	if err := json.Unmarshal(ev.RawBody, &msg); err != nil {
		return "", false, "", fmt.Errorf("%w: %v", ingresserr.ErrMalformedPayload, err)
	}

	m := classify.Mail{Headers: msg.Headers, Sender: msg.From, Subject: msg.Subject, Body: msg.Text}

	if classify.DetectAutoReply(m) {
		return "", true, "auto-reply", nil
	}

	threshold := a.SpamThreshold
	if threshold <= 0 {
		threshold = SpamThreshold
	}
	if classify.IsSpam(m, threshold) {
		return "", true, "spam", nil
	}

	purpose := domain.PurposeGeneral
	if resolution != nil && resolution.Purpose != "" {
		purpose = domain.InboundPurpose(resolution.Purpose)
	}
	return "inbound.mail." + string(purpose), false, "", nil
}

func headerFirst(headers map[string][]string, name string) string {
	for k, vs := range headers {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}

var _ ingress.Adapter = (*Adapter)(nil)
