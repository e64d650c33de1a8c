package handlers

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"github.com/ocx/ingestcore/internal/classify"
)

type inboundMailPayload struct {
	Sender  string `json:"from"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// Treasury parses the approval verdict and request id out of an inbound
// treasury email and inserts a treasury-communication row (spec §4.I).
func (h *Handlers) Treasury(ctx context.Context, tenantID string, payload []byte, eventID string) error {
	var p inboundMailPayload
	if err := decode(payload, &p); err != nil {
		return err
	}

	verdict := classify.ScoreApproval(p.Subject, p.Text)
	requestID, _ := classify.ExtractRequestID(p.Subject + "\n" + p.Text)

	t, err := tx(ctx)
	if err != nil {
		return err
	}
	if _, err := t.ExecContext(ctx, `
		INSERT INTO treasury_communications (tenant_id, direction, treasury_request_id, verdict, confidence, matched_keywords, created_at)
		VALUES ($1, 'inbound', $2, $3, $4, $5, now())`,
		tenantID, requestID, verdict.Verdict, verdict.Confidence, pq.Array(verdict.Matched),
	); err != nil {
		return fmt.Errorf("handlers: insert treasury communication: %w", err)
	}
	return nil
}
