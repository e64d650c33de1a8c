package handlers

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/lib/pq"
	"github.com/ocx/ingestcore/internal/blob"
	"github.com/ocx/ingestcore/internal/classify"
)

type receiptMailPayload struct {
	Sender      string `json:"from"`
	Subject     string `json:"subject"`
	Text        string `json:"text"`
	Attachments []struct {
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`
		DataBase64  string `json:"content"`
	} `json:"attachments"`
}

// Receipts filters attachments to the permitted content types and size
// ceiling, uploads each to blob storage, inserts a receipt row
// referencing the stored paths, and attempts best-effort text extraction
// (spec §4.I).
func (h *Handlers) Receipts(ctx context.Context, tenantID string, payload []byte, eventID string) error {
	var p receiptMailPayload
	if err := decode(payload, &p); err != nil {
		return err
	}

	var paths []string
	for _, att := range p.Attachments {
		if !blob.AllowedContentTypes[att.ContentType] {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(att.DataBase64)
		if err != nil {
			continue
		}
		if len(data) > blob.MaxAttachmentBytes {
			continue
		}
		path, err := h.Blob.Upload(tenantID, blob.Attachment{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Data:        data,
		})
		if err != nil {
			return fmt.Errorf("handlers: upload receipt attachment: %w", err)
		}
		paths = append(paths, path)
	}

	extracted := classify.ExtractReceipt(p.Subject + "\n" + p.Text)

	t, err := tx(ctx)
	if err != nil {
		return err
	}
	if _, err := t.ExecContext(ctx, `
		INSERT INTO receipts (tenant_id, attachment_paths, amount_minor, date, vendor, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', now())`,
		tenantID, pq.Array(paths), extracted.AmountMinor, extracted.Date, extracted.Vendor,
	); err != nil {
		return fmt.Errorf("handlers: insert receipt: %w", err)
	}
	return nil
}
