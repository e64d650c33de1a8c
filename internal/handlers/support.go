package handlers

import (
	"context"
	"database/sql"
	"fmt"
)

// Support resolves the contact by sender address, finds an open thread
// for that contact or creates one, inserts the inbound message, and
// bumps the thread's counters and last-inbound timestamp (spec §4.I).
// Creator runs this same logic whether or not the sender matches a creator.
func (h *Handlers) Support(ctx context.Context, tenantID string, payload []byte, eventID string) error {
	return h.inboundThreadMessage(ctx, tenantID, payload, eventID)
}

// Creator looks up whether the sender matches a creator row, then handles
// the message with the support thread logic. The lookup result does not
// change what happens: there is no creator-specific handling (spec §4.I).
func (h *Handlers) Creator(ctx context.Context, tenantID string, payload []byte, eventID string) error {
	var p inboundMailPayload
	if err := decode(payload, &p); err != nil {
		return err
	}

	t, err := tx(ctx)
	if err != nil {
		return err
	}

	var isCreator bool
	err = t.QueryRowContext(ctx, `
		SELECT true FROM creators WHERE tenant_id = $1 AND email = $2`,
		tenantID, p.Sender,
	).Scan(&isCreator)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("handlers: lookup creator: %w", err)
	}

	return h.inboundThreadMessage(ctx, tenantID, payload, eventID)
}

func (h *Handlers) inboundThreadMessage(ctx context.Context, tenantID string, payload []byte, eventID string) error {
	var p inboundMailPayload
	if err := decode(payload, &p); err != nil {
		return err
	}

	t, err := tx(ctx)
	if err != nil {
		return err
	}

	var contactID string
	err = t.QueryRowContext(ctx, `
		INSERT INTO contacts (tenant_id, email)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id, email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id`,
		tenantID, p.Sender,
	).Scan(&contactID)
	if err != nil {
		return fmt.Errorf("handlers: resolve contact: %w", err)
	}

	var threadID string
	err = t.QueryRowContext(ctx, `
		SELECT id FROM threads WHERE tenant_id = $1 AND contact_id = $2 AND status = 'open'
		ORDER BY created_at DESC LIMIT 1`,
		tenantID, contactID,
	).Scan(&threadID)
	switch {
	case err == sql.ErrNoRows:
		err = t.QueryRowContext(ctx, `
			INSERT INTO threads (tenant_id, contact_id, status, message_count, last_inbound_at, created_at)
			VALUES ($1, $2, 'open', 0, now(), now())
			RETURNING id`,
			tenantID, contactID,
		).Scan(&threadID)
		if err != nil {
			return fmt.Errorf("handlers: create thread: %w", err)
		}
	case err != nil:
		return fmt.Errorf("handlers: locate open thread: %w", err)
	}

	if _, err := t.ExecContext(ctx, `
		INSERT INTO thread_messages (thread_id, direction, subject, body, message_id, created_at)
		VALUES ($1, 'inbound', $2, $3, $4, now())`,
		threadID, p.Subject, p.Text, eventID,
	); err != nil {
		return fmt.Errorf("handlers: insert thread message: %w", err)
	}

	if _, err := t.ExecContext(ctx, `
		UPDATE threads SET message_count = message_count + 1, last_inbound_at = now() WHERE id = $1`,
		threadID,
	); err != nil {
		return fmt.Errorf("handlers: bump thread counters: %w", err)
	}
	return nil
}
