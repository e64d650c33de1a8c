package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// WebhookKey builds the idempotency key for a commerce webhook event
// (spec §4.E): topic:external resource id:external event id, the event id
// segment dropped when the source did not supply one.
func WebhookKey(topic, resourceID, externalEventID string) string {
	if externalEventID == "" {
		return fmt.Sprintf("%s:%s", topic, resourceID)
	}
	return fmt.Sprintf("%s:%s:%s", topic, resourceID, externalEventID)
}

// MailKey builds the idempotency key for an inbound mail event: inbound
// delivery id (the mail adapter passes the Svix-Id header), sender,
// recipient address, and a hash of the message id
// (mail clients are not trusted to produce collision-free ids verbatim).
func MailKey(inboundID, sender, toAddress, messageID string) string {
	sum := sha256.Sum256([]byte(messageID))
	return fmt.Sprintf("%s:%s:%s:%s", inboundID, sender, toAddress, hex.EncodeToString(sum[:])[:16])
}

// GDPRDataRequestKey builds the fixed audit-log idempotency key for a
// customers/data_request webhook (spec §4.E, §4.I GDPR note).
func GDPRDataRequestKey(customerID, shop string) string {
	return fmt.Sprintf("gdpr-data-request:%s:%s", customerID, shop)
}
