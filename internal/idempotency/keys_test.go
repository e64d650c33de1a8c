package idempotency

import "testing"

func TestWebhookKey_WithExternalEventID(t *testing.T) {
	got := WebhookKey("orders/create", "gid://shopify/Order/1", "evt-1")
	want := "orders/create:gid://shopify/Order/1:evt-1"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestWebhookKey_WithoutExternalEventID(t *testing.T) {
	got := WebhookKey("orders/create", "gid://shopify/Order/1", "")
	want := "orders/create:gid://shopify/Order/1"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMailKey_IsDeterministic(t *testing.T) {
	a := MailKey("treasury", "vendor@example.com", "treasury@tenant.inbound.example.com", "<msg-1@mail.example.com>")
	b := MailKey("treasury", "vendor@example.com", "treasury@tenant.inbound.example.com", "<msg-1@mail.example.com>")
	if a != b {
		t.Fatalf("expected deterministic key, got %q and %q", a, b)
	}
}

func TestMailKey_DifferentMessageIDsDiffer(t *testing.T) {
	a := MailKey("treasury", "vendor@example.com", "treasury@tenant.inbound.example.com", "<msg-1@mail.example.com>")
	b := MailKey("treasury", "vendor@example.com", "treasury@tenant.inbound.example.com", "<msg-2@mail.example.com>")
	if a == b {
		t.Fatalf("expected different keys for different message ids, got %q for both", a)
	}
}

func TestGDPRDataRequestKey_IsFixedPerCustomerAndShop(t *testing.T) {
	got := GDPRDataRequestKey("cust-1", "shop-one.myshopify.com")
	want := "gdpr-data-request:cust-1:shop-one.myshopify.com"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
