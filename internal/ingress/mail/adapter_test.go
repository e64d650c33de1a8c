package mail

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ocx/ingestcore/internal/domain"
	"github.com/ocx/ingestcore/internal/ingress"
	"github.com/ocx/ingestcore/internal/ingresserr"
	"github.com/ocx/ingestcore/internal/tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSealer struct{}

func (fakeSealer) Seal(plaintext []byte) (string, error) { return "sealed:" + string(plaintext), nil }
func (fakeSealer) Open(sealed string) ([]byte, error) {
	return []byte(strings.TrimPrefix(sealed, "sealed:")), nil
}

func signedMailRequest(t *testing.T, msg message, secret []byte, ts time.Time) *http.Request {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)

	id := "msg_1"
	timestamp := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(id + "." + timestamp + "." + string(body)))
	sig := "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/mail", strings.NewReader(string(body)))
	req.Header.Set("Svix-Id", id)
	req.Header.Set("Svix-Timestamp", timestamp)
	req.Header.Set("Svix-Signature", sig)
	return req
}

func TestAdapter_Parse_MissingSvixHeadersReturnsErrMissingHeaders(t *testing.T) {
	a := New(fakeSealer{}, []byte("app-secret"))
	req := httptest.NewRequest(http.MethodPost, "/webhooks/mail", strings.NewReader(`{}`))
	_, err := a.Parse(req)
	require.ErrorIs(t, err, ingresserr.ErrMissingHeaders)
}

func TestAdapter_Parse_MissingRecipientIsMalformed(t *testing.T) {
	a := New(fakeSealer{}, []byte("app-secret"))
	msg := message{ID: "mid-1", From: "buyer@example.com", Subject: "hi", Text: "body"}
	req := signedMailRequest(t, msg, []byte("app-secret"), time.Now())
	_, err := a.Parse(req)
	require.ErrorIs(t, err, ingresserr.ErrMalformedPayload)
}

func TestAdapter_Parse_ExtractsRecipientAndBuildsIdempotencyKey(t *testing.T) {
	a := New(fakeSealer{}, []byte("app-secret"))
	msg := message{ID: "mid-1", To: "Receipts@Example.com", From: "buyer@example.com", Subject: "hi", Text: "body"}
	req := signedMailRequest(t, msg, []byte("app-secret"), time.Now())

	ev, err := a.Parse(req)
	require.NoError(t, err)
	assert.Equal(t, "receipts@example.com", ev.ExternalSourceID)
	assert.NotEmpty(t, ev.IdempotencyKey)
	assert.Equal(t, "inbound.mail.received", ev.Topic)
}

func TestAdapter_Authenticate_ValidSignatureAndFreshTimestampPasses(t *testing.T) {
	fixedNow := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a := New(fakeSealer{}, []byte("app-secret"))
	a.now = func() time.Time { return fixedNow }

	msg := message{ID: "mid-1", To: "receipts@example.com", From: "buyer@example.com"}
	req := signedMailRequest(t, msg, []byte("app-secret"), fixedNow)
	ev, err := a.Parse(req)
	require.NoError(t, err)

	ok, err := a.Authenticate(t.Context(), ev, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAdapter_Authenticate_StaleTimestampFails(t *testing.T) {
	fixedNow := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a := New(fakeSealer{}, []byte("app-secret"))
	a.now = func() time.Time { return fixedNow }

	signedAt := fixedNow.Add(-10 * time.Minute)
	msg := message{ID: "mid-1", To: "receipts@example.com", From: "buyer@example.com"}
	req := signedMailRequest(t, msg, []byte("app-secret"), signedAt)
	ev, err := a.Parse(req)
	require.NoError(t, err)

	ok, err := a.Authenticate(t.Context(), ev, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdapter_Authenticate_TriesSealedSecretThenAppSecret(t *testing.T) {
	fixedNow := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a := New(fakeSealer{}, []byte("app-secret"))
	a.now = func() time.Time { return fixedNow }

	msg := message{ID: "mid-1", To: "receipts@example.com", From: "buyer@example.com"}
	req := signedMailRequest(t, msg, []byte("app-secret"), fixedNow)
	ev, err := a.Parse(req)
	require.NoError(t, err)

	creds := &tenancy.SealedCredentials{SealedWebhookSecret: "sealed:some-other-secret"}
	ok, err := a.Authenticate(t.Context(), ev, creds)
	require.NoError(t, err)
	assert.True(t, ok, "falls back to app secret when sealed secret doesn't match")
}

func TestAdapter_Resolve_MapsInboundAddressToTenantAndPurpose(t *testing.T) {
	a := New(fakeSealer{}, []byte("app-secret"))
	registry := tenancy.NewMemoryRegistry()
	registry.AddConnection(&domain.Connection{TenantID: "tenant-1", Status: domain.ConnectionActive})
	registry.AddInboundAddress("receipts@example.com", tenancy.InboundResolution{
		TenantID: "tenant-1",
		Purpose:  domain.PurposeReceipts,
	})

	msg := message{ID: "mid-1", To: "receipts@example.com", From: "buyer@example.com"}
	req := signedMailRequest(t, msg, []byte("app-secret"), time.Now())
	ev, err := a.Parse(req)
	require.NoError(t, err)

	resolution, err := a.Resolve(t.Context(), registry, ev)
	require.NoError(t, err)
	require.NotNil(t, resolution)
	assert.Equal(t, "tenant-1", resolution.TenantID)
	assert.Equal(t, string(domain.PurposeReceipts), resolution.Purpose)
}

func TestAdapter_Classify_AutoReplyIsIgnored(t *testing.T) {
	a := New(fakeSealer{}, []byte("app-secret"))
	msg := message{To: "support@example.com", From: "mailer-daemon@example.com", Subject: "hi", Text: "body"}
	body, err := json.Marshal(msg)
	require.NoError(t, err)

	topic, ignore, reason, err := a.Classify(t.Context(), &ingress.IncomingEvent{RawBody: body}, nil)
	require.NoError(t, err)
	assert.True(t, ignore)
	assert.Equal(t, "auto-reply", reason)
	assert.Empty(t, topic)
}

func TestAdapter_Classify_RoutesByResolvedPurpose(t *testing.T) {
	a := New(fakeSealer{}, []byte("app-secret"))
	msg := message{To: "receipts@example.com", From: "buyer@example.com", Subject: "Your receipt", Text: "total $12.00"}
	body, err := json.Marshal(msg)
	require.NoError(t, err)

	resolution := &ingress.Resolution{Purpose: string(domain.PurposeReceipts)}
	topic, ignore, reason, err := a.Classify(t.Context(), &ingress.IncomingEvent{RawBody: body}, resolution)
	require.NoError(t, err)
	assert.False(t, ignore)
	assert.Empty(t, reason)
	assert.Equal(t, "inbound.mail.receipts", topic)
}

func TestAdapter_Classify_DefaultsToGeneralWhenNoResolutionPurpose(t *testing.T) {
	a := New(fakeSealer{}, []byte("app-secret"))
	msg := message{To: "hello@example.com", From: "buyer@example.com", Subject: "question", Text: "what are your hours"}
	body, err := json.Marshal(msg)
	require.NoError(t, err)

	topic, ignore, _, err := a.Classify(t.Context(), &ingress.IncomingEvent{RawBody: body}, nil)
	require.NoError(t, err)
	assert.False(t, ignore)
	assert.Equal(t, "inbound.mail.general", topic)
}
