package oauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/ingestcore/internal/tenancy"
)

// fakeSealer is an identity sealer, same pattern as
// internal/ingress/webhook/adapter_test.go's fakeSealer.
type fakeSealer struct{}

func (fakeSealer) Seal(plaintext []byte) (string, error) { return "sealed:" + string(plaintext), nil }
func (fakeSealer) Open(sealed string) ([]byte, error) {
	return []byte(strings.TrimPrefix(sealed, "sealed:")), nil
}

type fakeExchanger struct {
	token string
	err   error
}

func (f fakeExchanger) Exchange(_ context.Context, _, _ string) (string, error) {
	return f.token, f.err
}

func sequentialIDs() func() (string, error) {
	n := 0
	return func() (string, error) {
		n++
		return "state-" + strconv.Itoa(n), nil
	}
}

func signedCallback(t *testing.T, shop, code, state string, secret string, ts time.Time) url.Values {
	t.Helper()
	q := url.Values{}
	q.Set("shop", shop)
	q.Set("code", code)
	q.Set("state", state)
	q.Set("timestamp", strconv.FormatInt(ts.Unix(), 10))

	keys := make([]string, 0)
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+q.Get(k))
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(pairs, "&")))
	q.Set("hmac", hex.EncodeToString(mac.Sum(nil)))
	return q
}

func newHandshake(registry tenancy.Registry, exchanger Exchanger) *Handshake {
	h := New(Config{
		ClientID:     "client-1",
		ClientSecret: "shh",
		Scopes:       []string{"read_orders", "write_orders"},
		RedirectURL:  "https://app.example.com/oauth/callback",
	}, registry, NewMemoryStateStore(sequentialIDs()), exchanger, fakeSealer{})
	h.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return h
}

func TestInitiateURL_EmbedsClientIDScopesAndFreshState(t *testing.T) {
	h := newHandshake(tenancy.NewMemoryRegistry(), fakeExchanger{token: "tok"})

	raw, err := h.InitiateURL("shop1.myshopify.com")
	require.NoError(t, err)
	assert.Contains(t, raw, "shop1.myshopify.com")
	assert.Contains(t, raw, "client_id=client-1")
	assert.Contains(t, raw, "state=state-1")
}

func TestHandleCallback_ValidSignatureExchangesAndStoresConnection(t *testing.T) {
	registry := tenancy.NewMemoryRegistry()
	h := newHandshake(registry, fakeExchanger{token: "access-token-1"})

	_, err := h.InitiateURL("shop1.myshopify.com")
	require.NoError(t, err)

	q := signedCallback(t, "shop1.myshopify.com", "code-1", "state-1", "shh", h.now())

	err = h.HandleCallback(context.Background(), q)
	require.NoError(t, err)

	conn, ok, err := registry.GetConnection(context.Background(), "shop1.myshopify.com")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sealed:access-token-1", conn.SealedAccessToken)
}

func TestHandleCallback_WrongSignatureFails(t *testing.T) {
	registry := tenancy.NewMemoryRegistry()
	h := newHandshake(registry, fakeExchanger{token: "access-token-1"})

	_, err := h.InitiateURL("shop1.myshopify.com")
	require.NoError(t, err)

	q := signedCallback(t, "shop1.myshopify.com", "code-1", "state-1", "wrong-secret", h.now())

	err = h.HandleCallback(context.Background(), q)
	assert.Error(t, err)
}

func TestHandleCallback_StaleTimestampFails(t *testing.T) {
	registry := tenancy.NewMemoryRegistry()
	h := newHandshake(registry, fakeExchanger{token: "access-token-1"})

	_, err := h.InitiateURL("shop1.myshopify.com")
	require.NoError(t, err)

	stale := h.now().Add(-time.Hour)
	q := signedCallback(t, "shop1.myshopify.com", "code-1", "state-1", "shh", stale)

	err = h.HandleCallback(context.Background(), q)
	assert.Error(t, err)
}

func TestHandleCallback_StateCannotBeReused(t *testing.T) {
	registry := tenancy.NewMemoryRegistry()
	h := newHandshake(registry, fakeExchanger{token: "access-token-1"})

	_, err := h.InitiateURL("shop1.myshopify.com")
	require.NoError(t, err)

	q := signedCallback(t, "shop1.myshopify.com", "code-1", "state-1", "shh", h.now())

	require.NoError(t, h.HandleCallback(context.Background(), q))
	err = h.HandleCallback(context.Background(), q)
	assert.Error(t, err)
}
