package commerce

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/ingestcore/internal/domain"
	"github.com/ocx/ingestcore/internal/tenancy"
)

type identitySealer struct{}

func (identitySealer) Seal(plaintext []byte) (string, error) { return string(plaintext), nil }
func (identitySealer) Open(sealed string) ([]byte, error)    { return []byte(sealed), nil }

func registryWithConnection(shop, token string) tenancy.Registry {
	r := tenancy.NewMemoryRegistry()
	r.AddConnection(&domain.Connection{
		TenantID:          "tenant-1",
		ExternalID:        shop,
		SealedAccessToken: token,
		Status:            domain.ConnectionActive,
	})
	return r
}

func TestSubscribe_SendsAccessTokenHeaderAndReturnsID(t *testing.T) {
	var gotPath, gotToken string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-Shopify-Access-Token")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"webhook":{"id":9988}}`))
	}))
	defer server.Close()

	host := strings.TrimPrefix(server.URL, "http://")
	registry := registryWithConnection(host, "tok-123")
	client := NewSubscriptionClient(registry, identitySealer{}, "2026-01")
	client.httpClient = server.Client()
	client.scheme = "http"

	externalID, err := client.Subscribe(context.Background(), host, "orders/create", "https://ingest.example.com/webhooks/commerce/"+host)
	require.NoError(t, err)
	assert.Equal(t, "9988", externalID)
	assert.Equal(t, "tok-123", gotToken)
	assert.Contains(t, gotPath, "webhooks.json")
	webhook, _ := gotBody["webhook"].(map[string]any)
	assert.Equal(t, "orders/create", webhook["topic"])
}

func TestSubscribe_UpstreamErrorIsWrapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"errors":"not authorized"}`))
	}))
	defer server.Close()

	host := strings.TrimPrefix(server.URL, "http://")
	registry := registryWithConnection(host, "tok-123")
	client := NewSubscriptionClient(registry, identitySealer{}, "2026-01")
	client.httpClient = server.Client()
	client.scheme = "http"

	_, err := client.Subscribe(context.Background(), host, "orders/create", "https://ingest.example.com/cb")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestUnsubscribe_SendsDeleteWithAccessToken(t *testing.T) {
	var gotMethod, gotToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotToken = r.Header.Get("X-Shopify-Access-Token")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	host := strings.TrimPrefix(server.URL, "http://")
	registry := registryWithConnection(host, "tok-456")
	client := NewSubscriptionClient(registry, identitySealer{}, "2026-01")
	client.httpClient = server.Client()
	client.scheme = "http"

	err := client.Unsubscribe(context.Background(), host, "9988")
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "tok-456", gotToken)
}

func TestExchange_ParsesAccessTokenFromResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"shpat_abc123","scope":"read_orders,write_orders"}`))
	}))
	defer server.Close()

	host := strings.TrimPrefix(server.URL, "http://")
	exchanger := NewTokenExchanger("client-1", "secret-1")
	exchanger.httpClient = server.Client()
	exchanger.scheme = "http"

	token, err := exchanger.Exchange(context.Background(), host, "code-1")
	require.NoError(t, err)
	assert.Equal(t, "shpat_abc123", token)
}

func TestExchange_EmptyAccessTokenIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":""}`))
	}))
	defer server.Close()

	host := strings.TrimPrefix(server.URL, "http://")
	exchanger := NewTokenExchanger("client-1", "secret-1")
	exchanger.httpClient = server.Client()
	exchanger.scheme = "http"

	_, err := exchanger.Exchange(context.Background(), host, "code-1")
	assert.Error(t, err)
}
