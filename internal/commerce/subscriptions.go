// Package commerce implements the outbound REST calls the ingestion core
// makes back to the commerce platform: the webhook subscriptions API
// internal/bootstrap drives, and the OAuth code-for-token exchange
// internal/oauth drives. Both are thin REST clients over net/http,
// grounded on the teacher's internal/federation/supabase_store.go outbound
// HTTP pattern (context-aware requests, explicit status-code checks, no
// retry middleware).
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ocx/ingestcore/internal/seal"
	"github.com/ocx/ingestcore/internal/tenancy"
)

// SubscriptionClient registers and removes commerce webhook subscriptions
// via the platform's REST Admin API. It implements
// internal/bootstrap.SubscriptionAPI.
type SubscriptionClient struct {
	Registry   tenancy.Registry
	Sealer     seal.Sealer // must be bound to seal.PurposeAccessToken
	APIVersion string
	httpClient *http.Client
	scheme     string // overridden to "http" in tests against httptest.NewServer
}

func NewSubscriptionClient(registry tenancy.Registry, accessTokenSealer seal.Sealer, apiVersion string) *SubscriptionClient {
	return &SubscriptionClient{
		Registry:   registry,
		Sealer:     accessTokenSealer,
		APIVersion: apiVersion,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		scheme:     "https",
	}
}

type subscriptionRequest struct {
	Webhook struct {
		Topic   string `json:"topic"`
		Address string `json:"address"`
		Format  string `json:"format"`
	} `json:"webhook"`
}

type subscriptionResponse struct {
	Webhook struct {
		ID int64 `json:"id"`
	} `json:"webhook"`
}

func (c *SubscriptionClient) accessToken(ctx context.Context, shop string) (string, error) {
	tenantID, found, err := c.Registry.ResolveByShop(ctx, shop)
	if err != nil {
		return "", fmt.Errorf("commerce: resolve tenant for %s: %w", shop, err)
	}
	if !found {
		return "", fmt.Errorf("commerce: no tenant connected for shop %s", shop)
	}
	creds, err := c.Registry.GetSealedCredentials(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("commerce: load credentials for %s: %w", shop, err)
	}
	token, err := c.Sealer.Open(creds.SealedAccessToken)
	if err != nil {
		return "", fmt.Errorf("commerce: open access token for %s: %w", shop, err)
	}
	return string(token), nil
}

// Subscribe registers topic against the commerce REST API, returning the
// upstream subscription's id as the externalID internal/bootstrap records.
func (c *SubscriptionClient) Subscribe(ctx context.Context, shop, topic, callbackURL string) (string, error) {
	token, err := c.accessToken(ctx, shop)
	if err != nil {
		return "", err
	}

	var body subscriptionRequest
	body.Webhook.Topic = topic
	body.Webhook.Address = callbackURL
	body.Webhook.Format = "json"
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("commerce: marshal subscribe request: %w", err)
	}

	requestURL := fmt.Sprintf("%s://%s/admin/api/%s/webhooks.json", c.scheme, shop, c.APIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("commerce: build subscribe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("commerce: subscribe %s/%s: %w", shop, topic, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("commerce: subscribe %s/%s returned %d: %s", shop, topic, resp.StatusCode, string(b))
	}

	var decoded subscriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("commerce: decode subscribe response: %w", err)
	}
	return fmt.Sprintf("%d", decoded.Webhook.ID), nil
}

// Unsubscribe removes a subscription by its upstream id.
func (c *SubscriptionClient) Unsubscribe(ctx context.Context, shop, externalID string) error {
	token, err := c.accessToken(ctx, shop)
	if err != nil {
		return err
	}

	requestURL := fmt.Sprintf("%s://%s/admin/api/%s/webhooks/%s.json", c.scheme, shop, c.APIVersion, externalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, requestURL, nil)
	if err != nil {
		return fmt.Errorf("commerce: build unsubscribe request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("commerce: unsubscribe %s/%s: %w", shop, externalID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("commerce: unsubscribe %s/%s returned %d: %s", shop, externalID, resp.StatusCode, string(b))
	}
	return nil
}

// TokenExchanger trades an OAuth authorization code for a permanent access
// token. It implements internal/oauth.Exchanger.
type TokenExchanger struct {
	ClientID     string
	ClientSecret string
	httpClient   *http.Client
	scheme       string // overridden to "http" in tests against httptest.NewServer
}

func NewTokenExchanger(clientID, clientSecret string) *TokenExchanger {
	return &TokenExchanger{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		scheme:       "https",
	}
}

type tokenExchangeResponse struct {
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
}

func (e *TokenExchanger) Exchange(ctx context.Context, shop, code string) (string, error) {
	form := url.Values{}
	form.Set("client_id", e.ClientID)
	form.Set("client_secret", e.ClientSecret)
	form.Set("code", code)

	requestURL := fmt.Sprintf("%s://%s/admin/oauth/access_token", e.scheme, shop)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader([]byte(form.Encode())))
	if err != nil {
		return "", fmt.Errorf("commerce: build token exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("commerce: exchange code for %s: %w", shop, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("commerce: exchange code for %s returned %d: %s", shop, resp.StatusCode, string(b))
	}

	var decoded tokenExchangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("commerce: decode token exchange response: %w", err)
	}
	if decoded.AccessToken == "" {
		return "", fmt.Errorf("commerce: token exchange for %s returned no access token", shop)
	}
	return decoded.AccessToken, nil
}
