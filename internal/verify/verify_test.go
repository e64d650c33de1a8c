package verify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestWebhookBody_Accepts(t *testing.T) {
	body := []byte(`{"id":100001,"name":"#1001"}`)
	secret := "shpss_test_secret"
	sig := sign(body, secret)
	assert.True(t, WebhookBody(body, sig, []byte(secret)))
}

func TestWebhookBody_RejectsFlippedBit(t *testing.T) {
	body := []byte(`{"id":100001,"name":"#1001"}`)
	secret := "shpss_test_secret"
	sig := sign(body, secret)

	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-1] ^= 0x01
	flipped := base64.StdEncoding.EncodeToString(raw)

	assert.False(t, WebhookBody(body, flipped, []byte(secret)))
}

func TestWebhookBody_DecodeFailureNeverPanics(t *testing.T) {
	assert.False(t, WebhookBody([]byte("x"), "not-valid-base64!!", []byte("secret")))
}

func TestOAuthQuery_CanonicalizationAndAccept(t *testing.T) {
	secret := []byte("app-secret")
	params := map[string]string{
		"shop":      "demo.myshopify.com",
		"code":      "abc123",
		"state":     "nonce1",
		"timestamp": "1700000000",
	}
	message := "code=abc123&shop=demo.myshopify.com&state=nonce1&timestamp=1700000000"
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	claimed := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, OAuthQuery(params, claimed, secret))
}

func TestOAuthQuery_IgnoresHmacAndSignatureKeys(t *testing.T) {
	secret := []byte("app-secret")
	params := map[string]string{
		"a":         "1",
		"hmac":      "should-be-ignored",
		"signature": "also-ignored",
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte("a=1"))
	claimed := hex.EncodeToString(mac.Sum(nil))
	assert.True(t, OAuthQuery(params, claimed, secret))
}

func TestOAuthTimestampFresh(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	assert.True(t, OAuthTimestampFresh(fmt.Sprint(now.Unix()-299), now))
	assert.False(t, OAuthTimestampFresh(fmt.Sprint(now.Unix()-301), now))
	assert.False(t, OAuthTimestampFresh("not-a-number", now))
}

func TestMailSignature_AcceptsWhsecPrefixedSecret(t *testing.T) {
	secret := []byte("whsec_" + base64.StdEncoding.EncodeToString([]byte("raw-key-material")))
	id, ts, body := "msg_1", "1700000000", []byte(`{"from":"a@b.com"}`)

	message := []byte(id + "." + ts + "." + string(body))
	mac := hmac.New(sha256.New, []byte("raw-key-material"))
	mac.Write(message)
	sig := "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))

	assert.True(t, MailSignature(id, ts, body, sig, [][]byte{secret}))
}

func TestMailSignature_AcceptsAnyOfMultipleCommaSeparatedSignatures(t *testing.T) {
	secret := []byte("raw-secret")
	id, ts, body := "msg_2", "1700000001", []byte("hello")
	message := []byte(id + "." + ts + "." + string(body))
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	valid := "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))

	header := "v1,bm90LXZhbGlk," + valid
	assert.True(t, MailSignature(id, ts, body, header, [][]byte{secret}))
}

func TestMailSignature_RejectsWrongSecret(t *testing.T) {
	id, ts, body := "msg_3", "1700000002", []byte("hello")
	message := []byte(id + "." + ts + "." + string(body))
	mac := hmac.New(sha256.New, []byte("correct"))
	mac.Write(message)
	sig := "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))

	assert.False(t, MailSignature(id, ts, body, sig, [][]byte{[]byte("wrong")}))
}
