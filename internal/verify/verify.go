// Package verify implements constant-time HMAC verification for webhook
// bodies and OAuth query strings (spec §4.B).
package verify

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"
)

// WebhookBody verifies a claimed base64 HMAC-SHA256 signature over the raw
// request body under secret, in constant time. Any decode failure returns
// false rather than an error — signature checks never throw.
func WebhookBody(body []byte, claimedBase64 string, secret []byte) bool {
	claimed, err := base64.StdEncoding.DecodeString(claimedBase64)
	if err != nil {
		return false
	}
	expected := hmacSHA256(body, secret)
	return hmac.Equal(expected, claimed)
}

// OAuthQuery verifies a commerce OAuth callback's query-string HMAC.
// params may carry the whole callback query; "hmac" and "signature" are
// left out of the signed message. Canonicalization: the remaining
// parameters sorted lexicographically by key, joined as "k=v" with "&".
func OAuthQuery(params map[string]string, claimedHex string, secret []byte) bool {
	claimed, err := hex.DecodeString(claimedHex)
	if err != nil {
		return false
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "hmac" || k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	message := strings.Join(pairs, "&")

	expected := hmacSHA256([]byte(message), secret)
	return hmac.Equal(expected, claimed)
}

// OAuthTimestampFresh reports whether an OAuth callback's timestamp
// parameter is within 5 minutes of wall-clock time (spec §4.B).
func OAuthTimestampFresh(timestampUnix string, now time.Time) bool {
	ts, err := strconv.ParseInt(timestampUnix, 10, 64)
	if err != nil {
		return false
	}
	delta := now.Unix() - ts
	if delta < 0 {
		delta = -delta
	}
	return delta <= 5*60
}

// MailTimestampFresh reports whether an inbound-mail webhook's svix-style
// timestamp is within 5 minutes of wall-clock time (spec §4.G).
func MailTimestampFresh(timestampUnix string, now time.Time) bool {
	return OAuthTimestampFresh(timestampUnix, now)
}

// MailSignature verifies a svix-style signature: HMAC-SHA256 over the
// message "id.timestamp.body", checked against one or more
// comma-separated "v1,<base64>" values and against every candidate secret
// (raw or "whsec_"-prefixed base64) in turn — the connection's stored
// webhook secret first, then any configured fallback.
func MailSignature(id, timestampUnix string, body []byte, signatureHeader string, secrets [][]byte) bool {
	message := []byte(id + "." + timestampUnix + "." + string(body))

	candidates := strings.Split(signatureHeader, ",")
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		sigB64 := candidate
		if idx := strings.Index(candidate, " "); idx >= 0 {
			sigB64 = candidate[idx+1:]
		}
		claimed, err := base64.StdEncoding.DecodeString(sigB64)
		if err != nil {
			continue
		}
		for _, secret := range secrets {
			expected := hmacSHA256(message, decodeMailSecret(secret))
			if hmac.Equal(expected, claimed) {
				return true
			}
		}
	}
	return false
}

// decodeMailSecret strips an optional "whsec_" prefix and base64-decodes
// the remainder; if the input isn't valid base64 it is used as raw key
// material verbatim (spec §4.G: "raw or whsec_-prefixed base64 form").
func decodeMailSecret(secret []byte) []byte {
	s := string(secret)
	s = strings.TrimPrefix(s, "whsec_")
	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
		return decoded
	}
	return secret
}

func hmacSHA256(message, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return mac.Sum(nil)
}

// constantTimeEqualString compares two strings in constant time. It is
// unexported and nothing in this package calls it.
func constantTimeEqualString(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
