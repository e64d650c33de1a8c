// Package seal implements authenticated symmetric encryption of long-lived
// secrets at rest (spec §4.A). Ciphertext is serialized as
// hex(iv):hex(tag):hex(ciphertext) — this wire format is a contract with
// already-written database rows and must never change.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

const (
	nonceSize = 12
	tagSize   = 16
	keySize   = 32
)

// Sentinel errors, named after the failure kinds in spec §4.A / §7.
var (
	ErrMissingKey          = errors.New("seal: encryption key not configured")
	ErrBadKeyLength        = errors.New("seal: key must be exactly 32 bytes")
	ErrMalformedCiphertext = errors.New("seal: malformed ciphertext")
	ErrAuthFailure         = errors.New("seal: authentication failed")
)

// Purpose selects which derived subkey a Sealer uses. Splitting the master
// key by purpose means a compromise of one sealed-value class doesn't
// expose the other.
type Purpose string

const (
	PurposeAccessToken   Purpose = "ocx-ingest:access-token"
	PurposeWebhookSecret Purpose = "ocx-ingest:webhook-secret"
)

// Sealer authenticates and encrypts secrets at rest.
type Sealer interface {
	Seal(plaintext []byte) (string, error)
	Open(sealed string) ([]byte, error)
}

// AESGCMSealer implements Sealer with AES-256-GCM, keyed by a subkey
// derived from a process-wide master key via HKDF-SHA256.
type AESGCMSealer struct {
	gcm     cipher.AEAD
	prevGCM cipher.AEAD // set during a key-rotation grace window
	graceUntil time.Time
	now     func() time.Time
}

// New constructs a Sealer for the given purpose from a 32-byte master key.
// previousMasterKey may be nil; when set, Open accepts ciphertexts sealed
// under the previous key until graceDuration elapses.
func New(purpose Purpose, masterKey []byte, previousMasterKey []byte, graceDuration time.Duration) (*AESGCMSealer, error) {
	if len(masterKey) == 0 {
		return nil, ErrMissingKey
	}
	if len(masterKey) != keySize {
		return nil, ErrBadKeyLength
	}

	gcm, err := newAEAD(purpose, masterKey)
	if err != nil {
		return nil, err
	}

	s := &AESGCMSealer{gcm: gcm, now: time.Now}

	if len(previousMasterKey) == keySize {
		prevGCM, err := newAEAD(purpose, previousMasterKey)
		if err == nil {
			s.prevGCM = prevGCM
			s.graceUntil = time.Now().Add(graceDuration)
		}
	}

	return s, nil
}

func newAEAD(purpose Purpose, masterKey []byte) (cipher.AEAD, error) {
	kdf := hkdf.New(sha256.New, masterKey, nil, []byte(purpose))
	subkey := make([]byte, keySize)
	if _, err := io.ReadFull(kdf, subkey); err != nil {
		return nil, fmt.Errorf("seal: derive subkey: %w", err)
	}

	block, err := aes.NewCipher(subkey)
	if err != nil {
		return nil, fmt.Errorf("seal: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return nil, fmt.Errorf("seal: gcm mode: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext and returns hex(iv):hex(tag):hex(ciphertext).
func (s *AESGCMSealer) Seal(plaintext []byte) (string, error) {
	iv := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("seal: generate nonce: %w", err)
	}

	// Seal appends ciphertext||tag to dst. We split it below so the wire
	// format carries iv, tag, and ciphertext as three separate fields.
	sealed := s.gcm.Seal(nil, iv, plaintext, nil)
	if len(sealed) < tagSize {
		return "", fmt.Errorf("seal: unexpected sealed output length")
	}
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		hex.EncodeToString(iv),
		hex.EncodeToString(tag),
		hex.EncodeToString(ct),
	}, ":"), nil
}

// Open decrypts a hex(iv):hex(tag):hex(ciphertext) string, verifying the
// authentication tag. Tries the previous key during a rotation grace
// window before giving up.
func (s *AESGCMSealer) Open(sealed string) ([]byte, error) {
	iv, tag, ct, err := parse(sealed)
	if err != nil {
		return nil, err
	}

	combined := append(append([]byte{}, ct...), tag...)

	plaintext, err := s.gcm.Open(nil, iv, combined, nil)
	if err == nil {
		return plaintext, nil
	}

	if s.prevGCM != nil && s.now().Before(s.graceUntil) {
		if pt, prevErr := s.prevGCM.Open(nil, iv, combined, nil); prevErr == nil {
			return pt, nil
		}
	}

	return nil, ErrAuthFailure
}

// Keyring bundles the per-purpose sealers credential handling needs, so
// callers that seal both access tokens and webhook secrets don't have to
// juggle two bare Sealer values under different variable names.
type Keyring struct {
	AccessToken   Sealer
	WebhookSecret Sealer
}

// NewKeyring derives both purpose-scoped sealers from one master key.
func NewKeyring(masterKey, previousMasterKey []byte, graceDuration time.Duration) (*Keyring, error) {
	accessToken, err := New(PurposeAccessToken, masterKey, previousMasterKey, graceDuration)
	if err != nil {
		return nil, err
	}
	webhookSecret, err := New(PurposeWebhookSecret, masterKey, previousMasterKey, graceDuration)
	if err != nil {
		return nil, err
	}
	return &Keyring{AccessToken: accessToken, WebhookSecret: webhookSecret}, nil
}

func parse(sealed string) (iv, tag, ct []byte, err error) {
	parts := strings.Split(sealed, ":")
	if len(parts) != 3 {
		return nil, nil, nil, ErrMalformedCiphertext
	}

	iv, err = hex.DecodeString(parts[0])
	if err != nil || len(iv) != nonceSize {
		return nil, nil, nil, ErrMalformedCiphertext
	}

	tag, err = hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return nil, nil, nil, ErrMalformedCiphertext
	}

	ct, err = hex.DecodeString(parts[2])
	if err != nil {
		return nil, nil, nil, ErrMalformedCiphertext
	}

	return iv, tag, ct, nil
}
