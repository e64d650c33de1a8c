package seal

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestRoundTrip(t *testing.T) {
	key := testKey(t)
	s, err := New(PurposeAccessToken, key, nil, 0)
	require.NoError(t, err)

	for _, size := range []int{0, 1, 16, 1024, 1 << 20} {
		plaintext := make([]byte, size)
		_, err := rand.Read(plaintext)
		require.NoError(t, err)

		sealed, err := s.Seal(plaintext)
		require.NoError(t, err)

		opened, err := s.Open(sealed)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(plaintext, opened))
	}
}

func TestSealFormatIsColonDelimitedHex(t *testing.T) {
	key := testKey(t)
	s, err := New(PurposeWebhookSecret, key, nil, 0)
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("shhh"))
	require.NoError(t, err)

	parts := strings.Split(sealed, ":")
	require.Len(t, parts, 3)
	assert.Len(t, parts[0], nonceSize*2)
	assert.Len(t, parts[1], tagSize*2)
}

func TestSealRegeneratesNonce(t *testing.T) {
	key := testKey(t)
	s, err := New(PurposeAccessToken, key, nil, 0)
	require.NoError(t, err)

	a, err := s.Seal([]byte("same input"))
	require.NoError(t, err)
	b, err := s.Seal([]byte("same input"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "seal(x) must not be deterministic across calls")
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key := testKey(t)
	s, err := New(PurposeAccessToken, key, nil, 0)
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("precious"))
	require.NoError(t, err)

	parts := strings.Split(sealed, ":")
	for i := range parts {
		tampered := make([]string, len(parts))
		copy(tampered, parts)
		// Flip the last hex nibble of this component.
		b := []byte(tampered[i])
		if len(b) == 0 {
			continue
		}
		if b[len(b)-1] == '0' {
			b[len(b)-1] = '1'
		} else {
			b[len(b)-1] = '0'
		}
		tampered[i] = string(b)

		_, err := s.Open(strings.Join(tampered, ":"))
		assert.ErrorIs(t, err, ErrAuthFailure, "component %d", i)
	}
}

func TestOpenRejectsMalformedCiphertext(t *testing.T) {
	key := testKey(t)
	s, err := New(PurposeAccessToken, key, nil, 0)
	require.NoError(t, err)

	cases := []string{
		"",
		"onlyonepart",
		"a:b",
		"a:b:c:d",
		"zz:bb:cc",        // invalid hex
		"aaaa:bb:cc",      // wrong iv length
		"aabbccddeeff00112233445566778899:bb:cc", // iv too long
	}
	for _, c := range cases {
		_, err := s.Open(c)
		assert.ErrorIs(t, err, ErrMalformedCiphertext, "case %q", c)
	}
}

func TestNewRejectsMissingOrBadKey(t *testing.T) {
	_, err := New(PurposeAccessToken, nil, nil, 0)
	assert.ErrorIs(t, err, ErrMissingKey)

	_, err = New(PurposeAccessToken, []byte("too-short"), nil, 0)
	assert.ErrorIs(t, err, ErrBadKeyLength)
}

func TestPurposeSeparation(t *testing.T) {
	key := testKey(t)
	a, err := New(PurposeAccessToken, key, nil, 0)
	require.NoError(t, err)
	b, err := New(PurposeWebhookSecret, key, nil, 0)
	require.NoError(t, err)

	sealed, err := a.Seal([]byte("cross-purpose"))
	require.NoError(t, err)

	_, err = b.Open(sealed)
	assert.ErrorIs(t, err, ErrAuthFailure, "a value sealed under one purpose's subkey must not open under another's")
}

func TestRotationGraceWindow(t *testing.T) {
	oldKey := testKey(t)
	newKey := testKey(t)

	oldSealer, err := New(PurposeAccessToken, oldKey, nil, 0)
	require.NoError(t, err)
	sealedUnderOld, err := oldSealer.Seal([]byte("still valid"))
	require.NoError(t, err)

	rotated, err := New(PurposeAccessToken, newKey, oldKey, time.Hour)
	require.NoError(t, err)

	opened, err := rotated.Open(sealedUnderOld)
	require.NoError(t, err)
	assert.Equal(t, "still valid", string(opened))

	// Force the grace window to have elapsed.
	rotated.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = rotated.Open(sealedUnderOld)
	assert.ErrorIs(t, err, ErrAuthFailure)
}
