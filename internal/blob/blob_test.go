package blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename_ReplacesDisallowedCharacters(t *testing.T) {
	got := SanitizeFilename("invoice #42 (final)/copy.pdf")
	assert.Equal(t, "invoice__42__final__copy.pdf", got)
}

func TestSanitizeFilename_LeavesAllowedCharactersUntouched(t *testing.T) {
	got := SanitizeFilename("receipt-2026.03.04.pdf")
	assert.Equal(t, "receipt-2026.03.04.pdf", got)
}

func TestAllowedContentTypes_AcceptsPDFAndImages(t *testing.T) {
	assert.True(t, AllowedContentTypes["application/pdf"])
	assert.True(t, AllowedContentTypes["image/png"])
	assert.False(t, AllowedContentTypes["application/x-msdownload"])
}
