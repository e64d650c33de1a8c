// Package blob stores inbound receipt attachments in Supabase object
// storage (spec §4.I receipts handler, §6 blob storage contract).
package blob

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"time"

	storage_go "github.com/supabase-community/storage-go"
)

// AllowedContentTypes are the attachment content types receipts accepts.
var AllowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/heic":      true,
}

// MaxAttachmentBytes is the §4.I receipts size ceiling (10 MiB).
const MaxAttachmentBytes = 10 * 1024 * 1024

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9.-]`)

// SanitizeFilename replaces any character outside [A-Za-z0-9.-] with an
// underscore, per spec §6's blob-storage path convention.
func SanitizeFilename(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

// Store uploads receipt attachments to a Supabase storage bucket.
type Store struct {
	client *storage_go.Client
	bucket string
	now    func() time.Time
}

// New wires a Store against a Supabase project's storage API.
func New(projectURL, serviceRoleKey, bucket string) *Store {
	client := storage_go.NewClient(projectURL+"/storage/v1", serviceRoleKey, nil)
	return &Store{client: client, bucket: bucket, now: time.Now}
}

// Attachment is one inbound-mail attachment pending storage.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Upload writes one attachment at tenants/{tenant}/receipts/{unixMs}-{sanitizedFilename}
// (spec §6) and returns its storage path. Callers must pre-filter by
// AllowedContentTypes and MaxAttachmentBytes; Upload does not re-check
// them so a handler can log a specific rejection reason before calling.
func (s *Store) Upload(tenantID string, att Attachment) (string, error) {
	path := fmt.Sprintf("tenants/%s/receipts/%s-%s",
		tenantID, strconv.FormatInt(s.now().UnixMilli(), 10), SanitizeFilename(att.Filename))

	_, err := s.client.UploadFile(s.bucket, path, bytes.NewReader(att.Data), storage_go.FileOptions{
		ContentType: &att.ContentType,
	})
	if err != nil {
		return "", fmt.Errorf("blob: upload %s: %w", path, err)
	}
	return path, nil
}

// PublicURL returns the bucket's public URL for a stored path.
func (s *Store) PublicURL(path string) string {
	return s.client.GetPublicUrl(s.bucket, path).SignedURL
}
