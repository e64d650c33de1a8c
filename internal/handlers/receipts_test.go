package handlers

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ocx/ingestcore/internal/blob"
	"github.com/ocx/ingestcore/internal/tenancy"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	uploaded []blob.Attachment
}

func (f *fakeUploader) Upload(tenantID string, att blob.Attachment) (string, error) {
	f.uploaded = append(f.uploaded, att)
	return "tenants/" + tenantID + "/receipts/" + att.Filename, nil
}

// Grounded on orders_test.go's sqlmock-backed handler pattern; the
// attachment sink is faked instead, since Receipts' real Uploader talks to
// object storage over HTTP rather than the scoped *sql.Tx.
func TestReceipts_DecodesContentFieldIntoUploadedBytes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT set_config`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO receipts`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	uploader := &fakeUploader{}
	h := &Handlers{Blob: uploader}
	scope := tenancy.NewScope(db)

	want := []byte("%PDF-1.4 fake receipt bytes")
	encoded := base64.StdEncoding.EncodeToString(want)
	payload := []byte(`{
		"from": "vendor@example.com",
		"subject": "Your receipt",
		"text": "Total: $42.00",
		"attachments": [
			{"filename": "receipt.pdf", "content_type": "application/pdf", "content": "` + encoded + `"}
		]
	}`)

	err = scope.WithTenant(context.Background(), "tenant-1", func(ctx context.Context) error {
		return h.Receipts(ctx, "tenant-1", payload, "event-1")
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, uploader.uploaded, 1)
	require.Equal(t, want, uploader.uploaded[0].Data)
	require.Equal(t, "receipt.pdf", uploader.uploaded[0].Filename)
}

func TestReceipts_SkipsAttachmentsOutsideAllowedContentTypes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT set_config`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO receipts`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	uploader := &fakeUploader{}
	h := &Handlers{Blob: uploader}
	scope := tenancy.NewScope(db)

	encoded := base64.StdEncoding.EncodeToString([]byte("#!/bin/sh\necho hi"))
	payload := []byte(`{
		"from": "vendor@example.com",
		"subject": "Your receipt",
		"text": "Total: $5.00",
		"attachments": [
			{"filename": "script.sh", "content_type": "application/x-sh", "content": "` + encoded + `"}
		]
	}`)

	err = scope.WithTenant(context.Background(), "tenant-1", func(ctx context.Context) error {
		return h.Receipts(ctx, "tenant-1", payload, "event-1")
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Empty(t, uploader.uploaded)
}
