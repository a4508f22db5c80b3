package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/tierbill/pkg/storage/postgres"
)

const archivePrefix = "reconciliation"

// ArchiveKey is the object key of a month's workbook under the default prefix.
func ArchiveKey(month time.Time) string {
	return archiveKey(archivePrefix, month)
}

func archiveKey(prefix string, month time.Time) string {
	return postgres.ObjectKey(prefix, month.Format("2006-01")+".xlsx")
}

// S3Archiver uploads monthly reconciliation workbooks.
type S3Archiver struct {
	builder *Builder
	store   ObjectStore
	prefix  string
}

// NewS3Archiver creates an S3Archiver.
func NewS3Archiver(builder *Builder, store ObjectStore) *S3Archiver {
	return &S3Archiver{builder: builder, store: store, prefix: archivePrefix}
}

// WithPrefix places workbooks under prefix instead of "reconciliation".
func (a *S3Archiver) WithPrefix(prefix string) *S3Archiver {
	if prefix != "" {
		a.prefix = prefix
	}
	return a
}

// ArchiveMonth builds the workbook for [start, end] and uploads it under the
// key of start's month. It returns the key written.
func (a *S3Archiver) ArchiveMonth(ctx context.Context, start, end time.Time) (string, error) {
	rows, err := a.builder.Build(ctx, start, end)
	if err != nil {
		return "", err
	}
	content, err := RenderXLSX(rows)
	if err != nil {
		return "", err
	}
	key := archiveKey(a.prefix, start)
	if err := a.store.PutObject(ctx, key, content, FormatXLSX.ContentType()); err != nil {
		return "", fmt.Errorf("failed to archive reconciliation: %w", err)
	}
	return key, nil
}
