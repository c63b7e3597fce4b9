// Package storage abstracts the object store holding SBOM bytes,
// documents and branding media.
package storage

import (
	"context"
	"errors"
)

// Bucket names grouped by artifact kind.
const (
	BucketSBOMs     = "sboms"
	BucketDocuments = "documents"
	BucketMedia     = "media"
)

// ObjectStore is a content-addressed blob store. Put returns the
// filename the bytes were stored under; callers persist it on the
// owning row.
type ObjectStore interface {
	Put(ctx context.Context, bucket string, data []byte) (filename string, err error)
	Get(ctx context.Context, bucket, filename string) ([]byte, error)
	Delete(ctx context.Context, bucket, filename string) error
}

var (
	ErrObjectNotFound = errors.New("object_not_found")
	ErrInvalidBucket  = errors.New("invalid_bucket")
)
