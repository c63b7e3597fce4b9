package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
)

var buckets = map[string]struct{}{
	BucketSBOMs:     {},
	BucketDocuments: {},
	BucketMedia:     {},
}

// FilesystemStore keeps blobs under root/<bucket>/<sha256>. Writing
// the same bytes twice lands on the same filename, which is what
// makes the store content-addressed.
type FilesystemStore struct {
	root string
}

func NewFilesystemStore(root string) (*FilesystemStore, error) {
	for bucket := range buckets {
		if err := os.MkdirAll(filepath.Join(root, bucket), 0o750); err != nil {
			return nil, err
		}
	}
	return &FilesystemStore{root: root}, nil
}

func (s *FilesystemStore) Put(ctx context.Context, bucket string, data []byte) (string, error) {
	if _, ok := buckets[bucket]; !ok {
		return "", ErrInvalidBucket
	}

	sum := sha256.Sum256(data)
	filename := hex.EncodeToString(sum[:])
	path := filepath.Join(s.root, bucket, filename)

	if _, err := os.Stat(path); err == nil {
		return filename, nil
	}

	tmp, err := os.CreateTemp(filepath.Join(s.root, bucket), ".upload-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return filename, nil
}

func (s *FilesystemStore) Get(ctx context.Context, bucket, filename string) ([]byte, error) {
	path, err := s.objectPath(bucket, filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrObjectNotFound
	}
	return data, err
}

func (s *FilesystemStore) Delete(ctx context.Context, bucket, filename string) error {
	path, err := s.objectPath(bucket, filename)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FilesystemStore) objectPath(bucket, filename string) (string, error) {
	if _, ok := buckets[bucket]; !ok {
		return "", ErrInvalidBucket
	}
	// Filenames are hex digests; anything else is a traversal attempt.
	if filename == "" || strings.ContainsAny(filename, "/\\.") {
		return "", ErrObjectNotFound
	}
	return filepath.Join(s.root, bucket, filename), nil
}
