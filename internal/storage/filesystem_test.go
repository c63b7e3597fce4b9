package storage

import (
	"bytes"
	"context"
	"testing"
)

func TestFilesystemStoreRoundTrip(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	data := []byte(`{"bomFormat":"CycloneDX"}`)
	name, err := store.Put(context.Background(), BucketSBOMs, data)
	if err != nil {
		t.Fatalf("failed to put: %v", err)
	}

	// Content addressing: same bytes, same filename.
	again, err := store.Put(context.Background(), BucketSBOMs, data)
	if err != nil {
		t.Fatalf("failed to re-put: %v", err)
	}
	if name != again {
		t.Fatalf("expected stable filename, got %s vs %s", name, again)
	}

	got, err := store.Get(context.Background(), BucketSBOMs, name)
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("expected identical bytes")
	}

	if err := store.Delete(context.Background(), BucketSBOMs, name); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if _, err := store.Get(context.Background(), BucketSBOMs, name); err != ErrObjectNotFound {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestFilesystemStoreRejectsTraversal(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if _, err := store.Get(context.Background(), BucketSBOMs, "../secrets"); err != ErrObjectNotFound {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if _, err := store.Put(context.Background(), "nope", []byte("x")); err != ErrInvalidBucket {
		t.Fatalf("expected ErrInvalidBucket, got %v", err)
	}
}
