package blob_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/plushify/plushify/internal/blob"
)

const testBaseURL = "http://localhost:8080/blobs"

func newTestStore(t *testing.T) *blob.FSStore {
	t.Helper()
	store, err := blob.NewFSStore(t.TempDir(), testBaseURL)
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}
	return store
}

func TestSaveLoadDeleteRoundTrip(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	payload := []byte("png-bytes")

	url, err := store.Save(ctx, payload, "originals/acct-1/100-cat.png")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(url, testBaseURL+"/") {
		t.Fatalf("expected url under base, got %q", url)
	}

	loaded, err := store.Load(ctx, url)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(loaded, payload) {
		t.Fatalf("loaded payload differs")
	}

	if err := store.Delete(ctx, url); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Load(ctx, url); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDeleteMissingBlobIsNoop(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	if err := store.Delete(context.Background(), testBaseURL+"/generated/acct-1/missing.png"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestTraversalConfinedToRoot(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	url, err := store.Save(ctx, []byte("x"), "../../etc/escape")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := store.Load(ctx, url)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(loaded) != "x" {
		t.Fatalf("unexpected payload %q", loaded)
	}
}

func TestEmptyPathRejected(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	if _, err := store.Save(context.Background(), []byte("x"), ""); !errors.Is(err, blob.ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
}
