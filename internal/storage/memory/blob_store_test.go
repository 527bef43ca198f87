package memory

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "path/page.html", "text/html", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://path/page.html" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'
	obj, ok := store.Object("path/page.html")
	if !ok || string(obj.Data) != "content" || obj.ContentType != "text/html" {
		t.Fatalf("unexpected stored object %+v (ok=%v)", obj, ok)
	}
	obj.Data[0] = 'X'
	if again, _ := store.Object("path/page.html"); string(again.Data) != "content" {
		t.Fatal("expected Object to return a copy")
	}
}

func TestBlobStoreRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	if _, err := store.PutObject(context.Background(), " ", "", strings.NewReader("x")); err == nil {
		t.Fatal("expected error for empty path")
	}
	if store.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", store.Len())
	}
}
