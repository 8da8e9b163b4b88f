package local

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"salesops-backend/internal/shared/storage/object"
)

func TestSaveWithKeyThenOpen(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	n, err := store.SaveWithKey(ctx, "analyses/deal/d-1/v1-job.json", "application/json", strings.NewReader(`{"ok":true}`))
	if err != nil {
		t.Fatalf("SaveWithKey: %v", err)
	}
	if n != int64(len(`{"ok":true}`)) {
		t.Fatalf("unexpected size %d", n)
	}

	rc, err := store.Open(ctx, "analyses/deal/d-1/v1-job.json")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestRejectsTraversalKeys(t *testing.T) {
	store := New(t.TempDir())
	for _, key := range []string{"../escape.json", "/abs/path.json", "."} {
		if _, err := store.SaveWithKey(context.Background(), key, "", strings.NewReader("x")); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}

func TestOpenMissingKey(t *testing.T) {
	store := New(t.TempDir())
	_, err := store.Open(context.Background(), "analyses/deal/d-404/v1-job.json")
	if !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
