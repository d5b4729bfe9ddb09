// Package storagetest holds the behaviour every storage.Storage backend must
// share. Backends call RunStorageTests from their own tests.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/f5-conx-go/storage"
)

// Factory returns a fresh, empty backend for one subtest.
type Factory func(t *testing.T) storage.Storage

// RunStorageTests exercises a backend.
func RunStorageTests(t *testing.T, newStorage Factory) {
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, newStorage(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStorage(t)) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, newStorage(t)) })
	t.Run("Namespaces", func(t *testing.T) { testNamespaces(t, newStorage(t)) })
	t.Run("DeleteKey", func(t *testing.T) { testDeleteKey(t, newStorage(t)) })
	t.Run("DeleteNamespace", func(t *testing.T) { testDeleteNamespace(t, newStorage(t)) })
	t.Run("SetRejectsKeyOption", func(t *testing.T) { testSetRejectsKeyOption(t, newStorage(t)) })
}

func testSetAndGet(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	data := []byte(`[{"tag_name":"v3.50.0"}]`)

	if err := s.Set(ctx, "releases", data); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	item, err := s.Get(ctx, "releases")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item == nil {
		t.Fatal("expected item, got nil")
	}
	if string(item.Data) != string(data) {
		t.Errorf("expected %s, got %s", data, item.Data)
	}
	if item.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	if item.ExpiresAt != nil {
		t.Error("ExpiresAt should be nil without a TTL")
	}
}

func testGetMissing(t *testing.T, s storage.Storage) {
	item, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item != nil {
		t.Errorf("expected nil for a missing key, got %+v", item)
	}
}

func testTTL(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	ttl := 100 * time.Millisecond

	if err := s.Set(ctx, "short", []byte("x"), storage.WithTTL(ttl)); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	item, err := s.Get(ctx, "short")
	if err != nil || item == nil {
		t.Fatalf("Get() = %v, %v", item, err)
	}
	if item.ExpiresAt == nil {
		t.Fatal("ExpiresAt should be set with a TTL")
	}

	time.Sleep(ttl + 50*time.Millisecond)

	item, err = s.Get(ctx, "short")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item != nil {
		t.Error("expected the item to have expired")
	}
}

func testNamespaces(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	mustSet(t, s, "latest", "global")
	mustSet(t, s, "latest", "as3", storage.WithService("as3"))
	mustSet(t, s, "latest", "do", storage.WithService("do"))

	expect(t, s, "latest", "global")
	expect(t, s, "latest", "as3", storage.WithService("as3"))
	expect(t, s, "latest", "do", storage.WithService("do"))

	item, err := s.Get(ctx, "latest", storage.WithService("ts"))
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item != nil {
		t.Error("namespaces must be isolated")
	}
}

func testDeleteKey(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	mustSet(t, s, "a", "1", storage.WithService("as3"))
	mustSet(t, s, "b", "2", storage.WithService("as3"))

	if err := s.Delete(ctx, storage.WithService("as3"), storage.WithKey("a")); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	expectMissing(t, s, "a", storage.WithService("as3"))
	expect(t, s, "b", "2", storage.WithService("as3"))
}

func testDeleteNamespace(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	mustSet(t, s, "a", "1", storage.WithService("fast"))
	mustSet(t, s, "b", "2", storage.WithService("fast"))
	mustSet(t, s, "a", "keep", storage.WithService("cf"))
	mustSet(t, s, "a", "keep")

	if err := s.Delete(ctx, storage.WithService("fast")); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	expectMissing(t, s, "a", storage.WithService("fast"))
	expectMissing(t, s, "b", storage.WithService("fast"))
	expect(t, s, "a", "keep", storage.WithService("cf"))
	expect(t, s, "a", "keep")
}

func testSetRejectsKeyOption(t *testing.T, s storage.Storage) {
	err := s.Set(context.Background(), "a", []byte("1"), storage.WithKey("b"))
	if !errors.Is(err, storage.ErrInvalidOptions) {
		t.Errorf("expected ErrInvalidOptions, got %v", err)
	}
}

func mustSet(t *testing.T, s storage.Storage, key, val string, opts ...storage.Option) {
	t.Helper()
	if err := s.Set(context.Background(), key, []byte(val), opts...); err != nil {
		t.Fatalf("Set(%q) failed: %v", key, err)
	}
}

func expect(t *testing.T, s storage.Storage, key, want string, opts ...storage.Option) {
	t.Helper()
	item, err := s.Get(context.Background(), key, opts...)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	if item == nil || string(item.Data) != want {
		t.Errorf("Get(%q) = %v, want %q", key, item, want)
	}
}

func expectMissing(t *testing.T, s storage.Storage, key string, opts ...storage.Option) {
	t.Helper()
	item, err := s.Get(context.Background(), key, opts...)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	if item != nil {
		t.Errorf("Get(%q) should be missing, got %s", key, item.Data)
	}
}
