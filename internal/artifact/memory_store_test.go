package artifact

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Put(ctx, "g1", "game.json", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, "g1", "assets/sprite.png", []byte{1, 2, 3}); err != nil {
		t.Fatalf("put asset: %v", err)
	}

	got, err := s.Get(ctx, "g1", "game.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Fatalf("content: %s", got)
	}

	// Returned slice is a copy, mutating it must not corrupt the store.
	got[0] = 'X'
	again, _ := s.Get(ctx, "g1", "game.json")
	if string(again) != `{"a":1}` {
		t.Fatalf("store aliased caller slice: %s", again)
	}

	paths, err := s.List(ctx, "g1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(paths) != 2 || paths[0] != "assets/sprite.png" || paths[1] != "game.json" {
		t.Fatalf("list: %v", paths)
	}

	url, err := s.DownloadURL(ctx, "g1", "game.json")
	if err != nil || url == "" {
		t.Fatalf("download url: %q, %v", url, err)
	}
}

func TestMemoryStoreMissing(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Get(ctx, "g1", "absent.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.DownloadURL(ctx, "g1", "absent.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Put(ctx, "", "p", nil); err == nil {
		t.Fatalf("expected error for empty game id")
	}
}
