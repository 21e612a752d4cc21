package hub

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/batalabs/knowd/internal/domain"
)

func TestMemoryStore_StoreAndRetrieve(t *testing.T) {
	s := NewMemoryStore(t.TempDir())
	ctx := context.Background()

	id, err := s.Store(ctx, 1, "preferences", "likes terse answers")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if id == "" {
		t.Fatal("empty id")
	}
	if _, err := s.Store(ctx, 1, "preferences", "works in UTC"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Store(ctx, 1, "projects", "building a garden shed"); err != nil {
		t.Fatal(err)
	}

	all, err := s.Retrieve(1, "", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("entries = %d, want 3", len(all))
	}

	prefs, err := s.Retrieve(1, "preferences", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(prefs) != 2 {
		t.Errorf("preferences entries = %d, want 2", len(prefs))
	}

	hits, err := s.Retrieve(1, "", "shed", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Category != "projects" {
		t.Errorf("query hits = %+v", hits)
	}

	limited, err := s.Retrieve(1, "", "", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limited = %d, want 1", len(limited))
	}
}

func TestMemoryStore_UserIsolation(t *testing.T) {
	s := NewMemoryStore(t.TempDir())
	ctx := context.Background()
	if _, err := s.Store(ctx, 1, "c", "mine"); err != nil {
		t.Fatal(err)
	}

	other, err := s.Retrieve(2, "", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("user 2 sees user 1's memories: %+v", other)
	}
}

func TestMemoryStore_Categories(t *testing.T) {
	s := NewMemoryStore(t.TempDir())
	ctx := context.Background()
	for _, c := range []string{"a", "a", "b"} {
		if _, err := s.Store(ctx, 1, c, "x"); err != nil {
			t.Fatal(err)
		}
	}
	counts, err := s.Categories(1)
	if err != nil {
		t.Fatal(err)
	}
	if counts["a"] != 2 || counts["b"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestMemoryStore_RejectsEmpty(t *testing.T) {
	s := NewMemoryStore(t.TempDir())
	_, err := s.Store(context.Background(), 1, "", "content")
	if domain.KindOf(err) != domain.KindInputRejected {
		t.Errorf("empty category: kind = %v", domain.KindOf(err))
	}
	_, err = s.Store(context.Background(), 1, "cat", "  ")
	if domain.KindOf(err) != domain.KindInputRejected {
		t.Errorf("blank content: kind = %v", domain.KindOf(err))
	}
}

func TestMemoryStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s := NewMemoryStore(dir)
	if _, err := s.Store(context.Background(), 5, "c", "durable"); err != nil {
		t.Fatal(err)
	}

	// The file lives under user_5 and is not world readable.
	path := filepath.Join(dir, "user_5", "memory.json")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	s2 := NewMemoryStore(dir)
	entries, err := s2.Retrieve(5, "", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Content != "durable" {
		t.Errorf("entries = %+v", entries)
	}
}
