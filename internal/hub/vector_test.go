package hub

import (
	"path/filepath"
	"testing"

	"github.com/batalabs/knowd/internal/domain"
)

func openIndex(t *testing.T) *VectorIndex {
	t.Helper()
	v, err := OpenVectorIndex(filepath.Join(t.TempDir(), "vectors.db"))
	if err != nil {
		t.Fatalf("OpenVectorIndex: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	return v
}

func TestVectorIndex_AddAndSearch(t *testing.T) {
	v := openIndex(t)
	ids, err := v.Add([]VectorDoc{
		{Content: "growing tomatoes in raised beds"},
		{Content: "tomato blight treatment with copper spray"},
		{Content: "winter care for citrus trees"},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("ids = %v", ids)
	}

	hits, err := v.Search("tomato blight", 5, SearchScope{})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].Content != "tomato blight treatment with copper spray" {
		t.Errorf("top hit = %q", hits[0].Content)
	}
	if hits[0].Score <= 0 || hits[0].Score > 1 {
		t.Errorf("score = %v", hits[0].Score)
	}

	// No overlap yields no hits.
	none, err := v.Search("quantum chromodynamics", 5, SearchScope{})
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("unexpected hits: %+v", none)
	}
}

func TestVectorIndex_TopKBound(t *testing.T) {
	v := openIndex(t)
	docs := []VectorDoc{
		{Content: "apple pie recipe"},
		{Content: "apple storage tips"},
		{Content: "apple tree pruning"},
	}
	if _, err := v.Add(docs); err != nil {
		t.Fatal(err)
	}
	hits, err := v.Search("apple", 2, SearchScope{})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Errorf("hits = %d, want 2", len(hits))
	}
}

func TestVectorIndex_UpdateDelete(t *testing.T) {
	v := openIndex(t)
	ids, err := v.Add([]VectorDoc{{ID: "doc1", Content: "original topic"}})
	if err != nil || ids[0] != "doc1" {
		t.Fatalf("Add: ids=%v err=%v", ids, err)
	}

	if err := v.Update([]VectorDoc{{ID: "doc1", Content: "replacement subject"}}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	hits, err := v.Search("replacement subject", 5, SearchScope{})
	if err != nil || len(hits) != 1 {
		t.Fatalf("search after update: hits=%v err=%v", hits, err)
	}
	old, _ := v.Search("original topic", 5, SearchScope{})
	if len(old) != 0 {
		t.Errorf("old tokens still indexed: %+v", old)
	}

	err = v.Update([]VectorDoc{{ID: "ghost", Content: "x"}})
	if domain.KindOf(err) != domain.KindInputRejected {
		t.Errorf("update missing: kind = %v", domain.KindOf(err))
	}

	n, err := v.Delete([]string{"doc1", "ghost"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	count, _ := v.Count()
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}

func TestVectorIndex_DuplicateIDRejected(t *testing.T) {
	v := openIndex(t)
	if _, err := v.Add([]VectorDoc{{ID: "d", Content: "one"}}); err != nil {
		t.Fatal(err)
	}
	_, err := v.Add([]VectorDoc{{ID: "d", Content: "two"}})
	if domain.KindOf(err) != domain.KindInputRejected {
		t.Errorf("kind = %v, err = %v", domain.KindOf(err), err)
	}
}

func TestVectorIndex_Reindex(t *testing.T) {
	v := openIndex(t)
	if _, err := v.Add([]VectorDoc{{ID: "a", Content: "searchable words"}}); err != nil {
		t.Fatal(err)
	}
	// Corrupt the token column directly, then reindex.
	if _, err := v.db.Exec(`UPDATE documents SET tokens = ''`); err != nil {
		t.Fatal(err)
	}
	if hits, _ := v.Search("searchable", 5, SearchScope{}); len(hits) != 0 {
		t.Fatal("expected no hits with empty tokens")
	}
	n, err := v.Reindex()
	if err != nil || n != 1 {
		t.Fatalf("Reindex: n=%d err=%v", n, err)
	}
	hits, err := v.Search("searchable", 5, SearchScope{})
	if err != nil || len(hits) != 1 {
		t.Errorf("after reindex: hits=%v err=%v", hits, err)
	}
}

// A scoped search sees its own KB's documents plus shared ones, never
// another user's.
func TestVectorIndex_SearchScope(t *testing.T) {
	v := openIndex(t)
	_, err := v.Add([]VectorDoc{
		{ID: "mine", Content: "compost ratio notes", KBID: "garden", UserID: 42},
		{ID: "theirs", Content: "compost ratio notes", KBID: "garden", UserID: 7},
		{ID: "other-kb", Content: "compost ratio notes", KBID: "lab", UserID: 42},
		{ID: "shared", Content: "compost ratio notes"},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	hits, err := v.Search("compost ratio", 10, SearchScope{KBID: "garden", UserID: 42})
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	for _, d := range hits {
		got[d.ID] = true
	}
	if !got["mine"] {
		t.Error("own document missing from scoped search")
	}
	if got["theirs"] {
		t.Error("another user's document leaked into scoped search")
	}
	if got["other-kb"] {
		t.Error("another KB's document leaked into scoped search")
	}

	// Unscoped by KB: the shared document is visible to everyone.
	hits, err = v.Search("compost ratio", 10, SearchScope{UserID: 42})
	if err != nil {
		t.Fatal(err)
	}
	got = map[string]bool{}
	for _, d := range hits {
		got[d.ID] = true
	}
	if !got["shared"] || !got["mine"] || !got["other-kb"] {
		t.Errorf("user scope hits = %v", got)
	}
	if got["theirs"] {
		t.Error("another user's document visible without KB scope")
	}
}

func TestTokenize(t *testing.T) {
	got := tokenize("Hello, WORLD! a b2 c-3")
	want := []string{"hello", "world", "b2"}
	if len(got) != len(want) {
		t.Fatalf("tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tokenize[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
