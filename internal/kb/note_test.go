package kb

import (
	"strings"
	"testing"
	"time"
)

func TestNoteRoundTrip(t *testing.T) {
	n := Note{
		Meta: FrontMatter{
			Title:     "Postgres tuning",
			Category:  "databases",
			Tags:      []string{"postgres", "performance"},
			CreatedAt: "2026-08-26",
			Extra:     map[string]any{"source": "chat"},
		},
		Body: "# Postgres tuning\n\nShared buffers should be 25% of RAM.\n",
	}

	data, err := n.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.HasPrefix(string(data), "---\n") {
		t.Fatalf("missing opening fence:\n%s", data)
	}

	got, err := ParseNote(data)
	if err != nil {
		t.Fatalf("ParseNote: %v", err)
	}
	if got.Meta.Title != n.Meta.Title || got.Meta.Category != n.Meta.Category {
		t.Errorf("meta = %+v", got.Meta)
	}
	if len(got.Meta.Tags) != 2 {
		t.Errorf("tags = %v", got.Meta.Tags)
	}
	if got.Meta.Extra["source"] != "chat" {
		t.Errorf("extra = %v", got.Meta.Extra)
	}
	if !strings.Contains(got.Body, "Shared buffers") {
		t.Errorf("body = %q", got.Body)
	}
}

func TestParseNote_NoFrontMatter(t *testing.T) {
	got, err := ParseNote([]byte("just a plain file\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Meta.Title != "" || got.Body != "just a plain file\n" {
		t.Errorf("got %+v", got)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Postgres Tuning", "postgres-tuning"},
		{"  Hello,   World!  ", "hello-world"},
		{"über café", "ber-caf"},
		{"", "untitled"},
		{"!!!", "untitled"},
		{strings.Repeat("long-word ", 20), ""},
	}
	for _, tt := range tests {
		got := Slugify(tt.in)
		if tt.want != "" && got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if len(got) > 50 {
			t.Errorf("Slugify(%q) length %d > 50", tt.in, len(got))
		}
		if strings.HasSuffix(got, "-") || strings.HasPrefix(got, "-") {
			t.Errorf("Slugify(%q) = %q has dangling hyphen", tt.in, got)
		}
	}
}

func TestNoteFilename(t *testing.T) {
	date := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	got := NoteFilename(date, "Shared Buffers!")
	if got != "2026-08-26-shared-buffers.md" {
		t.Errorf("NoteFilename = %q", got)
	}
}

func TestWikiLinks(t *testing.T) {
	content := "See [[Postgres]] and [[Tuning|the tuning guide]].\nAlso [[Postgres]] again and [[ ]]."
	got := WikiLinks(content)
	if len(got) != 2 || got[0] != "Postgres" || got[1] != "Tuning" {
		t.Errorf("WikiLinks = %v", got)
	}
}
