package kb

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FrontMatter is the YAML header every note carries. Extra holds scalar
// keys the agent added beyond the known set; they round-trip untouched.
type FrontMatter struct {
	Title       string         `yaml:"title"`
	Category    string         `yaml:"category"`
	Subcategory string         `yaml:"subcategory,omitempty"`
	Tags        []string       `yaml:"tags,omitempty"`
	CreatedAt   string         `yaml:"created_at"`
	Agent       string         `yaml:"agent,omitempty"`
	Extra       map[string]any `yaml:",inline"`
}

// Note is a parsed Markdown note.
type Note struct {
	Meta FrontMatter
	Body string
}

// Render produces the full file content: front-matter between --- fences,
// then the body.
func (n Note) Render() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(n.Meta); err != nil {
		return nil, fmt.Errorf("encode front-matter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode front-matter: %w", err)
	}
	buf.WriteString("---\n\n")
	buf.WriteString(strings.TrimLeft(n.Body, "\n"))
	if !strings.HasSuffix(buf.String(), "\n") {
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

// ParseNote splits a note file into front-matter and body. A file without
// a front-matter fence parses as all body.
func ParseNote(data []byte) (Note, error) {
	content := string(data)
	if !strings.HasPrefix(content, "---\n") {
		return Note{Body: content}, nil
	}
	rest := content[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return Note{Body: content}, nil
	}
	header := rest[:end+1]
	body := rest[end+4:]
	body = strings.TrimPrefix(body, "\n")

	var meta FrontMatter
	if err := yaml.Unmarshal([]byte(header), &meta); err != nil {
		return Note{}, fmt.Errorf("parse front-matter: %w", err)
	}
	return Note{Meta: meta, Body: body}, nil
}

const maxSlugLen = 50

var slugStripRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify reduces a title to a filename-safe slug: lowercase, [a-z0-9-],
// at most 50 characters, "untitled" when nothing survives.
func Slugify(title string) string {
	s := strings.ToLower(title)
	s = slugStripRe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		s = s[:maxSlugLen]
		s = strings.TrimRight(s, "-")
	}
	if s == "" {
		return "untitled"
	}
	return s
}

// NoteFilename builds the canonical note filename for a date and title.
func NoteFilename(date time.Time, title string) string {
	return date.Format("2006-01-02") + "-" + Slugify(title) + ".md"
}

// WikiLinks extracts [[target]] references from Markdown content.
// Duplicates are dropped; order of first appearance is kept.
var wikiLinkRe = regexp.MustCompile(`\[\[([^\[\]\n]+)\]\]`)

func WikiLinks(content string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range wikiLinkRe.FindAllStringSubmatch(content, -1) {
		target := strings.TrimSpace(m[1])
		// A piped link [[target|label]] points at the part before the pipe.
		if i := strings.Index(target, "|"); i >= 0 {
			target = strings.TrimSpace(target[:i])
		}
		if target == "" || seen[target] {
			continue
		}
		seen[target] = true
		out = append(out, target)
	}
	return out
}
