package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/batalabs/knowd/internal/domain"
	"github.com/batalabs/knowd/internal/kb"
)

const systemNote = `You are a personal knowledge-base assistant. Turn the user's message into a well-formed Markdown note.

Rules:
- Create exactly one new note file with the file_create tool. The filename is <YYYY-MM-DD>-<slug>.md where the slug is a short lowercase hyphenated title.
- Place the file in the category directory that fits best. Use an existing category when one fits; only then create a new one.
- Start the file with YAML front-matter between --- fences carrying at least: title, category, created_at. Add subcategory and tags when useful.
- Reference related existing notes with [[wiki-links]] in the body.
- Keep the user's facts verbatim; summarize only formatting, never content.
- Finish with one short sentence saying what you stored and where.`

const systemAsk = `You are a personal knowledge-base assistant answering a question from the user's notes.

Rules:
- Use kb_list, kb_read, and kb_vector_search to find relevant notes before answering.
- Answer only from what the notes (and retrieved memories) actually say. Say so plainly when the notes have nothing.
- Cite the note filenames you drew from.
- You cannot modify any file.`

const systemTask = `You are a personal knowledge-base assistant performing a maintenance task on the user's notes.

Rules:
- Inspect before you change: read the files a change touches first.
- Keep the note format intact: YAML front-matter between --- fences, [[wiki-links]] for cross references.
- Prefer small, reviewable edits over sweeping rewrites.
- Finish with a short summary of everything you changed.`

// systemPrompt assembles the mode instructions plus a directory snapshot of
// the KB so the model sees the existing structure without a tool call.
func systemPrompt(mode domain.Mode, kbRoot string) string {
	var base string
	switch mode {
	case domain.ModeAsk:
		base = systemAsk
	case domain.ModeTask:
		base = systemTask
	default:
		base = systemNote
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nToday is " + time.Now().Format("2006-01-02") + ".")
	if hint := kb.TreeHint(kbRoot); hint != "" {
		b.WriteString("\n\nCurrent knowledge-base structure:\n")
		b.WriteString(hint)
	}
	return b.String()
}

// buildPrompt renders the message group as the user turn. Recent
// conversation history is prepended for ask and task runs so follow-up
// questions resolve; note runs are stateless.
func buildPrompt(g domain.MessageGroup, mode domain.Mode, hist *history) string {
	var b strings.Builder

	if mode != domain.ModeNote && hist != nil {
		if h := hist.render(); h != "" {
			b.WriteString("Recent conversation:\n")
			b.WriteString(h)
			b.WriteString("\n\n")
		}
	}

	var body strings.Builder
	if g.ForwardSource != nil && g.ForwardSource.Title != "" {
		fmt.Fprintf(&body, "Forwarded from %s:\n", g.ForwardSource.Title)
	}
	if t := strings.TrimSpace(g.CombinedText); t != "" {
		body.WriteString(t)
	}
	for _, m := range g.Media {
		if m.LocalPath == "" {
			continue
		}
		fmt.Fprintf(&body, "\n\nAttached %s: %s", m.Kind, m.LocalPath)
	}
	if body.Len() == 0 {
		body.WriteString("(media-only message, no extractable text)")
	}
	b.WriteString(body.String())
	return b.String()
}
