package telegram

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// Telegram's HTML parse mode accepts only a small tag set: <b>, <i>, <s>,
// <code>, <pre> and <a href>. RenderHTML converts the Markdown the agent
// produces into that subset. Code spans and tables are lifted out first so
// their contents survive untouched, the remaining text is escaped and
// rewritten pattern by pattern, then the lifted regions are stitched back
// in.
func RenderHTML(md string) string {
	if md == "" {
		return ""
	}

	var r renderer
	text := reFence.ReplaceAllStringFunc(md, func(m string) string {
		body := m
		if sub := reFence.FindStringSubmatch(m); len(sub) >= 3 {
			body = sub[2]
		}
		return r.protect("<pre><code>" + escapeText(body) + "</code></pre>")
	})
	text = r.liftTables(text)
	text = reInline.ReplaceAllStringFunc(text, func(m string) string {
		return r.protect("<code>" + escapeText(m[1:len(m)-1]) + "</code>")
	})

	text = escapeText(text)

	text = reHeader.ReplaceAllString(text, "<b>$1</b>")
	// Rules before bold/italic, or --- and *** would read as emphasis.
	text = reRule.ReplaceAllString(text, "————————————————")
	text = reBold.ReplaceAllString(text, "<b>$1</b>")
	text = reBoldU.ReplaceAllString(text, "<b>$1</b>")
	// Italics after bold so ** is consumed first.
	text = reItalic.ReplaceAllString(text, "<i>$1</i>")
	text = reItalicU.ReplaceAllString(text, "$1<i>$2</i>")
	text = reStrike.ReplaceAllString(text, "<s>$1</s>")
	text = reLink.ReplaceAllStringFunc(text, func(m string) string {
		sub := reLink.FindStringSubmatch(m)
		if len(sub) != 3 {
			return m
		}
		return fmt.Sprintf(`<a href="%s">%s</a>`, escapeAttr(html.UnescapeString(sub[2])), sub[1])
	})
	// Quote lines were escaped above, so match the entity form.
	text = reQuote.ReplaceAllString(text, "▎ <i>$1</i>")
	text = reBullet.ReplaceAllString(text, "${1}• ")

	return r.restore(text)
}

// renderer accumulates already-rendered HTML regions behind NUL-framed
// placeholders that no Markdown pattern can match.
type renderer struct {
	regions []string
}

func (r *renderer) protect(rendered string) string {
	r.regions = append(r.regions, rendered)
	return fmt.Sprintf("\x00R%d\x00", len(r.regions)-1)
}

func (r *renderer) restore(text string) string {
	for i, rendered := range r.regions {
		text = strings.Replace(text, fmt.Sprintf("\x00R%d\x00", i), rendered, 1)
	}
	return text
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&#39;")
)

func escapeText(s string) string { return textEscaper.Replace(s) }
func escapeAttr(s string) string { return attrEscaper.Replace(s) }

var (
	// ```lang\n...\n``` with an optional language tag; (?s) lets the body
	// span lines. The tag is dropped, Telegram has no use for it.
	reFence  = regexp.MustCompile("(?s)```([^`\n]*)\\n(.*?)\\n?```")
	reInline = regexp.MustCompile("`([^`\n]+)`")

	reHeader = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	reRule   = regexp.MustCompile(`(?m)^\s*(?:-{3,}|\*{3,}|_{3,})\s*$`)

	reBold  = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reBoldU = regexp.MustCompile(`__([^_\n]+?)__`)
	// Single underscores only match at word boundaries so snake_case
	// survives.
	reItalic  = regexp.MustCompile(`\*([^*\n]+)\*`)
	reItalicU = regexp.MustCompile(`(^|[^[:alnum:]_])_([^_\n]+)_`)
	reStrike  = regexp.MustCompile(`~~(.+?)~~`)

	reLink   = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	reQuote  = regexp.MustCompile(`(?m)^&gt;\s?(.+)$`)
	reBullet = regexp.MustCompile(`(?m)^(\s*)[-*]\s+`)

	reTableRow = regexp.MustCompile(`^\s*\|.*\|\s*$`)
	reTableSep = regexp.MustCompile(`^\s*\|?\s*:?-+:?\s*(\|\s*:?-+:?\s*)+\|?\s*$`)
)

// liftTables turns Markdown tables into protected <pre> blocks, aligned
// with padded columns. Telegram renders no table markup, monospace is the
// only way to keep columns under each other.
func (r *renderer) liftTables(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	for i := 0; i < len(lines); {
		if !reTableRow.MatchString(strings.TrimSpace(lines[i])) ||
			i+1 >= len(lines) || !reTableSep.MatchString(strings.TrimSpace(lines[i+1])) {
			out = append(out, lines[i])
			i++
			continue
		}
		header := tableCells(lines[i])
		i += 2
		var rows [][]string
		for i < len(lines) && reTableRow.MatchString(strings.TrimSpace(lines[i])) {
			rows = append(rows, tableCells(lines[i]))
			i++
		}
		out = append(out, r.protect("<pre><code>"+escapeText(alignTable(header, rows))+"</code></pre>"))
	}
	return strings.Join(out, "\n")
}

func tableCells(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	parts := strings.Split(line, "|")
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		cells = append(cells, strings.TrimSpace(p))
	}
	return cells
}

// tableColMax caps column width so tables stay readable on a phone.
const tableColMax = 30

func alignTable(header []string, rows [][]string) string {
	if len(header) == 0 {
		return ""
	}

	widths := make([]int, len(header))
	measure := func(cells []string) {
		for i, c := range cells {
			if i < len(widths) && len(c) > widths[i] {
				widths[i] = len(c)
			}
		}
	}
	measure(header)
	for _, row := range rows {
		measure(row)
	}
	for i := range widths {
		if widths[i] > tableColMax {
			widths[i] = tableColMax
		}
	}

	line := func(cells []string) string {
		parts := make([]string, len(header))
		for i := range header {
			c := ""
			if i < len(cells) {
				c = cells[i]
			}
			parts[i] = fitCell(c, widths[i])
		}
		return strings.Join(parts, " │ ")
	}

	var b strings.Builder
	b.WriteString(line(header))
	b.WriteByte('\n')
	seps := make([]string, len(header))
	for i, w := range widths {
		seps[i] = strings.Repeat("─", w)
	}
	b.WriteString(strings.Join(seps, "─┼─"))
	for _, row := range rows {
		b.WriteByte('\n')
		b.WriteString(line(row))
	}
	return b.String()
}

// fitCell pads short cells and squeezes long ones, marking the cut.
func fitCell(s string, w int) string {
	if len(s) > w {
		if w > 1 {
			return s[:w-1] + "~"
		}
		return s[:w]
	}
	return s + strings.Repeat(" ", w-len(s))
}
