package telegram

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// stripANSI drops terminal color codes that subprocess agents leak into
// their output.
func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// Telegram rejects messages over MaxMessageLen bytes, so outbound text is
// cut into chunks. A cut prefers a newline in the back half of the budget,
// never lands mid-rune, and in HTML mode never inside a tag or entity.

func splitPlain(text string, maxLen int) []string {
	return split(text, maxLen, false)
}

func splitHTML(text string, maxLen int) []string {
	return split(text, maxLen, true)
}

func split(text string, maxLen int, htmlAware bool) []string {
	if maxLen <= 0 {
		maxLen = MaxMessageLen
	}
	var parts []string
	for len(text) > maxLen {
		cut := nextCut(text, maxLen, htmlAware)
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	return append(parts, text)
}

// nextCut picks the split point for the next chunk. It backs off from the
// candidate until the prefix is valid UTF-8 and (in HTML mode) closes
// cleanly, down to half the budget; past that the candidate wins as is.
func nextCut(text string, maxLen int, htmlAware bool) int {
	cut := maxLen
	if nl := strings.LastIndexByte(text[:maxLen], '\n'); nl >= maxLen/2 {
		cut = nl + 1
	}
	floor := maxLen / 2
	if floor < 1 {
		floor = 1
	}
	for idx := cut; idx > floor; idx-- {
		prefix := text[:idx]
		if !utf8.ValidString(prefix) {
			continue
		}
		if htmlAware && !htmlBoundaryOK(prefix) {
			continue
		}
		return idx
	}
	return cut
}

// htmlBoundaryOK reports whether prefix ends outside any tag or entity.
func htmlBoundaryOK(prefix string) bool {
	if strings.LastIndexByte(prefix, '<') > strings.LastIndexByte(prefix, '>') {
		return false
	}
	return strings.LastIndexByte(prefix, '&') <= strings.LastIndexByte(prefix, ';')
}
