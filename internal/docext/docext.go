// Package docext extracts plain text from document attachments so the
// chat pipeline can fold them into a message group's text.
package docext

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"github.com/batalabs/knowd/internal/domain"
)

// maxExtractBytes bounds the extracted text; large documents are cut
// with a marker rather than rejected.
const maxExtractBytes = 64 * 1024

// Supported reports whether the filename has an extractable extension.
func Supported(filename string) bool {
	switch kindOf(filename) {
	case "pdf", "docx", "xlsx":
		return true
	}
	return false
}

func kindOf(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

// Extract returns the document's plain text. kind selects the decoder
// ("pdf", "docx", "xlsx"); empty kind falls back to the file extension.
func Extract(path, kind string) (string, error) {
	if kind == "" {
		kind = kindOf(path)
	}
	var (
		text string
		err  error
	)
	switch kind {
	case "pdf":
		text, err = extractPDF(path)
	case "docx":
		text, err = extractDOCX(path)
	case "xlsx":
		text, err = extractXLSX(path)
	default:
		return "", domain.Errf(domain.KindInputRejected, "unsupported document type %q", kind)
	}
	if err != nil {
		return "", err
	}
	return bound(text), nil
}

func bound(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxExtractBytes {
		return s
	}
	return s[:maxExtractBytes] + "\n... (truncated)"
}

// ---------------------------------------------------------------------------
// PDF
// ---------------------------------------------------------------------------

func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	buf := make([]byte, 4096)
	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			b.Write(buf[:n])
			if b.Len() > maxExtractBytes {
				break
			}
		}
		if readErr != nil {
			break
		}
	}
	return b.String(), nil
}

// ---------------------------------------------------------------------------
// DOCX
// ---------------------------------------------------------------------------

var (
	docxParaRe = regexp.MustCompile(`</w:p>`)
	docxTagRe  = regexp.MustCompile(`<[^>]+>`)
)

func extractDOCX(path string) (string, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("opening docx: %w", err)
	}
	defer r.Close()

	content := r.Editable().GetContent()
	// Paragraph boundaries become newlines, remaining markup is dropped.
	content = docxParaRe.ReplaceAllString(content, "\n")
	content = docxTagRe.ReplaceAllString(content, "")
	content = strings.ReplaceAll(content, "&amp;", "&")
	content = strings.ReplaceAll(content, "&lt;", "<")
	content = strings.ReplaceAll(content, "&gt;", ">")

	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			lines = append(lines, t)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// ---------------------------------------------------------------------------
// XLSX
// ---------------------------------------------------------------------------

func extractXLSX(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("opening xlsx: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for i, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("reading sheet %q: %w", sheet, err)
		}
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s]\n", sheet)
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteByte('\n')
			if b.Len() > maxExtractBytes {
				return b.String(), nil
			}
		}
	}
	return b.String(), nil
}
