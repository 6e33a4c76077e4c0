// Package pdf wraps the page-level PDF operations the pipeline needs:
// text-layer extraction, page counting, page splicing across documents and
// rasterization through an external renderer.
package pdf

import (
	"fmt"
	"strings"

	"github.com/dslipak/pdf"
)

// ExtractTextByPage reads the embedded text layer of every page. The
// returned slice is 0-indexed and dense; a page whose text cannot be read
// yields an empty string rather than failing the document.
func ExtractTextByPage(filename string) ([]string, error) {
	reader, err := pdf.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF %q: %w", filename, err)
	}

	total := reader.NumPage()
	texts := make([]string, total)
	for i := 1; i <= total; i++ {
		texts[i-1] = extractPageText(reader, i)
	}
	return texts, nil
}

// ExtractPageText reads the text layer of a single 0-indexed page.
func ExtractPageText(filename string, pageIndex int) (string, error) {
	reader, err := pdf.Open(filename)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF %q: %w", filename, err)
	}
	if pageIndex < 0 || pageIndex >= reader.NumPage() {
		return "", fmt.Errorf("page index %d out of range for %q (%d pages)",
			pageIndex, filename, reader.NumPage())
	}
	return extractPageText(reader, pageIndex+1), nil
}

// extractPageText pulls text from one 1-indexed page, preferring row-grouped
// extraction for better line structure and falling back to plain text.
func extractPageText(reader *pdf.Reader, pageNum int) string {
	page := reader.Page(pageNum)
	if page.V.IsNull() {
		return ""
	}

	rows, err := page.GetTextByRow()
	if err == nil && len(rows) > 0 {
		var b strings.Builder
		for _, row := range rows {
			for i, text := range row.Content {
				if i > 0 {
					b.WriteString(" ")
				}
				b.WriteString(text.S)
			}
			b.WriteString("\n")
		}
		return b.String()
	}

	fonts := make(map[string]*pdf.Font)
	plain, err := page.GetPlainText(fonts)
	if err != nil {
		return ""
	}
	return plain
}
