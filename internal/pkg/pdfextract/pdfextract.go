// Package pdfextract turns uploaded document bytes into per-page text.
// The retrieval core never parses file formats itself; this is the only
// place that knows about PDF internals.
package pdfextract

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"docchat/internal/retrieval"
)

// ExtractPDFPages returns one Page per physical PDF page that has
// extractable text. Page numbers are 1-based; blank pages are skipped but
// keep their original numbering.
func ExtractPDFPages(data []byte) ([]retrieval.Page, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty pdf input")
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf failed: %w", err)
	}

	var pages []retrieval.Page
	order := 0
	for num := 1; num <= reader.NumPage(); num++ {
		page := reader.Page(num)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not sink the document.
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, retrieval.Page{Number: num, Text: text, Order: order})
		order++
	}
	return pages, nil
}

// ExtractTextPage wraps plain-text content as a single synthetic page 1.
// Returns an empty slice for whitespace-only input.
func ExtractTextPage(data []byte) []retrieval.Page {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil
	}
	return []retrieval.Page{{Number: 1, Text: text, Order: 0}}
}

// SourceID derives a stable per-file identity from the file name and its
// content: "name::" plus the first 16 hex characters of the SHA-256 of the
// bytes. Re-uploading identical bytes under the same name yields the same id.
func SourceID(filename string, data []byte) string {
	sum := sha256.Sum256(data)
	return filename + "::" + hex.EncodeToString(sum[:])[:16]
}
