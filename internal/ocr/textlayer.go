package ocr

import (
	"context"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
)

// TextLayer reads the embedded text layer of a PDF in-process.
type TextLayer struct {
	maxPages int
}

// NewTextLayer creates a TextLayer extractor. maxPages <= 0 reads every page.
func NewTextLayer(maxPages int) *TextLayer {
	return &TextLayer{maxPages: maxPages}
}

// ExtractText returns the plain text of every page, separated by form feeds.
// Pages whose content cannot be decoded are skipped.
func (t *TextLayer) ExtractText(ctx context.Context, pdfPath string) (text string, err error) {
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", eris.Errorf("ocr: parse text layer of %s: %v", pdfPath, r)
		}
	}()

	f, r, err := pdf.Open(pdfPath)
	if err != nil {
		return "", eris.Wrapf(err, "ocr: open %s", pdfPath)
	}
	defer f.Close() //nolint:errcheck

	n := r.NumPage()
	if t.maxPages > 0 && n > t.maxPages {
		n = t.maxPages
	}

	pages := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return "", eris.Wrap(err, "ocr: text layer")
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages = append(pages, strings.TrimSpace(content))
	}

	return strings.Join(pages, "\n\f\n"), nil
}
