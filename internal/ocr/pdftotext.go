package ocr

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
)

// PdfToText reads the text layer of a PDF with the pdftotext CLI tool.
type PdfToText struct {
	binPath string
	runner  Runner
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath, runner: execRunner{}}
}

// ExtractText runs pdftotext -layout on the given PDF and returns stdout.
// Pages are separated by form feeds.
func (p *PdfToText) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	out, errb, err := p.runner.Run(ctx, p.binPath, "-layout", "-enc", "UTF-8", pdfPath, "-")
	if err != nil {
		return "", eris.Wrapf(err, "ocr: pdftotext failed for %s: %s", pdfPath, strings.TrimSpace(string(errb)))
	}
	return string(out), nil
}
