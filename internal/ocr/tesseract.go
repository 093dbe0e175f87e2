package ocr

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/zotero-metadata/internal/fault"
)

// Tesseract renders PDF pages with pdftoppm and recognizes them with tesseract.
type Tesseract struct {
	binPath      string
	pdftoppmPath string
	languages    string
	dpi          int
	maxPages     int
	runner       Runner
}

// TesseractOptions configures a Tesseract engine. Zero values use the defaults.
type TesseractOptions struct {
	BinPath      string
	PdfToPPMPath string
	Languages    string
	DPI          int
	MaxPages     int
}

// NewTesseract creates a Tesseract engine.
func NewTesseract(opts TesseractOptions) *Tesseract {
	t := &Tesseract{
		binPath:      opts.BinPath,
		pdftoppmPath: opts.PdfToPPMPath,
		languages:    opts.Languages,
		dpi:          opts.DPI,
		maxPages:     opts.MaxPages,
		runner:       execRunner{},
	}
	if t.binPath == "" {
		t.binPath = "tesseract"
	}
	if t.pdftoppmPath == "" {
		t.pdftoppmPath = "pdftoppm"
	}
	if t.languages == "" {
		t.languages = "fra+eng"
	}
	if t.dpi <= 0 {
		t.dpi = 300
	}
	return t
}

// Check verifies that the tesseract binary can be run.
func (t *Tesseract) Check(ctx context.Context) error {
	out, errb, err := t.runner.Run(ctx, t.binPath, "--version")
	if err != nil {
		return fault.Configuration(eris.Wrapf(err, "ocr: tesseract is not installed or not runnable (%s)", t.binPath))
	}
	// Older releases print the version on stderr.
	version := strings.TrimSpace(string(out))
	if version == "" {
		version = strings.TrimSpace(string(errb))
	}
	if i := strings.IndexByte(version, '\n'); i >= 0 {
		version = version[:i]
	}
	zap.L().Debug("ocr: tesseract available", zap.String("version", version))
	return nil
}

// ExtractText renders every page to PNG and concatenates the recognized text,
// pages separated by form feeds.
func (t *Tesseract) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "zotmeta-ocr-*")
	if err != nil {
		return "", eris.Wrap(err, "ocr: create temp dir")
	}
	defer os.RemoveAll(tmpDir) //nolint:errcheck

	prefix := filepath.Join(tmpDir, "page")
	args := []string{"-r", strconv.Itoa(t.dpi), "-png"}
	if t.maxPages > 0 {
		args = append(args, "-f", "1", "-l", strconv.Itoa(t.maxPages))
	}
	args = append(args, pdfPath, prefix)

	if _, errb, err := t.runner.Run(ctx, t.pdftoppmPath, args...); err != nil {
		return "", eris.Wrapf(err, "ocr: pdftoppm failed for %s: %s", pdfPath, strings.TrimSpace(string(errb)))
	}

	// pdftoppm zero-pads page numbers, so lexical order is page order.
	images, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return "", eris.Wrap(err, "ocr: list rendered pages")
	}
	sort.Strings(images)
	if len(images) == 0 {
		return "", eris.Errorf("ocr: pdftoppm rendered no pages for %s", pdfPath)
	}

	var b strings.Builder
	for i, img := range images {
		out, errb, err := t.runner.Run(ctx, t.binPath, img, "stdout", "-l", t.languages)
		if err != nil {
			if ctx.Err() != nil {
				return "", eris.Wrap(ctx.Err(), "ocr: tesseract")
			}
			zap.L().Warn("ocr: tesseract failed on page",
				zap.String("pdf", pdfPath),
				zap.Int("page", i+1),
				zap.String("stderr", truncate(string(errb), 512)),
				zap.Error(err),
			)
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\f\n")
		}
		b.WriteString(strings.TrimSpace(string(out)))
	}

	return b.String(), nil
}
