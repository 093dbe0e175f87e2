// Package ocr turns PDF files into plain text, from the embedded text layer
// when there is one and through an OCR engine otherwise.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/zotero-metadata/internal/config"
)

// Extractor extracts text content from PDF files.
type Extractor interface {
	ExtractText(ctx context.Context, pdfPath string) (string, error)
}

// Method tells how the text of a Document was obtained.
type Method string

const (
	MethodTextLayer Method = "text-layer"
	MethodOCR       Method = "ocr"
)

// Document is the text of one PDF.
type Document struct {
	Text   string
	Pages  int
	Method Method
}

// NewTextLayerExtractor creates the text-layer reader selected by cfg.TextLayer.
func NewTextLayerExtractor(cfg config.OCRConfig) (Extractor, error) {
	switch cfg.TextLayer {
	case "native", "":
		return NewTextLayer(cfg.MaxPages), nil
	case "pdftotext":
		return NewPdfToText(cfg.PdfToTextPath), nil
	default:
		return nil, eris.Errorf("ocr: unknown text layer reader %q", cfg.TextLayer)
	}
}

// NewEngine creates the OCR engine selected by cfg.Engine.
func NewEngine(cfg config.OCRConfig) (Extractor, error) {
	switch cfg.Engine {
	case "tesseract", "":
		return NewTesseract(TesseractOptions{
			BinPath:      cfg.TesseractPath,
			PdfToPPMPath: cfg.PdfToPPMPath,
			Languages:    cfg.Languages,
			DPI:          cfg.DPI,
			MaxPages:     cfg.MaxPages,
		}), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral engine requires mistral_api_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel, cfg.MaxPages), nil
	default:
		return nil, eris.Errorf("ocr: unknown engine %q", cfg.Engine)
	}
}
