package ocr

import (
	"context"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/zotero-metadata/internal/config"
	"github.com/sells-group/zotero-metadata/internal/fault"
)

func init() {
	api.DisableConfigDir()
}

// Reader extracts the text of a PDF, preferring the text layer and falling
// back to OCR when the layer is missing, too short, or OCR is forced.
type Reader struct {
	textLayer Extractor
	engine    Extractor
	minChars  int
	pageCount func(path string) (int, error)
}

// NewReader builds a Reader from configuration.
func NewReader(cfg config.OCRConfig) (*Reader, error) {
	textLayer, err := NewTextLayerExtractor(cfg)
	if err != nil {
		return nil, fault.Configuration(err)
	}
	engine, err := NewEngine(cfg)
	if err != nil {
		return nil, fault.Configuration(err)
	}
	return NewReaderWith(textLayer, engine, cfg.MinTextChars), nil
}

// NewReaderWith builds a Reader from explicit extractors.
func NewReaderWith(textLayer, engine Extractor, minChars int) *Reader {
	return &Reader{
		textLayer: textLayer,
		engine:    engine,
		minChars:  minChars,
		pageCount: api.PageCountFile,
	}
}

// Check verifies that the OCR engine's dependencies are available.
func (r *Reader) Check(ctx context.Context) error {
	if c, ok := r.engine.(interface{ Check(context.Context) error }); ok {
		return c.Check(ctx)
	}
	return nil
}

// Extract returns the text of the PDF at path. Failures are extraction errors.
func (r *Reader) Extract(ctx context.Context, path string, forceOCR bool) (Document, error) {
	pages, err := r.pageCount(path)
	if err != nil {
		return Document{}, fault.Extraction(eris.Wrapf(err, "ocr: unreadable PDF %s", path))
	}

	log := zap.L().With(zap.String("pdf", path), zap.Int("pages", pages))

	var layer string
	if !forceOCR {
		layer, err = r.textLayer.ExtractText(ctx, path)
		n := significantChars(layer)
		switch {
		case err != nil:
			log.Warn("ocr: text layer unreadable, falling back to OCR", zap.Error(err))
		case n > 0 && n >= r.minChars:
			log.Debug("ocr: using text layer", zap.Int("chars", n))
			return Document{Text: layer, Pages: pages, Method: MethodTextLayer}, nil
		default:
			log.Debug("ocr: text layer too short, falling back to OCR",
				zap.Int("chars", n),
				zap.Int("min_chars", r.minChars),
			)
		}
	}

	text, err := r.engine.ExtractText(ctx, path)
	if err != nil {
		if significantChars(layer) > 0 && ctx.Err() == nil {
			log.Warn("ocr: engine failed, keeping short text layer", zap.Error(err))
			return Document{Text: layer, Pages: pages, Method: MethodTextLayer}, nil
		}
		return Document{}, fault.Extraction(eris.Wrapf(err, "ocr: recognize %s", path))
	}
	if strings.TrimSpace(text) == "" {
		if significantChars(layer) > 0 {
			return Document{Text: layer, Pages: pages, Method: MethodTextLayer}, nil
		}
		return Document{}, fault.Extraction(eris.Errorf("ocr: no text found in %s", path))
	}

	log.Debug("ocr: recognized text", zap.Int("chars", len(text)))
	return Document{Text: text, Pages: pages, Method: MethodOCR}, nil
}

func significantChars(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
