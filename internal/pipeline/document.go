package pipeline

import (
	"context"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/zotero-metadata/internal/extract"
	"github.com/sells-group/zotero-metadata/internal/fault"
	"github.com/sells-group/zotero-metadata/internal/filename"
	"github.com/sells-group/zotero-metadata/internal/model"
	"github.com/sells-group/zotero-metadata/internal/source"
	"github.com/sells-group/zotero-metadata/pkg/zotero"
)

// processItem handles a job that names a Zotero item.
func (p *Pipeline) processItem(ctx context.Context, job Job, usage *model.Usage) (model.Outcome, error) {
	item, att, err := p.resolveItem(ctx, job)
	if err != nil {
		return "", err
	}
	log := zap.L().With(zap.String("item", item.Key))

	if seen(p.seenKeys, item.Key) {
		log.Info("pipeline: item already handled in this run, skipping")
		return model.OutcomeSkipped, nil
	}
	if zotero.IsProcessed(*item) && !p.opts.KeepDuplicates {
		log.Info("pipeline: item already processed, skipping")
		return model.OutcomeSkipped, nil
	}

	if att == nil {
		if att, err = p.pdfAttachment(ctx, item); err != nil {
			return "", err
		}
	}

	dir, err := p.downloadDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, att.Key+".pdf")
	if err := p.zotero.DownloadFile(ctx, att.Key, path); err != nil {
		return "", fault.RemoteUpdate(err)
	}

	hash, err := source.FileMD5(path)
	if err != nil {
		return "", fault.Extraction(err)
	}
	if seen(p.seenHashes, hash) {
		log.Info("pipeline: file already handled in this run, skipping", zap.String("md5", hash))
		return model.OutcomeSkipped, nil
	}

	name := att.Data.Filename
	if name == "" {
		name = att.Data.Title
	}
	rec, err := p.extractRecord(ctx, path, name, item.Data.Extra, usage)
	if err != nil {
		return "", err
	}
	if err := p.update(ctx, item, rec); err != nil {
		return "", err
	}
	return model.OutcomeSucceeded, nil
}

// resolveItem fetches the job's item. An attachment resolves to its parent and
// is returned as the PDF to read when it holds one.
func (p *Pipeline) resolveItem(ctx context.Context, job Job) (*zotero.Item, *zotero.Item, error) {
	item := job.Item
	if item == nil {
		var err error
		if item, err = p.zotero.Item(ctx, job.ItemKey); err != nil {
			return nil, nil, fault.RemoteUpdate(err)
		}
	}

	switch {
	case item.IsNote():
		return nil, nil, fault.Extraction(eris.Errorf("pipeline: item %s is a note", item.Key))
	case item.IsAttachment():
		if item.Data.ParentItem == "" {
			return nil, nil, fault.Extraction(eris.Errorf("pipeline: attachment %s has no parent item", item.Key))
		}
		parent, err := p.zotero.Item(ctx, item.Data.ParentItem)
		if err != nil {
			return nil, nil, fault.RemoteUpdate(err)
		}
		if item.IsPDF() {
			return parent, item, nil
		}
		return parent, nil, nil
	default:
		return item, nil, nil
	}
}

// pdfAttachment returns the first stored PDF among the item's children.
func (p *Pipeline) pdfAttachment(ctx context.Context, item *zotero.Item) (*zotero.Item, error) {
	children, err := p.zotero.Children(ctx, item.Key)
	if err != nil {
		return nil, fault.RemoteUpdate(err)
	}
	for i := range children {
		if children[i].IsPDF() {
			return &children[i], nil
		}
	}
	return nil, fault.Extraction(eris.Errorf("pipeline: item %s has no PDF attachment", item.Key))
}

// processFile handles a job that names a local PDF.
func (p *Pipeline) processFile(ctx context.Context, job Job, usage *model.Usage) (model.Outcome, error) {
	hash, err := source.FileMD5(job.Path)
	if err != nil {
		return "", fault.Extraction(err)
	}
	log := zap.L().With(zap.String("file", job.Source), zap.String("md5", hash))

	if seen(p.seenHashes, hash) {
		log.Info("pipeline: file already handled in this run, skipping")
		return model.OutcomeSkipped, nil
	}

	var item *zotero.Item
	if parentKey, ok := p.byHash[hash]; ok {
		if item, err = p.zotero.Item(ctx, parentKey); err != nil {
			return "", fault.RemoteUpdate(err)
		}
		log = log.With(zap.String("item", item.Key))
		if seen(p.seenKeys, item.Key) {
			log.Info("pipeline: item already handled in this run, skipping")
			return model.OutcomeSkipped, nil
		}
		if zotero.IsProcessed(*item) && !p.opts.KeepDuplicates {
			log.Info("pipeline: file already in Zotero and processed, skipping")
			return model.OutcomeSkipped, nil
		}
		log.Debug("pipeline: file already in Zotero, reprocessing")
	}

	var extra string
	if item != nil {
		extra = item.Data.Extra
	}
	rec, err := p.extractRecord(ctx, job.Path, filepath.Base(job.Path), extra, usage)
	if err != nil {
		return "", err
	}

	if item != nil {
		err = p.update(ctx, item, rec)
	} else {
		err = p.create(ctx, job.Path, rec)
	}
	if err != nil {
		return "", err
	}
	return model.OutcomeSucceeded, nil
}

// extractRecord reads the PDF, asks for its metadata and normalizes it. The
// usage of the LLM call is added even when its answer is unusable.
func (p *Pipeline) extractRecord(ctx context.Context, path, name, extra string, usage *model.Usage) (*model.Record, error) {
	doc, err := p.reader.Extract(ctx, path, p.opts.ForceOCR)
	if err != nil {
		return nil, asExtraction(err)
	}
	zap.L().Debug("pipeline: text extracted",
		zap.String("source", name),
		zap.String("method", string(doc.Method)),
		zap.Int("pages", doc.Pages),
		zap.Int("chars", len(doc.Text)),
	)

	res, err := p.extractor.Extract(ctx, extract.Request{Text: doc.Text, Filename: name})
	if res != nil {
		usage.Add(res.Usage)
	}
	if err != nil {
		return nil, asExtraction(err)
	}

	rec := res.Record
	rec.Extra = extra
	p.normalizer.Normalize(rec, filename.Parse(name))
	if err := rec.Validate(); err != nil {
		zap.L().Warn("pipeline: record rejected",
			zap.String("source", name),
			zap.Error(err),
			zap.Any("record", rec),
		)
		return nil, fault.Extraction(eris.Wrap(err, "pipeline: invalid record"))
	}
	zap.L().Info("pipeline: metadata extracted", zap.String("source", name), zap.String("record", rec.Summary()))
	return rec, nil
}

// asExtraction classifies err as an extraction failure unless it already
// carries a class.
func asExtraction(err error) error {
	if fault.KindOf(err) != fault.KindUnknown {
		return err
	}
	return fault.Extraction(err)
}
