package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/zotero-metadata/internal/fault"
	"github.com/sells-group/zotero-metadata/internal/model"
	"github.com/sells-group/zotero-metadata/internal/source"
	"github.com/sells-group/zotero-metadata/pkg/zotero"
)

// RunItem processes a single Zotero item. key may name the item itself or one
// of its attachments.
func (p *Pipeline) RunItem(ctx context.Context, key string) (*model.Summary, error) {
	return p.run(ctx, model.RunModeItem, []Job{{Source: key, ItemKey: key}})
}

// RunFolder processes the PDF files of a local folder. A file already stored in
// Zotero updates its parent item; any other file becomes a new report item.
func (p *Pipeline) RunFolder(ctx context.Context, dir string) (*model.Summary, error) {
	paths, err := source.FindPDFs(dir, p.opts.Recursive, p.opts.Pattern)
	if err != nil {
		return nil, fault.Configuration(eris.Wrap(err, "pipeline: folder"))
	}

	p.byHash, err = p.attachmentIndex(ctx)
	if err != nil {
		return nil, fault.RemoteUpdate(err)
	}

	jobs := make([]Job, 0, len(paths))
	for _, path := range paths {
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = filepath.Base(path)
		}
		jobs = append(jobs, Job{Source: rel, Path: path})
	}
	return p.run(ctx, model.RunModeFolder, jobs)
}

// RunLibrary processes the top-level items of the library, or of the
// configured collections (and their subcollections with Recursive).
func (p *Pipeline) RunLibrary(ctx context.Context) (*model.Summary, error) {
	items, err := p.libraryItems(ctx)
	if err != nil {
		return nil, fault.RemoteUpdate(err)
	}

	var jobs []Job
	keys := make(map[string]struct{}, len(items))
	for i := range items {
		it := items[i]
		job := Job{Source: label(it), ItemKey: it.Key, Item: &it}
		switch {
		case it.IsNote():
			zap.L().Debug("pipeline: skipping note", zap.String("item", it.Key))
			continue
		case it.IsAttachment() && it.Data.ParentItem != "":
			job = Job{Source: label(it), ItemKey: it.Data.ParentItem}
		}
		if seen(keys, job.ItemKey) {
			continue
		}
		jobs = append(jobs, job)
	}
	return p.run(ctx, model.RunModeLibrary, jobs)
}

func (p *Pipeline) libraryItems(ctx context.Context) ([]zotero.Item, error) {
	if len(p.opts.Collections) == 0 {
		items, err := p.zotero.TopItems(ctx)
		return items, eris.Wrap(err, "pipeline: list library")
	}

	var all []zotero.Item
	visited := make(map[string]struct{})
	var walk func(key string) error
	walk = func(key string) error {
		if seen(visited, key) {
			return nil
		}
		items, err := p.zotero.CollectionTopItems(ctx, key)
		if err != nil {
			return eris.Wrapf(err, "pipeline: list collection %s", key)
		}
		all = append(all, items...)
		if !p.opts.Recursive {
			return nil
		}
		subs, err := p.zotero.SubCollections(ctx, key)
		if err != nil {
			return eris.Wrapf(err, "pipeline: list subcollections of %s", key)
		}
		for _, sub := range subs {
			if err := walk(sub.Key); err != nil {
				return err
			}
		}
		return nil
	}
	for _, key := range p.opts.Collections {
		if err := walk(key); err != nil {
			return nil, err
		}
	}
	return all, nil
}

// attachmentIndex maps the MD5 of every stored file to its parent item.
func (p *Pipeline) attachmentIndex(ctx context.Context) (map[string]string, error) {
	atts, err := p.zotero.Attachments(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list attachments")
	}
	idx := make(map[string]string, len(atts))
	for _, a := range atts {
		if a.Data.MD5 == "" || a.Data.ParentItem == "" {
			continue
		}
		if _, ok := idx[a.Data.MD5]; !ok {
			idx[a.Data.MD5] = a.Data.ParentItem
		}
	}
	zap.L().Debug("pipeline: indexed attachments", zap.Int("files", len(idx)))
	return idx, nil
}

func label(it zotero.Item) string {
	switch {
	case it.Data.Title != "":
		return it.Data.Title
	case it.Data.Filename != "":
		return it.Data.Filename
	default:
		return it.Key
	}
}

func progress(i, n int) string {
	return fmt.Sprintf("[%d/%d]", i, n)
}
