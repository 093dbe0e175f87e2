package pipeline

import (
	"context"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/zotero-metadata/internal/fault"
	"github.com/sells-group/zotero-metadata/internal/model"
	"github.com/sells-group/zotero-metadata/pkg/zotero"
)

// update writes rec onto an existing item. In dry-run it only logs the patch.
func (p *Pipeline) update(ctx context.Context, item *zotero.Item, rec *model.Record) error {
	patch := buildPatch(*item, rec)
	if p.opts.DryRun {
		zap.L().Info("pipeline: dry run, would update item",
			zap.String("item", item.Key),
			zap.Int("version", item.Version),
			zap.Any("patch", patch),
		)
		return nil
	}
	if err := p.zotero.UpdateItem(ctx, item.Key, item.Version, patch); err != nil {
		return fault.RemoteUpdate(err)
	}
	zap.L().Info("pipeline: item updated", zap.String("item", item.Key))
	return nil
}

// create adds a report item for rec in the configured collections and uploads
// the PDF under it. In dry-run it only logs the new item.
func (p *Pipeline) create(ctx context.Context, path string, rec *model.Record) error {
	data := newItemData(rec, p.opts.Collections, filepath.Base(path))
	if p.opts.DryRun {
		zap.L().Info("pipeline: dry run, would create item and upload file",
			zap.String("file", path),
			zap.Any("item", data),
		)
		return nil
	}

	item, err := p.zotero.CreateItem(ctx, data)
	if err != nil {
		return fault.RemoteUpdate(err)
	}
	if _, err := p.zotero.UploadAttachment(ctx, item.Key, path); err != nil {
		return fault.RemoteUpdate(eris.Wrapf(err, "pipeline: item %s created but upload of %s failed", item.Key, filepath.Base(path)))
	}
	zap.L().Info("pipeline: item created", zap.String("item", item.Key), zap.String("file", path))
	return nil
}

// buildPatch returns the fields to change on item. Empty record values leave
// the existing field alone. Manual tags are kept and generated tags replaced.
func buildPatch(item zotero.Item, rec *model.Record) map[string]any {
	patch := recordFields(rec)
	if item.Data.ItemType != zotero.ItemTypeReport {
		patch["itemType"] = zotero.ItemTypeReport
	}
	if rec.Extra == item.Data.Extra {
		delete(patch, "extra")
	}

	tags := zotero.ManualTags(item)
	for _, t := range rec.Tags {
		tags = append(tags, zotero.Tag{Tag: t})
	}
	if tags == nil {
		tags = []zotero.Tag{}
	}
	patch["tags"] = tags
	return patch
}

// newItemData returns the JSON of a new report item holding rec.
func newItemData(rec *model.Record, collections []string, fallbackTitle string) map[string]any {
	data := recordFields(rec)
	data["itemType"] = zotero.ItemTypeReport
	if rec.Title == "" {
		data["title"] = fallbackTitle
	}
	if collections == nil {
		collections = []string{}
	}
	data["collections"] = collections

	tags := make([]zotero.Tag, 0, len(rec.Tags))
	for _, t := range rec.Tags {
		tags = append(tags, zotero.Tag{Tag: t})
	}
	data["tags"] = tags
	return data
}

func recordFields(rec *model.Record) map[string]any {
	fields := make(map[string]any)
	set := func(key, value string) {
		if value != "" {
			fields[key] = value
		}
	}
	set("title", rec.Title)
	set("reportNumber", rec.ReportNumber)
	set("institution", rec.Institution)
	set("place", rec.Place)
	set("date", rec.Date)
	set("language", rec.Language)
	set("extra", rec.Extra)
	if len(rec.Authors) > 0 {
		fields["creators"] = creators(rec.Authors)
	}
	return fields
}

// creators maps authors to Zotero creators. A denomination becomes a
// single-field name.
func creators(authors []model.Author) []zotero.Creator {
	out := make([]zotero.Creator, 0, len(authors))
	for _, a := range authors {
		c := zotero.Creator{CreatorType: "author"}
		if a.Denomination != "" {
			c.Name = a.Denomination
		} else {
			c.LastName = a.LastName
			c.FirstName = a.FirstName
		}
		out = append(out, c)
	}
	return out
}
