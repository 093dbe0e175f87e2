// Package pipeline runs metadata extraction over a batch of documents.
//
// A run reduces its mode (single item, folder, library) to a list of jobs and
// processes them one after the other: resolve the PDF, read its text, ask the
// extractor for a record, normalize it, validate it and write it to Zotero.
// A failing document is counted and logged; the batch carries on.
package pipeline

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/zotero-metadata/internal/extract"
	"github.com/sells-group/zotero-metadata/internal/fault"
	"github.com/sells-group/zotero-metadata/internal/model"
	"github.com/sells-group/zotero-metadata/internal/normalize"
	"github.com/sells-group/zotero-metadata/internal/ocr"
	"github.com/sells-group/zotero-metadata/internal/store"
	"github.com/sells-group/zotero-metadata/pkg/zotero"
)

// TextReader turns a PDF into text.
type TextReader interface {
	Extract(ctx context.Context, path string, forceOCR bool) (ocr.Document, error)
}

// Options control a run.
type Options struct {
	DryRun         bool
	ForceOCR       bool
	KeepDuplicates bool
	// Collections scopes a library run, and receives the items a folder run creates.
	Collections []string
	Recursive   bool
	Pattern     string
	// Model is recorded in the run summary.
	Model string
}

// Job is one document to process.
type Job struct {
	Source  string
	ItemKey string
	Item    *zotero.Item
	Path    string
}

// Pipeline orchestrates extraction runs.
type Pipeline struct {
	zotero     zotero.Client
	reader     TextReader
	extractor  extract.MetadataExtractor
	normalizer *normalize.Normalizer
	store      store.Store
	opts       Options

	// per run
	seenKeys   map[string]struct{}
	seenHashes map[string]struct{}
	byHash     map[string]string
	tempDir    string
}

// New creates a Pipeline. st may be nil to skip recording run history.
func New(
	zc zotero.Client,
	reader TextReader,
	extractor extract.MetadataExtractor,
	normalizer *normalize.Normalizer,
	st store.Store,
	opts Options,
) *Pipeline {
	return &Pipeline{
		zotero:     zc,
		reader:     reader,
		extractor:  extractor,
		normalizer: normalizer,
		store:      st,
		opts:       opts,
	}
}

// run processes jobs in order and returns the summary. It stops early only
// when ctx is cancelled.
func (p *Pipeline) run(ctx context.Context, mode model.RunMode, jobs []Job) (*model.Summary, error) {
	summary := &model.Summary{
		Mode:      mode,
		Provider:  p.extractor.Name(),
		Model:     p.opts.Model,
		DryRun:    p.opts.DryRun,
		Total:     len(jobs),
		StartedAt: time.Now().UTC(),
	}
	p.seenKeys = make(map[string]struct{})
	p.seenHashes = make(map[string]struct{})
	defer p.cleanup()

	log := zap.L().With(zap.String("mode", string(mode)), zap.Bool("dry_run", p.opts.DryRun))
	log.Info("pipeline: starting run", zap.Int("documents", len(jobs)))

	var runErr error
	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			runErr = eris.Wrap(err, "pipeline: run interrupted")
			break
		}
		log.Info("pipeline: processing", zap.String("progress", progress(i+1, len(jobs))), zap.String("source", job.Source))

		start := time.Now()
		outcome, err := p.process(ctx, job, &summary.Usage)
		summary.Record(outcome)
		if err != nil {
			summary.Failures = append(summary.Failures, model.Failure{
				Source:  job.Source,
				ItemKey: job.ItemKey,
				Kind:    string(fault.KindOf(err)),
				Error:   err.Error(),
			})
			log.Error("pipeline: document failed",
				zap.String("source", job.Source),
				zap.String("kind", string(fault.KindOf(err))),
				zap.Error(err),
			)
			continue
		}
		log.Debug("pipeline: document done",
			zap.String("source", job.Source),
			zap.String("outcome", string(outcome)),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	}

	summary.FinishedAt = time.Now().UTC()
	log.Info("pipeline: run complete",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errored", summary.Errored),
		zap.Int64("input_tokens", summary.Usage.InputTokens),
		zap.Int64("output_tokens", summary.Usage.OutputTokens),
		zap.Float64("cost_usd", summary.Usage.CostUSD),
	)

	if p.store != nil {
		// The run history must survive a cancelled run context.
		if _, err := p.store.RecordRun(context.WithoutCancel(ctx), *summary); err != nil {
			log.Warn("pipeline: failed to record run", zap.Error(err))
		}
	}
	return summary, runErr
}

func (p *Pipeline) process(ctx context.Context, job Job, usage *model.Usage) (model.Outcome, error) {
	var (
		outcome model.Outcome
		err     error
	)
	if job.Path != "" {
		outcome, err = p.processFile(ctx, job, usage)
	} else {
		outcome, err = p.processItem(ctx, job, usage)
	}
	if err != nil {
		return model.OutcomeErrored, err
	}
	return outcome, nil
}

// seen records key in set and reports whether it was already there.
func seen(set map[string]struct{}, key string) bool {
	if key == "" {
		return false
	}
	if _, ok := set[key]; ok {
		return true
	}
	set[key] = struct{}{}
	return false
}

func (p *Pipeline) downloadDir() (string, error) {
	if p.tempDir == "" {
		dir, err := os.MkdirTemp("", "zotmeta-*")
		if err != nil {
			return "", eris.Wrap(err, "pipeline: create download dir")
		}
		p.tempDir = dir
	}
	return p.tempDir, nil
}

func (p *Pipeline) cleanup() {
	if p.tempDir == "" {
		return
	}
	if err := os.RemoveAll(p.tempDir); err != nil {
		zap.L().Warn("pipeline: failed to remove download dir", zap.String("dir", p.tempDir), zap.Error(err))
	}
	p.tempDir = ""
}
