package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/zotero-metadata/internal/config"
	"github.com/sells-group/zotero-metadata/internal/cost"
	"github.com/sells-group/zotero-metadata/internal/extract"
	"github.com/sells-group/zotero-metadata/internal/fault"
	"github.com/sells-group/zotero-metadata/internal/model"
	"github.com/sells-group/zotero-metadata/internal/normalize"
	"github.com/sells-group/zotero-metadata/internal/ocr"
	"github.com/sells-group/zotero-metadata/internal/pipeline"
	"github.com/sells-group/zotero-metadata/internal/rules"
	"github.com/sells-group/zotero-metadata/pkg/zotero"
)

type runOptions struct {
	ocr            bool
	dryRun         bool
	folder         string
	collections    []string
	recursive      bool
	pattern        string
	keepDuplicates bool
	localModel     bool
	useOpenRouter  bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run [ITEM_ID]",
	Short: "Extract metadata for one item, a folder of PDFs or the library",
	Long: `Without arguments, processes every top-level item of the library (or of --collections).
With ITEM_ID, processes that single item. With --folder, processes local PDFs: files already
stored in Zotero update their parent item, other files are imported as new report items.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runOpts.apply(cfg, args); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		p, cleanup, err := buildPipeline(ctx, cfg, runOpts)
		if err != nil {
			return err
		}
		defer cleanup()

		var summary *model.Summary
		switch {
		case len(args) == 1:
			summary, err = p.RunItem(ctx, args[0])
		case runOpts.folder != "":
			summary, err = p.RunFolder(ctx, runOpts.folder)
		default:
			summary, err = p.RunLibrary(ctx)
		}
		if summary != nil {
			printSummary(cmd.OutOrStdout(), summary)
		}
		return err
	},
}

// apply checks flag combinations and applies provider overrides to c.
func (o runOptions) apply(c *config.Config, args []string) error {
	if o.localModel && o.useOpenRouter {
		return fault.Configuration(eris.New("run: --local-model and --use-openrouter are exclusive"))
	}
	switch {
	case o.localModel:
		c.LLM.Provider = config.ProviderLocal
	case o.useOpenRouter:
		c.LLM.Provider = config.ProviderOpenRouter
	}

	if len(args) == 1 && o.folder != "" {
		return fault.Configuration(eris.New("run: ITEM_ID and --folder are exclusive"))
	}
	if o.folder != "" {
		info, err := os.Stat(o.folder)
		if err != nil {
			return fault.Configuration(eris.Wrapf(err, "run: folder %s", o.folder))
		}
		if !info.IsDir() {
			return fault.Configuration(eris.Errorf("run: %s is not a directory", o.folder))
		}
	}
	return nil
}

// buildPipeline wires every dependency of a run from configuration.
func buildPipeline(ctx context.Context, c *config.Config, o runOptions) (*pipeline.Pipeline, func(), error) {
	r, err := rules.Load(c.Rules.Path)
	if err != nil {
		return nil, nil, fault.Configuration(err)
	}
	institutions, err := normalize.LoadInstitutions(c.Normalize.InstitutionsFile)
	if err != nil {
		return nil, nil, fault.Configuration(err)
	}

	reader, err := ocr.NewReader(c.OCR)
	if err != nil {
		return nil, nil, err
	}
	if err := reader.Check(ctx); err != nil {
		if o.ocr {
			return nil, nil, err
		}
		zap.L().Warn("ocr engine unavailable, documents without a text layer will fail", zap.Error(err))
	}

	ex, err := extract.New(c, r, cost.NewCalculator(c.Rates()))
	if err != nil {
		return nil, nil, err
	}

	zc := zotero.NewClient(c.Zotero.LibraryType, c.Zotero.LibraryID, c.Zotero.APIKey,
		zotero.WithBaseURL(c.Zotero.BaseURL),
		zotero.WithRateLimit(c.Zotero.RequestsPerSecond),
		zotero.WithHTTPClient(&http.Client{Timeout: time.Duration(c.Zotero.TimeoutSecs) * time.Second}),
	)

	cleanup := func() {}
	st, err := openStore(ctx)
	if err != nil {
		zap.L().Warn("run history unavailable", zap.String("path", c.Store.Path), zap.Error(err))
	} else if st != nil {
		cleanup = func() { st.Close() } //nolint:errcheck
	}

	zap.L().Info("run configured",
		zap.String("provider", ex.Name()),
		zap.String("model", c.Model()),
		zap.String("rules", r.Source),
		zap.String("rules_version", r.Version),
		zap.Bool("force_ocr", o.ocr),
		zap.Bool("dry_run", o.dryRun),
	)

	p := pipeline.New(zc, reader, ex, normalize.New(institutions, c.Normalize.MarkerTag), st, pipeline.Options{
		DryRun:         o.dryRun,
		ForceOCR:       o.ocr,
		KeepDuplicates: o.keepDuplicates,
		Collections:    o.collections,
		Recursive:      o.recursive,
		Pattern:        o.pattern,
		Model:          c.Model(),
	})
	return p, cleanup, nil
}

// printSummary writes the counts, usage and failures of a run to w.
func printSummary(out io.Writer, s *model.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	mode := string(s.Mode)
	if s.DryRun {
		mode += " (dry run)"
	}
	_, _ = fmt.Fprintf(w, "Mode:\t%s\n", mode)
	_, _ = fmt.Fprintf(w, "Model:\t%s/%s\n", s.Provider, s.Model)
	_, _ = fmt.Fprintf(w, "Documents:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Succeeded:\t%d\n", s.Succeeded)
	_, _ = fmt.Fprintf(w, "Skipped:\t%d\n", s.Skipped)
	_, _ = fmt.Fprintf(w, "Errored:\t%d\n", s.Errored)
	_, _ = fmt.Fprintf(w, "LLM calls:\t%d\n", s.Usage.Calls)
	_, _ = fmt.Fprintf(w, "Tokens:\t%d in / %d out\n", s.Usage.InputTokens, s.Usage.OutputTokens)
	_, _ = fmt.Fprintf(w, "Cost:\t$%.4f\n", s.Usage.CostUSD)
	_, _ = fmt.Fprintf(w, "Duration:\t%s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Second))
	_ = w.Flush()

	if len(s.Failures) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out, "\nFailed documents:")
	for _, f := range s.Failures {
		_, _ = fmt.Fprintf(out, "  - %s [%s]: %s\n", f.Source, f.Kind, f.Error)
	}
}

func init() {
	f := runCmd.Flags()
	f.BoolVar(&runOpts.ocr, "ocr", false, "always OCR, ignoring any text layer")
	f.BoolVar(&runOpts.dryRun, "dry-run", false, "extract and log the updates without writing to Zotero")
	f.StringVar(&runOpts.folder, "folder", "", "process the PDF files of this folder")
	f.StringSliceVar(&runOpts.collections, "collections", nil, "collection keys to scan, or to file new items into with --folder")
	f.BoolVar(&runOpts.recursive, "recursive", false, "include subfolders or subcollections")
	f.StringVar(&runOpts.pattern, "pattern", "", "only process files whose name matches this glob")
	f.BoolVar(&runOpts.keepDuplicates, "keep-duplicates", false, "reprocess items that already carry generated tags")
	f.BoolVar(&runOpts.localModel, "local-model", false, "use the local model served by Ollama")
	f.BoolVar(&runOpts.useOpenRouter, "use-openrouter", false, "use OpenRouter instead of Anthropic")
	rootCmd.AddCommand(runCmd)
}
