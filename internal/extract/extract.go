// Package extract turns document text into a metadata record by asking an LLM.
//
// One MetadataExtractor exists per backend: the Anthropic Messages API,
// OpenRouter chat completions and a local model served by Ollama. New picks
// the backend once at startup from configuration.
package extract

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/zotero-metadata/internal/config"
	"github.com/sells-group/zotero-metadata/internal/cost"
	"github.com/sells-group/zotero-metadata/internal/fault"
	"github.com/sells-group/zotero-metadata/internal/model"
	"github.com/sells-group/zotero-metadata/internal/rules"
	"github.com/sells-group/zotero-metadata/pkg/anthropic"
	"github.com/sells-group/zotero-metadata/pkg/ollama"
	"github.com/sells-group/zotero-metadata/pkg/openrouter"
)

// MetadataExtractor requests a metadata record for one document.
type MetadataExtractor interface {
	// Extract returns the parsed record. When the model answered but the answer
	// could not be parsed, the error is returned together with a Result that
	// still carries the Usage of the call.
	Extract(ctx context.Context, req Request) (*Result, error)
	Name() string
}

// Request is the input of one extraction.
type Request struct {
	Text     string
	Filename string
}

// Result is the output of one extraction.
type Result struct {
	Record *model.Record
	Usage  model.Usage
	Raw    string
}

// Settings are shared by every backend.
type Settings struct {
	Model     string
	MaxTokens int64
	Rules     *rules.Rules
	Pricing   *cost.Calculator
}

// New builds the extractor selected by cfg.LLM.Provider.
func New(cfg *config.Config, r *rules.Rules, calc *cost.Calculator) (MetadataExtractor, error) {
	s := Settings{Model: cfg.Model(), MaxTokens: cfg.LLM.MaxTokens, Rules: r, Pricing: calc}

	switch cfg.LLM.Provider {
	case config.ProviderAnthropic:
		client := anthropic.NewClient(cfg.LLM.Anthropic.APIKey, cfg.LLM.Anthropic.BaseURL)
		return NewAnthropic(client, s, cfg.LLM.Anthropic.CacheRules), nil
	case config.ProviderOpenRouter:
		client := openrouter.NewClient(cfg.LLM.OpenRouter.APIKey,
			openrouter.WithBaseURL(cfg.LLM.OpenRouter.BaseURL),
			openrouter.WithModel(cfg.LLM.OpenRouter.Model),
			openrouter.WithReferer(cfg.LLM.OpenRouter.Referer, "zotmeta"),
		)
		return NewOpenRouter(client, s), nil
	case config.ProviderLocal:
		client, err := ollama.NewClient(cfg.LLM.Local.BaseURL, cfg.LLM.Local.Model,
			ollama.WithNumCtx(cfg.LLM.Local.NumCtx),
			ollama.WithTimeout(time.Duration(cfg.LLM.Local.TimeoutSecs)*time.Second),
		)
		if err != nil {
			return nil, fault.Configuration(err)
		}
		return NewLocal(client, s), nil
	default:
		return nil, fault.Configuration(eris.Errorf("extract: unknown provider %q", cfg.LLM.Provider))
	}
}

// finish prices the call and parses the answer.
func finish(s Settings, provider, raw string, tokens cost.Tokens) (*Result, error) {
	var usage model.Usage
	if s.Pricing != nil {
		usage = s.Pricing.Usage(provider, s.Model, tokens)
	} else {
		usage = model.Usage{Calls: 1, InputTokens: tokens.Input + tokens.CacheWrite + tokens.CacheRead, OutputTokens: tokens.Output}
	}
	res := &Result{Usage: usage, Raw: raw}

	rec, err := Parse(raw)
	if err != nil {
		zap.L().Warn("extract: answer rejected",
			zap.String("provider", provider),
			zap.String("model", s.Model),
			zap.Error(err),
			zap.String("raw", raw),
		)
		return res, fault.Extraction(eris.Wrapf(err, "extract: %s answer", provider))
	}
	res.Record = rec

	zap.L().Debug("extract: metadata extracted",
		zap.String("provider", provider),
		zap.String("model", s.Model),
		zap.String("rules_version", rulesVersion(s.Rules)),
		zap.Int64("input_tokens", usage.InputTokens),
		zap.Int64("output_tokens", usage.OutputTokens),
		zap.Float64("cost_usd", usage.CostUSD),
	)
	return res, nil
}

func rulesVersion(r *rules.Rules) string {
	if r == nil {
		return ""
	}
	return r.Version
}

func rulesText(r *rules.Rules) string {
	if r == nil {
		return rules.Default().Text
	}
	return r.Text
}
