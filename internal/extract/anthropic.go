package extract

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/zotero-metadata/internal/cost"
	"github.com/sells-group/zotero-metadata/internal/fault"
	"github.com/sells-group/zotero-metadata/pkg/anthropic"
)

// Anthropic extracts metadata with the Anthropic Messages API.
type Anthropic struct {
	client     anthropic.Client
	settings   Settings
	cacheRules bool
}

// NewAnthropic creates the Anthropic backend. With cacheRules the rule text is
// sent as a cached system block so consecutive documents reuse it.
func NewAnthropic(client anthropic.Client, s Settings, cacheRules bool) *Anthropic {
	return &Anthropic{client: client, settings: s, cacheRules: cacheRules}
}

// Name implements MetadataExtractor.
func (a *Anthropic) Name() string { return cost.ProviderAnthropic }

// Extract implements MetadataExtractor.
func (a *Anthropic) Extract(ctx context.Context, req Request) (*Result, error) {
	temperature := 0.0
	msg := anthropic.MessageRequest{
		Model:       a.settings.Model,
		MaxTokens:   a.settings.MaxTokens,
		Temperature: &temperature,
	}

	ruleText := rulesText(a.settings.Rules)
	if a.cacheRules {
		msg.System = anthropic.BuildCachedSystemBlocks(SystemPrompt, RulesBlock(ruleText), "")
		msg.Messages = []anthropic.Message{{Role: "user", Content: UserPrompt("", req.Filename, req.Text)}}
	} else {
		msg.System = []anthropic.SystemBlock{{Text: SystemPrompt}}
		msg.Messages = []anthropic.Message{{Role: "user", Content: UserPrompt(ruleText, req.Filename, req.Text)}}
	}

	resp, err := a.client.CreateMessage(ctx, msg)
	if err != nil {
		return nil, fault.Extraction(eris.Wrap(err, "extract: anthropic request"))
	}
	resp.Usage.LogUsage(a.settings.Model)
	if resp.StopReason == "max_tokens" {
		zap.L().Warn("extract: answer truncated at max tokens",
			zap.String("model", a.settings.Model),
			zap.Int64("max_tokens", a.settings.MaxTokens),
		)
	}

	return finish(a.settings, cost.ProviderAnthropic, resp.Text(), cost.Tokens{
		Input:      resp.Usage.InputTokens,
		Output:     resp.Usage.OutputTokens,
		CacheWrite: resp.Usage.CacheCreationInputTokens,
		CacheRead:  resp.Usage.CacheReadInputTokens,
	})
}
