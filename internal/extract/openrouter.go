package extract

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/zotero-metadata/internal/cost"
	"github.com/sells-group/zotero-metadata/internal/fault"
	"github.com/sells-group/zotero-metadata/pkg/openrouter"
)

// OpenRouter extracts metadata through OpenRouter chat completions.
type OpenRouter struct {
	client   openrouter.Client
	settings Settings
}

// NewOpenRouter creates the OpenRouter backend.
func NewOpenRouter(client openrouter.Client, s Settings) *OpenRouter {
	return &OpenRouter{client: client, settings: s}
}

// Name implements MetadataExtractor.
func (o *OpenRouter) Name() string { return cost.ProviderOpenRouter }

// Extract implements MetadataExtractor.
func (o *OpenRouter) Extract(ctx context.Context, req Request) (*Result, error) {
	resp, err := o.client.ChatCompletion(ctx, openrouter.ChatCompletionRequest{
		Model: o.settings.Model,
		Messages: []openrouter.Message{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: UserPrompt(rulesText(o.settings.Rules), req.Filename, req.Text)},
		},
		Temperature: 0,
		MaxTokens:   int(o.settings.MaxTokens),
		JSON:        true,
	})
	if err != nil {
		return nil, fault.Extraction(eris.Wrap(err, "extract: openrouter request"))
	}

	return finish(o.settings, cost.ProviderOpenRouter, resp.Content, cost.Tokens{
		Input:  int64(resp.Usage.PromptTokens),
		Output: int64(resp.Usage.CompletionTokens),
	})
}
