package extract

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/zotero-metadata/internal/cost"
	"github.com/sells-group/zotero-metadata/internal/fault"
	"github.com/sells-group/zotero-metadata/pkg/ollama"
)

// Local extracts metadata with a model served by a local Ollama instance.
type Local struct {
	client   ollama.Client
	settings Settings
}

// NewLocal creates the local backend. The client carries the model, context
// window and JSON format.
func NewLocal(client ollama.Client, s Settings) *Local {
	return &Local{client: client, settings: s}
}

// Name implements MetadataExtractor.
func (l *Local) Name() string { return cost.ProviderLocal }

// Extract implements MetadataExtractor.
func (l *Local) Extract(ctx context.Context, req Request) (*Result, error) {
	resp, err := l.client.Generate(ctx, ollama.GenerateRequest{
		System:    SystemPrompt,
		Prompt:    UserPrompt(rulesText(l.settings.Rules), req.Filename, req.Text),
		MaxTokens: int(l.settings.MaxTokens),
	})
	if err != nil {
		return nil, fault.Extraction(eris.Wrap(err, "extract: local model request"))
	}

	return finish(l.settings, cost.ProviderLocal, resp.Text, cost.Tokens{
		Input:  int64(resp.PromptTokens),
		Output: int64(resp.OutputTokens),
	})
}
