// Package ollama calls a locally hosted model served by Ollama, through
// langchaingo's Ollama backend.
package ollama

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tmc/langchaingo/llms"
	lcollama "github.com/tmc/langchaingo/llms/ollama"
)

const defaultBaseURL = "http://localhost:11434"

// Client generates completions with a local model.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// GenerateRequest is one system + user exchange. MaxTokens caps the answer;
// zero keeps the server default.
type GenerateRequest struct {
	System    string
	Prompt    string
	MaxTokens int
}

// GenerateResponse is the model answer and its token counts.
type GenerateResponse struct {
	Text         string
	StopReason   string
	PromptTokens int
	OutputTokens int
}

// Option configures the client.
type Option func(*settings)

type settings struct {
	numCtx int
	http   *http.Client
}

// WithNumCtx sets the context window of the model runner.
func WithNumCtx(n int) Option {
	return func(s *settings) {
		s.numCtx = n
	}
}

// WithTimeout sets the request timeout. Large local models can take minutes.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.http.Timeout = d
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *settings) {
		s.http = hc
	}
}

type lcClient struct {
	llm   llms.Model
	model string
}

// NewClient creates a client for model on the Ollama server at baseURL. An
// empty baseURL uses localhost. Answers are constrained to JSON.
func NewClient(baseURL, model string, opts ...Option) (Client, error) {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	s := &settings{http: &http.Client{Timeout: 10 * time.Minute}}
	for _, o := range opts {
		o(s)
	}

	lopts := []lcollama.Option{
		lcollama.WithModel(model),
		lcollama.WithServerURL(strings.TrimRight(baseURL, "/")),
		lcollama.WithHTTPClient(s.http),
		lcollama.WithFormat("json"),
	}
	if s.numCtx > 0 {
		lopts = append(lopts, lcollama.WithRunnerNumCtx(s.numCtx))
	}

	llm, err := lcollama.New(lopts...)
	if err != nil {
		return nil, eris.Wrapf(err, "ollama: create client for %s", baseURL)
	}
	return &lcClient{llm: llm, model: model}, nil
}

func (c *lcClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	var msgs []llms.MessageContent
	if req.System != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	callOpts := []llms.CallOption{llms.WithTemperature(0)}
	if req.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(req.MaxTokens))
	}

	resp, err := c.llm.GenerateContent(ctx, msgs, callOpts...)
	if err != nil {
		return nil, eris.Wrapf(err, "ollama: generate with %s", c.model)
	}
	if len(resp.Choices) == 0 {
		return nil, eris.Errorf("ollama: %s returned no choices", c.model)
	}

	choice := resp.Choices[0]
	return &GenerateResponse{
		Text:         choice.Content,
		StopReason:   choice.StopReason,
		PromptTokens: intInfo(choice.GenerationInfo, "PromptTokens"),
		OutputTokens: intInfo(choice.GenerationInfo, "CompletionTokens"),
	}, nil
}

// intInfo reads a token count from langchaingo's generation info.
func intInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
