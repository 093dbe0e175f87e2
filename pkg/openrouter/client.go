// Package openrouter performs JSON chat completions against OpenRouter's
// OpenAI-compatible API.
package openrouter

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultModel   = "deepseek/deepseek-chat"
)

// Client performs chat completions against OpenRouter.
type Client interface {
	ChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error)
}

// ChatCompletionRequest is a chat completion call. JSON asks for a JSON object response.
type ChatCompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature float32
	MaxTokens   int
	JSON        bool
}

// Message represents a single message in the conversation.
type Message struct {
	Role    string
	Content string
}

// ChatCompletionResponse is the first choice of a completion.
type ChatCompletionResponse struct {
	ID           string
	Model        string
	Content      string
	FinishReason string
	Usage        Usage
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Option configures the client.
type Option func(*sdkClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *sdkClient) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *sdkClient) {
		if model != "" {
			c.model = model
		}
	}
}

// WithReferer sets the HTTP-Referer and X-Title attribution headers.
func WithReferer(referer, title string) Option {
	return func(c *sdkClient) {
		c.referer = referer
		c.title = title
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *sdkClient) {
		c.http = hc
	}
}

type sdkClient struct {
	baseURL string
	model   string
	referer string
	title   string
	http    *http.Client
	client  *openai.Client
}

// NewClient creates an OpenRouter client backed by go-openai.
func NewClient(apiKey string, opts ...Option) Client {
	c := &sdkClient{
		baseURL: defaultBaseURL,
		model:   defaultModel,
		http:    &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}

	hc := *c.http
	hc.Transport = &headerTransport{
		base:    transportOrDefault(c.http.Transport),
		referer: c.referer,
		title:   c.title,
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = c.baseURL
	cfg.HTTPClient = &hc
	c.client = openai.NewClientWithConfig(cfg)
	return c
}

func (c *sdkClient) ChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}

	msgs := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	params := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	// A zero temperature is dropped by omitempty; this is the documented way to send 0.
	if params.Temperature == 0 {
		params.Temperature = math.SmallestNonzeroFloat32
	}
	if req.JSON {
		params.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, params)
	if err != nil {
		return nil, eris.Wrapf(err, "openrouter: chat completion with %s", req.Model)
	}
	if len(resp.Choices) == 0 {
		return nil, eris.Errorf("openrouter: %s returned no choices", req.Model)
	}

	choice := resp.Choices[0]
	return &ChatCompletionResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

type headerTransport struct {
	base    http.RoundTripper
	referer string
	title   string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.referer == "" && t.title == "" {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	if t.referer != "" {
		req.Header.Set("HTTP-Referer", t.referer)
	}
	if t.title != "" {
		req.Header.Set("X-Title", t.title)
	}
	return t.base.RoundTrip(req)
}

func transportOrDefault(rt http.RoundTripper) http.RoundTripper {
	if rt == nil {
		return http.DefaultTransport
	}
	return rt
}
