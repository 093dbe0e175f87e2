package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient creates an sdkClient pointing at a local test server.
func newTestClient(baseURL string) *sdkClient {
	return &sdkClient{
		client: sdk.NewClient(
			option.WithAPIKey("test-key"),
			option.WithBaseURL(baseURL),
		),
	}
}

func TestSDKClient_CreateMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 1000, body["max_tokens"])
		assert.Nil(t, body["system"])
		assert.Nil(t, body["temperature"])
		msgs := body["messages"].([]any)
		require.Len(t, msgs, 1)
		assert.Equal(t, "user", msgs[0].(map[string]any)["role"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":   "msg_inline",
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{
				{"type": "text", "text": `{"place": "Bern", "language": "fra"}`},
			},
			"model":       "claude-haiku-4-5-20251001",
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 2300, "output_tokens": 60},
		})
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 1000,
		Messages:  []Message{{Role: "user", Content: "Règles...\n\nTexte à analyser:\nBerne, le 3 mars 1991"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "msg_inline", resp.ID)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, `{"place": "Bern", "language": "fra"}`, resp.Text())
	assert.Equal(t, TokenUsage{InputTokens: 2300, OutputTokens: 60}, resp.Usage)
}

func TestSDKClient_CreateMessage_Error(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"type": "error",
			"error": map[string]any{
				"type":    "api_error",
				"message": "Internal server error",
			},
		})
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 1024,
		Messages:  []Message{{Role: "user", Content: "Hello"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create message")
}

func TestNewClient_BaseURLWithCachedRules(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-ant-test", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "/v1/messages", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.InDelta(t, 0.0, body["temperature"], 1e-9)

		system := body["system"].([]any)
		require.Len(t, system, 2)
		prompt := system[0].(map[string]any)
		assert.Equal(t, "Vous êtes archiviste.", prompt["text"])
		assert.Nil(t, prompt["cache_control"])
		rules := system[1].(map[string]any)
		assert.Equal(t, "RÈGLES D'ANALYSE", rules["text"])
		assert.Equal(t, "ephemeral", rules["cache_control"].(map[string]any)["type"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":          "msg_cached",
			"type":        "message",
			"role":        "assistant",
			"content":     []map[string]any{{"type": "text", "text": `{"title": "Visa"}`}},
			"model":       "claude-haiku-4-5-20251001",
			"stop_reason": "end_turn",
			"usage": map[string]any{
				"input_tokens":            900,
				"output_tokens":           40,
				"cache_read_input_tokens": 3100,
			},
		})
	}))
	defer ts.Close()

	temp := 0.0
	client := NewClient("sk-ant-test", ts.URL)
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:       "claude-haiku-4-5-20251001",
		MaxTokens:   1000,
		System:      BuildCachedSystemBlocks("Vous êtes archiviste.", "RÈGLES D'ANALYSE", ""),
		Messages:    []Message{{Role: "user", Content: "Texte à analyser:\nObjet: Visa"}},
		Temperature: &temp,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"title": "Visa"}`, resp.Text())
	assert.Equal(t, int64(3100), resp.Usage.CacheReadInputTokens)
}
