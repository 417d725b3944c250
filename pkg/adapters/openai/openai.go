package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/FrenchMajesty/topic-trends/internal/retry"
	"go.uber.org/zap"
)

// DefaultBaseURL is the public OpenAI API. Any compatible endpoint can be used instead.
const DefaultBaseURL = "https://api.openai.com/v1"

// Client is a minimal client for the OpenAI-compatible chat completions API
type Client struct {
	APIKey      string
	BaseURL     string
	HTTPClient  *http.Client
	RetryConfig retry.Config
	Logger      *zap.Logger

	// DumpDir, when set, receives one JSON file per request/response pair
	DumpDir string
}

var _ LanguageModelClient = (*Client)(nil)

// NewClient creates a client for baseURL. An empty baseURL uses DefaultBaseURL.
func NewClient(apiKey string, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		APIKey:      apiKey,
		BaseURL:     strings.TrimRight(baseURL, "/"),
		HTTPClient:  http.DefaultClient,
		RetryConfig: retry.DefaultConfig(),
		Logger:      zap.NewNop(),
	}
}

// ChatCompletion sends a chat completion request with the client's retry policy
func (c *Client) ChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	body, err := c.post(ctx, c.BaseURL+"/chat/completions", req)
	if err != nil {
		return nil, err
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ChatCompletionError{
			Message: fmt.Sprintf("failed to parse chat completion response: %v", err),
			RawBody: json.RawMessage(body),
		}
	}
	if len(resp.Choices) == 0 {
		return nil, &ChatCompletionError{
			Message: "chat completion response has no choices",
			RawBody: json.RawMessage(body),
		}
	}
	return &resp, nil
}
