package adapters

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/FrenchMajesty/topic-trends/internal/retry"
	"github.com/FrenchMajesty/topic-trends/pkg/adapters/openai"
	"go.uber.org/zap"
)

// DefaultLLMClient implements taxonomy.LLMClient using an OpenAI-compatible chat API
type DefaultLLMClient struct {
	client      openai.LanguageModelClient
	model       string
	temperature *float32 // Optional temperature. If nil, omit from request.
}

const defaultModel = "gpt-4o"
const systemPrompt = "You are a JSON-speaking API."

// LLMOptions configures NewDefaultLLMClient. Zero values use the defaults.
type LLMOptions struct {
	Model       string
	BaseURL     string
	Temperature *float32

	// DumpDir saves every request/response pair for debugging when set
	DumpDir string

	Logger *zap.Logger
}

// NewDefaultLLMClient creates a classifier client. If apiKey is nil, OPENAI_API_KEY is used.
// Transport retries are disabled because the taxonomy agent owns the retry policy.
func NewDefaultLLMClient(apiKey *string, opts LLMOptions) (*DefaultLLMClient, error) {
	key, err := loadEnvVar(apiKey, "OPENAI_API_KEY")
	if err != nil {
		return nil, err
	}

	client := openai.NewClient(*key, opts.BaseURL)
	client.RetryConfig = retry.Config{MaxRetries: 0}
	client.DumpDir = opts.DumpDir
	if opts.Logger != nil {
		client.Logger = opts.Logger
	}

	return newLLMClient(client, opts), nil
}

func newLLMClient(client openai.LanguageModelClient, opts LLMOptions) *DefaultLLMClient {
	instance := DefaultLLMClient{
		client:      client,
		model:       defaultModel,
		temperature: opts.Temperature,
	}

	if opts.Model != "" {
		instance.model = opts.Model
	}

	return &instance
}

// Model returns the chat model requests are sent to
func (c *DefaultLLMClient) Model() string {
	return c.model
}

// Classify sends prompt and returns the raw JSON reply. Parsing and validation are left
// to the caller.
func (c *DefaultLLMClient) Classify(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatMessage{
			{Role: openai.MessageRoleSystem, Content: systemPrompt},
			{Role: openai.MessageRoleUser, Content: prompt},
		},
		ResponseFormat: openai.ResponseFormatJSONObject,
		Temperature:    c.temperature,
	}

	resp, err := c.client.ChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to get LLM response: %w", err)
	}

	content := strings.TrimSpace(resp.Content())
	if content == "" {
		return "", errors.New("no response from LLM")
	}
	return content, nil
}
