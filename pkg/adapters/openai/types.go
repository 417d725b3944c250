package openai

import (
	"context"
	"encoding/json"
)

// LanguageModelClient is the chat surface the rest of the module depends on
type LanguageModelClient interface {
	ChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error)
}

// ChatCompletionRequest is the request body for the chat completion endpoint
type ChatCompletionRequest struct {
	Model               string          `json:"model"`
	User                string          `json:"user,omitempty"`
	Messages            []ChatMessage   `json:"messages"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	Temperature         *float32        `json:"temperature,omitempty"`
	Seed                *int            `json:"seed,omitempty"`
	ResponseFormat      *ResponseFormat `json:"response_format,omitempty"`
}

// ResponseFormatJSONObject constrains the model to reply with a single JSON object
var ResponseFormatJSONObject = &ResponseFormat{Type: "json_object"}

type ResponseFormat struct {
	Type string `json:"type"`
}

type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

type ChatMessage struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

type ChatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatCompletionResponse is the response from the chat completion endpoint
type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   ChatCompletionUsage    `json:"usage"`
}

// Content returns the first choice's message, or "" when there are no choices
func (r *ChatCompletionResponse) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

type ChatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// ChatCompletionError wraps a failed call with the raw response body for logging
type ChatCompletionError struct {
	Message    string          `json:"message"`
	StatusCode int             `json:"status_code,omitempty"`
	RawBody    json.RawMessage `json:"raw_body,omitempty"`
}

func (e *ChatCompletionError) Error() string {
	return e.Message
}
