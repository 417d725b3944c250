package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/FrenchMajesty/topic-trends/internal/retry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// isRetryableError retries network failures, rate limiting and server errors.
// A canceled or expired context is final.
func isRetryableError(err error, statusCode int, _ []byte) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if statusCode == http.StatusTooManyRequests || statusCode >= 500 {
		return true
	}
	return err != nil && statusCode == 0
}

func (c *Client) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// post sends requestBody as JSON to url and returns the 200 response body
func (c *Client) post(ctx context.Context, url string, requestBody ChatCompletionRequest) ([]byte, error) {
	payload, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	opts := retry.Options{
		Config:       c.RetryConfig,
		ErrorChecker: isRetryableError,
		Logger:       c.logger(),
		APIName:      "OpenAI chat",
	}

	return retry.Execute(ctx, opts, func(attempt int) ([]byte, int, []byte, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, 0, nil, fmt.Errorf("failed to create HTTP request: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")

		httpClient := c.HTTPClient
		if httpClient == nil {
			httpClient = http.DefaultClient
		}
		resp, err := httpClient.Do(httpReq)
		if err != nil {
			return nil, 0, nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, resp.StatusCode, nil, fmt.Errorf("failed to read chat response body: %w", err)
		}

		if c.DumpDir != "" {
			c.dump(requestBody, body, resp.StatusCode)
		}

		if resp.StatusCode != http.StatusOK {
			message := fmt.Sprintf("openai chat API error %d", resp.StatusCode)
			var apiErr apiError
			if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
				message += ": " + apiErr.Error.Message
			}
			return nil, resp.StatusCode, body, &ChatCompletionError{
				Message:    message,
				StatusCode: resp.StatusCode,
				RawBody:    json.RawMessage(body),
			}
		}
		return body, resp.StatusCode, body, nil
	})
}

// dump saves the request/response pair under DumpDir/<model>/ for debugging
func (c *Client) dump(req ChatCompletionRequest, body []byte, statusCode int) {
	dir := filepath.Join(c.DumpDir, req.Model)
	if err := os.MkdirAll(dir, 0755); err != nil {
		c.logger().Warn("failed to create dump directory", zap.String("dir", dir), zap.Error(err))
		return
	}

	var response any = string(body)
	var parsed any
	if json.Unmarshal(body, &parsed) == nil {
		response = parsed
	}

	data, err := json.MarshalIndent(map[string]any{
		"request":  req,
		"response": response,
		"status":   statusCode,
	}, "", "  ")
	if err != nil {
		c.logger().Warn("failed to marshal dump", zap.Error(err))
		return
	}

	name := fmt.Sprintf("openai_req_%s_%s.json", time.Now().Format("20060102_150405"), uuid.New().String()[:8])
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		c.logger().Warn("failed to write dump", zap.String("path", path), zap.Error(err))
	}
}
