package httpfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/FrenchMajesty/topic-trends/internal/retry"
	"github.com/FrenchMajesty/topic-trends/pkg/source"
	"github.com/FrenchMajesty/topic-trends/pkg/types"
	"go.uber.org/zap"
)

// DefaultPageSize is the count requested per page
const DefaultPageSize = 1000

// Client pulls feedback from a paginated JSON endpoint:
//
//	GET <BaseURL>?count=<n>&cursor=<cursor>
//	{"items": [{"id": "...", "content": "...", "at": "..."}], "next_cursor": "..."}
type Client struct {
	BaseURL     string
	APIKey      string
	PageSize    int
	HTTPClient  *http.Client
	RetryConfig retry.Config
	Logger      *zap.Logger
}

var _ source.Source = (*Client)(nil)

// NewClient creates a new feed client with default retry behaviour
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		BaseURL:     baseURL,
		APIKey:      apiKey,
		PageSize:    DefaultPageSize,
		HTTPClient:  http.DefaultClient,
		RetryConfig: retry.DefaultConfig(),
		Logger:      zap.NewNop(),
	}
}

type feedItem struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	At      string `json:"at"`
}

type feedPage struct {
	Items      []feedItem `json:"items"`
	NextCursor string     `json:"next_cursor"`
}

// FeedError is returned for non-200 responses
type FeedError struct {
	StatusCode int
	Body       []byte
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("feed API error %d", e.StatusCode)
}

// FetchPage implements source.Source
func (c *Client) FetchPage(ctx context.Context, cursor string) (source.Page, error) {
	endpoint, err := c.pageURL(cursor)
	if err != nil {
		return source.Page{}, err
	}

	opts := retry.Options{
		Config:       c.RetryConfig,
		ErrorChecker: isRetryableError,
		Logger:       c.Logger,
		APIName:      "feedback feed",
	}

	body, err := retry.Execute(ctx, opts, func(int) ([]byte, int, []byte, error) {
		return c.get(ctx, endpoint)
	})
	if err != nil {
		return source.Page{}, err
	}

	var resp feedPage
	if err := json.Unmarshal(body, &resp); err != nil {
		return source.Page{}, fmt.Errorf("failed to parse feed page: %w", err)
	}

	page := source.Page{Next: resp.NextCursor, Items: make([]types.FeedbackItem, 0, len(resp.Items))}
	for _, item := range resp.Items {
		date, err := source.ParseDate(item.At)
		if err != nil {
			return source.Page{}, fmt.Errorf("item %s: %w", item.ID, err)
		}
		page.Items = append(page.Items, types.FeedbackItem{ID: item.ID, Text: item.Content, Date: date})
	}
	return page, nil
}

func (c *Client) pageURL(cursor string) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid feed URL: %w", err)
	}
	q := u.Query()
	pageSize := c.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	q.Set("count", strconv.Itoa(pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, nil, fmt.Errorf("failed to read feed response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, body, &FeedError{StatusCode: resp.StatusCode, Body: body}
	}
	return body, resp.StatusCode, body, nil
}

// isRetryableError retries network failures, throttling and server errors
func isRetryableError(err error, statusCode int, _ []byte) bool {
	if statusCode == http.StatusTooManyRequests || statusCode >= 500 {
		return true
	}
	return err != nil && statusCode == 0
}
