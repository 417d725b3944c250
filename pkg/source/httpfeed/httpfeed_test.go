package httpfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/FrenchMajesty/topic-trends/internal/retry"
	"github.com/FrenchMajesty/topic-trends/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fastRetry() retry.Config {
	return retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond, BackoffMultiple: 1}
}

func TestFetchPage_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "50", r.URL.Query().Get("count"))
		assert.Equal(t, "abc", r.URL.Query().Get("cursor"))
		assert.Equal(t, "com.example", r.URL.Query().Get("app"))

		json.NewEncoder(w).Encode(feedPage{
			Items: []feedItem{
				{ID: "1", Content: "slow delivery", At: "2024-06-02T10:00:00Z"},
				{ID: "2", Content: "wrong map", At: "2024-06-01 09:00:00"},
			},
			NextCursor: "def",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL+"?app=com.example", "secret")
	client.PageSize = 50

	page, err := client.FetchPage(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "def", page.Next)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "slow delivery", page.Items[0].Text)
	assert.Equal(t, civil.Date{Year: 2024, Month: 6, Day: 1}, page.Items[1].Date)
}

func TestFetchPage_FirstPageHasNoCursor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("cursor"))
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"items": []}`))
	}))
	defer server.Close()

	page, err := NewClient(server.URL, "").FetchPage(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Empty(t, page.Next)
}

func TestFetchPage_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"items": [{"id": "1", "content": "ok", "at": "2024-06-01"}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	client.RetryConfig = fastRetry()
	client.Logger = zaptest.NewLogger(t)

	page, err := client.FetchPage(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchPage_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": "bad key"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "wrong")
	client.RetryConfig = fastRetry()

	_, err := client.FetchPage(context.Background(), "")
	var feedErr *FeedError
	require.ErrorAs(t, err, &feedErr)
	assert.Equal(t, http.StatusUnauthorized, feedErr.StatusCode)
	assert.Contains(t, string(feedErr.Body), "bad key")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchPage_BadPayloads(t *testing.T) {
	for name, body := range map[string]string{
		"not json": `<html>`,
		"bad date": `{"items": [{"id": "1", "content": "x", "at": "last week"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer server.Close()

			_, err := NewClient(server.URL, "").FetchPage(context.Background(), "")
			assert.Error(t, err)
		})
	}
}

func TestClient_CollectAcrossPages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("cursor") {
		case "":
			w.Write([]byte(`{"items": [{"id": "1", "content": "a", "at": "2024-06-03"}], "next_cursor": "p2"}`))
		case "p2":
			w.Write([]byte(`{"items": [{"id": "2", "content": "b", "at": "2024-05-20"}], "next_cursor": "p3"}`))
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))
	defer server.Close()

	items, err := source.Collect(context.Background(), NewClient(server.URL, ""), source.CollectOptions{
		Since: civil.Date{Year: 2024, Month: 6, Day: 1},
		Delay: -1,
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "1", items[0].ID)
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, isRetryableError(nil, http.StatusTooManyRequests, nil))
	assert.True(t, isRetryableError(nil, http.StatusBadGateway, nil))
	assert.True(t, isRetryableError(assert.AnError, 0, nil))
	assert.False(t, isRetryableError(nil, http.StatusOK, nil))
	assert.False(t, isRetryableError(&FeedError{StatusCode: 404}, http.StatusNotFound, nil))
}
