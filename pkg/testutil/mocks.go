package testutil

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/FrenchMajesty/topic-trends/pkg/source"
	"github.com/FrenchMajesty/topic-trends/pkg/types"
)

// MockEmbeddingClient is a mock implementation of EmbeddingClient for testing
type MockEmbeddingClient struct {
	EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)

	mu        sync.Mutex
	CallCount int
	Texts     []string
}

func (m *MockEmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.CallCount++
	m.Texts = append(m.Texts, texts...)
	m.mu.Unlock()

	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, texts)
	}
	// Default: one dimension per text, derived from its length
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = []float32{float32(len(text)) / 100.0}
	}
	return vectors, nil
}

// MockVectorClient is a mock implementation of VectorClient for testing
type MockVectorClient struct {
	SearchFunc func(ctx context.Context, vector []float32, topK int) ([]types.VectorMatch, error)
	UpsertFunc func(ctx context.Context, id string, vector []float32, metadata map[string]any) error

	mu          sync.Mutex
	CallCount   int
	UpsertCount int
	Storage     map[string]struct {
		Vector   []float32
		Metadata map[string]any
	}
}

func NewMockVectorClient() *MockVectorClient {
	return &MockVectorClient{
		Storage: make(map[string]struct {
			Vector   []float32
			Metadata map[string]any
		}),
	}
}

func (m *MockVectorClient) Search(ctx context.Context, vector []float32, topK int) ([]types.VectorMatch, error) {
	m.mu.Lock()
	m.CallCount++
	m.mu.Unlock()

	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, vector, topK)
	}

	// Default: return empty results
	return []types.VectorMatch{}, nil
}

func (m *MockVectorClient) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	m.mu.Lock()
	m.UpsertCount++
	m.Storage[id] = struct {
		Vector   []float32
		Metadata map[string]any
	}{Vector: vector, Metadata: metadata}
	m.mu.Unlock()

	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, id, vector, metadata)
	}

	return nil
}

// MockLLMClient is a mock implementation of the classification LLMClient for testing
type MockLLMClient struct {
	ClassifyFunc func(ctx context.Context, prompt string) (string, error)

	mu         sync.Mutex
	CallCount  int
	LastPrompt string
}

func (m *MockLLMClient) Classify(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.CallCount++
	m.LastPrompt = prompt
	m.mu.Unlock()

	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, prompt)
	}

	// Default: valid but empty reply
	return `{"cluster_mappings": {}, "new_taxonomy_additions": []}`, nil
}

// Calls returns the number of Classify calls so far
func (m *MockLLMClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// MockSource serves fixed pages for testing. Page i is returned for cursor "" (i=0)
// or strconv.Itoa(i).
type MockSource struct {
	Pages         []source.Page
	FetchPageFunc func(ctx context.Context, cursor string) (source.Page, error)

	mu      sync.Mutex
	Cursors []string
}

func (m *MockSource) FetchPage(ctx context.Context, cursor string) (source.Page, error) {
	m.mu.Lock()
	m.Cursors = append(m.Cursors, cursor)
	m.mu.Unlock()

	if m.FetchPageFunc != nil {
		return m.FetchPageFunc(ctx, cursor)
	}

	idx := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return source.Page{}, fmt.Errorf("bad cursor %q", cursor)
		}
		idx = n
	}
	if idx >= len(m.Pages) {
		return source.Page{}, nil
	}
	return m.Pages[idx], nil
}

// MockPersistence is an in-memory taxonomy Persistence for testing
type MockPersistence struct {
	LoadFunc func() ([]string, error)
	SaveFunc func(topics []string) error

	mu        sync.Mutex
	SaveCount int
	Saved     []string
}

func (m *MockPersistence) Load() ([]string, error) {
	if m.LoadFunc != nil {
		return m.LoadFunc()
	}
	return nil, nil
}

func (m *MockPersistence) Save(topics []string) error {
	m.mu.Lock()
	m.SaveCount++
	m.Saved = append([]string(nil), topics...)
	m.mu.Unlock()

	if m.SaveFunc != nil {
		return m.SaveFunc(topics)
	}
	return nil
}
