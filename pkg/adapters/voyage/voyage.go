package voyage

import (
	"context"
	"fmt"

	"github.com/austinfhunter/voyageai"
)

const (
	// DefaultDimensions is the output size requested from the embedding model
	DefaultDimensions = 1024

	// DefaultModel is a small, fast general-purpose embedding model
	DefaultModel = "voyage-3.5-lite"

	// MaxBatchSize is the largest number of texts sent in one request
	MaxBatchSize = 128
)

type EmbeddingType string

const (
	EmbeddingTypeDocument EmbeddingType = "document"
	EmbeddingTypeQuery    EmbeddingType = "query"
	EmbeddingTypeDefault  EmbeddingType = ""
)

// embedFunc is the SDK call, swapped out in tests
type embedFunc func(texts []string, model string, opts *voyageai.EmbeddingRequestOpts) ([]voyageai.EmbeddingObject, error)

// Service generates embeddings with VoyageAI
type Service struct {
	embed      embedFunc
	dimensions int
	model      string
}

// NewEmbeddingService creates a new embedding service
func NewEmbeddingService(apiKey string) *Service {
	client := voyageai.NewClient(&voyageai.VoyageClientOpts{
		Key: apiKey,
	})

	return &Service{
		embed: func(texts []string, model string, opts *voyageai.EmbeddingRequestOpts) ([]voyageai.EmbeddingObject, error) {
			resp, err := client.Embed(texts, model, opts)
			if err != nil {
				return nil, err
			}
			return resp.Data, nil
		},
		dimensions: DefaultDimensions,
		model:      DefaultModel,
	}
}

// SetDimensions sets the output dimensions requested from the model
func (s *Service) SetDimensions(dimensions int) {
	s.dimensions = dimensions
}

// SetModel sets the embedding model
func (s *Service) SetModel(model string) {
	s.model = model
}

// Dimensions returns the output dimensions requested from the model
func (s *Service) Dimensions() int {
	return s.dimensions
}

// Model returns the embedding model name
func (s *Service) Model() string {
	return s.model
}

// GenerateEmbeddings embeds texts in one request and returns one vector per text, in order.
// The SDK call does not take a context, so ctx is only checked before sending.
func (s *Service) GenerateEmbeddings(ctx context.Context, texts []string, embeddingType EmbeddingType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("batch of %d texts exceeds the limit of %d", len(texts), MaxBatchSize)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dimensions := s.dimensions
	data, err := s.embed(texts, s.model, &voyageai.EmbeddingRequestOpts{
		InputType:       parseEmbeddingType(embeddingType),
		OutputDimension: &dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("could not get embeddings: %w", err)
	}
	if len(data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(data))
	}

	vectors := make([][]float32, len(data))
	for i, obj := range data {
		vectors[i] = obj.Embedding
	}
	return vectors, nil
}

func parseEmbeddingType(embeddingType EmbeddingType) *string {
	if embeddingType == EmbeddingTypeDefault {
		return nil
	}
	value := string(embeddingType)
	return &value
}
