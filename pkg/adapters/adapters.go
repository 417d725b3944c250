package adapters

import (
	"context"
	"fmt"
	"os"

	"github.com/FrenchMajesty/topic-trends/pkg/adapters/pinecone"
	"github.com/FrenchMajesty/topic-trends/pkg/adapters/voyage"
	"github.com/FrenchMajesty/topic-trends/pkg/types"
	"google.golang.org/protobuf/types/known/structpb"
)

// VoyageEmbeddingAdapter adapts the Voyage service to the embedding.Client interface
type VoyageEmbeddingAdapter struct {
	client interface {
		GenerateEmbeddings(ctx context.Context, texts []string, embeddingType voyage.EmbeddingType) ([][]float32, error)
	}
}

// NewVoyageEmbeddingAdapter creates a new adapter for Voyage AI. If apiKey is nil,
// VOYAGEAI_API_KEY is used. An empty model keeps the service default.
func NewVoyageEmbeddingAdapter(apiKey *string, model string) (*VoyageEmbeddingAdapter, error) {
	key, err := loadEnvVar(apiKey, "VOYAGEAI_API_KEY")
	if err != nil {
		return nil, err
	}

	service := voyage.NewEmbeddingService(*key)
	if model != "" {
		service.SetModel(model)
	}

	return &VoyageEmbeddingAdapter{client: service}, nil
}

// Embed returns one vector per text, in order
func (a *VoyageEmbeddingAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return a.client.GenerateEmbeddings(ctx, texts, voyage.EmbeddingTypeDocument)
}

// PineconeVectorAdapter adapts a Pinecone index to the pipeline's cluster index
type PineconeVectorAdapter struct {
	index interface {
		Search(ctx context.Context, queryVector []float32, topK int, includeMetadata bool) ([]pinecone.QueryMatch, error)
		Upsert(ctx context.Context, vectors []pinecone.Vector) error
	}
}

// NewPineconeVectorAdapter connects to a Pinecone index. Nil apiKey and host fall back
// to PINECONE_API_KEY and PINECONE_HOST.
func NewPineconeVectorAdapter(apiKey *string, host *string, namespace string) (*PineconeVectorAdapter, error) {
	key, err := loadEnvVar(apiKey, "PINECONE_API_KEY")
	if err != nil {
		return nil, err
	}

	h, err := loadEnvVar(host, "PINECONE_HOST")
	if err != nil {
		return nil, err
	}

	service, err := pinecone.NewPineconeService(*key)
	if err != nil {
		return nil, fmt.Errorf("failed to create pinecone service: %w", err)
	}

	index, err := service.ForIndex(*h, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to pinecone index: %w", err)
	}

	return &PineconeVectorAdapter{index: index}, nil
}

// Search returns the topK nearest stored vectors with their metadata
func (a *PineconeVectorAdapter) Search(ctx context.Context, vector []float32, topK int) ([]types.VectorMatch, error) {
	matches, err := a.index.Search(ctx, vector, topK, true)
	if err != nil {
		return nil, err
	}

	results := make([]types.VectorMatch, 0, len(matches))
	for _, match := range matches {
		if match.Vector == nil {
			continue
		}
		metadata := make(map[string]any)
		if match.Vector.Metadata != nil {
			metadata = match.Vector.Metadata.AsMap()
		}

		results = append(results, types.VectorMatch{
			ID:       match.Vector.Id,
			Score:    match.Score,
			Metadata: metadata,
		})
	}

	return results, nil
}

// Upsert stores one vector. Metadata values must be representable as protobuf Struct fields.
func (a *PineconeVectorAdapter) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
	metadataStruct, err := structpb.NewStruct(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata for %s: %w", id, err)
	}

	return a.index.Upsert(ctx, []pinecone.Vector{
		{
			Id:       id,
			Values:   vector,
			Metadata: metadataStruct,
		},
	})
}

// loadEnvVar loads an environment variable into a pointer if no value is provided
func loadEnvVar(target *string, envKey string) (*string, error) {
	if target == nil {
		envVar := os.Getenv(envKey)
		if envVar == "" {
			return nil, fmt.Errorf("%s environment variable not set and no value provided", envKey)
		}
		return &envVar, nil
	}
	return target, nil
}
