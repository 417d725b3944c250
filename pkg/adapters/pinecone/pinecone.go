package pinecone

import (
	"context"
	"errors"
	"fmt"

	"github.com/pinecone-io/go-pinecone/pinecone"
)

// NewPineconeService creates a Pinecone service using the official SDK
func NewPineconeService(apiKey string) (*Service, error) {
	if apiKey == "" {
		return nil, errors.New("pinecone API key is required")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pinecone client: %w", err)
	}

	return &Service{client: client}, nil
}

// ForIndex connects to the index served at host, scoped to namespace
func (s *Service) ForIndex(host string, namespace string) (*Index, error) {
	if host == "" {
		return nil, errors.New("pinecone index host is required")
	}

	conn, err := s.client.Index(pinecone.NewIndexConnParams{
		Host:      host,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to pinecone index: %w", err)
	}

	return &Index{conn: conn}, nil
}

// Search returns the topK nearest vectors in the namespace
func (idx *Index) Search(ctx context.Context, queryVector []float32, topK int, includeMetadata bool) ([]QueryMatch, error) {
	req := &pinecone.QueryByVectorValuesRequest{
		Vector:          queryVector,
		TopK:            uint32(topK),
		IncludeValues:   false,
		IncludeMetadata: includeMetadata,
	}
	resp, err := idx.conn.QueryByVectorValues(ctx, req)
	if err != nil {
		return nil, err
	}

	matches := make([]QueryMatch, 0, len(resp.Matches))
	for _, match := range resp.Matches {
		if match == nil || match.Vector == nil {
			continue
		}
		matches = append(matches, *match)
	}
	return matches, nil
}

// Upsert stores vectors in the index
func (idx *Index) Upsert(ctx context.Context, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}

	pineconeVectors := make([]*pinecone.Vector, len(vectors))
	for i := range vectors {
		pineconeVectors[i] = &vectors[i]
	}

	_, err := idx.conn.UpsertVectors(ctx, pineconeVectors)
	return err
}
