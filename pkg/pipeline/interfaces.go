package pipeline

import (
	"context"

	"github.com/FrenchMajesty/topic-trends/pkg/store"
	"github.com/FrenchMajesty/topic-trends/pkg/types"
)

// EmbeddingClient maps texts to vectors, one per text, in order
type EmbeddingClient interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorClient is the cluster index: centroids of labelled clusters from earlier days
type VectorClient interface {
	Search(ctx context.Context, vector []float32, topK int) ([]types.VectorMatch, error)
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]any) error
}

// Recorder persists the provenance of a run
type Recorder interface {
	StartRun(ctx context.Context, run store.Run, seed []string) error
	RecordDay(ctx context.Context, runID string, outcome types.DayOutcome) error
	FinishRun(ctx context.Context, runID string, status string, topics int) error
}

var _ Recorder = (*store.Store)(nil)
