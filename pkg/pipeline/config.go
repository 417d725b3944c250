package pipeline

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/FrenchMajesty/topic-trends/internal/retry"
	"github.com/FrenchMajesty/topic-trends/pkg/clustering"
	"github.com/FrenchMajesty/topic-trends/pkg/embedding"
	"github.com/FrenchMajesty/topic-trends/pkg/source"
	"github.com/FrenchMajesty/topic-trends/pkg/taxonomy"
	"github.com/FrenchMajesty/topic-trends/pkg/trend"
	"go.uber.org/zap"
)

const (
	// DefaultMinHintSimilarity is the score a stored cluster needs before its topic is
	// offered to the classifier as a hint
	DefaultMinHintSimilarity = 0.80

	// DefaultSourceName labels runs whose source has no name
	DefaultSourceName = "feedback"
)

// Config holds configuration for a Pipeline
type Config struct {
	// Source yields the raw feedback. Required.
	Source source.Source

	// SourceName is recorded with the run. If empty, uses DefaultSourceName.
	SourceName string

	// Since is the first day of the historical window. Required.
	Since civil.Date

	// Until is the last day of the window. Zero means no upper bound.
	Until civil.Date

	// PageDelay spaces out page requests. 0 uses source.DefaultPageDelay, negative disables it.
	PageDelay time.Duration

	// MaxPages stops collection after this many pages. 0 means no limit.
	MaxPages int

	// EmbeddingClient generates embeddings for text. If nil, uses the default (Voyage AI)
	// with EmbeddingAPIKey, or VOYAGEAI_API_KEY when that is empty.
	EmbeddingClient EmbeddingClient
	EmbeddingAPIKey string
	EmbeddingModel  string
	Embedding       embedding.Config

	// LLMClient performs classification. If nil, uses the default (OpenAI) with LLMAPIKey,
	// or OPENAI_API_KEY when that is empty.
	LLMClient   taxonomy.LLMClient
	LLMAPIKey   string
	Model       string
	BaseURL     string
	Temperature *float32

	// DumpDir receives every default-client request/response pair when set
	DumpDir string

	// VectorClient stores day cluster centroids and supplies labelling hints. Optional.
	VectorClient VectorClient

	// MinHintSimilarity is the hint threshold (0.0 to 1.0). If 0, uses DefaultMinHintSimilarity.
	MinHintSimilarity float32

	// Recorder persists run provenance. Optional.
	Recorder Recorder

	// Seed is the starting taxonomy. If nil, uses taxonomy.DefaultSeed.
	Seed []string

	// Persistence receives the final taxonomy. Optional.
	Persistence taxonomy.Persistence

	Clustering clustering.Config

	SampleSize      int
	MaxSampleChars  int
	ClassifyTimeout time.Duration
	ClassifyRetry   *retry.Config

	// MaxTopics caps taxonomy growth. 0 means unbounded.
	MaxTopics int

	// WindowDays is the width of Result.Matrix. If 0, uses trend.DefaultWindowDays.
	WindowDays int

	Logger *zap.Logger
}

// applyDefaults fills in default values for unset config fields
func (c *Config) applyDefaults() {
	if c.SourceName == "" {
		c.SourceName = DefaultSourceName
	}
	if c.MinHintSimilarity == 0 {
		c.MinHintSimilarity = DefaultMinHintSimilarity
	}
	if c.Seed == nil {
		c.Seed = taxonomy.DefaultSeed
	}
	if c.WindowDays == 0 {
		c.WindowDays = trend.DefaultWindowDays
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Embedding.Logger == nil {
		c.Embedding.Logger = c.Logger
	}
}
