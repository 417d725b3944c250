package embedding

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBatchSize is the number of texts per provider request
	DefaultBatchSize = 96

	// DefaultParallelism bounds concurrent provider requests
	DefaultParallelism = 4

	// DefaultCacheSize is the number of text vectors remembered within a run
	DefaultCacheSize = 10000
)

// ErrDimensionMismatch is returned when vectors in one call disagree in length
var ErrDimensionMismatch = errors.New("embedding dimensions differ")

// Client turns texts into vectors, one per text, in order
type Client interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config holds configuration for the Batcher
type Config struct {
	// BatchSize is the chunk size sent to the client. If 0, uses DefaultBatchSize.
	BatchSize int

	// Parallelism bounds in-flight chunks. If 0, uses DefaultParallelism.
	Parallelism int

	// CacheSize bounds the text memo. If 0, uses DefaultCacheSize. Negative disables it.
	CacheSize int

	Logger *zap.Logger
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Parallelism <= 0 {
		c.Parallelism = DefaultParallelism
	}
	if c.CacheSize == 0 {
		c.CacheSize = DefaultCacheSize
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Batcher splits large embedding requests into chunks, runs them with bounded
// parallelism and memoizes vectors by text. It is safe for concurrent use.
type Batcher struct {
	client      Client
	batchSize   int
	parallelism int
	cache       *lru.Cache[string, []float32]
	logger      *zap.Logger
}

var _ Client = (*Batcher)(nil)

// NewBatcher wraps client
func NewBatcher(client Client, cfg Config) (*Batcher, error) {
	if client == nil {
		return nil, errors.New("embedding client is required")
	}
	cfg.applyDefaults()

	b := &Batcher{
		client:      client,
		batchSize:   cfg.BatchSize,
		parallelism: cfg.Parallelism,
		logger:      cfg.Logger,
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, []float32](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding cache: %w", err)
		}
		b.cache = cache
	}
	return b, nil
}

// Embed returns one vector per text, in input order. Repeated texts are sent once.
// Any chunk failure fails the whole call.
func (b *Batcher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	// texts not yet known, deduplicated, with every position they fill
	var pending []string
	positions := make(map[string][]int)
	for i, text := range texts {
		if b.cache != nil {
			if v, ok := b.cache.Get(text); ok {
				vectors[i] = v
				continue
			}
		}
		if _, seen := positions[text]; !seen {
			pending = append(pending, text)
		}
		positions[text] = append(positions[text], i)
	}

	if len(pending) > 0 {
		fetched, err := b.fetch(ctx, pending)
		if err != nil {
			return nil, err
		}
		for j, text := range pending {
			for _, i := range positions[text] {
				vectors[i] = fetched[j]
			}
		}
	}

	if err := checkDimensions(vectors); err != nil {
		return nil, err
	}
	if b.cache != nil {
		for _, text := range pending {
			b.cache.Add(text, vectors[positions[text][0]])
		}
	}

	b.logger.Debug("embedded texts",
		zap.Int("texts", len(texts)),
		zap.Int("requested", len(pending)))
	return vectors, nil
}

func (b *Batcher) fetch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.parallelism)

	for start := 0; start < len(texts); start += b.batchSize {
		end := start + b.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			chunk := texts[start:end]
			vectors, err := b.client.Embed(gctx, chunk)
			if err != nil {
				return fmt.Errorf("failed to embed texts %d-%d: %w", start, end-1, err)
			}
			if len(vectors) != len(chunk) {
				return fmt.Errorf("expected %d embeddings for texts %d-%d, got %d", len(chunk), start, end-1, len(vectors))
			}
			copy(out[start:end], vectors)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func checkDimensions(vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("empty embedding at position %d", i)
		}
		if len(v) != dim {
			return fmt.Errorf("%w: position %d has %d, expected %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return nil
}
