package embedding_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FrenchMajesty/topic-trends/pkg/embedding"
	"github.com/FrenchMajesty/topic-trends/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func lengthVectors(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

func TestNewBatcher_RequiresClient(t *testing.T) {
	_, err := embedding.NewBatcher(nil, embedding.Config{})
	assert.Error(t, err)
}

func TestBatcher_ChunksAndPreservesOrder(t *testing.T) {
	client := &testutil.MockEmbeddingClient{EmbedFunc: lengthVectors}
	b, err := embedding.NewBatcher(client, embedding.Config{BatchSize: 2, Parallelism: 3})
	require.NoError(t, err)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := b.Embed(context.Background(), texts)
	require.NoError(t, err)

	require.Len(t, vectors, len(texts))
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vectors[i][0])
	}
	assert.Equal(t, 3, client.CallCount)
}

func TestBatcher_DeduplicatesAndMemoizes(t *testing.T) {
	client := &testutil.MockEmbeddingClient{EmbedFunc: lengthVectors}
	b, err := embedding.NewBatcher(client, embedding.Config{BatchSize: 10})
	require.NoError(t, err)

	vectors, err := b.Embed(context.Background(), []string{"same", "other", "same"})
	require.NoError(t, err)
	assert.Equal(t, vectors[0], vectors[2])
	assert.ElementsMatch(t, []string{"same", "other"}, client.Texts)

	_, err = b.Embed(context.Background(), []string{"other", "new"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"same", "other", "new"}, client.Texts)

	_, err = b.Embed(context.Background(), []string{"same", "new"})
	require.NoError(t, err)
	assert.Equal(t, 2, client.CallCount, "fully cached call does not reach the client")
}

func TestBatcher_CacheDisabled(t *testing.T) {
	client := &testutil.MockEmbeddingClient{EmbedFunc: lengthVectors}
	b, err := embedding.NewBatcher(client, embedding.Config{CacheSize: -1})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := b.Embed(context.Background(), []string{"x"})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, client.CallCount)
}

func TestBatcher_BoundsParallelism(t *testing.T) {
	var inFlight, peak int32
	client := &testutil.MockEmbeddingClient{EmbedFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return lengthVectors(ctx, texts)
	}}
	b, err := embedding.NewBatcher(client, embedding.Config{BatchSize: 1, Parallelism: 2})
	require.NoError(t, err)

	texts := make([]string, 8)
	for i := range texts {
		texts[i] = strings.Repeat("t", i+1)
	}
	_, err = b.Embed(context.Background(), texts)
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestBatcher_ChunkFailureFailsCall(t *testing.T) {
	client := &testutil.MockEmbeddingClient{EmbedFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
		if texts[0] == "bad" {
			return nil, errors.New("provider down")
		}
		return lengthVectors(ctx, texts)
	}}
	b, err := embedding.NewBatcher(client, embedding.Config{BatchSize: 1})
	require.NoError(t, err)

	_, err = b.Embed(context.Background(), []string{"good", "bad"})
	assert.ErrorContains(t, err, "provider down")

	// a failed call caches nothing
	_, err = b.Embed(context.Background(), []string{"good"})
	require.NoError(t, err)
}

func TestBatcher_RejectsShortAndMismatchedReplies(t *testing.T) {
	short := &testutil.MockEmbeddingClient{EmbedFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1}}, nil
	}}
	b, err := embedding.NewBatcher(short, embedding.Config{BatchSize: 5})
	require.NoError(t, err)
	_, err = b.Embed(context.Background(), []string{"a", "b"})
	assert.Error(t, err)

	mixed := &testutil.MockEmbeddingClient{EmbedFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1}, {1, 2}}, nil
	}}
	b, err = embedding.NewBatcher(mixed, embedding.Config{BatchSize: 5})
	require.NoError(t, err)
	_, err = b.Embed(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, embedding.ErrDimensionMismatch)
}

func TestBatcher_Empty(t *testing.T) {
	client := &testutil.MockEmbeddingClient{}
	b, err := embedding.NewBatcher(client, embedding.Config{})
	require.NoError(t, err)

	vectors, err := b.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Equal(t, 0, client.CallCount)
}
