package pipeline

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/FrenchMajesty/topic-trends/internal/retry"
	"github.com/FrenchMajesty/topic-trends/pkg/source"
	"github.com/FrenchMajesty/topic-trends/pkg/store"
	"github.com/FrenchMajesty/topic-trends/pkg/taxonomy"
	"github.com/FrenchMajesty/topic-trends/pkg/testutil"
	"github.com/FrenchMajesty/topic-trends/pkg/trend"
	"github.com/FrenchMajesty/topic-trends/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func day(d int) civil.Date {
	return civil.Date{Year: 2024, Month: 6, Day: d}
}

// topicVectors places delivery complaints and map complaints far apart
func topicVectors(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		switch {
		case strings.Contains(text, "map"):
			out[i] = []float32{10, 10}
		default:
			out[i] = []float32{0, 0}
		}
	}
	return out, nil
}

func feedback(id string, d int, text string) types.FeedbackItem {
	return types.FeedbackItem{ID: id, Text: text, Date: day(d)}
}

// scenarioSource has six items on day 1 (four delivery, two map) and three on day 2
func scenarioSource() *testutil.MockSource {
	return &testutil.MockSource{Pages: []source.Page{{Items: []types.FeedbackItem{
		feedback("9", 2, "cold food"),
		feedback("8", 2, "app froze"),
		feedback("7", 2, "refund pending"),
		feedback("6", 1, "late order again"),
		feedback("5", 1, "the map pin is wrong"),
		feedback("4", 1, "late delivery"),
		feedback("3", 1, "map shows old address"),
		feedback("2", 1, "late courier"),
		feedback("1", 1, "late by an hour"),
	}}}}
}

const dayOneReply = `{
	"cluster_mappings": {"Cluster 0": "Delivery issue", "Cluster 1": "Map accuracy"},
	"new_taxonomy_additions": ["Map accuracy"]
}`

func scenarioLLM() *testutil.MockLLMClient {
	llm := &testutil.MockLLMClient{}
	llm.ClassifyFunc = func(ctx context.Context, prompt string) (string, error) {
		if llm.CallCount == 1 {
			return dayOneReply, nil
		}
		return "", errors.New("classifier unavailable")
	}
	return llm
}

func testConfig(t *testing.T, src source.Source, llm taxonomy.LLMClient) Config {
	return Config{
		Source:          src,
		Since:           day(1),
		PageDelay:       -1,
		EmbeddingClient: &testutil.MockEmbeddingClient{EmbedFunc: topicVectors},
		LLMClient:       llm,
		ClassifyRetry:   &retry.Config{MaxRetries: 0},
		Logger:          zaptest.NewLogger(t),
	}
}

func run(t *testing.T, cfg Config) *Result {
	t.Helper()
	p, err := New(cfg)
	require.NoError(t, err)
	result, err := p.Run(context.Background())
	require.NoError(t, err)
	return result
}

func TestNew_Validation(t *testing.T) {
	llm := &testutil.MockLLMClient{}

	_, err := New(Config{Since: day(1), LLMClient: llm, EmbeddingClient: &testutil.MockEmbeddingClient{}})
	assert.Error(t, err, "source required")

	_, err = New(Config{Source: &testutil.MockSource{}, LLMClient: llm, EmbeddingClient: &testutil.MockEmbeddingClient{}})
	assert.Error(t, err, "window start required")

	cfg := testConfig(t, &testutil.MockSource{}, llm)
	cfg.Until = civil.Date{Year: 2024, Month: 5, Day: 1}
	_, err = New(cfg)
	assert.Error(t, err, "window end before start")

	cfg = testConfig(t, &testutil.MockSource{}, llm)
	cfg.Clustering.DistanceThreshold = -1
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestNew_DefaultClientsNeedCredentials(t *testing.T) {
	t.Setenv("VOYAGEAI_API_KEY", "")
	cfg := testConfig(t, &testutil.MockSource{}, &testutil.MockLLMClient{})
	cfg.EmbeddingClient = nil
	_, err := New(cfg)
	assert.ErrorContains(t, err, "VOYAGEAI_API_KEY")

	t.Setenv("OPENAI_API_KEY", "")
	cfg = testConfig(t, &testutil.MockSource{}, nil)
	_, err = New(cfg)
	assert.ErrorContains(t, err, "OPENAI_API_KEY")
}

func TestRun_ExistingAndNewTopicThenClassifierFailure(t *testing.T) {
	llm := scenarioLLM()
	result := run(t, testConfig(t, scenarioSource(), llm))

	require.Len(t, result.Days, 2)
	assert.Equal(t, 9, result.Items)

	first := result.Days[0]
	assert.Equal(t, day(1), first.Date)
	assert.Equal(t, 6, first.Items)
	assert.Equal(t, 2, first.Clusters)
	assert.Equal(t, types.DayOK, first.Status)
	assert.Equal(t, []string{"Map accuracy"}, first.Added)
	assert.Equal(t, map[string]int{"Delivery issue": 4, "Map accuracy": 2}, first.Counts)

	second := result.Days[1]
	assert.Equal(t, types.DayUnclassified, second.Status)
	assert.Equal(t, map[string]int{types.Uncategorized: 3}, second.Counts)
	assert.Contains(t, second.Error, "classifier unavailable")

	assert.Equal(t, append(append([]string{}, taxonomy.DefaultSeed...), "Map accuracy"), result.Taxonomy)
	assert.Equal(t, []trend.Observation{
		{Date: day(1), Topic: "Delivery issue", Count: 4},
		{Date: day(1), Topic: "Map accuracy", Count: 2},
		{Date: day(2), Topic: types.Uncategorized, Count: 3},
	}, result.Ledger.Observations())
	assert.Equal(t, 2, llm.Calls(), "one classification request per day")
}

func TestRun_CountsAreConservedPerDay(t *testing.T) {
	result := run(t, testConfig(t, scenarioSource(), scenarioLLM()))

	for _, outcome := range result.Days {
		assert.Equal(t, outcome.Items, result.Ledger.Total(outcome.Date), outcome.Date.String())
	}

	m, err := result.Matrix()
	require.NoError(t, err)
	assert.Len(t, m.Dates, trend.DefaultWindowDays)
	assert.Equal(t, day(2), m.Dates[len(m.Dates)-1])
}

func TestRun_EmbeddingFailureDegradesToSingleCluster(t *testing.T) {
	cfg := testConfig(t, scenarioSource(), &testutil.MockLLMClient{ClassifyFunc: func(ctx context.Context, prompt string) (string, error) {
		return `{"cluster_mappings": {"Cluster 0": "Mixed complaints"}}`, nil
	}})
	cfg.EmbeddingClient = &testutil.MockEmbeddingClient{EmbedFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("embedding provider down")
	}}

	result := run(t, cfg)

	require.Len(t, result.Days, 2)
	for _, outcome := range result.Days {
		assert.Equal(t, types.DayDegraded, outcome.Status)
		assert.Equal(t, 1, outcome.Clusters)
		assert.Contains(t, outcome.Error, "embedding provider down")
		assert.Equal(t, map[string]int{"Mixed complaints": outcome.Items}, outcome.Counts)
	}
	assert.Contains(t, result.Taxonomy, "Mixed complaints")
}

func TestRun_MalformedVectorsDegrade(t *testing.T) {
	cfg := testConfig(t, scenarioSource(), &testutil.MockLLMClient{})
	cfg.EmbeddingClient = &testutil.MockEmbeddingClient{EmbedFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = []float32{float32(i), float32(math.NaN())}
		}
		return out, nil
	}}

	result := run(t, cfg)

	for _, outcome := range result.Days {
		assert.Equal(t, types.DayDegraded, outcome.Status)
		assert.Equal(t, map[string]int{types.Uncategorized: outcome.Items}, outcome.Counts)
	}
}

func TestRun_SourceFailureIsFatal(t *testing.T) {
	llm := &testutil.MockLLMClient{}
	src := &testutil.MockSource{FetchPageFunc: func(ctx context.Context, cursor string) (source.Page, error) {
		return source.Page{}, errors.New("503 from review API")
	}}

	p, err := New(testConfig(t, src, llm))
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	assert.ErrorIs(t, err, source.ErrSourceUnavailable)
	assert.Equal(t, 0, llm.Calls())
}

func TestRun_EmptyWindowProducesNoData(t *testing.T) {
	result := run(t, testConfig(t, &testutil.MockSource{}, &testutil.MockLLMClient{}))

	assert.Empty(t, result.Days)
	assert.Equal(t, taxonomy.DefaultSeed, result.Taxonomy)
	_, err := result.Matrix()
	assert.ErrorIs(t, err, trend.ErrNoTrendData)
}

func TestRun_SessionsAreIsolated(t *testing.T) {
	llm := &testutil.MockLLMClient{ClassifyFunc: func(ctx context.Context, prompt string) (string, error) {
		return dayOneReply, nil
	}}
	p, err := New(testConfig(t, scenarioSource(), llm))
	require.NoError(t, err)

	first, err := p.Run(context.Background())
	require.NoError(t, err)
	second, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Taxonomy, second.Taxonomy)
	assert.Equal(t, []string{"Map accuracy"}, second.Days[0].Added, "second run starts from the seed again")
	assert.Equal(t, first.Ledger.Observations(), second.Ledger.Observations())
}

func TestRun_TaxonomyGrowsMonotonically(t *testing.T) {
	replies := []string{
		`{"cluster_mappings": {"Cluster 0": "Late courier"}, "new_taxonomy_additions": ["Late courier"]}`,
		`{"cluster_mappings": {"Cluster 0": "Cold food", "Cluster 1": "Late courier"}}`,
	}
	llm := &testutil.MockLLMClient{}
	llm.ClassifyFunc = func(ctx context.Context, prompt string) (string, error) {
		return replies[(llm.CallCount-1)%len(replies)], nil
	}

	result := run(t, testConfig(t, scenarioSource(), llm))

	size := len(taxonomy.DefaultSeed)
	for _, outcome := range result.Days {
		size += len(outcome.Added)
	}
	assert.Equal(t, size, len(result.Taxonomy))
	assert.Equal(t, append(append([]string{}, taxonomy.DefaultSeed...), "Late courier", "Cold food"), result.Taxonomy)
}

func TestRun_MaxTopicsRejectsGrowth(t *testing.T) {
	cfg := testConfig(t, scenarioSource(), scenarioLLM())
	cfg.MaxTopics = len(taxonomy.DefaultSeed)

	result := run(t, cfg)

	assert.Equal(t, taxonomy.DefaultSeed, result.Taxonomy)
	assert.Equal(t, []string{"Map accuracy"}, result.Days[0].Rejected)
	assert.Equal(t, map[string]int{"Delivery issue": 4, types.Uncategorized: 2}, result.Days[0].Counts)
}

func TestRun_HintsFromClusterIndex(t *testing.T) {
	llm := scenarioLLM()
	index := testutil.NewMockVectorClient()
	index.SearchFunc = func(ctx context.Context, vector []float32, topK int) ([]types.VectorMatch, error) {
		if vector[0] > 5 {
			return []types.VectorMatch{{ID: "old", Score: 0.95, Metadata: map[string]any{"topic": "Map accuracy"}}}, nil
		}
		return []types.VectorMatch{{ID: "weak", Score: 0.5, Metadata: map[string]any{"topic": "Food quality"}}}, nil
	}

	cfg := testConfig(t, scenarioSource(), llm)
	cfg.VectorClient = index
	cfg.Source = &testutil.MockSource{Pages: []source.Page{{Items: scenarioSource().Pages[0].Items[3:]}}}

	result := run(t, cfg)

	assert.Contains(t, llm.LastPrompt, `previously labelled \"Map accuracy\"`)
	assert.NotContains(t, llm.LastPrompt, "Food quality\\\"")

	require.Equal(t, 2, index.UpsertCount)
	stored, ok := index.Storage[result.RunID+"/2024-06-01/1"]
	require.True(t, ok)
	assert.Equal(t, "Map accuracy", stored.Metadata["topic"])
	assert.Equal(t, 2, stored.Metadata["size"])
	assert.Equal(t, []float32{10, 10}, stored.Vector)
}

func TestRun_UnclassifiedDaysAreNotIndexed(t *testing.T) {
	index := testutil.NewMockVectorClient()
	cfg := testConfig(t, scenarioSource(), &testutil.MockLLMClient{ClassifyFunc: func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("down")
	}})
	cfg.VectorClient = index

	run(t, cfg)

	assert.Equal(t, 0, index.UpsertCount)
}

func TestRun_IndexFailuresAreNotFatal(t *testing.T) {
	index := testutil.NewMockVectorClient()
	index.SearchFunc = func(ctx context.Context, vector []float32, topK int) ([]types.VectorMatch, error) {
		return nil, errors.New("search down")
	}
	index.UpsertFunc = func(ctx context.Context, id string, vector []float32, metadata map[string]any) error {
		return errors.New("upsert down")
	}
	cfg := testConfig(t, scenarioSource(), scenarioLLM())
	cfg.VectorClient = index

	result := run(t, cfg)
	assert.Equal(t, types.DayOK, result.Days[0].Status)
}

func TestRun_RecordsProvenanceAndSavesTaxonomy(t *testing.T) {
	db, err := store.Open(store.MemoryPath)
	require.NoError(t, err)
	defer db.Close()

	persistence := &testutil.MockPersistence{}
	cfg := testConfig(t, scenarioSource(), scenarioLLM())
	cfg.Recorder = db
	cfg.Persistence = persistence
	cfg.SourceName = "csv"

	result := run(t, cfg)
	ctx := context.Background()

	stored, err := db.Observations(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, result.Ledger.Observations(), stored)

	topics, err := db.Taxonomy(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, result.Taxonomy, topics)

	runRow, err := db.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, runRow.Status)
	assert.Equal(t, "csv", runRow.Source)
	assert.Equal(t, len(result.Taxonomy), runRow.Topics)

	outcomes, err := db.Outcomes(ctx, result.RunID)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, types.DayUnclassified, outcomes[1].Status)

	assert.Equal(t, 1, persistence.SaveCount)
	assert.Equal(t, result.Taxonomy, persistence.Saved)
}

func TestRun_FailedRunIsMarked(t *testing.T) {
	db, err := store.Open(store.MemoryPath)
	require.NoError(t, err)
	defer db.Close()

	var runID string
	src := &testutil.MockSource{FetchPageFunc: func(ctx context.Context, cursor string) (source.Page, error) {
		return source.Page{}, errors.New("unreachable")
	}}
	cfg := testConfig(t, src, &testutil.MockLLMClient{})
	cfg.Recorder = &capturingRecorder{Store: db, runID: &runID}

	p, err := New(cfg)
	require.NoError(t, err)
	_, err = p.Run(context.Background())
	require.Error(t, err)

	runRow, err := db.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, runRow.Status)
}

func TestRun_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	llm := &testutil.MockLLMClient{}
	llm.ClassifyFunc = func(c context.Context, prompt string) (string, error) {
		cancel()
		return dayOneReply, nil
	}

	p, err := New(testConfig(t, scenarioSource(), llm))
	require.NoError(t, err)

	_, err = p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, llm.Calls(), "no day starts after cancellation")
}

func TestRun_CancellationMidDayIsNotRecorded(t *testing.T) {
	db, err := store.Open(store.MemoryPath)
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	llm := &testutil.MockLLMClient{}
	llm.ClassifyFunc = func(c context.Context, prompt string) (string, error) {
		cancel()
		<-c.Done()
		return "", c.Err()
	}

	var runID string
	cfg := testConfig(t, scenarioSource(), llm)
	cfg.Recorder = &capturingRecorder{Store: db, runID: &runID}

	p, err := New(cfg)
	require.NoError(t, err)

	_, err = p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, err.Error(), "failed to record day")

	outcomes, err := db.Outcomes(context.Background(), runID)
	require.NoError(t, err)
	assert.Empty(t, outcomes)

	observations, err := db.Observations(context.Background(), runID)
	require.NoError(t, err)
	assert.Empty(t, observations)

	runRow, err := db.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, runRow.Status)
}

func TestRun_MatrixUsesConfiguredWindow(t *testing.T) {
	cfg := testConfig(t, scenarioSource(), scenarioLLM())
	cfg.WindowDays = 7

	result := run(t, cfg)

	m, err := result.Matrix()
	require.NoError(t, err)
	assert.Len(t, m.Dates, 7)
	assert.Equal(t, day(2), m.Dates[6])
}

func TestNew_ExplicitCredentialsSkipEnvironment(t *testing.T) {
	t.Setenv("VOYAGEAI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg := testConfig(t, &testutil.MockSource{}, nil)
	cfg.EmbeddingClient = nil
	cfg.EmbeddingAPIKey = "voyage-key"
	cfg.LLMAPIKey = "openai-key"
	cfg.DumpDir = t.TempDir()

	_, err := New(cfg)
	assert.NoError(t, err)
}

// capturingRecorder exposes the generated run ID
type capturingRecorder struct {
	*store.Store
	runID *string
}

func (r *capturingRecorder) StartRun(ctx context.Context, run store.Run, seed []string) error {
	*r.runID = run.ID
	return r.Store.StartRun(ctx, run, seed)
}
