package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/FrenchMajesty/topic-trends/pkg/adapters"
	"github.com/FrenchMajesty/topic-trends/pkg/clustering"
	"github.com/FrenchMajesty/topic-trends/pkg/embedding"
	"github.com/FrenchMajesty/topic-trends/pkg/source"
	"github.com/FrenchMajesty/topic-trends/pkg/store"
	"github.com/FrenchMajesty/topic-trends/pkg/taxonomy"
	"github.com/FrenchMajesty/topic-trends/pkg/trend"
	"github.com/FrenchMajesty/topic-trends/pkg/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Pipeline turns a window of dated feedback into a taxonomy and a trend ledger.
// Each call to Run is an isolated session with its own taxonomy, agent and ledger.
type Pipeline struct {
	cfg      Config
	embedder *embedding.Batcher
	llm      taxonomy.LLMClient
	engine   *clustering.Engine
	logger   *zap.Logger
}

// Result is everything a run produced
type Result struct {
	RunID    string
	Items    int
	Days     []types.DayOutcome
	Taxonomy []string
	Ledger   *trend.Ledger

	// WindowDays is the matrix width the pipeline was configured with
	WindowDays int
}

// Matrix materializes the run's ledger over the configured window
func (r *Result) Matrix() (*trend.Matrix, error) {
	return r.Ledger.Matrix(r.WindowDays)
}

// New creates a Pipeline with the given configuration
func New(cfg Config) (*Pipeline, error) {
	if cfg.Source == nil {
		return nil, errors.New("feedback source is required")
	}
	if !cfg.Since.IsValid() {
		return nil, errors.New("window start date is required")
	}
	if cfg.Until.IsValid() && cfg.Until.Before(cfg.Since) {
		return nil, fmt.Errorf("window end %s precedes start %s", cfg.Until, cfg.Since)
	}
	cfg.applyDefaults()

	var embeddingClient EmbeddingClient
	if cfg.EmbeddingClient != nil {
		embeddingClient = cfg.EmbeddingClient
	} else {
		client, err := adapters.NewVoyageEmbeddingAdapter(optional(cfg.EmbeddingAPIKey), cfg.EmbeddingModel)
		if err != nil {
			return nil, fmt.Errorf("failed to create default embedding client: %w", err)
		}
		embeddingClient = client
	}

	embedder, err := embedding.NewBatcher(embeddingClient, cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding batcher: %w", err)
	}

	var llmClient taxonomy.LLMClient
	if cfg.LLMClient != nil {
		llmClient = cfg.LLMClient
	} else {
		client, err := adapters.NewDefaultLLMClient(optional(cfg.LLMAPIKey), adapters.LLMOptions{
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			Temperature: cfg.Temperature,
			DumpDir:     cfg.DumpDir,
			Logger:      cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create default LLM client: %w", err)
		}
		llmClient = client
	}

	engine, err := clustering.NewEngine(cfg.Clustering)
	if err != nil {
		return nil, fmt.Errorf("failed to create clustering engine: %w", err)
	}

	return &Pipeline{
		cfg:      cfg,
		embedder: embedder,
		llm:      llmClient,
		engine:   engine,
		logger:   cfg.Logger,
	}, nil
}

// session is the state of one Run
type session struct {
	*Pipeline
	runID  string
	agent  *taxonomy.Agent
	ledger *trend.Ledger
	logger *zap.Logger
}

// Run collects the window, processes each day in chronological order and returns the
// outcome. Only source failures, recorder failures and cancellation abort a run; day-level
// problems are contained in that day's outcome.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	runID := uuid.NewString()
	logger := p.logger.With(zap.String("run_id", runID))

	agent, err := taxonomy.NewAgent(taxonomy.New(p.cfg.Seed), taxonomy.AgentConfig{
		LLMClient:      p.llm,
		SampleSize:     p.cfg.SampleSize,
		MaxSampleChars: p.cfg.MaxSampleChars,
		Timeout:        p.cfg.ClassifyTimeout,
		Retry:          p.cfg.ClassifyRetry,
		MaxTopics:      p.cfg.MaxTopics,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create taxonomy agent: %w", err)
	}

	s := &session{
		Pipeline: p,
		runID:    runID,
		agent:    agent,
		ledger:   trend.NewLedger(),
		logger:   logger,
	}

	result, err := s.run(ctx)
	if err != nil {
		s.finish(store.RunFailed)
		return nil, err
	}
	s.finish(store.RunCompleted)
	return result, nil
}

func (s *session) run(ctx context.Context) (*Result, error) {
	if s.cfg.Recorder != nil {
		err := s.cfg.Recorder.StartRun(ctx, store.Run{
			ID:        s.runID,
			Source:    s.cfg.SourceName,
			Since:     s.cfg.Since,
			Until:     s.cfg.Until,
			StartedAt: time.Now(),
		}, s.agent.Topics())
		if err != nil {
			return nil, fmt.Errorf("failed to record run start: %w", err)
		}
	}

	s.logger.Info("collecting feedback",
		zap.String("since", s.cfg.Since.String()),
		zap.String("until", s.cfg.Until.String()),
		zap.Int("seed_topics", s.agent.Len()))

	items, err := source.Collect(ctx, s.cfg.Source, source.CollectOptions{
		Since:    s.cfg.Since,
		Until:    s.cfg.Until,
		Delay:    s.cfg.PageDelay,
		MaxPages: s.cfg.MaxPages,
		Logger:   s.logger,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{RunID: s.runID, Items: len(items), Ledger: s.ledger, WindowDays: s.cfg.WindowDays}
	for _, batch := range source.GroupByDay(items) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(batch.Items) == 0 {
			continue
		}

		outcome := s.processDay(ctx, batch)
		// A day cut short by cancellation is neither counted nor recorded
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.ledger.Record(outcome.Date, outcome.Counts)
		result.Days = append(result.Days, outcome)

		if s.cfg.Recorder != nil {
			if err := s.cfg.Recorder.RecordDay(ctx, s.runID, outcome); err != nil {
				return nil, fmt.Errorf("failed to record day %s: %w", outcome.Date, err)
			}
		}
	}

	result.Taxonomy = s.agent.Topics()
	if s.cfg.Persistence != nil {
		if err := s.cfg.Persistence.Save(result.Taxonomy); err != nil {
			return nil, fmt.Errorf("failed to save taxonomy: %w", err)
		}
	}

	s.logger.Info("run complete",
		zap.Int("items", result.Items),
		zap.Int("days", len(result.Days)),
		zap.Int("topics", len(result.Taxonomy)),
		zap.Int("observations", s.ledger.Len()))
	return result, nil
}

// finish records the final run status. It uses a fresh context so a canceled run is still
// marked failed.
func (s *session) finish(status string) {
	if s.cfg.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cfg.Recorder.FinishRun(ctx, s.runID, status, s.agent.Len()); err != nil {
		s.logger.Warn("failed to record run finish", zap.String("status", status), zap.Error(err))
	}
}

// optional turns an empty credential into nil so the adapter falls back to the environment
func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
