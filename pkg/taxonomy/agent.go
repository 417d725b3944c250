package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/FrenchMajesty/topic-trends/internal/retry"
	"github.com/FrenchMajesty/topic-trends/pkg/types"
	"go.uber.org/zap"
)

const (
	// DefaultSampleSize is how many member texts represent a cluster in the prompt
	DefaultSampleSize = 5

	// DefaultMaxSampleChars truncates each sample text to this many characters
	DefaultMaxSampleChars = 300

	// DefaultTimeout bounds a single classification attempt
	DefaultTimeout = 60 * time.Second
)

// AgentConfig holds configuration for the reconciliation Agent
type AgentConfig struct {
	// LLMClient performs the classification call. Required.
	LLMClient LLMClient

	// SampleSize caps the member texts sent per cluster. If 0, uses DefaultSampleSize.
	SampleSize int

	// MaxSampleChars truncates each sample. If 0, uses DefaultMaxSampleChars.
	MaxSampleChars int

	// Timeout bounds each attempt. If 0, uses DefaultTimeout.
	Timeout time.Duration

	// Retry controls re-attempts after a failure. If nil, one retry is allowed.
	Retry *retry.Config

	// MaxTopics stops the taxonomy from growing past this size. 0 means unbounded.
	MaxTopics int

	Logger *zap.Logger
}

func (c *AgentConfig) applyDefaults() {
	if c.SampleSize <= 0 {
		c.SampleSize = DefaultSampleSize
	}
	if c.MaxSampleChars <= 0 {
		c.MaxSampleChars = DefaultMaxSampleChars
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Retry == nil {
		cfg := retry.SingleRetry()
		c.Retry = &cfg
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// ClusterInput is one provisional cluster as presented to the agent
type ClusterInput struct {
	ID    int
	Texts []string

	// Hint is an optional earlier label for a similar cluster. It is advisory.
	Hint string
}

// Reconciliation is the outcome of reconciling one day's clusters
type Reconciliation struct {
	Date civil.Date

	// Mapping assigns cluster IDs to taxonomy topics. Clusters without an entry are Uncategorized.
	Mapping map[int]string

	// Added lists the topics appended to the taxonomy, in order
	Added []string

	// Rejected lists new topics refused because the taxonomy is at MaxTopics
	Rejected []string

	// Err is set when classification failed and the day fell back to an empty mapping
	Err error
}

// TopicFor returns the topic for a cluster, or Uncategorized when it has none
func (r Reconciliation) TopicFor(clusterID int) string {
	if topic, ok := r.Mapping[clusterID]; ok && topic != "" {
		return topic
	}
	return types.Uncategorized
}

// Agent owns the taxonomy for a run and is the only code allowed to change it.
// It is not safe for concurrent use: days must be reconciled one at a time, in order.
type Agent struct {
	taxonomy       *Taxonomy
	llm            LLMClient
	sampleSize     int
	maxSampleChars int
	timeout        time.Duration
	retry          retry.Config
	maxTopics      int
	logger         *zap.Logger
}

// NewAgent creates an Agent that reconciles against tax
func NewAgent(tax *Taxonomy, cfg AgentConfig) (*Agent, error) {
	if tax == nil {
		return nil, errors.New("taxonomy is required")
	}
	if cfg.LLMClient == nil {
		return nil, errors.New("LLM client is required")
	}
	cfg.applyDefaults()

	return &Agent{
		taxonomy:       tax,
		llm:            cfg.LLMClient,
		sampleSize:     cfg.SampleSize,
		maxSampleChars: cfg.MaxSampleChars,
		timeout:        cfg.Timeout,
		retry:          *cfg.Retry,
		maxTopics:      cfg.MaxTopics,
		logger:         cfg.Logger,
	}, nil
}

// Topics returns a snapshot of the current taxonomy
func (a *Agent) Topics() []string {
	return a.taxonomy.Topics()
}

// Len returns the current taxonomy size
func (a *Agent) Len() int {
	return a.taxonomy.Len()
}

// Reconcile maps the day's clusters onto taxonomy topics with a single classifier call
// and appends the topics it admits. It never returns an error: when classification
// fails the mapping is empty, the taxonomy is untouched and Reconciliation.Err is set.
func (a *Agent) Reconcile(ctx context.Context, date civil.Date, clusters []ClusterInput) Reconciliation {
	result := Reconciliation{Date: date, Mapping: map[int]string{}}
	if len(clusters) == 0 {
		return result
	}

	d, cerr := a.attempt(ctx, clusters)
	if cerr != nil {
		a.logger.Warn("classification failed, day left uncategorized",
			zap.String("date", date.String()),
			zap.Int("clusters", len(clusters)),
			zap.String("stage", cerr.Stage),
			zap.Error(cerr.Err))
		result.Err = cerr
		return result
	}

	added, rejected := a.taxonomy.merge(d.candidates, a.maxTopics)
	if len(rejected) > 0 {
		a.logger.Warn("taxonomy at capacity, new topics rejected",
			zap.String("date", date.String()),
			zap.Int("max_topics", a.maxTopics),
			zap.Strings("rejected", rejected))
	}

	for id, topic := range d.mapping {
		if topic == types.Uncategorized || a.taxonomy.Contains(topic) {
			result.Mapping[id] = topic
		}
	}
	result.Added = added
	result.Rejected = rejected
	return result
}

// decision is a validated classifier reply that has not yet touched the taxonomy
type decision struct {
	mapping    map[int]string
	candidates []string
}

// attempt runs the classification call with a per-attempt timeout and the configured
// retries, and validates the reply.
func (a *Agent) attempt(ctx context.Context, clusters []ClusterInput) (*decision, *ClassificationError) {
	prompt, err := a.buildPrompt(clusters)
	if err != nil {
		return nil, &ClassificationError{Stage: StageRequest, Err: err}
	}

	known := make(map[int]struct{}, len(clusters))
	for _, c := range clusters {
		known[c.ID] = struct{}{}
	}

	opts := retry.Options{
		Config:       a.retry,
		ErrorChecker: retry.AnyError(ctx),
		Logger:       a.logger,
		APIName:      "classification",
	}

	d, err := retry.Execute(ctx, opts, func(int) (*decision, int, []byte, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		raw, err := a.llm.Classify(attemptCtx, prompt)
		if err != nil {
			return nil, 0, nil, &ClassificationError{Stage: StageRequest, Err: err}
		}

		p, err := parsePayload(raw)
		if err != nil {
			return nil, 0, nil, &ClassificationError{Stage: StageParse, Err: err}
		}

		d, err := a.validate(p, known)
		if err != nil {
			return nil, 0, nil, &ClassificationError{Stage: StageValidate, Err: err}
		}
		return d, 0, nil, nil
	})
	if err != nil {
		var cerr *ClassificationError
		if errors.As(err, &cerr) {
			return nil, cerr
		}
		return nil, &ClassificationError{Stage: StageRequest, Err: err}
	}
	return d, nil
}

// validate keeps the mappings for presented clusters with non-blank topics and collects
// the topics to admit: explicit additions first, then mapped topics the classifier used
// without proposing. A cluster named under several key forms with different topics is
// rejected.
func (a *Agent) validate(p *payload, known map[int]struct{}) (*decision, error) {
	d := &decision{mapping: make(map[int]string, len(p.mappings))}
	seen := make(map[string]struct{})

	for _, topic := range p.additions {
		topic = NormalizeTopic(topic)
		if topic == "" || topic == types.Uncategorized {
			continue
		}
		if _, dup := seen[topic]; dup {
			continue
		}
		seen[topic] = struct{}{}
		d.candidates = append(d.candidates, topic)
	}

	keys := make([]string, 0, len(p.mappings))
	for key := range p.mappings {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	named := make(map[int]string, len(keys))
	for _, key := range keys {
		id, ok := parseClusterKey(key)
		if !ok {
			a.logger.Debug("ignoring unrecognized cluster key", zap.String("key", key))
			continue
		}
		if _, ok := known[id]; !ok {
			a.logger.Debug("ignoring mapping for unknown cluster", zap.Int("cluster_id", id))
			continue
		}
		topic := NormalizeTopic(p.mappings[key])
		if prev, dup := named[id]; dup {
			if prev != topic {
				return nil, fmt.Errorf("cluster %d is mapped to both %q and %q", id, prev, topic)
			}
			continue
		}
		named[id] = topic
		if topic != "" {
			d.mapping[id] = topic
		}
	}

	ids := make([]int, 0, len(d.mapping))
	for id := range d.mapping {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		topic := d.mapping[id]
		if topic == types.Uncategorized || a.taxonomy.Contains(topic) {
			continue
		}
		if _, dup := seen[topic]; dup {
			continue
		}
		seen[topic] = struct{}{}
		d.candidates = append(d.candidates, topic)
	}

	return d, nil
}

// String summarizes the reconciliation for logs
func (r Reconciliation) String() string {
	status := "ok"
	if r.Err != nil {
		status = "failed"
	}
	return fmt.Sprintf("%s: %d mapped, %d added (%s)", r.Date, len(r.Mapping), len(r.Added), status)
}
