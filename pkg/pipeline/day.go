package pipeline

import (
	"context"
	"fmt"

	"github.com/FrenchMajesty/topic-trends/pkg/clustering"
	"github.com/FrenchMajesty/topic-trends/pkg/taxonomy"
	"github.com/FrenchMajesty/topic-trends/pkg/types"
	"go.uber.org/zap"
)

// processDay embeds, clusters, reconciles and counts one day. The caller folds the counts
// into the ledger. It never fails: an
// embedding or clustering error collapses the day into one cluster, and a classification
// error leaves every item Uncategorized.
func (s *session) processDay(ctx context.Context, batch types.DayBatch) types.DayOutcome {
	texts := batch.Texts()
	outcome := types.DayOutcome{
		Date:   batch.Date,
		Items:  len(texts),
		Status: types.DayOK,
	}

	vectors, clusters, err := s.cluster(ctx, texts)
	if err != nil {
		s.logger.Warn("day degraded to a single cluster",
			zap.String("date", batch.Date.String()),
			zap.Int("items", len(texts)),
			zap.Error(err))
		outcome.Status = types.DayDegraded
		outcome.Error = err.Error()
		vectors = nil
		clusters = []types.Cluster{singleCluster(len(texts))}
	}
	outcome.Clusters = len(clusters)

	var centroids [][]float32
	if vectors != nil {
		centroids = clustering.Centroids(vectors, clusters)
	}

	inputs := make([]taxonomy.ClusterInput, len(clusters))
	for i, c := range clusters {
		members := make([]string, len(c.Members))
		for j, m := range c.Members {
			members[j] = texts[m]
		}
		inputs[i] = taxonomy.ClusterInput{ID: c.ID, Texts: members}
		if centroids != nil {
			inputs[i].Hint = s.hint(ctx, centroids[i])
		}
	}

	rec := s.agent.Reconcile(ctx, batch.Date, inputs)
	if rec.Err != nil {
		outcome.Status = types.DayUnclassified
		outcome.Error = joinErrors(outcome.Error, rec.Err.Error())
	}
	outcome.Added = rec.Added
	outcome.Rejected = rec.Rejected

	outcome.Mapping = make(map[int]string, len(clusters))
	outcome.Counts = make(map[string]int)
	for _, c := range clusters {
		topic := rec.TopicFor(c.ID)
		outcome.Mapping[c.ID] = topic
		outcome.Counts[topic] += c.Size()
	}

	if centroids != nil && rec.Err == nil {
		s.index(ctx, batch, clusters, centroids, outcome.Mapping)
	}

	s.logger.Info("day processed",
		zap.String("date", batch.Date.String()),
		zap.Int("items", outcome.Items),
		zap.Int("clusters", outcome.Clusters),
		zap.String("status", string(outcome.Status)),
		zap.Strings("added", outcome.Added),
		zap.Int("taxonomy_size", s.agent.Len()))
	return outcome
}

func (s *session) cluster(ctx context.Context, texts []string) ([][]float32, []types.Cluster, error) {
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, nil, fmt.Errorf("embedding failed: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, nil, fmt.Errorf("embedding failed: expected %d vectors, got %d", len(texts), len(vectors))
	}

	clusters, err := s.engine.Cluster(vectors)
	if err != nil {
		return nil, nil, fmt.Errorf("clustering failed: %w", err)
	}
	return vectors, clusters, nil
}

// hint returns the topic of the closest indexed cluster when it is similar enough
func (s *session) hint(ctx context.Context, centroid []float32) string {
	if s.cfg.VectorClient == nil {
		return ""
	}
	matches, err := s.cfg.VectorClient.Search(ctx, centroid, 1)
	if err != nil {
		s.logger.Warn("cluster index search failed", zap.Error(err))
		return ""
	}
	if len(matches) == 0 || matches[0].Score < s.cfg.MinHintSimilarity {
		return ""
	}
	topic, _ := matches[0].Metadata["topic"].(string)
	if topic == types.Uncategorized {
		return ""
	}
	return topic
}

// index stores the labelled centroids so later days and runs can draw hints from them
func (s *session) index(ctx context.Context, batch types.DayBatch, clusters []types.Cluster, centroids [][]float32, mapping map[int]string) {
	if s.cfg.VectorClient == nil {
		return
	}
	for i, c := range clusters {
		topic := mapping[c.ID]
		if topic == types.Uncategorized {
			continue
		}
		ref := types.ClusterRef{Date: batch.Date, ID: c.ID}
		metadata := map[string]any{
			"run_id":     s.runID,
			"date":       batch.Date.String(),
			"cluster_id": c.ID,
			"topic":      topic,
			"size":       c.Size(),
		}
		if err := s.cfg.VectorClient.Upsert(ctx, s.runID+"/"+ref.String(), centroids[i], metadata); err != nil {
			s.logger.Warn("cluster index upsert failed", zap.String("cluster", ref.String()), zap.Error(err))
		}
	}
}

func singleCluster(n int) types.Cluster {
	members := make([]int, n)
	for i := range members {
		members[i] = i
	}
	return types.Cluster{ID: 0, Members: members}
}

func joinErrors(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
