package taxonomy

import (
	"encoding/json"
	"fmt"
	"strings"
)

const promptTemplate = `You are a Senior Product Analyst Agent.

Current Topic Taxonomy: %s

New Review Clusters (Daily Batch):
%s

TASK:
1. Classify each Cluster into an existing topic from the Taxonomy OR create a NEW topic name if it represents a new trend.
2. MERGE synonyms. If a cluster is "Delivery guy rude" and taxonomy has "Delivery partner rude", map it to "Delivery partner rude".
3. BE SPECIFIC. Avoid generic topics like "Good app". Use "Bolt delivery request" or "Map accuracy" if evident.
4. Clusters may overlap with each other. Map overlapping clusters to the same topic.
5. List every topic you use that is not already in the Taxonomy under new_taxonomy_additions.

OUTPUT JSON FORMAT ONLY:
{
    "cluster_mappings": { "Cluster 0": "Topic Name", ... },
    "new_taxonomy_additions": ["New Topic 1", ...]
}`

// buildPrompt renders the single per-day request: the whole taxonomy plus a short
// sample of every cluster.
func (a *Agent) buildPrompt(clusters []ClusterInput) (string, error) {
	taxonomyJSON, err := json.Marshal(a.taxonomy.Topics())
	if err != nil {
		return "", fmt.Errorf("failed to encode taxonomy: %w", err)
	}

	descriptions := make([]string, len(clusters))
	for i, c := range clusters {
		descriptions[i] = a.describe(c)
	}
	clustersJSON, err := json.Marshal(descriptions)
	if err != nil {
		return "", fmt.Errorf("failed to encode clusters: %w", err)
	}

	return fmt.Sprintf(promptTemplate, taxonomyJSON, clustersJSON), nil
}

func (a *Agent) describe(c ClusterInput) string {
	n := len(c.Texts)
	if n > a.sampleSize {
		n = a.sampleSize
	}
	samples := make([]string, 0, n)
	for _, text := range c.Texts[:n] {
		samples = append(samples, truncate(strings.Join(strings.Fields(text), " "), a.maxSampleChars))
	}

	meta := fmt.Sprintf("%d reviews", len(c.Texts))
	if c.Hint != "" {
		meta += fmt.Sprintf(", previously labelled %q", c.Hint)
	}
	return fmt.Sprintf("%s (%s): %s", clusterKey(c.ID), meta, strings.Join(samples, " | "))
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
