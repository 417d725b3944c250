package types

import (
	"fmt"

	"cloud.google.com/go/civil"
)

// Uncategorized is the topic assigned to clusters the classifier did not map
const Uncategorized = "Uncategorized"

// FeedbackItem is a single dated piece of user feedback
type FeedbackItem struct {
	ID   string
	Text string
	Date civil.Date
}

// DayBatch holds every item that was submitted on one calendar day
type DayBatch struct {
	Date  civil.Date
	Items []FeedbackItem
}

// Texts returns the item texts in batch order
func (b DayBatch) Texts() []string {
	texts := make([]string, len(b.Items))
	for i, item := range b.Items {
		texts[i] = item.Text
	}
	return texts
}

// Cluster is a provisional group of semantically similar items within one day.
// Members holds indices into the day's item slice.
type Cluster struct {
	ID      int
	Members []int
}

// Size returns the number of items in the cluster
func (c Cluster) Size() int {
	return len(c.Members)
}

// ClusterRef identifies a cluster outside the scope of its day
type ClusterRef struct {
	Date civil.Date
	ID   int
}

func (r ClusterRef) String() string {
	return fmt.Sprintf("%s/%d", r.Date, r.ID)
}

// VectorMatch represents a single match from a vector search
type VectorMatch struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// DayStatus summarizes how a day was processed
type DayStatus string

const (
	// DayOK means the day was clustered and classified normally
	DayOK DayStatus = "ok"

	// DayDegraded means embedding or clustering failed and the day was reconciled as a
	// single cluster
	DayDegraded DayStatus = "degraded"

	// DayUnclassified means the classifier failed and every item is Uncategorized
	DayUnclassified DayStatus = "unclassified"
)

// DayOutcome is the audit record of one processed day
type DayOutcome struct {
	Date     civil.Date
	Items    int
	Clusters int
	Status   DayStatus

	// Mapping is the topic assigned to each cluster, by cluster ID
	Mapping map[int]string

	// Counts is the number of items attributed to each topic, Uncategorized included
	Counts map[string]int

	Added    []string
	Rejected []string

	// Error describes the degradation or classification failure, if any
	Error string
}
