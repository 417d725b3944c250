package taxonomy

import (
	"strings"

	"github.com/FrenchMajesty/topic-trends/pkg/types"
	"golang.org/x/text/unicode/norm"
)

// DefaultSeed is the starting taxonomy used when no seed file is configured
var DefaultSeed = []string{
	"Delivery issue",
	"App crash/bugs",
	"Food quality",
	"Refund/Payment issue",
}

// Taxonomy is the ordered, duplicate-free list of topic names accumulated over a run.
// It only grows. The sole write path is merge, which is reached through Agent.Reconcile.
type Taxonomy struct {
	topics []string
	index  map[string]struct{}
}

// New creates a Taxonomy from seed topics. Seeds are normalized; blank, reserved and
// duplicate entries are dropped.
func New(seed []string) *Taxonomy {
	t := &Taxonomy{index: make(map[string]struct{}, len(seed))}
	for _, topic := range seed {
		topic = NormalizeTopic(topic)
		if topic == "" || topic == types.Uncategorized {
			continue
		}
		if _, ok := t.index[topic]; ok {
			continue
		}
		t.topics = append(t.topics, topic)
		t.index[topic] = struct{}{}
	}
	return t
}

// Topics returns a copy of the topics in insertion order
func (t *Taxonomy) Topics() []string {
	out := make([]string, len(t.topics))
	copy(out, t.topics)
	return out
}

// Len returns the number of topics
func (t *Taxonomy) Len() int {
	return len(t.topics)
}

// Contains reports whether topic is present (exact, case-sensitive match)
func (t *Taxonomy) Contains(topic string) bool {
	_, ok := t.index[topic]
	return ok
}

// merge appends the candidates that are not already present, in order. Once the
// taxonomy holds maxTopics entries (when maxTopics > 0) remaining new candidates are
// rejected instead.
func (t *Taxonomy) merge(candidates []string, maxTopics int) (added, rejected []string) {
	for _, topic := range candidates {
		if topic == "" || topic == types.Uncategorized || t.Contains(topic) {
			continue
		}
		if maxTopics > 0 && len(t.topics) >= maxTopics {
			rejected = append(rejected, topic)
			continue
		}
		t.topics = append(t.topics, topic)
		t.index[topic] = struct{}{}
		added = append(added, topic)
	}
	return added, rejected
}

// NormalizeTopic puts a topic name in canonical form: NFC, trimmed, inner whitespace
// collapsed to single spaces. Case is preserved.
func NormalizeTopic(topic string) string {
	return strings.Join(strings.Fields(norm.NFC.String(topic)), " ")
}
