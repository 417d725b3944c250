package trend

import (
	"errors"
	"fmt"
	"sort"

	"cloud.google.com/go/civil"
)

// DefaultWindowDays covers the last observed day and the 30 days before it
const DefaultWindowDays = 31

// ErrNoTrendData is returned when a matrix is requested from an empty ledger
var ErrNoTrendData = errors.New("no trend data")

// Observation is the number of items attributed to a topic on a date
type Observation struct {
	Date  civil.Date
	Topic string
	Count int
}

// Ledger is the append-only record of observations for a run
type Ledger struct {
	observations []Observation
	index        map[observationKey]int
}

type observationKey struct {
	date  civil.Date
	topic string
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{index: make(map[observationKey]int)}
}

// Record adds one observation per topic with a positive count, in topic order, and
// returns them. A (date, topic) pair that was already recorded has its count increased.
func (l *Ledger) Record(date civil.Date, counts map[string]int) []Observation {
	topics := make([]string, 0, len(counts))
	for topic, count := range counts {
		if count > 0 {
			topics = append(topics, topic)
		}
	}
	sort.Strings(topics)

	recorded := make([]Observation, 0, len(topics))
	for _, topic := range topics {
		obs := Observation{Date: date, Topic: topic, Count: counts[topic]}
		key := observationKey{date: date, topic: topic}
		if i, ok := l.index[key]; ok {
			l.observations[i].Count += obs.Count
		} else {
			l.index[key] = len(l.observations)
			l.observations = append(l.observations, obs)
		}
		recorded = append(recorded, obs)
	}
	return recorded
}

// Observations returns a copy of every observation in recording order
func (l *Ledger) Observations() []Observation {
	return append([]Observation(nil), l.observations...)
}

// Len returns the number of distinct (date, topic) observations
func (l *Ledger) Len() int {
	return len(l.observations)
}

// Total returns the summed count recorded for date
func (l *Ledger) Total(date civil.Date) int {
	total := 0
	for _, obs := range l.observations {
		if obs.Date == date {
			total += obs.Count
		}
	}
	return total
}

// Matrix is a dense topic-by-date view of a ledger
type Matrix struct {
	Topics []string
	Dates  []civil.Date

	// Counts[i][j] is the count for Topics[i] on Dates[j]
	Counts [][]int
}

// Matrix materializes the ledger over the windowDays days ending at the latest observed
// date. Every topic in the ledger gets a row, even if all of its observations fall
// outside the window. Missing cells are zero.
func (l *Ledger) Matrix(windowDays int) (*Matrix, error) {
	if len(l.observations) == 0 {
		return nil, ErrNoTrendData
	}
	if windowDays <= 0 {
		return nil, fmt.Errorf("window must be at least one day, got %d", windowDays)
	}

	end := l.observations[0].Date
	topicSet := make(map[string]struct{})
	for _, obs := range l.observations {
		if obs.Date.After(end) {
			end = obs.Date
		}
		topicSet[obs.Topic] = struct{}{}
	}
	start := end.AddDays(-(windowDays - 1))

	m := &Matrix{
		Topics: make([]string, 0, len(topicSet)),
		Dates:  make([]civil.Date, windowDays),
	}
	for topic := range topicSet {
		m.Topics = append(m.Topics, topic)
	}
	sort.Strings(m.Topics)
	for i := range m.Dates {
		m.Dates[i] = start.AddDays(i)
	}

	row := make(map[string]int, len(m.Topics))
	m.Counts = make([][]int, len(m.Topics))
	for i, topic := range m.Topics {
		row[topic] = i
		m.Counts[i] = make([]int, windowDays)
	}
	for _, obs := range l.observations {
		if obs.Date.Before(start) {
			continue
		}
		m.Counts[row[obs.Topic]][obs.Date.DaysSince(start)] += obs.Count
	}
	return m, nil
}
