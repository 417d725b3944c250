package clustering

import (
	"errors"
	"fmt"
	"math"

	"github.com/FrenchMajesty/topic-trends/pkg/types"
	"github.com/FrenchMajesty/topic-trends/utils/disjoint_set"
)

const (
	// DefaultDistanceThreshold is the linkage distance at or above which clusters stay apart
	DefaultDistanceThreshold = 1.5
)

// Linkage selects how the distance between two clusters is derived from their members
type Linkage string

const (
	LinkageWard     Linkage = "ward"
	LinkageAverage  Linkage = "average"
	LinkageComplete Linkage = "complete"
	LinkageSingle   Linkage = "single"
)

var (
	// ErrEmptyInput is returned when a day with no items reaches the engine
	ErrEmptyInput = errors.New("clustering: no items to cluster")

	// ErrMalformedInput is returned for ragged, empty or non-finite vectors
	ErrMalformedInput = errors.New("clustering: malformed embeddings")
)

// Config holds configuration for the clustering Engine
type Config struct {
	// DistanceThreshold stops merging once the closest pair of clusters is at least this far apart.
	// If 0, uses DefaultDistanceThreshold.
	DistanceThreshold float64

	// Linkage is the cluster distance criterion. If empty, uses LinkageWard.
	Linkage Linkage
}

func (c *Config) applyDefaults() {
	if c.DistanceThreshold == 0 {
		c.DistanceThreshold = DefaultDistanceThreshold
	}
	if c.Linkage == "" {
		c.Linkage = LinkageWard
	}
}

// Engine partitions one day's embeddings into provisional clusters using
// agglomerative clustering with a distance threshold.
type Engine struct {
	threshold float64
	linkage   Linkage
}

// NewEngine creates a new Engine with the given configuration
func NewEngine(cfg Config) (*Engine, error) {
	cfg.applyDefaults()

	if cfg.DistanceThreshold < 0 || math.IsNaN(cfg.DistanceThreshold) {
		return nil, fmt.Errorf("distance threshold must be positive, got %v", cfg.DistanceThreshold)
	}

	switch cfg.Linkage {
	case LinkageWard, LinkageAverage, LinkageComplete, LinkageSingle:
	default:
		return nil, fmt.Errorf("unknown linkage %q", cfg.Linkage)
	}

	return &Engine{threshold: cfg.DistanceThreshold, linkage: cfg.Linkage}, nil
}

// Cluster groups the vectors and returns clusters whose members are indices into
// vectors. Every index appears in exactly one cluster. Cluster IDs run from 0 in the
// order of each cluster's first member.
func (e *Engine) Cluster(vectors [][]float32) ([]types.Cluster, error) {
	if len(vectors) == 0 {
		return nil, ErrEmptyInput
	}
	if err := validate(vectors); err != nil {
		return nil, err
	}

	n := len(vectors)
	sets := disjoint_set.NewDSU(n)

	if n > 1 {
		for _, m := range e.dendrogram(vectors) {
			if m.height < e.threshold {
				sets.Union(m.a, m.b)
			}
		}
	}

	groups := sets.Groups()
	clusters := make([]types.Cluster, len(groups))
	for id, members := range groups {
		clusters[id] = types.Cluster{ID: id, Members: members}
	}
	return clusters, nil
}

// merge records that the clusters represented by items a and b were joined at height
type merge struct {
	a, b   int
	height float64
}

// dendrogram builds the full merge tree with the nearest-neighbour chain algorithm.
// All supported linkages are reducible, so the set of merges below any height is the
// same as the one produced by merging closest pairs in ascending order.
func (e *Engine) dendrogram(vectors [][]float32) []merge {
	n := len(vectors)
	dist := newCondensed(vectors)
	size := make([]int, n)
	active := make([]bool, n)
	for i := range size {
		size[i] = 1
		active[i] = true
	}

	merges := make([]merge, 0, n-1)
	chain := make([]int, 0, n)
	next := 0

	for remaining := n; remaining > 1; remaining-- {
		if len(chain) == 0 {
			for !active[next] {
				next++
			}
			chain = append(chain, next)
		}

		for {
			a := chain[len(chain)-1]
			prev := -1
			best := -1
			bestDist := math.Inf(1)
			if len(chain) >= 2 {
				prev = chain[len(chain)-2]
				best = prev
				bestDist = dist.get(a, prev)
			}

			for k := 0; k < n; k++ {
				if !active[k] || k == a {
					continue
				}
				if d := dist.get(a, k); d < bestDist {
					best = k
					bestDist = d
				}
			}

			if best == prev {
				chain = chain[:len(chain)-2]
				merges = append(merges, merge{a: prev, b: a, height: bestDist})
				e.join(dist, size, active, prev, a, bestDist)
				break
			}
			chain = append(chain, best)
		}
	}

	return merges
}

// join merges cluster b into cluster a and updates distances with the Lance-Williams formula
func (e *Engine) join(dist *condensed, size []int, active []bool, a, b int, dab float64) {
	na, nb := float64(size[a]), float64(size[b])
	for k := range active {
		if !active[k] || k == a || k == b {
			continue
		}
		dak, dbk := dist.get(a, k), dist.get(b, k)
		var d float64
		switch e.linkage {
		case LinkageSingle:
			d = math.Min(dak, dbk)
		case LinkageComplete:
			d = math.Max(dak, dbk)
		case LinkageAverage:
			d = (na*dak + nb*dbk) / (na + nb)
		default:
			nk := float64(size[k])
			sq := ((na+nk)*dak*dak + (nb+nk)*dbk*dbk - nk*dab*dab) / (na + nb + nk)
			d = math.Sqrt(math.Max(sq, 0))
		}
		dist.set(a, k, d)
	}
	size[a] += size[b]
	active[b] = false
}

func validate(vectors [][]float32) error {
	dim := len(vectors[0])
	if dim == 0 {
		return fmt.Errorf("%w: zero-length vector at index 0", ErrMalformedInput)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has dimension %d, expected %d", ErrMalformedInput, i, len(v), dim)
		}
		for _, x := range v {
			if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
				return fmt.Errorf("%w: vector %d has a non-finite component", ErrMalformedInput, i)
			}
		}
	}
	return nil
}

// condensed stores the upper triangle of a symmetric distance matrix
type condensed struct {
	n    int
	data []float64
}

func newCondensed(vectors [][]float32) *condensed {
	n := len(vectors)
	c := &condensed{n: n, data: make([]float64, n*(n-1)/2)}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			c.data[c.index(i, j)] = euclidean(vectors[i], vectors[j])
		}
	}
	return c
}

func (c *condensed) index(i, j int) int {
	if i > j {
		i, j = j, i
	}
	return c.n*i - i*(i+1)/2 + j - i - 1
}

func (c *condensed) get(i, j int) float64 {
	return c.data[c.index(i, j)]
}

func (c *condensed) set(i, j int, d float64) {
	c.data[c.index(i, j)] = d
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Centroids returns the mean vector of every cluster, indexed like clusters
func Centroids(vectors [][]float32, clusters []types.Cluster) [][]float32 {
	centroids := make([][]float32, len(clusters))
	for i, c := range clusters {
		if len(c.Members) == 0 {
			continue
		}
		sum := make([]float64, len(vectors[c.Members[0]]))
		for _, m := range c.Members {
			for j, x := range vectors[m] {
				sum[j] += float64(x)
			}
		}
		centroid := make([]float32, len(sum))
		for j := range sum {
			centroid[j] = float32(sum[j] / float64(len(c.Members)))
		}
		centroids[i] = centroid
	}
	return centroids
}
