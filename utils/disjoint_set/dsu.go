package disjoint_set

// DSU is a disjoint set union over the elements 0..n-1. It is not safe for concurrent use.
type DSU struct {
	root []int
	rank []int
}

// NewDSU creates a DSU where each of the n elements starts in its own set.
func NewDSU(n int) *DSU {
	d := &DSU{
		root: make([]int, n),
		rank: make([]int, n),
	}
	for i := range d.root {
		d.root[i] = i
	}
	return d
}

// find returns the root of the set containing x
func (d *DSU) find(x int) int {
	for d.root[x] != x {
		d.root[x] = d.root[d.root[x]] // Path halving
		x = d.root[x]
	}
	return x
}

// Union merges two sets
func (d *DSU) Union(x int, y int) {
	rootX := d.find(x)
	rootY := d.find(y)

	if rootX == rootY {
		return
	}

	if d.rank[rootX] > d.rank[rootY] {
		d.root[rootY] = rootX
	} else if d.rank[rootX] < d.rank[rootY] {
		d.root[rootX] = rootY
	} else {
		d.root[rootY] = rootX
		d.rank[rootX]++
	}
}

// Groups returns the members of every set. Groups are ordered by their smallest
// element and members are ascending.
func (d *DSU) Groups() [][]int {
	slot := make(map[int]int)
	var groups [][]int
	for i := range d.root {
		r := d.find(i)
		idx, ok := slot[r]
		if !ok {
			idx = len(groups)
			slot[r] = idx
			groups = append(groups, nil)
		}
		groups[idx] = append(groups[idx], i)
	}
	return groups
}
