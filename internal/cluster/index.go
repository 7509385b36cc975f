// Package cluster maintains the incremental single-linkage partition of
// constellation nodes.
package cluster

import (
	"errors"
	"fmt"
	"sort"

	"github.com/thebtf/constellation/pkg/models"
)

// ErrNodeNotFound is returned when an id was never added to the index.
var ErrNodeNotFound = errors.New("node not found")

type entry struct {
	parent string
	seq    int // registration order, used for tie-breaks
	size   int // only meaningful on roots
}

// Index is a disjoint-set (union-find) structure over node ids.
//
// Index is not safe for concurrent use; FindRoot compresses paths and so
// mutates even on lookup. Manager serializes all access.
type Index struct {
	entries  map[string]*entry
	nextSeq  int
	clusters int
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		entries: make(map[string]*entry),
	}
}

// Add registers id as a singleton cluster.
// Returns false if id is already present.
func (x *Index) Add(id string) bool {
	if _, ok := x.entries[id]; ok {
		return false
	}
	x.entries[id] = &entry{parent: id, seq: x.nextSeq, size: 1}
	x.nextSeq++
	x.clusters++
	return true
}

// Contains reports whether id has been added.
func (x *Index) Contains(id string) bool {
	_, ok := x.entries[id]
	return ok
}

// Len returns the number of ids in the index.
func (x *Index) Len() int {
	return len(x.entries)
}

// ClusterCount returns the number of disjoint clusters.
func (x *Index) ClusterCount() int {
	return x.clusters
}

// FindRoot returns the representative of id's cluster.
// Uses path halving, so repeated lookups are amortized near O(1).
func (x *Index) FindRoot(id string) (string, error) {
	if _, ok := x.entries[id]; !ok {
		return "", fmt.Errorf("find root %q: %w", id, ErrNodeNotFound)
	}
	return x.find(id), nil
}

// find assumes id is present.
func (x *Index) find(id string) string {
	cur := id
	for {
		e := x.entries[cur]
		if e.parent == cur {
			return cur
		}
		grand := x.entries[e.parent].parent
		e.parent = grand
		cur = grand
	}
}

// Union merges the clusters containing a and b.
// Returns the surviving root and whether two distinct clusters were merged.
// The larger cluster's root survives; on a size tie the root registered
// first survives, so a new node joining an existing cluster never renames it.
func (x *Index) Union(a, b string) (string, bool, error) {
	if _, ok := x.entries[a]; !ok {
		return "", false, fmt.Errorf("union %q: %w", a, ErrNodeNotFound)
	}
	if _, ok := x.entries[b]; !ok {
		return "", false, fmt.Errorf("union %q: %w", b, ErrNodeNotFound)
	}

	ra, rb := x.find(a), x.find(b)
	if ra == rb {
		return ra, false, nil
	}

	ea, eb := x.entries[ra], x.entries[rb]
	if eb.size > ea.size || (eb.size == ea.size && eb.seq < ea.seq) {
		ra, rb = rb, ra
		ea, eb = eb, ea
	}

	eb.parent = ra
	ea.size += eb.size
	x.clusters--

	return ra, true, nil
}

// Members returns every id sharing id's cluster, sorted ascending.
func (x *Index) Members(id string) ([]string, error) {
	root, err := x.FindRoot(id)
	if err != nil {
		return nil, err
	}

	members := make([]string, 0, x.entries[root].size)
	for other := range x.entries {
		if x.find(other) == root {
			members = append(members, other)
		}
	}
	sort.Strings(members)
	return members, nil
}

// AllClusters returns a snapshot of the partition. Clusters are ordered by
// their smallest member id and members are sorted ascending, so the output
// is reproducible for a given sequence of operations.
func (x *Index) AllClusters() []models.Cluster {
	byRoot := make(map[string][]string, x.clusters)
	for id := range x.entries {
		root := x.find(id)
		byRoot[root] = append(byRoot[root], id)
	}

	clusters := make([]models.Cluster, 0, len(byRoot))
	for root, members := range byRoot {
		sort.Strings(members)
		clusters = append(clusters, models.Cluster{ID: root, Members: members})
	}
	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].Members[0] < clusters[j].Members[0]
	})
	return clusters
}
