package cluster

import (
	"maps"
	"slices"
	"sort"

	"github.com/thebtf/constellation/pkg/models"
)

// Snapshot is an immutable copy of the partition taken after an insertion.
// Readers such as the physics layer may hold and query a Snapshot
// concurrently with further insertions.
//
// Consecutive snapshots share the member slices of clusters an insertion
// did not touch; those slices are never written after creation.
type Snapshot struct {
	rootOf   map[string]string   // node id -> cluster id
	members  map[string][]string // cluster id -> sorted members
	clusters []models.Cluster    // ordered by smallest member id
	version  uint64
}

func newSnapshot(version uint64, clusters []models.Cluster) *Snapshot {
	s := &Snapshot{
		version:  version,
		clusters: clusters,
		rootOf:   make(map[string]string),
		members:  make(map[string][]string, len(clusters)),
	}
	for _, c := range clusters {
		s.members[c.ID] = c.Members
		for _, id := range c.Members {
			s.rootOf[id] = c.ID
		}
	}
	return s
}

// with returns the snapshot after id was inserted and joined the clusters
// rooted at joined, all of which now share root. Only the joined clusters
// are rebuilt; the cost is dominated by copying the two lookup maps.
func (s *Snapshot) with(version uint64, id, root string, joined []string) *Snapshot {
	merged := []string{id}
	drop := make(map[string]bool, len(joined))
	for _, r := range joined {
		merged = append(merged, s.members[r]...)
		drop[r] = true
	}
	sort.Strings(merged)

	rootOf := maps.Clone(s.rootOf)
	for _, m := range merged {
		rootOf[m] = root
	}

	members := maps.Clone(s.members)
	for _, r := range joined {
		delete(members, r)
	}
	members[root] = merged

	clusters := make([]models.Cluster, 0, len(s.clusters)-len(joined)+1)
	for _, c := range s.clusters {
		if !drop[c.ID] {
			clusters = append(clusters, c)
		}
	}
	at := sort.Search(len(clusters), func(i int) bool {
		return clusters[i].Members[0] > merged[0]
	})
	clusters = slices.Insert(clusters, at, models.Cluster{ID: root, Members: merged})

	return &Snapshot{
		version:  version,
		rootOf:   rootOf,
		members:  members,
		clusters: clusters,
	}
}

// Version increases by one with every insertion.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// NodeCount returns the number of nodes in the partition.
func (s *Snapshot) NodeCount() int {
	return len(s.rootOf)
}

// ClusterCount returns the number of clusters.
func (s *Snapshot) ClusterCount() int {
	return len(s.clusters)
}

// Clusters returns a copy of the partition, ordered by smallest member id.
func (s *Snapshot) Clusters() []models.Cluster {
	out := make([]models.Cluster, len(s.clusters))
	for i, c := range s.clusters {
		out[i] = models.Cluster{
			ID:      c.ID,
			Members: append([]string(nil), c.Members...),
		}
	}
	return out
}

// RootOf returns the cluster id of a node.
func (s *Snapshot) RootOf(id string) (string, bool) {
	root, ok := s.rootOf[id]
	return root, ok
}

// Members returns a copy of the members of id's cluster.
func (s *Snapshot) Members(id string) ([]string, bool) {
	root, ok := s.rootOf[id]
	if !ok {
		return nil, false
	}
	return append([]string(nil), s.members[root]...), true
}

// SameCluster reports whether a and b are in the same cluster.
func (s *Snapshot) SameCluster(a, b string) bool {
	ra, okA := s.rootOf[a]
	rb, okB := s.rootOf[b]
	return okA && okB && ra == rb
}
