// Package graph builds the materialized similarity graph over nodes and the
// diagnostic report used to calibrate the clustering threshold.
package graph

import (
	"sort"
)

// SimilarityGraph is an undirected graph of threshold-qualifying similarity
// edges. Every node is present even when it has no edges.
type SimilarityGraph struct {
	degree map[string]int
	edges  []Edge
}

// NewSimilarityGraph creates a graph over ids with the given edges.
// Edges referencing unknown ids are ignored.
func NewSimilarityGraph(ids []string, edges []Edge) *SimilarityGraph {
	g := &SimilarityGraph{
		degree: make(map[string]int, len(ids)),
		edges:  make([]Edge, 0, len(edges)),
	}
	for _, id := range ids {
		g.degree[id] = 0
	}
	for _, e := range edges {
		if _, ok := g.degree[e.FromID]; !ok {
			continue
		}
		if _, ok := g.degree[e.ToID]; !ok {
			continue
		}
		g.edges = append(g.edges, e)
		g.degree[e.FromID]++
		g.degree[e.ToID]++
	}
	return g
}

// Degree returns the number of edges touching id.
func (g *SimilarityGraph) Degree(id string) int {
	return g.degree[id]
}

// Edges returns the graph's edges.
func (g *SimilarityGraph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// Hubs returns up to n ids with the highest degree (ties by id).
func (g *SimilarityGraph) Hubs(n int) []string {
	if n <= 0 {
		return nil
	}
	ids := make([]string, 0, len(g.degree))
	for id := range g.degree {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if g.degree[ids[i]] != g.degree[ids[j]] {
			return g.degree[ids[i]] > g.degree[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if n < len(ids) {
		ids = ids[:n]
	}
	return ids
}

// Stats returns graph statistics.
func (g *SimilarityGraph) Stats() GraphStats {
	stats := GraphStats{
		NodeCount: len(g.degree),
		EdgeCount: len(g.edges),
	}

	if len(g.degree) > 0 {
		degrees := make([]int, 0, len(g.degree))
		for _, d := range g.degree {
			degrees = append(degrees, d)
		}

		sort.Ints(degrees)
		stats.AvgDegree = float64(sum(degrees)) / float64(len(degrees))
		stats.MaxDegree = degrees[len(degrees)-1]
		stats.MinDegree = degrees[0]

		// Median
		mid := len(degrees) / 2
		if len(degrees)%2 == 0 {
			stats.MedianDegree = float64(degrees[mid-1]+degrees[mid]) / 2.0
		} else {
			stats.MedianDegree = float64(degrees[mid])
		}

		for _, d := range degrees {
			if d == 0 {
				stats.Isolated++
			}
		}
	}

	return stats
}

// GraphStats contains graph statistics
type GraphStats struct {
	AvgDegree    float64 `json:"avg_degree"`
	MedianDegree float64 `json:"median_degree"`
	NodeCount    int     `json:"node_count"`
	EdgeCount    int     `json:"edge_count"`
	MaxDegree    int     `json:"max_degree"`
	MinDegree    int     `json:"min_degree"`
	Isolated     int     `json:"isolated"`
}

func sum(values []int) int {
	total := 0
	for _, v := range values {
		total += v
	}
	return total
}
