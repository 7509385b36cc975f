// Package models contains domain models for constellation.
package models

import "time"

// Node is a single extracted prompt placed into the similarity space.
// Nodes are immutable once inserted; cluster membership is derived by the
// cluster index and never stored here.
type Node struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Category string   `json:"category"`
	Keywords []string `json:"keywords,omitempty"`
	// Timestamp is the extraction time in epoch milliseconds. Not used by similarity.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// CreatedAt returns the node timestamp as a time.Time (zero if unset).
func (n *Node) CreatedAt() time.Time {
	if n.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(n.Timestamp)
}

// Preview returns the first n runes of the content, suffixed with "..." when truncated.
func (n *Node) Preview(limit int) string {
	runes := []rune(n.Content)
	if len(runes) <= limit {
		return n.Content
	}
	return string(runes[:limit]) + "..."
}

// TermSet is a set of normalized string terms.
type TermSet map[string]struct{}

// NewTermSet builds a set from the given terms.
func NewTermSet(terms ...string) TermSet {
	s := make(TermSet, len(terms))
	for _, t := range terms {
		s[t] = struct{}{}
	}
	return s
}

// Has reports whether term is in the set.
func (s TermSet) Has(term string) bool {
	_, ok := s[term]
	return ok
}

// FeatureSet holds the derived features compared by the similarity scorer.
type FeatureSet struct {
	Keywords     TermSet
	ContentTerms TermSet
	Category     string
}

// Match is a candidate that met the clustering threshold during an insertion.
type Match struct {
	NodeID string  `json:"node_id"`
	Score  float64 `json:"score"`
}

// ClusterAssignment is the outcome of inserting one node.
type ClusterAssignment struct {
	NodeID    string `json:"node_id"`
	ClusterID string `json:"cluster_id"`
	// MergedWith lists the pre-insertion cluster ids folded into ClusterID.
	// Empty unless the node bridged two or more previously distinct clusters.
	MergedWith []string `json:"merged_with,omitempty"`
	Matches    []Match  `json:"matches,omitempty"`
}

// Merged reports whether the insertion joined previously distinct clusters.
func (a ClusterAssignment) Merged() bool {
	return len(a.MergedWith) > 0
}

// Cluster is one set of the current partition. ID is the representative
// node id; Members are sorted ascending.
type Cluster struct {
	ID      string   `json:"id"`
	Members []string `json:"members"`
}

// Size returns the number of members.
func (c Cluster) Size() int {
	return len(c.Members)
}
