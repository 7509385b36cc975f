package graph

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/constellation/pkg/models"
	"github.com/thebtf/constellation/pkg/similarity"
)

// Scorer scores the similarity of two feature sets in [0, 1].
type Scorer interface {
	Score(a, b models.FeatureSet) float64
}

// Edge is a materialized similarity edge. Similarity is symmetric, so only
// one direction is stored, with FromID < ToID.
type Edge struct {
	FromID string  `json:"from"`
	ToID   string  `json:"to"`
	Score  float64 `json:"score"`
}

// DetectEdges scores every pair of nodes and returns the pairs at or above
// threshold, ordered by descending score then by ids.
// The scan is quadratic; ctx is checked once per row.
func DetectEdges(ctx context.Context, nodes []*models.Node, scorer Scorer, threshold float64) ([]Edge, error) {
	if len(nodes) < 2 {
		return nil, nil
	}

	features := extractAll(nodes)
	edges := make([]Edge, 0)

	for i := 0; i < len(nodes); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := i + 1; j < len(nodes); j++ {
			score := scorer.Score(features[i], features[j])
			if score < threshold {
				continue
			}
			edges = append(edges, newEdge(nodes[i].ID, nodes[j].ID, score))
		}
	}

	sortEdges(edges)

	log.Debug().
		Int("nodes", len(nodes)).
		Int("edges", len(edges)).
		Float64("threshold", threshold).
		Msg("Edge detection complete")

	return edges, nil
}

func extractAll(nodes []*models.Node) []models.FeatureSet {
	features := make([]models.FeatureSet, len(nodes))
	for i, n := range nodes {
		features[i] = similarity.ExtractFeatures(n)
	}
	return features
}

func newEdge(a, b string, score float64) Edge {
	if b < a {
		a, b = b, a
	}
	return Edge{FromID: a, ToID: b, Score: score}
}

// sortEdges orders edges by descending score, then ascending ids.
func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Score != edges[j].Score {
			return edges[i].Score > edges[j].Score
		}
		if edges[i].FromID != edges[j].FromID {
			return edges[i].FromID < edges[j].FromID
		}
		return edges[i].ToID < edges[j].ToID
	})
}
