package graph

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/constellation/pkg/models"
	"github.com/thebtf/constellation/pkg/similarity"
)

const (
	// DefaultSampleSize is how many leading nodes get a full pairwise breakdown.
	DefaultSampleSize = 5

	// keywordPreview is how many keywords a pair report shows per node.
	keywordPreview = 5

	// contentPreview is how many runes of content a pair report shows.
	contentPreview = 60

	// Uncategorized labels nodes without a category in the distribution.
	Uncategorized = "uncategorized"
)

// AnalyzeOptions configures Analyze.
type AnalyzeOptions struct {
	Threshold  float64
	SampleSize int
}

// PairScore is the similarity of one node pair with enough context to see
// why it did or did not cluster.
type PairScore struct {
	A            NodeSummary `json:"a"`
	B            NodeSummary `json:"b"`
	Score        float64     `json:"score"`
	WouldCluster bool        `json:"would_cluster"`
}

// NodeSummary is a short description of a node for reports.
type NodeSummary struct {
	ID       string   `json:"id"`
	Preview  string   `json:"preview"`
	Category string   `json:"category"`
	Keywords []string `json:"keywords"`
	Index    int      `json:"index"`
}

// CategoryCount is one row of the category distribution.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// Report is the result of Analyze.
type Report struct {
	BestPair   *PairScore      `json:"best_pair,omitempty"`
	Sample     []PairScore     `json:"sample"`
	Categories []CategoryCount `json:"categories"`
	Edges      []Edge          `json:"edges"`
	Stats      GraphStats      `json:"stats"`
	Threshold  float64         `json:"threshold"`
	NodeCount  int             `json:"node_count"`
}

// WouldCluster reports whether any pair reaches the threshold.
func (r *Report) WouldCluster() bool {
	return r.BestPair != nil && r.BestPair.WouldCluster
}

// Analyze scores node pairs to explain clustering behaviour: a detailed
// breakdown for the first SampleSize nodes, the category distribution, the
// best-scoring pair overall, and the similarity graph at the threshold.
func Analyze(ctx context.Context, nodes []*models.Node, scorer Scorer, opts AnalyzeOptions) (*Report, error) {
	if opts.SampleSize <= 0 {
		opts.SampleSize = DefaultSampleSize
	}

	report := &Report{
		Threshold:  opts.Threshold,
		NodeCount:  len(nodes),
		Categories: categoryDistribution(nodes),
		Sample:     make([]PairScore, 0),
	}

	features := extractAll(nodes)
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}

	sample := min(opts.SampleSize, len(nodes))
	edges := make([]Edge, 0)
	var best *PairScore

	for i := 0; i < len(nodes); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := i + 1; j < len(nodes); j++ {
			score := scorer.Score(features[i], features[j])

			if i < sample && j < sample {
				report.Sample = append(report.Sample, pairScore(nodes, features, i, j, score, opts.Threshold))
			}
			if best == nil || score > best.Score {
				p := pairScore(nodes, features, i, j, score, opts.Threshold)
				best = &p
			}
			if score >= opts.Threshold {
				edges = append(edges, newEdge(nodes[i].ID, nodes[j].ID, score))
			}
		}
	}

	sortEdges(edges)
	report.BestPair = best
	report.Edges = edges
	report.Stats = NewSimilarityGraph(ids, edges).Stats()

	log.Debug().
		Int("nodes", len(nodes)).
		Int("edges", len(edges)).
		Bool("would_cluster", report.WouldCluster()).
		Msg("Similarity analysis complete")

	return report, nil
}

func pairScore(nodes []*models.Node, features []models.FeatureSet, i, j int, score, threshold float64) PairScore {
	return PairScore{
		A:            summarize(nodes[i], features[i], i),
		B:            summarize(nodes[j], features[j], j),
		Score:        score,
		WouldCluster: score >= threshold,
	}
}

func summarize(n *models.Node, fs models.FeatureSet, index int) NodeSummary {
	keywords := n.Keywords
	if len(keywords) == 0 {
		keywords = make([]string, 0, len(fs.Keywords))
		for kw := range fs.Keywords {
			keywords = append(keywords, kw)
		}
		sort.Strings(keywords)
	}
	if len(keywords) > keywordPreview {
		keywords = keywords[:keywordPreview]
	}

	return NodeSummary{
		Index:    index,
		ID:       n.ID,
		Preview:  n.Preview(contentPreview),
		Category: categoryLabel(n.Category),
		Keywords: append([]string(nil), keywords...),
	}
}

func categoryLabel(category string) string {
	if c := strings.TrimSpace(category); c != "" {
		return c
	}
	return Uncategorized
}

// categoryDistribution counts nodes per category, largest first.
func categoryDistribution(nodes []*models.Node) []CategoryCount {
	counts := make(map[string]int)
	for _, n := range nodes {
		counts[categoryLabel(n.Category)]++
	}

	out := make([]CategoryCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, CategoryCount{Category: c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// Explain returns the per-signal breakdown for a pair when the scorer
// supports it.
func Explain(scorer Scorer, a, b *models.Node) (similarity.ScoreComponents, bool) {
	explainer, ok := scorer.(interface {
		Components(a, b models.FeatureSet) similarity.ScoreComponents
	})
	if !ok {
		return similarity.ScoreComponents{}, false
	}
	return explainer.Components(similarity.ExtractFeatures(a), similarity.ExtractFeatures(b)), true
}
