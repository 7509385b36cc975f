package similarity

import (
	"errors"
	"fmt"
	"math"

	"github.com/thebtf/constellation/pkg/models"
)

// Signal names, in evaluation order.
const (
	SignalKeywordOverlap    = "keyword_overlap"
	SignalCategoryAgreement = "category_agreement"
	SignalContentOverlap    = "content_overlap"
)

// weightSumTolerance is how far the weight sum may drift from 1.0.
const weightSumTolerance = 1e-9

// ErrInvalidWeights is returned by Weights.Validate.
var ErrInvalidWeights = errors.New("invalid similarity weights")

// Weights are the relative contributions of each signal to the final score.
// They directly set clustering recall/precision, so every default lives in
// DefaultWeights.
type Weights struct {
	// Keyword weights the Jaccard overlap of keyword sets. Dominant signal.
	Keyword float64 `json:"keyword" yaml:"keyword"`
	// Category weights exact category agreement. A coarse boost only.
	Category float64 `json:"category" yaml:"category"`
	// Content weights the Jaccard overlap of content terms, catching
	// near-duplicate phrasing that keyword extraction missed.
	Content float64 `json:"content" yaml:"content"`
}

// DefaultWeights returns the calibrated default weights.
//
// With a 0.4 threshold these give:
//   - identical keywords alone: 0.65/0.85 ≈ 0.76 when neither node has content terms
//   - category agreement alone: at most 0.20/0.85 ≈ 0.235, never enough to cluster
//   - no shared keyword at all: at most 0.35, so keyword pruning is sound
func DefaultWeights() Weights {
	return Weights{
		Keyword:  0.65,
		Category: 0.20,
		Content:  0.15,
	}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Keyword + w.Category + w.Content
}

// Validate checks the structural invariants of the weights.
func (w Weights) Validate() error {
	for _, v := range []float64{w.Keyword, w.Category, w.Content} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: weights must be finite (%+v)", ErrInvalidWeights, w)
		}
	}
	if w.Keyword < 0 || w.Category < 0 || w.Content < 0 {
		return fmt.Errorf("%w: weights must be non-negative (%+v)", ErrInvalidWeights, w)
	}
	if w.Keyword == 0 {
		return fmt.Errorf("%w: keyword weight must be positive", ErrInvalidWeights)
	}
	if w.Category >= w.Keyword {
		return fmt.Errorf("%w: category weight %.3f must be below keyword weight %.3f",
			ErrInvalidWeights, w.Category, w.Keyword)
	}
	if math.Abs(w.Sum()-1.0) > weightSumTolerance {
		return fmt.Errorf("%w: weights sum to %.6f, expected 1.0", ErrInvalidWeights, w.Sum())
	}
	return nil
}

// MaxWithoutSharedKeyword is the highest score any pair sharing no keyword
// can reach. The keyword signal always applies and contributes 0 for such a
// pair, so the bound is the share of every other signal.
func (w Weights) MaxWithoutSharedKeyword() float64 {
	total := w.Sum()
	if total <= 0 {
		return 1.0
	}
	return (w.Category + w.Content) / total
}

// signal computes one normalized partial score. applies is false when the
// signal carries no information for the pair; its weight is then left out
// of the normalization instead of counting as disagreement.
type signal struct {
	score  func(a, b models.FeatureSet) (value float64, applies bool)
	name   string
	weight float64
}

// SignalScore is one signal's contribution to a score.
type SignalScore struct {
	Name    string  `json:"name"`
	Weight  float64 `json:"weight"`
	Value   float64 `json:"value"`
	Applied bool    `json:"applied"`
}

// ScoreComponents contains the breakdown of a similarity calculation.
// Useful for explaining why two nodes did or did not cluster.
type ScoreComponents struct {
	Signals    []SignalScore `json:"signals"`
	FinalScore float64       `json:"final_score"`
}

// Signal returns the named signal's contribution.
func (c ScoreComponents) Signal(name string) (SignalScore, bool) {
	for _, s := range c.Signals {
		if s.Name == name {
			return s, true
		}
	}
	return SignalScore{}, false
}

// Scorer computes similarity between feature sets.
// A Scorer is immutable and safe for concurrent use.
type Scorer struct {
	signals []signal
	weights Weights
}

// NewScorer creates a scorer with the given weights.
// Weights should be validated by the caller; see Weights.Validate.
func NewScorer(weights Weights) *Scorer {
	return &Scorer{
		weights: weights,
		signals: []signal{
			{name: SignalKeywordOverlap, weight: weights.Keyword, score: keywordOverlap},
			{name: SignalCategoryAgreement, weight: weights.Category, score: categoryAgreement},
			{name: SignalContentOverlap, weight: weights.Content, score: contentOverlap},
		},
	}
}

// NewDefaultScorer creates a scorer with DefaultWeights.
func NewDefaultScorer() *Scorer {
	return NewScorer(DefaultWeights())
}

// Weights returns the scorer's weights.
func (s *Scorer) Weights() Weights {
	return s.weights
}

// MaxWithoutSharedKeyword reports the pruning bound of the scorer's weights.
func (s *Scorer) MaxWithoutSharedKeyword() float64 {
	return s.weights.MaxWithoutSharedKeyword()
}

// Score returns the similarity of a and b in [0, 1].
// Score(a, b) == Score(b, a) for all inputs.
func (s *Scorer) Score(a, b models.FeatureSet) float64 {
	var weighted, total float64
	for _, sig := range s.signals {
		value, applies := sig.score(a, b)
		if !applies {
			continue
		}
		weighted += sig.weight * value
		total += sig.weight
	}
	return normalize(weighted, total)
}

// Components returns the per-signal breakdown of Score(a, b).
func (s *Scorer) Components(a, b models.FeatureSet) ScoreComponents {
	comps := ScoreComponents{Signals: make([]SignalScore, 0, len(s.signals))}

	var weighted, total float64
	for _, sig := range s.signals {
		value, applies := sig.score(a, b)
		comps.Signals = append(comps.Signals, SignalScore{
			Name:    sig.name,
			Weight:  sig.weight,
			Value:   value,
			Applied: applies,
		})
		if !applies {
			continue
		}
		weighted += sig.weight * value
		total += sig.weight
	}

	comps.FinalScore = normalize(weighted, total)
	return comps
}

func normalize(weighted, total float64) float64 {
	if total <= 0 {
		return 0.0
	}
	score := weighted / total
	if math.IsNaN(score) || score < 0 {
		return 0.0
	}
	if score > 1 {
		return 1.0
	}
	return score
}

func keywordOverlap(a, b models.FeatureSet) (float64, bool) {
	return Jaccard(a.Keywords, b.Keywords), true
}

func categoryAgreement(a, b models.FeatureSet) (float64, bool) {
	if a.Category == "" && b.Category == "" {
		return 0.0, false
	}
	if a.Category == b.Category {
		return 1.0, true
	}
	return 0.0, true
}

func contentOverlap(a, b models.FeatureSet) (float64, bool) {
	if len(a.ContentTerms) == 0 && len(b.ContentTerms) == 0 {
		return 0.0, false
	}
	return Jaccard(a.ContentTerms, b.ContentTerms), true
}

// Jaccard calculates |a ∩ b| / |a ∪ b|.
// Returns 0 when both sets are empty.
func Jaccard(a, b models.TermSet) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}

	intersection := 0
	for term := range small {
		if large.Has(term) {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
