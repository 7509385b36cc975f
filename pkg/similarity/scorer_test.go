package similarity

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/constellation/pkg/models"
)

func features(category string, keywords []string, content ...string) models.FeatureSet {
	terms := models.TermSet{}
	for _, c := range content {
		for t := range Terms(c) {
			terms[t] = struct{}{}
		}
	}
	return models.FeatureSet{
		Keywords:     models.NewTermSet(keywords...),
		ContentTerms: terms,
		Category:     category,
	}
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		set1     models.TermSet
		set2     models.TermSet
		name     string
		expected float64
	}{
		{
			name:     "identical sets",
			set1:     models.NewTermSet("a", "b", "c"),
			set2:     models.NewTermSet("a", "b", "c"),
			expected: 1.0,
		},
		{
			name:     "no overlap",
			set1:     models.NewTermSet("a", "b"),
			set2:     models.NewTermSet("c", "d"),
			expected: 0.0,
		},
		{
			name:     "partial overlap",
			set1:     models.NewTermSet("a", "b", "c"),
			set2:     models.NewTermSet("b", "c", "d"),
			expected: 0.5, // intersection=2, union=4
		},
		{
			name:     "empty sets",
			set1:     models.TermSet{},
			set2:     models.TermSet{},
			expected: 0.0,
		},
		{
			name:     "nil sets",
			set1:     nil,
			set2:     nil,
			expected: 0.0,
		},
		{
			name:     "one empty set",
			set1:     models.NewTermSet("a"),
			set2:     models.TermSet{},
			expected: 0.0,
		},
		{
			name:     "subset",
			set1:     models.NewTermSet("a", "b", "c", "d"),
			set2:     models.NewTermSet("a"),
			expected: 0.25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Jaccard(tt.set1, tt.set2), 0.001)
			assert.Equal(t, Jaccard(tt.set1, tt.set2), Jaccard(tt.set2, tt.set1))
		})
	}
}

func TestWeights_Validate(t *testing.T) {
	tests := []struct {
		name    string
		weights Weights
		wantErr bool
	}{
		{name: "defaults", weights: DefaultWeights()},
		{name: "keyword only", weights: Weights{Keyword: 1.0}},
		{name: "negative", weights: Weights{Keyword: 1.2, Category: -0.2}, wantErr: true},
		{name: "zero keyword", weights: Weights{Category: 0.4, Content: 0.6}, wantErr: true},
		{name: "category dominates", weights: Weights{Keyword: 0.4, Category: 0.5, Content: 0.1}, wantErr: true},
		{name: "category equals keyword", weights: Weights{Keyword: 0.4, Category: 0.4, Content: 0.2}, wantErr: true},
		{name: "sum below one", weights: Weights{Keyword: 0.5, Category: 0.1, Content: 0.1}, wantErr: true},
		{name: "sum above one", weights: Weights{Keyword: 0.8, Category: 0.2, Content: 0.2}, wantErr: true},
		{name: "nan keyword", weights: Weights{Keyword: math.NaN(), Category: 0.2, Content: 0.15}, wantErr: true},
		{name: "nan category", weights: Weights{Keyword: 0.65, Category: math.NaN(), Content: 0.15}, wantErr: true},
		{name: "infinite content", weights: Weights{Keyword: 0.65, Category: 0.2, Content: math.Inf(1)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.weights.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidWeights)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestWeights_MaxWithoutSharedKeyword(t *testing.T) {
	assert.InDelta(t, 0.35, DefaultWeights().MaxWithoutSharedKeyword(), 1e-9)
	assert.InDelta(t, 0.0, Weights{Keyword: 1}.MaxWithoutSharedKeyword(), 1e-9)
	assert.InDelta(t, 0.5, Weights{Keyword: 0.5, Category: 0.25, Content: 0.25}.MaxWithoutSharedKeyword(), 1e-9)
	assert.Equal(t, 1.0, Weights{}.MaxWithoutSharedKeyword())
}

func TestScorer_IdenticalKeywordsAndCategory(t *testing.T) {
	s := NewDefaultScorer()

	a := features("coding", []string{"python", "api"})
	b := features("coding", []string{"python", "api"})

	assert.Equal(t, 1.0, s.Score(a, b))
}

func TestScorer_DisjointKeywordsDifferentCategory(t *testing.T) {
	s := NewDefaultScorer()

	a := features("coding", []string{"python", "api"}, "Build a Flask endpoint")
	b := features("cooking", []string{"pasta", "sauce"}, "Recipe for tomato sugo")

	assert.Equal(t, 0.0, s.Score(a, b))
}

func TestScorer_CategoryAloneNeverClusters(t *testing.T) {
	s := NewDefaultScorer()

	tests := []struct {
		a    models.FeatureSet
		b    models.FeatureSet
		name string
	}{
		{
			name: "no keywords no content",
			a:    features("coding", nil),
			b:    features("coding", nil),
		},
		{
			name: "disjoint keywords",
			a:    features("coding", []string{"python"}),
			b:    features("coding", []string{"rust"}),
		},
		{
			name: "disjoint keywords and content",
			a:    features("coding", []string{"python"}, "async generators"),
			b:    features("coding", []string{"rust"}, "borrow checker"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := s.Score(tt.a, tt.b)
			assert.Greater(t, score, 0.0)
			assert.Less(t, score, 0.4)
		})
	}
}

func TestScorer_ContentOverlapRefines(t *testing.T) {
	s := NewDefaultScorer()

	a := features("coding", []string{"python", "api"}, "write retry logic for http client")
	b := features("coding", []string{"python", "testing"}, "write retry logic for http client")
	c := features("coding", []string{"python", "testing"}, "explain metaclasses")

	withContent := s.Score(a, b)
	withoutContent := s.Score(a, c)

	assert.Greater(t, withContent, withoutContent)

	comps := s.Components(a, b)
	content, ok := comps.Signal(SignalContentOverlap)
	require.True(t, ok)
	assert.True(t, content.Applied)
	assert.Equal(t, 1.0, content.Value)
	assert.Equal(t, withContent, comps.FinalScore)
}

func TestScorer_EmptyInputs(t *testing.T) {
	s := NewDefaultScorer()

	empty := models.FeatureSet{}
	score := s.Score(empty, empty)

	assert.False(t, math.IsNaN(score))
	assert.Equal(t, 0.0, score)

	emptyNonNil := ExtractFeatures(&models.Node{ID: "x"})
	assert.Equal(t, 0.0, s.Score(emptyNonNil, emptyNonNil))
	assert.Equal(t, 0.0, s.Score(emptyNonNil, features("coding", []string{"python"})))
}

func TestScorer_Components(t *testing.T) {
	s := NewDefaultScorer()

	a := features("coding", []string{"python", "api", "flask"})
	b := features("writing", []string{"python", "api", "django"})

	comps := s.Components(a, b)
	require.Len(t, comps.Signals, 3)

	kw, ok := comps.Signal(SignalKeywordOverlap)
	require.True(t, ok)
	assert.True(t, kw.Applied)
	assert.InDelta(t, 0.5, kw.Value, 1e-9)

	cat, ok := comps.Signal(SignalCategoryAgreement)
	require.True(t, ok)
	assert.True(t, cat.Applied)
	assert.Equal(t, 0.0, cat.Value)

	content, ok := comps.Signal(SignalContentOverlap)
	require.True(t, ok)
	assert.False(t, content.Applied)

	// 0.65*0.5 / (0.65+0.20)
	assert.InDelta(t, 0.3823529, comps.FinalScore, 1e-6)
	assert.Equal(t, s.Score(a, b), comps.FinalScore)

	_, ok = comps.Signal("nope")
	assert.False(t, ok)
}

func randomFeatureSet(r *rand.Rand) models.FeatureSet {
	vocab := []string{"python", "api", "go", "rust", "docker", "sql", "react", "css", "test", "deploy"}
	categories := []string{"", "coding", "writing", "devops"}

	pick := func(max int) models.TermSet {
		set := models.TermSet{}
		for i := 0; i < r.Intn(max+1); i++ {
			set[vocab[r.Intn(len(vocab))]] = struct{}{}
		}
		return set
	}

	return models.FeatureSet{
		Keywords:     pick(5),
		ContentTerms: pick(6),
		Category:     categories[r.Intn(len(categories))],
	}
}

func TestScorer_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	scorers := []*Scorer{
		NewDefaultScorer(),
		NewScorer(Weights{Keyword: 1.0}),
		NewScorer(Weights{Keyword: 0.5, Category: 0.3, Content: 0.2}),
	}

	for i, s := range scorers {
		t.Run(fmt.Sprintf("scorer_%d", i), func(t *testing.T) {
			for n := 0; n < 500; n++ {
				a := randomFeatureSet(r)
				b := randomFeatureSet(r)

				ab := s.Score(a, b)
				ba := s.Score(b, a)

				// Symmetry
				require.Equal(t, ab, ba, "score(a,b) != score(b,a) for %+v %+v", a, b)

				// Boundedness
				require.GreaterOrEqual(t, ab, 0.0)
				require.LessOrEqual(t, ab, 1.0)

				// Identity
				if len(a.Keywords) > 0 {
					require.Equal(t, 1.0, s.Score(a, a), "score(a,a) != 1 for %+v", a)
				}

				// Pruning bound
				if Jaccard(a.Keywords, b.Keywords) == 0 {
					require.LessOrEqual(t, ab, s.MaxWithoutSharedKeyword()+1e-12)
				}
			}
		})
	}
}
