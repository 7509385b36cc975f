package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thebtf/constellation/pkg/models"
)

func TestExtractFeatures(t *testing.T) {
	node := &models.Node{
		ID:       "n1",
		Content:  "How do I build a REST API in Python with the requests library?",
		Category: "  Coding ",
		Keywords: []string{"Python", " api ", "python", "", "REST   API"},
	}

	fs := ExtractFeatures(node)

	assert.Equal(t, models.NewTermSet("python", "api", "rest api"), fs.Keywords)
	assert.Equal(t, "coding", fs.Category)

	// Content terms
	assert.Contains(t, fs.ContentTerms, "build")
	assert.Contains(t, fs.ContentTerms, "rest")
	assert.Contains(t, fs.ContentTerms, "python")
	assert.Contains(t, fs.ContentTerms, "requests")
	assert.Contains(t, fs.ContentTerms, "library")

	// Stop words and short words filtered
	assert.NotContains(t, fs.ContentTerms, "the")
	assert.NotContains(t, fs.ContentTerms, "how")
	assert.NotContains(t, fs.ContentTerms, "in")
}

func TestExtractFeatures_KeywordFallback(t *testing.T) {
	node := &models.Node{
		ID:       "n1",
		Content:  "Kubernetes deployment rollback strategy",
		Category: "devops",
		Keywords: []string{"  ", ""},
	}

	fs := ExtractFeatures(node)

	assert.Equal(t, models.NewTermSet("kubernetes", "deployment", "rollback", "strategy"), fs.Keywords)
	assert.Equal(t, fs.Keywords, fs.ContentTerms)
}

func TestExtractFeatures_Degenerate(t *testing.T) {
	tests := []struct {
		node *models.Node
		name string
	}{
		{name: "nil node", node: nil},
		{name: "empty node", node: &models.Node{ID: "x"}},
		{name: "only punctuation", node: &models.Node{ID: "x", Content: "?!... --- ;;"}},
		{name: "only stop words", node: &models.Node{ID: "x", Content: "the and of to"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := ExtractFeatures(tt.node)
			assert.NotNil(t, fs.Keywords)
			assert.NotNil(t, fs.ContentTerms)
			assert.Empty(t, fs.Keywords)
			assert.Empty(t, fs.ContentTerms)
			assert.Empty(t, fs.Category)
		})
	}
}

func TestExtractFeatures_Deterministic(t *testing.T) {
	node := &models.Node{
		ID:       "n1",
		Content:  "Summarize this article about distributed consensus and raft",
		Category: "writing",
	}

	first := ExtractFeatures(node)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ExtractFeatures(node))
	}
}

func TestTerms(t *testing.T) {
	tests := []struct {
		expected models.TermSet
		name     string
		text     string
	}{
		{
			name:     "basic",
			text:     "Write a unit_test for parser",
			expected: models.NewTermSet("write", "unit_test", "parser"),
		},
		{
			name:     "case folding and dedupe",
			text:     "Go go GO golang",
			expected: models.NewTermSet("golang"),
		},
		{
			name:     "unicode letters",
			text:     "Übersetze diesen Absatz",
			expected: models.NewTermSet("übersetze", "diesen", "absatz"),
		},
		{
			name:     "digits kept",
			text:     "http2 vs http3",
			expected: models.NewTermSet("http2", "http3"),
		},
		{
			name:     "empty",
			text:     "",
			expected: models.TermSet{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Terms(tt.text))
		})
	}
}

func TestNormalizeCategory(t *testing.T) {
	assert.Equal(t, "coding", NormalizeCategory("Coding"))
	assert.Equal(t, "creative writing", NormalizeCategory("  Creative\tWriting "))
	assert.Equal(t, "", NormalizeCategory("   "))
}
