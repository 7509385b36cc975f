// Package similarity provides feature extraction and weighted similarity
// scoring for constellation nodes.
package similarity

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/thebtf/constellation/pkg/models"
)

// MinTermLength is the shortest content term kept by the tokenizer.
const MinTermLength = 3

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "must": true, "shall": true, "can": true,
	"this": true, "that": true, "these": true, "those": true,
	"and": true, "or": true, "but": true, "if": true, "then": true,
	"for": true, "from": true, "with": true, "about": true, "into": true,
	"to": true, "of": true, "in": true, "on": true, "at": true, "by": true,
	"it": true, "its": true, "which": true, "who": true, "what": true,
	"when": true, "where": true, "how": true, "why": true,
	"you": true, "your": true, "me": true, "my": true, "please": true,
	"not": true, "all": true, "any": true, "some": true, "there": true,
}

// ExtractFeatures derives the comparable features of a node.
// It never fails: a nil node or empty content yields empty sets.
func ExtractFeatures(node *models.Node) models.FeatureSet {
	if node == nil {
		return models.FeatureSet{
			Keywords:     models.TermSet{},
			ContentTerms: models.TermSet{},
		}
	}

	contentTerms := Terms(node.Content)

	keywords := NormalizeKeywords(node.Keywords)
	if len(keywords) == 0 {
		// Fall back to content terms so nodes from extractors that skip
		// keyword derivation still have something to overlap on.
		keywords = make(models.TermSet, len(contentTerms))
		for t := range contentTerms {
			keywords[t] = struct{}{}
		}
	}

	return models.FeatureSet{
		Keywords:     keywords,
		ContentTerms: contentTerms,
		Category:     NormalizeCategory(node.Category),
	}
}

// NormalizeKeywords lower-cases and trims keywords, collapses inner
// whitespace, and drops empty entries and duplicates.
func NormalizeKeywords(keywords []string) models.TermSet {
	set := make(models.TermSet, len(keywords))
	for _, kw := range keywords {
		if norm := normalizeLabel(kw); norm != "" {
			set[norm] = struct{}{}
		}
	}
	return set
}

// NormalizeCategory returns the canonical form of a category label.
func NormalizeCategory(category string) string {
	return normalizeLabel(category)
}

func normalizeLabel(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Terms tokenizes text into a set of meaningful lower-case terms.
// Splits on anything that is not a letter, digit or underscore, and filters
// short words and stop words.
func Terms(text string) models.TermSet {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
	})

	terms := make(models.TermSet, len(words))
	for _, word := range words {
		if utf8.RuneCountInString(word) >= MinTermLength && !stopWords[word] {
			terms[word] = struct{}{}
		}
	}
	return terms
}
