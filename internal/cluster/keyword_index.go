package cluster

import (
	"github.com/emirpasic/gods/sets/treeset"
	"github.com/emirpasic/gods/utils"

	"github.com/thebtf/constellation/pkg/models"
)

// keywordIndex maps each keyword to the insertion sequence numbers of the
// nodes carrying it. Postings are ordered sets, so candidate enumeration is
// deterministic regardless of map iteration order.
type keywordIndex struct {
	postings map[string]*treeset.Set
}

func newKeywordIndex() *keywordIndex {
	return &keywordIndex{
		postings: make(map[string]*treeset.Set),
	}
}

// Add records seq under every keyword.
func (k *keywordIndex) Add(seq int, keywords models.TermSet) {
	for kw := range keywords {
		set, ok := k.postings[kw]
		if !ok {
			set = treeset.NewWith(utils.IntComparator)
			k.postings[kw] = set
		}
		set.Add(seq)
	}
}

// Candidates returns the sorted, deduplicated sequence numbers of every node
// sharing at least one keyword.
func (k *keywordIndex) Candidates(keywords models.TermSet) []int {
	merged := treeset.NewWith(utils.IntComparator)
	for kw := range keywords {
		if set, ok := k.postings[kw]; ok {
			merged.Add(set.Values()...)
		}
	}

	out := make([]int, 0, merged.Size())
	it := merged.Iterator()
	for it.Next() {
		out = append(out, it.Value().(int))
	}
	return out
}

// Len returns the number of distinct keywords.
func (k *keywordIndex) Len() int {
	return len(k.postings)
}
