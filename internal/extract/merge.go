package extract

import (
	"sort"
)

// DefaultMergeConfidence is the minimum confidence for applying a
// suggested merge.
const DefaultMergeConfidence = 0.75

// sortMerges orders candidates by descending confidence; equal confidence
// is tie-broken by a stable lexicographic key over the reference pair so
// merge application order never depends on response ordering.
func sortMerges(merges []llmMerge) []llmMerge {
	out := append([]llmMerge(nil), merges...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return pairKey(out[i]) < pairKey(out[j])
	})
	return out
}

func pairKey(m llmMerge) string {
	a, b := m.A, m.B
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}

// redirects tracks merged-away entity ids. Chains are followed so that
// after A→B and B→C, resolving A lands on C.
type redirects map[string]string

func (r redirects) resolve(id string) string {
	for {
		next, ok := r[id]
		if !ok {
			return id
		}
		id = next
	}
}

// chooseMergeTarget picks the surviving entity for a merge pair: an entity
// known before this run beats a newly created one; otherwise the
// lexicographically smaller id wins. Returns (target, source).
func chooseMergeTarget(a, b string, known map[string]bool) (string, string) {
	switch {
	case known[a] && !known[b]:
		return a, b
	case known[b] && !known[a]:
		return b, a
	case a < b:
		return a, b
	default:
		return b, a
	}
}
