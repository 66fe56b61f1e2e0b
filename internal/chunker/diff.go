package chunker

import (
	"github.com/google/uuid"

	"github.com/jackzampolin/quill/internal/types"
)

// DiffResult is the minimal changed region between two chunk hash sequences.
// Prefix and Suffix are the lengths of the matching head and tail; everything
// strictly between them changed.
type DiffResult struct {
	Prefix int
	Suffix int
}

// Diff computes the longest matching prefix and suffix by hash equality.
// The suffix is bounded so prefix+suffix never exceeds either sequence's
// length, which keeps the changed regions well-formed for pure insertions
// and deletions.
func Diff(oldHashes, newHashes []string) DiffResult {
	prefix := 0
	for prefix < len(oldHashes) && prefix < len(newHashes) && oldHashes[prefix] == newHashes[prefix] {
		prefix++
	}

	maxSuffix := min(len(oldHashes), len(newHashes)) - prefix
	suffix := 0
	for suffix < maxSuffix && oldHashes[len(oldHashes)-1-suffix] == newHashes[len(newHashes)-1-suffix] {
		suffix++
	}
	return DiffResult{Prefix: prefix, Suffix: suffix}
}

// ReplacePlan is the instruction set for one atomic chunk replacement.
// Updates carry preserved ids with refreshed ordinal/offset/text fields;
// Inserts are brand new chunks; DeleteIDs are old chunks in the changed
// region. ChangeStart/ChangeEnd is the inclusive new-sequence ordinal range
// needing re-extraction, already expanded by one ordinal on each side to
// catch boundary-spanning extraction windows; both are -1 when nothing
// changed.
type ReplacePlan struct {
	Updates     []types.Chunk
	Inserts     []types.Chunk
	DeleteIDs   []string
	ChangeStart int
	ChangeEnd   int
}

// Plan matches a previous chunk sequence against a freshly computed one and
// produces keep/insert/delete instructions. Chunks in the matched prefix and
// suffix keep their existing ids but are updated in place: an edit earlier in
// the document shifts character offsets even when a chunk's hash is unchanged.
func Plan(old []types.Chunk, fresh []types.Chunk) ReplacePlan {
	oldHashes := make([]string, len(old))
	for i, c := range old {
		oldHashes[i] = c.TextHash
	}
	newHashes := make([]string, len(fresh))
	for i, c := range fresh {
		newHashes[i] = c.TextHash
	}
	d := Diff(oldHashes, newHashes)

	plan := ReplacePlan{ChangeStart: -1, ChangeEnd: -1}

	for i := 0; i < d.Prefix; i++ {
		kept := fresh[i]
		kept.ID = old[i].ID
		plan.Updates = append(plan.Updates, kept)
	}
	for i := 0; i < d.Suffix; i++ {
		kept := fresh[len(fresh)-1-i]
		kept.ID = old[len(old)-1-i].ID
		plan.Updates = append(plan.Updates, kept)
	}
	for i := d.Prefix; i < len(old)-d.Suffix; i++ {
		plan.DeleteIDs = append(plan.DeleteIDs, old[i].ID)
	}
	for i := d.Prefix; i < len(fresh)-d.Suffix; i++ {
		ins := fresh[i]
		ins.ID = uuid.NewString()
		plan.Inserts = append(plan.Inserts, ins)
	}

	if len(plan.Inserts) > 0 || len(plan.DeleteIDs) > 0 {
		plan.ChangeStart = max(0, d.Prefix-1)
		plan.ChangeEnd = min(len(fresh)-1, len(fresh)-d.Suffix)
		if len(fresh) == 0 {
			plan.ChangeStart, plan.ChangeEnd = -1, -1
		}
	}
	return plan
}
