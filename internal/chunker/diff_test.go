package chunker

import (
	"testing"

	"github.com/jackzampolin/quill/internal/types"
)

func TestDiffSingleReplacement(t *testing.T) {
	d := Diff([]string{"h1", "h2", "h3", "h4"}, []string{"h1", "hx", "h3", "h4"})
	if d.Prefix != 1 || d.Suffix != 2 {
		t.Fatalf("got prefix=%d suffix=%d, want prefix=1 suffix=2", d.Prefix, d.Suffix)
	}
}

func TestDiffPureInsertion(t *testing.T) {
	d := Diff([]string{"h1", "h2", "h4"}, []string{"h1", "h2", "h3", "h4"})
	if d.Prefix != 2 || d.Suffix != 1 {
		t.Fatalf("got prefix=%d suffix=%d, want prefix=2 suffix=1", d.Prefix, d.Suffix)
	}
}

func TestDiffIdentical(t *testing.T) {
	d := Diff([]string{"a", "b"}, []string{"a", "b"})
	if d.Prefix != 2 || d.Suffix != 0 {
		t.Fatalf("got prefix=%d suffix=%d, want prefix=2 suffix=0", d.Prefix, d.Suffix)
	}
}

func TestDiffEmptyOld(t *testing.T) {
	d := Diff(nil, []string{"a", "b"})
	if d.Prefix != 0 || d.Suffix != 0 {
		t.Fatalf("got prefix=%d suffix=%d, want 0/0", d.Prefix, d.Suffix)
	}
}

func chunksFromHashes(hashes ...string) []types.Chunk {
	out := make([]types.Chunk, len(hashes))
	for i, h := range hashes {
		out[i] = types.Chunk{ID: "old-" + h, Ordinal: i, TextHash: h}
	}
	return out
}

func freshFromHashes(hashes ...string) []types.Chunk {
	out := make([]types.Chunk, len(hashes))
	for i, h := range hashes {
		out[i] = types.Chunk{Ordinal: i, TextHash: h}
	}
	return out
}

func TestPlanPreservesMatchedIdentity(t *testing.T) {
	old := chunksFromHashes("h1", "h2", "h3", "h4")
	fresh := freshFromHashes("h1", "hx", "h3", "h4")

	plan := Plan(old, fresh)

	if len(plan.Updates) != 3 {
		t.Fatalf("expected 3 updates (prefix 1 + suffix 2), got %d", len(plan.Updates))
	}
	ids := map[string]bool{}
	for _, u := range plan.Updates {
		ids[u.ID] = true
	}
	for _, want := range []string{"old-h1", "old-h3", "old-h4"} {
		if !ids[want] {
			t.Errorf("matched chunk %s lost its identity", want)
		}
	}
	if len(plan.DeleteIDs) != 1 || plan.DeleteIDs[0] != "old-h2" {
		t.Errorf("expected delete of old-h2, got %v", plan.DeleteIDs)
	}
	if len(plan.Inserts) != 1 || plan.Inserts[0].ID == "" {
		t.Errorf("expected one insert with a fresh id, got %+v", plan.Inserts)
	}
}

func TestPlanChangedRangeExpandsOneOrdinal(t *testing.T) {
	old := chunksFromHashes("h1", "h2", "h3", "h4")
	fresh := freshFromHashes("h1", "hx", "h3", "h4")

	plan := Plan(old, fresh)
	if plan.ChangeStart != 0 || plan.ChangeEnd != 2 {
		t.Fatalf("got change range [%d,%d], want [0,2]", plan.ChangeStart, plan.ChangeEnd)
	}
}

func TestPlanNoChange(t *testing.T) {
	old := chunksFromHashes("h1", "h2")
	fresh := freshFromHashes("h1", "h2")

	plan := Plan(old, fresh)
	if plan.ChangeStart != -1 || plan.ChangeEnd != -1 {
		t.Fatalf("expected empty change range, got [%d,%d]", plan.ChangeStart, plan.ChangeEnd)
	}
	if len(plan.DeleteIDs) != 0 || len(plan.Inserts) != 0 {
		t.Fatalf("expected no deletes/inserts, got %d/%d", len(plan.DeleteIDs), len(plan.Inserts))
	}
}

func TestPlanAppendToEnd(t *testing.T) {
	old := chunksFromHashes("h1", "h2")
	fresh := freshFromHashes("h1", "h2", "h3")

	plan := Plan(old, fresh)
	if len(plan.Inserts) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(plan.Inserts))
	}
	if plan.ChangeStart != 1 || plan.ChangeEnd != 2 {
		t.Fatalf("got change range [%d,%d], want [1,2]", plan.ChangeStart, plan.ChangeEnd)
	}
}
