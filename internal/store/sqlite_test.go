package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/quill/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDocumentAndSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, err := s.GetOrCreateDocument(ctx, "proj", "/books", "draft.md", types.KindMarkdown)
	if err != nil {
		t.Fatalf("creating document: %v", err)
	}
	again, err := s.GetOrCreateDocument(ctx, "proj", "/books", "draft.md", types.KindMarkdown)
	if err != nil {
		t.Fatalf("re-fetching document: %v", err)
	}
	if again.ID != doc.ID {
		t.Fatalf("GetOrCreateDocument not idempotent: %s vs %s", again.ID, doc.ID)
	}

	if _, err := s.GetLatestSnapshot(ctx, doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before first snapshot, got %v", err)
	}

	snap := types.Snapshot{ID: uuid.NewString(), DocumentID: doc.ID, TextHash: "abc", CreatedAt: time.Now().UTC()}
	if err := s.CreateSnapshot(ctx, snap); err != nil {
		t.Fatalf("creating snapshot: %v", err)
	}
	later := types.Snapshot{ID: uuid.NewString(), DocumentID: doc.ID, TextHash: "def", CreatedAt: time.Now().UTC().Add(time.Second)}
	if err := s.CreateSnapshot(ctx, later); err != nil {
		t.Fatalf("creating second snapshot: %v", err)
	}

	got, err := s.GetLatestSnapshot(ctx, doc.ID)
	if err != nil {
		t.Fatalf("getting latest snapshot: %v", err)
	}
	if got.ID != later.ID {
		t.Fatalf("latest snapshot is %s, want %s", got.ID, later.ID)
	}
}

func TestReplaceChunksAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, _ := s.GetOrCreateDocument(ctx, "proj", "/books", "a.txt", types.KindText)
	c1 := types.Chunk{ID: uuid.NewString(), DocumentID: doc.ID, Ordinal: 0, Text: "one", TextHash: "h1"}
	c2 := types.Chunk{ID: uuid.NewString(), DocumentID: doc.ID, Ordinal: 1, Text: "two", TextHash: "h2"}
	if err := s.ReplaceChunks(ctx, doc.ID, ChunkReplace{Inserts: []types.Chunk{c1, c2}}); err != nil {
		t.Fatalf("inserting chunks: %v", err)
	}

	// Replace h2 with a new chunk, shift c1's ordinal.
	c1.Ordinal = 0
	c3 := types.Chunk{ID: uuid.NewString(), DocumentID: doc.ID, Ordinal: 1, Text: "three", TextHash: "h3"}
	err := s.ReplaceChunks(ctx, doc.ID, ChunkReplace{
		Updates:   []types.Chunk{c1},
		Inserts:   []types.Chunk{c3},
		DeleteIDs: []string{c2.ID},
	})
	if err != nil {
		t.Fatalf("replacing chunks: %v", err)
	}

	chunks, err := s.ListChunksForDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("listing chunks: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].ID != c1.ID || chunks[1].ID != c3.ID {
		t.Fatalf("unexpected chunk order/identity: %s, %s", chunks[0].ID, chunks[1].ID)
	}
}

func TestEntityAliasesAndClaims(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := types.Entity{ID: uuid.NewString(), ProjectID: "proj", Type: types.EntityCharacter, DisplayName: "Mara"}
	if err := s.CreateEntity(ctx, e); err != nil {
		t.Fatalf("creating entity: %v", err)
	}
	if err := s.AddAlias(ctx, e.ID, "mara"); err != nil {
		t.Fatalf("adding alias: %v", err)
	}
	// duplicate alias is a no-op
	if err := s.AddAlias(ctx, e.ID, "mara"); err != nil {
		t.Fatalf("re-adding alias: %v", err)
	}
	aliases, err := s.ListAliases(ctx, e.ID)
	if err != nil || len(aliases) != 1 {
		t.Fatalf("expected 1 alias, got %v (%v)", aliases, err)
	}

	found, err := s.GetEntityByAlias(ctx, "proj", "mara")
	if err != nil || found.ID != e.ID {
		t.Fatalf("alias lookup failed: %v (%v)", found, err)
	}
	if _, err := s.GetEntityByAlias(ctx, "proj", "unknown"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown alias, got %v", err)
	}

	claim := types.Claim{ID: uuid.NewString(), EntityID: e.ID, Field: "eye_color", ValueJSON: `"green"`, Status: types.ClaimInferred, Confidence: 0.8}
	if err := s.InsertClaim(ctx, claim); err != nil {
		t.Fatalf("inserting claim: %v", err)
	}
	span := types.EvidenceSpan{ChunkID: "chunk-1", QuoteStart: 3, QuoteEnd: 10}
	if err := s.InsertClaimEvidence(ctx, claim.ID, []types.EvidenceSpan{span}); err != nil {
		t.Fatalf("inserting evidence: %v", err)
	}

	claims, err := s.ListClaimsByField(ctx, e.ID, "eye_color")
	if err != nil || len(claims) != 1 {
		t.Fatalf("expected 1 claim, got %v (%v)", claims, err)
	}
	ev, err := s.ListEvidenceForClaim(ctx, claim.ID)
	if err != nil || len(ev) != 1 || ev[0] != span {
		t.Fatalf("evidence round trip failed: %v (%v)", ev, err)
	}

	// entity with claims must not be deleted
	deleted, err := s.DeleteEntityIfNoClaims(ctx, e.ID)
	if err != nil {
		t.Fatalf("conditional delete: %v", err)
	}
	if deleted {
		t.Fatal("entity with claims was deleted")
	}

	chunkIDs, err := s.ListChunkIDsForEntities(ctx, []string{e.ID})
	if err != nil || len(chunkIDs) != 1 || chunkIDs[0] != "chunk-1" {
		t.Fatalf("entity->chunk join failed: %v (%v)", chunkIDs, err)
	}
}

func TestIssuesLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	open := types.Issue{
		ID: uuid.NewString(), ProjectID: "proj", Type: types.IssueContinuity,
		Severity: types.SeverityHigh, Title: "eye color conflict", Description: "blue vs green",
		Status:   types.IssueOpen,
		Evidence: []types.EvidenceSpan{{ChunkID: "c1", QuoteStart: 0, QuoteEnd: 5}},
	}
	dismissed := types.Issue{
		ID: uuid.NewString(), ProjectID: "proj", Type: types.IssueContinuity,
		Severity: types.SeverityMedium, Title: "old conflict", Description: "",
		Status: types.IssueDismissed,
	}
	for _, is := range []types.Issue{open, dismissed} {
		if err := s.InsertIssue(ctx, is); err != nil {
			t.Fatalf("inserting issue: %v", err)
		}
	}

	if err := s.ClearOpenIssuesByType(ctx, "proj", types.IssueContinuity); err != nil {
		t.Fatalf("clearing issues: %v", err)
	}
	issues, err := s.ListIssues(ctx, "proj")
	if err != nil {
		t.Fatalf("listing issues: %v", err)
	}
	if len(issues) != 1 || issues[0].ID != dismissed.ID {
		t.Fatalf("dismissed issue should survive clears, got %v", issues)
	}
}

func TestDeleteOpenIssuesByTypeAndChunkIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	touching := types.Issue{
		ID: uuid.NewString(), ProjectID: "proj", Type: types.IssueContinuity,
		Severity: types.SeverityMedium, Title: "a", Description: "", Status: types.IssueOpen,
		Evidence: []types.EvidenceSpan{{ChunkID: "c1", QuoteStart: 0, QuoteEnd: 1}},
	}
	elsewhere := types.Issue{
		ID: uuid.NewString(), ProjectID: "proj", Type: types.IssueContinuity,
		Severity: types.SeverityMedium, Title: "b", Description: "", Status: types.IssueOpen,
		Evidence: []types.EvidenceSpan{{ChunkID: "c2", QuoteStart: 0, QuoteEnd: 1}},
	}
	for _, is := range []types.Issue{touching, elsewhere} {
		if err := s.InsertIssue(ctx, is); err != nil {
			t.Fatalf("inserting issue: %v", err)
		}
	}

	if err := s.DeleteOpenIssuesByTypeAndChunkIDs(ctx, "proj", types.IssueContinuity, []string{"c1"}); err != nil {
		t.Fatalf("scoped delete: %v", err)
	}
	issues, _ := s.ListIssues(ctx, "proj")
	if len(issues) != 1 || issues[0].ID != elsewhere.ID {
		t.Fatalf("expected only the untouched issue to remain, got %v", issues)
	}
}

func TestStyleMetricReplaceWholesale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := types.StyleMetric{ProjectID: "proj", ScopeType: types.ScopeProject, ScopeID: "proj", MetricName: "repetition", MetricJSON: `{"v":1}`}
	if err := s.ReplaceStyleMetric(ctx, m); err != nil {
		t.Fatalf("first replace: %v", err)
	}
	m.MetricJSON = `{"v":2}`
	if err := s.ReplaceStyleMetric(ctx, m); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	got, err := s.ListStyleMetrics(ctx, "proj", "repetition")
	if err != nil || len(got) != 1 {
		t.Fatalf("expected single metric row, got %v (%v)", got, err)
	}
	if got[0].MetricJSON != `{"v":2}` {
		t.Fatalf("metric not replaced wholesale: %s", got[0].MetricJSON)
	}
}

func TestReplaceScenesDropsStaleSceneMetrics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc, _ := s.GetOrCreateDocument(ctx, "proj", "/books", "b.txt", types.KindText)
	old := types.Scene{ID: uuid.NewString(), DocumentID: doc.ID, Ordinal: 0}
	if err := s.ReplaceScenes(ctx, doc.ID, []types.Scene{old}); err != nil {
		t.Fatalf("first replace: %v", err)
	}

	sceneMetric := types.StyleMetric{ProjectID: "proj", ScopeType: types.ScopeScene, ScopeID: old.ID, MetricName: "tone_vector", MetricJSON: `{"v":1}`}
	if err := s.ReplaceStyleMetric(ctx, sceneMetric); err != nil {
		t.Fatalf("scene metric: %v", err)
	}
	docMetric := types.StyleMetric{ProjectID: "proj", ScopeType: types.ScopeDocument, ScopeID: doc.ID, MetricName: "tone_vector", MetricJSON: `{"v":1}`}
	if err := s.ReplaceStyleMetric(ctx, docMetric); err != nil {
		t.Fatalf("document metric: %v", err)
	}

	// Re-segmenting mints new scene ids; metrics keyed to the old ids must
	// not linger.
	fresh := types.Scene{ID: uuid.NewString(), DocumentID: doc.ID, Ordinal: 0}
	if err := s.ReplaceScenes(ctx, doc.ID, []types.Scene{fresh}); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	got, err := s.ListStyleMetrics(ctx, "proj", "tone_vector")
	if err != nil {
		t.Fatalf("listing metrics: %v", err)
	}
	if len(got) != 1 || got[0].ScopeType != types.ScopeDocument || got[0].ScopeID != doc.ID {
		t.Fatalf("expected only the document metric to survive, got %v", got)
	}
}

func TestProcessingStateUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st := types.ProcessingState{DocumentID: "doc", SnapshotID: "snap1", Stage: types.StageStyle, Status: types.StagePending}
	if err := s.UpsertProcessingState(ctx, st); err != nil {
		t.Fatalf("upserting pending: %v", err)
	}
	st.Status = types.StageOK
	if err := s.UpsertProcessingState(ctx, st); err != nil {
		t.Fatalf("upserting ok: %v", err)
	}

	got, err := s.GetProcessingState(ctx, "doc", types.StageStyle)
	if err != nil {
		t.Fatalf("getting state: %v", err)
	}
	if got.Status != types.StageOK || got.SnapshotID != "snap1" {
		t.Fatalf("unexpected state: %+v", got)
	}
}
