package continuity

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/jackzampolin/quill/internal/store"
	"github.com/jackzampolin/quill/internal/types"
)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *store.SQLiteStore
	doc   types.Document
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewSQLiteStore(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	doc, err := s.GetOrCreateDocument(ctx, "proj", "/books", "draft.md", types.KindMarkdown)
	if err != nil {
		t.Fatalf("creating document: %v", err)
	}
	return &fixture{t: t, ctx: ctx, store: s, doc: doc}
}

func (f *fixture) addChunk(id, text string) {
	f.t.Helper()
	err := f.store.ReplaceChunks(f.ctx, f.doc.ID, store.ChunkReplace{
		Inserts: []types.Chunk{{ID: id, DocumentID: f.doc.ID, Ordinal: 0, Text: text, TextHash: id}},
	})
	if err != nil {
		f.t.Fatalf("inserting chunk: %v", err)
	}
}

func (f *fixture) addEntity(name string) types.Entity {
	f.t.Helper()
	ent := types.Entity{
		ID: uuid.NewString(), ProjectID: "proj",
		Type: types.EntityCharacter, DisplayName: name, CanonicalName: name,
	}
	if err := f.store.CreateEntity(f.ctx, ent); err != nil {
		f.t.Fatalf("creating entity: %v", err)
	}
	return ent
}

func (f *fixture) addClaim(entityID, field, valueJSON string, status types.ClaimStatus, span types.EvidenceSpan) types.Claim {
	f.t.Helper()
	claim := types.Claim{
		ID: uuid.NewString(), EntityID: entityID, Field: field,
		ValueJSON: valueJSON, Status: status, Confidence: 0.9,
	}
	if err := f.store.InsertClaim(f.ctx, claim); err != nil {
		f.t.Fatalf("inserting claim: %v", err)
	}
	if err := f.store.InsertClaimEvidence(f.ctx, claim.ID, []types.EvidenceSpan{span}); err != nil {
		f.t.Fatalf("inserting evidence: %v", err)
	}
	return claim
}

func TestConflictWithConfirmedClaimIsHighSeverity(t *testing.T) {
	f := newFixture(t)
	f.addChunk("c1", "Her eyes were blue in the morning light, green by evening.")
	ent := f.addEntity("Mira")
	f.addClaim(ent.ID, "eye_color", `"blue"`, types.ClaimInferred, types.EvidenceSpan{ChunkID: "c1", QuoteStart: 14, QuoteEnd: 18})
	f.addClaim(ent.ID, "eye_color", `"green"`, types.ClaimConfirmed, types.EvidenceSpan{ChunkID: "c1", QuoteStart: 41, QuoteEnd: 46})

	checker := NewChecker(f.store, nil)
	raised, err := checker.ScanProject(f.ctx, "proj")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if raised != 1 {
		t.Fatalf("raised = %d, want 1", raised)
	}

	issues, err := f.store.ListIssues(f.ctx, "proj")
	if err != nil {
		t.Fatalf("listing issues: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("issues = %+v", issues)
	}
	is := issues[0]
	if is.Type != types.IssueContinuity || is.Severity != types.SeverityHigh {
		t.Errorf("issue type/severity = %s/%s", is.Type, is.Severity)
	}
	if len(is.Evidence) != 2 {
		t.Errorf("evidence count = %d, want 2", len(is.Evidence))
	}
}

func TestBothInferredIsMediumSeverity(t *testing.T) {
	f := newFixture(t)
	f.addChunk("c1", "The sword was called Dawnbreaker. Later it was called Nightfall.")
	ent := f.addEntity("The Sword")
	f.addClaim(ent.ID, "name", `"Dawnbreaker"`, types.ClaimInferred, types.EvidenceSpan{ChunkID: "c1", QuoteStart: 21, QuoteEnd: 32})
	f.addClaim(ent.ID, "name", `"Nightfall"`, types.ClaimInferred, types.EvidenceSpan{ChunkID: "c1", QuoteStart: 55, QuoteEnd: 64})

	checker := NewChecker(f.store, nil)
	if _, err := checker.ScanProject(f.ctx, "proj"); err != nil {
		t.Fatalf("scan: %v", err)
	}
	issues, _ := f.store.ListIssues(f.ctx, "proj")
	if len(issues) != 1 || issues[0].Severity != types.SeverityMedium {
		t.Fatalf("issues = %+v", issues)
	}
}

func TestCaseDifferenceIsNotAConflict(t *testing.T) {
	f := newFixture(t)
	f.addChunk("c1", "He drew Stormblade. The stormblade sang.")
	ent := f.addEntity("The Sword")
	f.addClaim(ent.ID, "name", `"Stormblade"`, types.ClaimInferred, types.EvidenceSpan{ChunkID: "c1", QuoteStart: 8, QuoteEnd: 18})
	f.addClaim(ent.ID, "name", `"stormblade"`, types.ClaimInferred, types.EvidenceSpan{ChunkID: "c1", QuoteStart: 24, QuoteEnd: 34})

	checker := NewChecker(f.store, nil)
	raised, err := checker.ScanProject(f.ctx, "proj")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if raised != 0 {
		issues, _ := f.store.ListIssues(f.ctx, "proj")
		t.Fatalf("case-only difference raised issues: %+v", issues)
	}
}

func TestTrailingWhitespaceIsAConflict(t *testing.T) {
	f := newFixture(t)
	f.addChunk("c1", "They steered by the north star all night long.")
	ent := f.addEntity("The Ship")
	f.addClaim(ent.ID, "heading", `"north star"`, types.ClaimInferred, types.EvidenceSpan{ChunkID: "c1", QuoteStart: 20, QuoteEnd: 30})
	f.addClaim(ent.ID, "heading", `"north star "`, types.ClaimInferred, types.EvidenceSpan{ChunkID: "c1", QuoteStart: 20, QuoteEnd: 31})

	checker := NewChecker(f.store, nil)
	raised, err := checker.ScanProject(f.ctx, "proj")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if raised != 1 {
		t.Fatalf("raised = %d, want 1 (lowercase does not trim)", raised)
	}
}

func TestUnresolvableEvidenceExcludesClaim(t *testing.T) {
	f := newFixture(t)
	f.addChunk("c1", "Short text.")
	ent := f.addEntity("Mira")
	f.addClaim(ent.ID, "eye_color", `"blue"`, types.ClaimInferred, types.EvidenceSpan{ChunkID: "c1", QuoteStart: 0, QuoteEnd: 5})
	// Span reaches past the chunk text; this claim must not participate.
	f.addClaim(ent.ID, "eye_color", `"green"`, types.ClaimInferred, types.EvidenceSpan{ChunkID: "c1", QuoteStart: 0, QuoteEnd: 500})

	checker := NewChecker(f.store, nil)
	raised, err := checker.ScanProject(f.ctx, "proj")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if raised != 0 {
		t.Fatalf("raised = %d, want 0", raised)
	}
}

func TestDismissedIssueSurvivesRescan(t *testing.T) {
	f := newFixture(t)
	f.addChunk("c1", "Her eyes were blue in the morning light, green by evening.")
	ent := f.addEntity("Mira")
	f.addClaim(ent.ID, "eye_color", `"blue"`, types.ClaimInferred, types.EvidenceSpan{ChunkID: "c1", QuoteStart: 14, QuoteEnd: 18})
	f.addClaim(ent.ID, "eye_color", `"green"`, types.ClaimInferred, types.EvidenceSpan{ChunkID: "c1", QuoteStart: 41, QuoteEnd: 46})

	checker := NewChecker(f.store, nil)
	if _, err := checker.ScanProject(f.ctx, "proj"); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	issues, _ := f.store.ListIssues(f.ctx, "proj")
	if len(issues) != 1 {
		t.Fatalf("issues = %+v", issues)
	}
	if err := f.store.UpdateIssueStatus(f.ctx, issues[0].ID, types.IssueDismissed); err != nil {
		t.Fatalf("dismissing: %v", err)
	}

	if _, err := checker.ScanProject(f.ctx, "proj"); err != nil {
		t.Fatalf("second scan: %v", err)
	}
	issues, _ = f.store.ListIssues(f.ctx, "proj")
	// The dismissed issue survives; the conflict is re-raised as a new open issue.
	var dismissed, open int
	for _, is := range issues {
		switch is.Status {
		case types.IssueDismissed:
			dismissed++
		case types.IssueOpen:
			open++
		}
	}
	if dismissed != 1 || open != 1 {
		t.Fatalf("dismissed=%d open=%d, want 1/1", dismissed, open)
	}
}

func TestIncrementalScanLeavesOtherEntitiesAlone(t *testing.T) {
	f := newFixture(t)
	f.addChunk("c1", "Her eyes were blue in the morning light, green by evening.")
	f.addChunk("c2", "His hair was gold at dawn and silver by dusk, they said.")
	a := f.addEntity("Mira")
	b := f.addEntity("Tomas")
	f.addClaim(a.ID, "eye_color", `"blue"`, types.ClaimInferred, types.EvidenceSpan{ChunkID: "c1", QuoteStart: 14, QuoteEnd: 18})
	f.addClaim(a.ID, "eye_color", `"green"`, types.ClaimInferred, types.EvidenceSpan{ChunkID: "c1", QuoteStart: 41, QuoteEnd: 46})
	f.addClaim(b.ID, "hair_color", `"gold"`, types.ClaimInferred, types.EvidenceSpan{ChunkID: "c2", QuoteStart: 13, QuoteEnd: 17})
	f.addClaim(b.ID, "hair_color", `"silver"`, types.ClaimInferred, types.EvidenceSpan{ChunkID: "c2", QuoteStart: 30, QuoteEnd: 36})

	checker := NewChecker(f.store, nil)
	if _, err := checker.ScanProject(f.ctx, "proj"); err != nil {
		t.Fatalf("full scan: %v", err)
	}
	issues, _ := f.store.ListIssues(f.ctx, "proj")
	if len(issues) != 2 {
		t.Fatalf("expected 2 issues after full scan, got %+v", issues)
	}

	// An incremental re-scan of Mira must clear and re-raise only her issue.
	raised, err := checker.ScanEntities(f.ctx, "proj", []string{a.ID})
	if err != nil {
		t.Fatalf("incremental scan: %v", err)
	}
	if raised != 1 {
		t.Fatalf("raised = %d, want 1", raised)
	}
	issues, _ = f.store.ListIssues(f.ctx, "proj")
	if len(issues) != 2 {
		t.Fatalf("expected 2 issues after incremental scan, got %d", len(issues))
	}
}

func TestThirdValueNamedInDescription(t *testing.T) {
	f := newFixture(t)
	f.addChunk("c1", "Eyes of blue, then green, then gray within one chapter.")
	ent := f.addEntity("Mira")
	f.addClaim(ent.ID, "eye_color", `"blue"`, types.ClaimInferred, types.EvidenceSpan{ChunkID: "c1", QuoteStart: 8, QuoteEnd: 12})
	f.addClaim(ent.ID, "eye_color", `"green"`, types.ClaimInferred, types.EvidenceSpan{ChunkID: "c1", QuoteStart: 19, QuoteEnd: 24})
	f.addClaim(ent.ID, "eye_color", `"gray"`, types.ClaimInferred, types.EvidenceSpan{ChunkID: "c1", QuoteStart: 31, QuoteEnd: 35})

	checker := NewChecker(f.store, nil)
	raised, err := checker.ScanProject(f.ctx, "proj")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if raised != 1 {
		t.Fatalf("raised = %d, want exactly 1 issue per field", raised)
	}
	issues, _ := f.store.ListIssues(f.ctx, "proj")
	if len(issues[0].Evidence) != 2 {
		t.Errorf("evidence spans = %d, want 2 (first two values only)", len(issues[0].Evidence))
	}
	if want := `"gray"`; !strings.Contains(issues[0].Description, want) {
		t.Errorf("description %q does not name the third value", issues[0].Description)
	}
}
