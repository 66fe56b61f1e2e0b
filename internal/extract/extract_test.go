package extract

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackzampolin/quill/internal/config"
	"github.com/jackzampolin/quill/internal/providers"
	"github.com/jackzampolin/quill/internal/store"
	"github.com/jackzampolin/quill/internal/types"
)

func TestDefaultOptionsMatchConfigDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	want := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
	if got := DefaultOptions().Timeout; got != want {
		t.Fatalf("default LLM timeout %v, config default %v", got, want)
	}
}

func mkChunks(texts ...string) []types.Chunk {
	out := make([]types.Chunk, len(texts))
	for i, txt := range texts {
		out[i] = types.Chunk{ID: fmt.Sprintf("chunk-%d", i), DocumentID: "doc", Ordinal: i, Text: txt}
	}
	return out
}

func TestHeuristicScanPossessive(t *testing.T) {
	chunks := mkChunks("Mira's eyes were emerald. She turned away from the window.")
	cands := HeuristicScan(chunks, nil)
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d: %+v", len(cands), cands)
	}
	c := cands[0]
	if c.EntityName != "Mira" || c.Field != "eye_color" {
		t.Errorf("candidate = %s/%s", c.EntityName, c.Field)
	}
	if c.Value != "green" {
		t.Errorf("value = %q, want palette-normalized green", c.Value)
	}
	if c.Confidence != possessiveConfidence {
		t.Errorf("confidence = %v", c.Confidence)
	}
	if c.Quote != "Mira's eyes were emerald" {
		t.Errorf("quote = %q", c.Quote)
	}
}

func TestHeuristicScanPronounBindsLastName(t *testing.T) {
	chunks := mkChunks(
		"Mira crossed the room without a word.",
		"Her hair was raven in the lamplight.",
	)
	cands := HeuristicScan(chunks, []string{"Mira"})
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}
	c := cands[0]
	if c.EntityName != "Mira" {
		t.Errorf("pronoun bound to %q, want Mira", c.EntityName)
	}
	if c.Field != "hair_color" || c.Value != "black" {
		t.Errorf("claim = %s=%q", c.Field, c.Value)
	}
	if c.Confidence != pronounConfidence {
		t.Errorf("confidence = %v", c.Confidence)
	}
	if c.ChunkIndex != 1 {
		t.Errorf("chunk index = %d", c.ChunkIndex)
	}
}

func TestHeuristicScanPronounWithoutAntecedent(t *testing.T) {
	chunks := mkChunks("Her eyes were blue and cold as the harbor in winter.")
	if cands := HeuristicScan(chunks, nil); len(cands) != 0 {
		t.Fatalf("expected no candidates without an antecedent, got %+v", cands)
	}
}

func TestNormalizeValue(t *testing.T) {
	cases := map[string]string{
		"Emerald":       "green",
		"  Dark   Blue": "dark blue",
		"crimson":       "red",
		"hazel":         "hazel",
	}
	for in, want := range cases {
		if got := NormalizeValue(in); got != want {
			t.Errorf("NormalizeValue(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSortMergesOrdering(t *testing.T) {
	merges := []llmMerge{
		{A: "z", B: "y", Confidence: 0.8},
		{A: "b", B: "a", Confidence: 0.8},
		{A: "c", B: "d", Confidence: 0.95},
	}
	sorted := sortMerges(merges)
	if sorted[0].Confidence != 0.95 {
		t.Fatalf("highest confidence not first: %+v", sorted)
	}
	// Equal confidence ties break on the unordered pair key.
	if sorted[1].A != "b" || sorted[2].A != "z" {
		t.Errorf("tie-break order wrong: %+v", sorted)
	}
}

func TestChooseMergeTarget(t *testing.T) {
	known := map[string]bool{"old": true}
	if tgt, src := chooseMergeTarget("new", "old", known); tgt != "old" || src != "new" {
		t.Errorf("known entity must win: got target=%s source=%s", tgt, src)
	}
	if tgt, _ := chooseMergeTarget("bbb", "aaa", nil); tgt != "aaa" {
		t.Errorf("lexicographic tie-break: got %s", tgt)
	}
}

func TestRedirectsFollowChains(t *testing.T) {
	r := redirects{"a": "b", "b": "c"}
	if got := r.resolve("a"); got != "c" {
		t.Errorf("resolve(a) = %s, want c", got)
	}
	if got := r.resolve("x"); got != "x" {
		t.Errorf("resolve(x) = %s, want x", got)
	}
}

func newTestEngine(t *testing.T, client providers.LLMClient) (*Engine, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewEngine(s, client, DefaultOptions(), nil), s
}

func TestEngineHeuristicOnlyIdempotent(t *testing.T) {
	eng, s := newTestEngine(t, nil)
	ctx := context.Background()
	chunks := mkChunks("Mira's eyes were emerald. The storm had passed by noon.")

	res, err := eng.Run(ctx, "proj", chunks)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if res.EntitiesCreated != 1 || res.ClaimsCreated != 1 {
		t.Fatalf("first run created %d entities, %d claims", res.EntitiesCreated, res.ClaimsCreated)
	}
	if len(res.TouchedEntityIDs) != 1 {
		t.Fatalf("touched = %v", res.TouchedEntityIDs)
	}

	claims, err := s.ListClaimsByEntity(ctx, res.TouchedEntityIDs[0])
	if err != nil {
		t.Fatalf("listing claims: %v", err)
	}
	if len(claims) != 1 || claims[0].ValueJSON != `"green"` {
		t.Fatalf("claims = %+v", claims)
	}
	spans, err := s.ListEvidenceForClaim(ctx, claims[0].ID)
	if err != nil {
		t.Fatalf("listing evidence: %v", err)
	}
	if len(spans) != 1 || spans[0].ChunkID != "chunk-0" {
		t.Fatalf("evidence = %+v", spans)
	}

	// Re-running over identical chunks must not duplicate anything.
	res2, err := eng.Run(ctx, "proj", chunks)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res2.EntitiesCreated != 0 || res2.ClaimsCreated != 0 {
		t.Fatalf("second run created %d entities, %d claims", res2.EntitiesCreated, res2.ClaimsCreated)
	}
}

func TestEngineLLMMergeKeepsKnownEntity(t *testing.T) {
	mock := providers.NewMockLLMClient()
	eng, s := newTestEngine(t, mock)
	ctx := context.Background()

	existing := types.Entity{
		ID: "entity-existing", ProjectID: "proj",
		Type: types.EntityCharacter, DisplayName: "Captain Reyes", CanonicalName: "captain reyes",
	}
	if err := s.CreateEntity(ctx, existing); err != nil {
		t.Fatalf("seeding entity: %v", err)
	}
	if err := s.AddAlias(ctx, existing.ID, "captain reyes"); err != nil {
		t.Fatalf("seeding alias: %v", err)
	}

	chunks := mkChunks("The rider's cloak was gray in the dawn light. He said nothing at the gate.")
	mock.QueueJSON(fmt.Sprintf(`{
		"entities": [
			{"temp_id": "t1", "name": "Aldric", "type": "character", "aliases": []},
			{"temp_id": "t2", "name": "The Gray Rider", "type": "character", "aliases": []}
		],
		"claims": [
			{"entity_ref": "t1", "field": "cloak_color", "value": "gray", "confidence": 0.85,
			 "evidence": [{"quote": "cloak was gray"}]}
		],
		"merges": [
			{"a": "t1", "b": "t2", "confidence": 0.8},
			{"a": "t2", "b": %q, "confidence": 0.91}
		]
	}`, existing.ID))

	res, err := eng.Run(ctx, "proj", chunks)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// Both new entities merge into the pre-existing one, so the claim lands
	// there and the empty temporaries are swept.
	claims, err := s.ListClaimsByField(ctx, existing.ID, "cloak_color")
	if err != nil {
		t.Fatalf("listing claims: %v", err)
	}
	if len(claims) != 1 || claims[0].ValueJSON != `"gray"` {
		t.Fatalf("claims on existing entity = %+v", claims)
	}

	entities, err := s.ListEntitiesByProject(ctx, "proj")
	if err != nil {
		t.Fatalf("listing entities: %v", err)
	}
	if len(entities) != 1 || entities[0].ID != existing.ID {
		t.Fatalf("surviving entities = %+v", entities)
	}

	found := false
	for _, id := range res.TouchedEntityIDs {
		if id == existing.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("touched set %v missing %s", res.TouchedEntityIDs, existing.ID)
	}
}

func TestEngineDropsClaimWithoutResolvableEvidence(t *testing.T) {
	mock := providers.NewMockLLMClient()
	eng, s := newTestEngine(t, mock)
	ctx := context.Background()

	chunks := mkChunks("The ferry crossed at first light and the water lay flat.")
	mock.QueueJSON(`{
		"entities": [{"temp_id": "t1", "name": "Wren", "type": "character", "aliases": []}],
		"claims": [
			{"entity_ref": "t1", "field": "eye_color", "value": "blue", "confidence": 0.9,
			 "evidence": [{"quote": "this quote appears nowhere in the text"}]}
		],
		"merges": []
	}`)

	res, err := eng.Run(ctx, "proj", chunks)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ClaimsCreated != 0 {
		t.Fatalf("claims created = %d, want 0", res.ClaimsCreated)
	}

	// The entity itself still exists; only the unverifiable claim is dropped.
	entities, err := s.ListEntitiesByProject(ctx, "proj")
	if err != nil {
		t.Fatalf("listing entities: %v", err)
	}
	if len(entities) != 1 {
		t.Fatalf("entities = %+v", entities)
	}
}

func TestEngineLLMFailurePropagates(t *testing.T) {
	mock := providers.NewMockLLMClient()
	eng, _ := newTestEngine(t, mock)
	mock.QueueError(errors.New("upstream unavailable"))

	_, err := eng.Run(context.Background(), "proj", mkChunks("Some text."))
	if err == nil {
		t.Fatal("expected LLM failure to propagate")
	}
}
