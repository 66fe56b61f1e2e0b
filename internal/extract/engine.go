package extract

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/quill/internal/evidence"
	"github.com/jackzampolin/quill/internal/providers"
	"github.com/jackzampolin/quill/internal/store"
	"github.com/jackzampolin/quill/internal/types"
)

// Options tunes a single extraction run.
type Options struct {
	MergeConfidence float64
	MaxRetries      int
	Temperature     float64
	MaxTokens       int
	Timeout         time.Duration
}

// DefaultOptions returns the stock extraction tuning.
func DefaultOptions() Options {
	return Options{
		MergeConfidence: DefaultMergeConfidence,
		MaxRetries:      2,
		Temperature:     0.1,
		MaxTokens:       4096,
		Timeout:         60 * time.Second,
	}
}

// Engine runs entity and claim extraction over a set of in-scope chunks.
// A nil LLM client disables the LLM pass; the heuristic pass always runs.
type Engine struct {
	store  store.Store
	client providers.LLMClient
	opts   Options
	logger *slog.Logger
}

func NewEngine(st store.Store, client providers.LLMClient, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MergeConfidence == 0 {
		opts.MergeConfidence = DefaultMergeConfidence
	}
	return &Engine{store: st, client: client, opts: opts, logger: logger}
}

// Result reports what one extraction run changed. TouchedEntityIDs is the
// sorted set of entities that gained a claim or participated in a merge,
// which scopes the incremental continuity re-scan.
type Result struct {
	TouchedEntityIDs []string
	EntitiesCreated  int
	ClaimsCreated    int
}

// runState carries per-run bookkeeping between the two passes.
type runState struct {
	projectID   string
	chunks      []types.Chunk
	aliasIndex  map[string]string // loose-normalized alias -> entity id
	knownBefore map[string]bool   // entity ids that existed before this run
	created     map[string]bool   // entity ids created during this run
	touched     map[string]bool
	red         redirects
	entities    int
	claims      int
}

// Run extracts entities and claims from chunks, resolving evidence spans
// against literal chunk text. Claims whose evidence cannot be resolved are
// dropped; LLM transport or validation failures fail the whole run so the
// stage records a clean failure instead of a silently partial pass.
func (e *Engine) Run(ctx context.Context, projectID string, chunks []types.Chunk) (*Result, error) {
	rs := &runState{
		projectID:   projectID,
		chunks:      chunks,
		aliasIndex:  map[string]string{},
		knownBefore: map[string]bool{},
		created:     map[string]bool{},
		touched:     map[string]bool{},
		red:         redirects{},
	}

	known, err := e.loadKnown(ctx, rs)
	if err != nil {
		return nil, err
	}

	if err := e.heuristicPass(ctx, rs, known); err != nil {
		return nil, err
	}

	if e.client != nil {
		if err := e.llmPass(ctx, rs, known); err != nil {
			return nil, err
		}
	}

	touched := make([]string, 0, len(rs.touched))
	for id := range rs.touched {
		touched = append(touched, id)
	}
	sort.Strings(touched)

	return &Result{
		TouchedEntityIDs: touched,
		EntitiesCreated:  rs.entities,
		ClaimsCreated:    rs.claims,
	}, nil
}

// loadKnown indexes existing project entities and their aliases.
func (e *Engine) loadKnown(ctx context.Context, rs *runState) ([]KnownEntity, error) {
	entities, err := e.store.ListEntitiesByProject(ctx, rs.projectID)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}

	known := make([]KnownEntity, 0, len(entities))
	for _, ent := range entities {
		aliases, err := e.store.ListAliases(ctx, ent.ID)
		if err != nil {
			return nil, fmt.Errorf("listing aliases for %s: %w", ent.ID, err)
		}
		rs.knownBefore[ent.ID] = true
		rs.aliasIndex[NormalizeAliasLoose(ent.DisplayName)] = ent.ID
		rs.aliasIndex[NormalizeAliasLoose(ent.CanonicalName)] = ent.ID
		for _, a := range aliases {
			rs.aliasIndex[NormalizeAliasLoose(a)] = ent.ID
		}
		known = append(known, KnownEntity{ID: ent.ID, Name: ent.DisplayName, Type: ent.Type, Aliases: aliases})
	}
	return known, nil
}

func (e *Engine) heuristicPass(ctx context.Context, rs *runState, known []KnownEntity) error {
	names := make([]string, 0, len(known))
	for _, k := range known {
		names = append(names, k.Name)
		names = append(names, k.Aliases...)
	}

	for _, cand := range HeuristicScan(rs.chunks, names) {
		chunk := rs.chunks[cand.ChunkIndex]
		span := evidence.Resolve(chunk.Text, cand.Quote)
		if span == nil {
			e.logger.Warn("heuristic quote did not resolve", "entity", cand.EntityName, "field", cand.Field)
			continue
		}
		entityID, err := e.resolveOrCreate(ctx, rs, cand.EntityName, cand.EntityType)
		if err != nil {
			return err
		}
		err = e.addClaim(ctx, rs, entityID, cand.Field, cand.Value, cand.Confidence, []types.EvidenceSpan{
			{ChunkID: chunk.ID, QuoteStart: span.Start, QuoteEnd: span.End},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) llmPass(ctx context.Context, rs *runState, known []KnownEntity) error {
	req := buildExtractionRequest(known, rs.chunks, e.opts.Temperature, e.opts.MaxTokens, e.opts.Timeout)
	res, err := providers.CompleteJSONWithRetry(ctx, e.client, req, e.opts.MaxRetries, e.logger)
	if err != nil {
		return fmt.Errorf("llm extraction pass: %w", err)
	}
	resp, err := parseExtractionResponse(res.JSON)
	if err != nil {
		return err
	}

	tempTo := map[string]string{}
	for _, le := range resp.Entities {
		id, err := e.resolveLLMEntity(ctx, rs, le)
		if err != nil {
			return err
		}
		tempTo[le.TempID] = id
	}

	if err := e.applyMerges(ctx, rs, resp.Merges, tempTo); err != nil {
		return err
	}

	for _, lc := range resp.Claims {
		entityID := resolveRef(rs, tempTo, lc.EntityRef)
		if entityID == "" {
			e.logger.Warn("claim references unknown entity", "ref", lc.EntityRef, "field", lc.Field)
			continue
		}
		spans := e.resolveSpans(rs, lc.Evidence)
		if len(spans) == 0 {
			e.logger.Warn("dropping claim with no resolvable evidence",
				"entity", entityID, "field", lc.Field)
			continue
		}
		value := NormalizeValue(lc.Value)
		if err := e.addClaim(ctx, rs, entityID, lc.Field, value, lc.Confidence, spans); err != nil {
			return err
		}
	}

	// Newly created entities that were merged away and gained no claims of
	// their own are noise; sweep them.
	for source := range rs.red {
		if !rs.created[source] {
			continue
		}
		deleted, err := e.store.DeleteEntityIfNoClaims(ctx, source)
		if err != nil {
			return fmt.Errorf("sweeping merged entity %s: %w", source, err)
		}
		if deleted {
			delete(rs.touched, source)
		}
	}
	return nil
}

// resolveLLMEntity maps a returned entity to an existing one by alias, or
// creates it. Fresh aliases are recorded either way.
func (e *Engine) resolveLLMEntity(ctx context.Context, rs *runState, le llmEntity) (string, error) {
	keys := make([]string, 0, 1+len(le.Aliases))
	keys = append(keys, NormalizeAliasLoose(le.Name))
	for _, a := range le.Aliases {
		keys = append(keys, NormalizeAliasLoose(a))
	}

	for _, k := range keys {
		if id, ok := rs.aliasIndex[k]; ok {
			id = rs.red.resolve(id)
			if err := e.recordAliases(ctx, rs, id, le); err != nil {
				return "", err
			}
			return id, nil
		}
	}

	ent := types.Entity{
		ID:            uuid.NewString(),
		ProjectID:     rs.projectID,
		Type:          parseEntityType(le.Type),
		DisplayName:   le.Name,
		CanonicalName: NormalizeAlias(le.Name),
	}
	if err := e.store.CreateEntity(ctx, ent); err != nil {
		return "", fmt.Errorf("creating entity %q: %w", le.Name, err)
	}
	rs.created[ent.ID] = true
	rs.touched[ent.ID] = true
	rs.entities++
	if err := e.recordAliases(ctx, rs, ent.ID, le); err != nil {
		return "", err
	}
	return ent.ID, nil
}

func (e *Engine) recordAliases(ctx context.Context, rs *runState, entityID string, le llmEntity) error {
	for _, raw := range append([]string{le.Name}, le.Aliases...) {
		alias := NormalizeAlias(raw)
		if alias == "" {
			continue
		}
		if err := e.store.AddAlias(ctx, entityID, alias); err != nil {
			return fmt.Errorf("adding alias %q: %w", alias, err)
		}
		rs.aliasIndex[NormalizeAliasLoose(raw)] = entityID
	}
	return nil
}

// applyMerges applies suggested merges in deterministic order. The surviving
// entity keeps all aliases; claims are attached only after merge resolution,
// so a merged-away source never accumulates claims from this run's LLM pass.
func (e *Engine) applyMerges(ctx context.Context, rs *runState, merges []llmMerge, tempTo map[string]string) error {
	for _, m := range sortMerges(merges) {
		if m.Confidence < e.opts.MergeConfidence {
			continue
		}
		a := resolveRef(rs, tempTo, m.A)
		b := resolveRef(rs, tempTo, m.B)
		if a == "" || b == "" || a == b {
			continue
		}
		target, source := chooseMergeTarget(a, b, rs.knownBefore)

		aliases, err := e.store.ListAliases(ctx, source)
		if err != nil {
			return fmt.Errorf("listing aliases for merge source %s: %w", source, err)
		}
		for _, alias := range aliases {
			if err := e.store.AddAlias(ctx, target, alias); err != nil {
				return fmt.Errorf("transferring alias %q: %w", alias, err)
			}
		}
		for k, id := range rs.aliasIndex {
			if id == source {
				rs.aliasIndex[k] = target
			}
		}

		rs.red[source] = target
		rs.touched[target] = true
		rs.touched[source] = true
		e.logger.Info("merged entities", "source", source, "target", target, "confidence", m.Confidence)
	}
	return nil
}

// resolveRef maps a claim/merge reference (temp id or entity id) to the
// surviving entity id, or "" when the reference is unknown.
func resolveRef(rs *runState, tempTo map[string]string, ref string) string {
	if id, ok := tempTo[ref]; ok {
		return rs.red.resolve(id)
	}
	if rs.knownBefore[ref] || rs.created[ref] {
		return rs.red.resolve(ref)
	}
	return ""
}

// resolveSpans resolves each quote against the in-scope chunks, keeping the
// first chunk that matches. Unresolvable quotes are silently dropped here;
// the caller decides whether the claim survives.
func (e *Engine) resolveSpans(rs *runState, quotes []llmEvidence) []types.EvidenceSpan {
	var spans []types.EvidenceSpan
	for _, ev := range quotes {
		for i := range rs.chunks {
			if span := evidence.Resolve(rs.chunks[i].Text, ev.Quote); span != nil {
				spans = append(spans, types.EvidenceSpan{
					ChunkID:    rs.chunks[i].ID,
					QuoteStart: span.Start,
					QuoteEnd:   span.End,
				})
				break
			}
		}
	}
	return spans
}

// resolveOrCreate finds an entity by loose alias match or creates it.
func (e *Engine) resolveOrCreate(ctx context.Context, rs *runState, name string, typ types.EntityType) (string, error) {
	key := NormalizeAliasLoose(name)
	if id, ok := rs.aliasIndex[key]; ok {
		return rs.red.resolve(id), nil
	}

	ent := types.Entity{
		ID:            uuid.NewString(),
		ProjectID:     rs.projectID,
		Type:          typ,
		DisplayName:   name,
		CanonicalName: NormalizeAlias(name),
	}
	if err := e.store.CreateEntity(ctx, ent); err != nil {
		return "", fmt.Errorf("creating entity %q: %w", name, err)
	}
	if err := e.store.AddAlias(ctx, ent.ID, NormalizeAlias(name)); err != nil {
		return "", fmt.Errorf("adding alias %q: %w", name, err)
	}
	rs.aliasIndex[key] = ent.ID
	rs.created[ent.ID] = true
	rs.touched[ent.ID] = true
	rs.entities++
	return ent.ID, nil
}

// addClaim inserts a claim unless an identical live (entity, field, value)
// claim already exists. Evidence rows ride along with a fresh claim only.
func (e *Engine) addClaim(ctx context.Context, rs *runState, entityID, field, value string, conf float64, spans []types.EvidenceSpan) error {
	valueJSON := ValueJSON(value)

	existing, err := e.store.ListClaimsByField(ctx, entityID, field)
	if err != nil {
		return fmt.Errorf("listing claims for dedup: %w", err)
	}
	for _, c := range existing {
		if c.ValueJSON == valueJSON && c.Status != types.ClaimRejected && c.Status != types.ClaimSuperseded {
			return nil
		}
	}

	claim := types.Claim{
		ID:         uuid.NewString(),
		EntityID:   entityID,
		Field:      field,
		ValueJSON:  valueJSON,
		Status:     types.ClaimInferred,
		Confidence: conf,
	}
	if err := e.store.InsertClaim(ctx, claim); err != nil {
		return fmt.Errorf("inserting claim: %w", err)
	}
	if err := e.store.InsertClaimEvidence(ctx, claim.ID, spans); err != nil {
		return fmt.Errorf("inserting claim evidence: %w", err)
	}
	rs.claims++
	rs.touched[entityID] = true
	return nil
}
