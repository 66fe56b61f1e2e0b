// Package pipeline wires the processing stages together: ingest, scenes,
// style, extraction, continuity. Each stage runs through an idempotent
// snapshot-keyed state machine, so re-running a completed stage is a no-op
// and a failed stage is retryable by calling it again.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/quill/internal/chunker"
	"github.com/jackzampolin/quill/internal/continuity"
	"github.com/jackzampolin/quill/internal/evidence"
	"github.com/jackzampolin/quill/internal/extract"
	"github.com/jackzampolin/quill/internal/providers"
	"github.com/jackzampolin/quill/internal/scenes"
	"github.com/jackzampolin/quill/internal/store"
	"github.com/jackzampolin/quill/internal/style"
	"github.com/jackzampolin/quill/internal/types"
)

// Options tunes the pipeline's components.
type Options struct {
	Limits     chunker.Limits
	Extraction extract.Options
	Style      style.Options
	Lexicon    *style.Lexicon
}

func DefaultOptions() Options {
	return Options{
		Limits:     chunker.DefaultLimits(),
		Extraction: extract.DefaultOptions(),
		Style:      style.DefaultAnalyzerOptions(),
	}
}

// Pipeline executes stages for one project's documents. A nil LLM client
// runs extraction in heuristic-only mode. Callers must not run overlapping
// extraction or continuity for the same project; the pipeline itself is
// single-threaded per invocation.
type Pipeline struct {
	store    store.Store
	llm      providers.LLMClient
	opts     Options
	analyzer *style.Analyzer
	checker  *continuity.Checker
	logger   *slog.Logger
}

func New(st store.Store, llm providers.LLMClient, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Limits.MaxChunk == 0 {
		opts.Limits = chunker.DefaultLimits()
	}
	return &Pipeline{
		store:    st,
		llm:      llm,
		opts:     opts,
		analyzer: style.NewAnalyzer(st, opts.Lexicon, opts.Style, logger),
		checker:  continuity.NewChecker(st, logger),
		logger:   logger,
	}
}

// RunContext carries per-invocation state between stages of one document.
// ChangeStart/ChangeEnd are the chunk ordinals ingest marked dirty (-1/-1
// when nothing changed); TouchedEntityIDs is filled by the extraction
// stage and consumed by continuity.
type RunContext struct {
	ProjectID        string
	DocumentID       string
	SnapshotID       string
	ChangeStart      int
	ChangeEnd        int
	TouchedEntityIDs []string
}

// StageResult reports a stage invocation's outcome. Skipped means the
// snapshot moved on or the stage already completed for it.
type StageResult struct {
	OK               bool
	Skipped          bool
	TouchedEntityIDs []string
}

// runStage is the state machine every stage body runs inside. The body
// only executes when the document's latest snapshot still matches and the
// ledger does not already record ok for it. Failures are recorded, logged
// as events, and re-thrown wrapped in StageFailureError.
func (p *Pipeline) runStage(ctx context.Context, rc *RunContext, stage types.Stage, body func(context.Context) ([]string, error)) (*StageResult, error) {
	latest, err := p.store.GetLatestSnapshot(ctx, rc.DocumentID)
	if errors.Is(err, store.ErrNotFound) {
		return &StageResult{OK: true, Skipped: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest snapshot: %w", err)
	}
	if latest.ID != rc.SnapshotID {
		p.logger.Debug("stage skipped, snapshot superseded", "stage", stage, "document", rc.DocumentID)
		return &StageResult{OK: true, Skipped: true}, nil
	}

	st, err := p.store.GetProcessingState(ctx, rc.DocumentID, stage)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading processing state: %w", err)
	}
	if st != nil && st.SnapshotID == rc.SnapshotID && st.Status == types.StageOK {
		return &StageResult{OK: true, Skipped: true}, nil
	}

	if err := p.setStageState(ctx, rc, stage, types.StagePending, ""); err != nil {
		return nil, err
	}

	touched, bodyErr := body(ctx)
	if bodyErr != nil {
		if err := p.setStageState(ctx, rc, stage, types.StageFailed, bodyErr.Error()); err != nil {
			p.logger.Error("recording stage failure", "stage", stage, "error", err)
		}
		p.logEvent(ctx, rc.ProjectID, "error", stage, "stage failed", map[string]any{
			"document_id": rc.DocumentID,
			"snapshot_id": rc.SnapshotID,
			"error":       bodyErr.Error(),
		})
		return nil, &StageFailureError{Stage: stage, Err: bodyErr}
	}

	if err := p.setStageState(ctx, rc, stage, types.StageOK, ""); err != nil {
		return nil, err
	}
	return &StageResult{OK: true, TouchedEntityIDs: touched}, nil
}

func (p *Pipeline) setStageState(ctx context.Context, rc *RunContext, stage types.Stage, status types.StageStatus, errMsg string) error {
	err := p.store.UpsertProcessingState(ctx, types.ProcessingState{
		DocumentID: rc.DocumentID,
		SnapshotID: rc.SnapshotID,
		Stage:      stage,
		Status:     status,
		Error:      errMsg,
		UpdatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("writing %s state for stage %s: %w", status, stage, err)
	}
	return nil
}

func (p *Pipeline) logEvent(ctx context.Context, projectID, level string, stage types.Stage, msg string, data map[string]any) {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte("{}")
	}
	ev := types.Event{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Level:     level,
		Stage:     stage,
		Message:   msg,
		DataJSON:  string(raw),
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.LogEvent(ctx, ev); err != nil {
		p.logger.Error("persisting event", "error", err)
	}
	switch level {
	case "error":
		p.logger.Error(msg, "stage", stage, "project", projectID, "data", string(raw))
	default:
		p.logger.Info(msg, "stage", stage, "project", projectID, "data", string(raw))
	}
}

// RunSceneStage segments the document into scenes, resolves settings
// against known entities, and re-raises ambiguous-POV issues.
func (p *Pipeline) RunSceneStage(ctx context.Context, rc *RunContext) (*StageResult, error) {
	return p.runStage(ctx, rc, types.StageScenes, func(ctx context.Context) ([]string, error) {
		chunks, err := p.store.ListChunksForDocument(ctx, rc.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("listing chunks: %w", err)
		}

		results := scenes.Analyze(chunks)
		sceneRows := make([]types.Scene, 0, len(results))
		for i := range results {
			sc := results[i].Scene
			sc.ID = uuid.NewString()
			if sc.SettingText != "" {
				ent, err := p.store.GetEntityByAlias(ctx, rc.ProjectID, extract.NormalizeAlias(sc.SettingText))
				if err == nil {
					sc.SettingEntity = ent.ID
				} else if !errors.Is(err, store.ErrNotFound) {
					return nil, fmt.Errorf("resolving setting %q: %w", sc.SettingText, err)
				}
			}
			sceneRows = append(sceneRows, sc)
			results[i].Scene = sc
		}
		if err := p.store.ReplaceScenes(ctx, rc.DocumentID, sceneRows); err != nil {
			return nil, fmt.Errorf("replacing scenes: %w", err)
		}

		if err := p.refreshPOVIssues(ctx, rc, chunks, results); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

// refreshPOVIssues clears open ambiguous-POV issues touching this
// document's chunks and raises one per currently ambiguous scene, with the
// scene's opening sentence as evidence.
func (p *Pipeline) refreshPOVIssues(ctx context.Context, rc *RunContext, chunks []types.Chunk, results []scenes.Result) error {
	chunkIDs := make([]string, 0, len(chunks))
	for _, c := range chunks {
		chunkIDs = append(chunkIDs, c.ID)
	}
	if err := p.store.DeleteOpenIssuesByTypeAndChunkIDs(ctx, rc.ProjectID, types.IssuePOVAmbiguous, chunkIDs); err != nil {
		return fmt.Errorf("clearing pov issues: %w", err)
	}

	for _, res := range results {
		if res.Scene.POVMode != types.POVAmbiguous {
			continue
		}
		issue := types.Issue{
			ID:          uuid.NewString(),
			ProjectID:   rc.ProjectID,
			Type:        types.IssuePOVAmbiguous,
			Severity:    types.SeverityLow,
			Title:       fmt.Sprintf("Ambiguous point of view in %s", sceneLabel(res.Scene)),
			Description: "The narration does not settle into a clear first or third person.",
			Status:      types.IssueOpen,
		}
		first := chunks[res.FirstChunk]
		if span := evidence.Resolve(first.Text, res.OpeningQuote); span != nil {
			issue.Evidence = []types.EvidenceSpan{{ChunkID: first.ID, QuoteStart: span.Start, QuoteEnd: span.End}}
		}
		if len(issue.Evidence) == 0 {
			// Only tone-drift issues may go without evidence.
			continue
		}
		if err := p.store.InsertIssue(ctx, issue); err != nil {
			return fmt.Errorf("inserting pov issue: %w", err)
		}
	}
	return nil
}

func sceneLabel(sc types.Scene) string {
	if sc.Title != "" {
		return fmt.Sprintf("scene %q", sc.Title)
	}
	return fmt.Sprintf("scene %d", sc.Ordinal+1)
}

// RunStyleStage recomputes the document's style tallies and refreshes
// project-wide style metrics and issues.
func (p *Pipeline) RunStyleStage(ctx context.Context, rc *RunContext) (*StageResult, error) {
	return p.runStage(ctx, rc, types.StageStyle, func(ctx context.Context) ([]string, error) {
		chunks, err := p.store.ListChunksForDocument(ctx, rc.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("listing chunks: %w", err)
		}
		sceneRows, err := p.store.ListScenesForDocument(ctx, rc.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("listing scenes: %w", err)
		}
		doc := types.Document{ID: rc.DocumentID, ProjectID: rc.ProjectID}

		speakers, err := p.knownSpeakers(ctx, rc.ProjectID)
		if err != nil {
			return nil, err
		}
		if err := p.analyzer.AnalyzeDocument(ctx, rc.ProjectID, doc, chunks, sceneRows, speakers); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

// knownSpeakers collects lowercase character names and aliases for
// dialogue attribution.
func (p *Pipeline) knownSpeakers(ctx context.Context, projectID string) (map[string]bool, error) {
	entities, err := p.store.ListEntitiesByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	known := map[string]bool{}
	for _, ent := range entities {
		if ent.Type != types.EntityCharacter {
			continue
		}
		known[strings.ToLower(ent.DisplayName)] = true
		aliases, err := p.store.ListAliases(ctx, ent.ID)
		if err != nil {
			return nil, fmt.Errorf("listing aliases: %w", err)
		}
		for _, a := range aliases {
			known[strings.ToLower(a)] = true
		}
	}
	return known, nil
}

// RunExtractionStage extracts entities and claims from the chunks ingest
// marked dirty (the whole document when the change range is unset), and
// records the touched-entity set on the run context for continuity.
func (p *Pipeline) RunExtractionStage(ctx context.Context, rc *RunContext) (*StageResult, error) {
	result, err := p.runStage(ctx, rc, types.StageExtraction, func(ctx context.Context) ([]string, error) {
		chunks, err := p.store.ListChunksForDocument(ctx, rc.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("listing chunks: %w", err)
		}
		scoped := scopeChunks(chunks, rc.ChangeStart, rc.ChangeEnd)
		if len(scoped) == 0 {
			return nil, nil
		}

		engine := extract.NewEngine(p.store, p.llm, p.opts.Extraction, p.logger)
		res, err := engine.Run(ctx, rc.ProjectID, scoped)
		if err != nil {
			return nil, err
		}
		p.logEvent(ctx, rc.ProjectID, "info", types.StageExtraction, "extraction complete", map[string]any{
			"document_id":      rc.DocumentID,
			"entities_created": res.EntitiesCreated,
			"claims_created":   res.ClaimsCreated,
			"touched_entities": len(res.TouchedEntityIDs),
		})
		return res.TouchedEntityIDs, nil
	})
	if err != nil {
		return nil, err
	}
	if !result.Skipped {
		rc.TouchedEntityIDs = result.TouchedEntityIDs
	}
	return result, nil
}

// scopeChunks selects the ordinal range [start,end]; a start of -1 means
// the whole document.
func scopeChunks(chunks []types.Chunk, start, end int) []types.Chunk {
	if start < 0 {
		return chunks
	}
	var out []types.Chunk
	for _, c := range chunks {
		if c.Ordinal >= start && c.Ordinal <= end {
			out = append(out, c)
		}
	}
	return out
}

// RunContinuityStage re-scans for claim conflicts: scoped to the entities
// extraction touched when that set is known, project-wide otherwise.
func (p *Pipeline) RunContinuityStage(ctx context.Context, rc *RunContext) (*StageResult, error) {
	return p.runStage(ctx, rc, types.StageContinuity, func(ctx context.Context) ([]string, error) {
		var raised int
		var err error
		if rc.TouchedEntityIDs != nil {
			raised, err = p.checker.ScanEntities(ctx, rc.ProjectID, rc.TouchedEntityIDs)
		} else {
			raised, err = p.checker.ScanProject(ctx, rc.ProjectID)
		}
		if err != nil {
			return nil, err
		}
		if raised > 0 {
			p.logEvent(ctx, rc.ProjectID, "info", types.StageContinuity, "continuity issues raised", map[string]any{
				"document_id": rc.DocumentID,
				"count":       raised,
			})
		}
		return nil, nil
	})
}

// RunAll executes the post-ingest stages in order. A stage failure stops
// the sequence; the failed stage is retryable via another RunAll for the
// same snapshot.
func (p *Pipeline) RunAll(ctx context.Context, rc *RunContext) error {
	stages := []func(context.Context, *RunContext) (*StageResult, error){
		p.RunSceneStage,
		p.RunStyleStage,
		p.RunExtractionStage,
		p.RunContinuityStage,
	}
	for _, run := range stages {
		if _, err := run(ctx, rc); err != nil {
			return err
		}
	}
	return nil
}
