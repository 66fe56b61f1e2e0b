package style

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/jackzampolin/quill/internal/store"
	"github.com/jackzampolin/quill/internal/types"
)

// Metric kinds and names stored through the versioned envelope.
const (
	MetricRepetition   = "repetition"
	MetricDialogue     = "dialogue"
	MetricToneVector   = "tone_vector"
	MetricToneBaseline = "tone_baseline"

	kindRepetitionCounts = "repetition_counts"
	kindRepetitionFlags  = "repetition_flagged"
	kindDialogueTallies  = "dialogue_tallies"
	kindToneVector       = "tone_vector"
	kindToneBaseline     = "tone_baseline"
)

// Options tunes the style thresholds.
type Options struct {
	ProjectCount   int
	SceneCount     int
	BaselineScenes int
	DriftThreshold float64
	TicThreshold   int
}

func DefaultAnalyzerOptions() Options {
	return Options{
		ProjectCount:   DefaultProjectCount,
		SceneCount:     DefaultSceneCount,
		BaselineScenes: DefaultBaselineScenes,
		DriftThreshold: DefaultDriftThreshold,
		TicThreshold:   DefaultTicThreshold,
	}
}

// Analyzer runs the three style sub-analyses for one document and folds the
// results into project-wide metrics and issues. Per-document tallies are
// cached as document-scoped metrics so a project aggregate never requires
// retokenizing untouched documents.
type Analyzer struct {
	store  store.Store
	lex    *Lexicon
	opts   Options
	logger *slog.Logger
}

func NewAnalyzer(st store.Store, lex *Lexicon, opts Options, logger *slog.Logger) *Analyzer {
	if lex == nil {
		lex = DefaultLexicon()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BaselineScenes < 1 {
		opts.BaselineScenes = 1
	}
	return &Analyzer{store: st, lex: lex, opts: opts, logger: logger}
}

// AnalyzeDocument recomputes the document's repetition and dialogue tallies,
// re-aggregates the project, and recomputes tone drift.
func (a *Analyzer) AnalyzeDocument(ctx context.Context, projectID string, doc types.Document, chunks []types.Chunk, scenes []types.Scene, knownSpeakers map[string]bool) error {
	sceneKey := sceneKeyFunc(chunks, scenes)

	docRep := CountRepetition(chunks, sceneKey, a.lex)
	if err := a.putMetric(ctx, projectID, types.ScopeDocument, doc.ID, MetricRepetition, kindRepetitionCounts, docRep); err != nil {
		return err
	}
	docDlg := CountDialogue(chunks, knownSpeakers, a.lex)
	if err := a.putMetric(ctx, projectID, types.ScopeDocument, doc.ID, MetricDialogue, kindDialogueTallies, docDlg); err != nil {
		return err
	}

	if err := a.aggregateProject(ctx, projectID, doc.ID, docRep, docDlg); err != nil {
		return err
	}
	return a.recomputeTone(ctx, projectID, doc.ID, chunks)
}

// aggregateProject merges every document's cached tallies (using the fresh
// tallies for the current document) and refreshes project metrics and the
// repetition and dialogue-tic issue sets.
func (a *Analyzer) aggregateProject(ctx context.Context, projectID, currentDocID string, freshRep RepetitionCounts, freshDlg DialogueTallies) error {
	docs, err := a.store.ListDocumentsByProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("listing documents: %w", err)
	}

	totalRep := RepetitionCounts{Grams: map[string]GramStat{}}
	totalDlg := DialogueTallies{Speakers: map[string]SpeakerTally{}}
	for _, d := range docs {
		if d.ID == currentDocID {
			totalRep = MergeRepetition(totalRep, freshRep)
			totalDlg = MergeDialogue(totalDlg, freshDlg)
			continue
		}
		var rep RepetitionCounts
		if a.getMetric(ctx, projectID, types.ScopeDocument, d.ID, MetricRepetition, kindRepetitionCounts, &rep) {
			totalRep = MergeRepetition(totalRep, rep)
		}
		var dlg DialogueTallies
		if a.getMetric(ctx, projectID, types.ScopeDocument, d.ID, MetricDialogue, kindDialogueTallies, &dlg) {
			totalDlg = MergeDialogue(totalDlg, dlg)
		}
	}

	flagged := FlagRepetition(totalRep, a.opts.ProjectCount, a.opts.SceneCount, MetricCap)
	if err := a.putMetric(ctx, projectID, types.ScopeProject, projectID, MetricRepetition, kindRepetitionFlags, flagged); err != nil {
		return err
	}
	if err := a.putMetric(ctx, projectID, types.ScopeProject, projectID, MetricDialogue, kindDialogueTallies, totalDlg); err != nil {
		return err
	}

	if err := a.raiseRepetitionIssues(ctx, projectID, flagged); err != nil {
		return err
	}
	return a.raiseDialogueIssues(ctx, projectID, totalDlg)
}

func (a *Analyzer) raiseRepetitionIssues(ctx context.Context, projectID string, flagged []FlaggedGram) error {
	if err := a.store.ClearOpenIssuesByType(ctx, projectID, types.IssueRepetition); err != nil {
		return fmt.Errorf("clearing repetition issues: %w", err)
	}
	limit := IssueCap
	if len(flagged) < limit {
		limit = len(flagged)
	}
	for _, fg := range flagged[:limit] {
		issue := types.Issue{
			ID:        uuid.NewString(),
			ProjectID: projectID,
			Type:      types.IssueRepetition,
			Severity:  types.SeverityLow,
			Title:     fmt.Sprintf("Repeated phrase %q", fg.Gram),
			Description: fmt.Sprintf("%q appears %d times across the project (peak %d in one scene).",
				fg.Gram, fg.Count, fg.MaxSceneCount),
			Status: types.IssueOpen,
		}
		if fg.Example != nil {
			issue.Evidence = []types.EvidenceSpan{*fg.Example}
		}
		if err := a.store.InsertIssue(ctx, issue); err != nil {
			return fmt.Errorf("inserting repetition issue: %w", err)
		}
	}
	return nil
}

func (a *Analyzer) raiseDialogueIssues(ctx context.Context, projectID string, dt DialogueTallies) error {
	if err := a.store.ClearOpenIssuesByType(ctx, projectID, types.IssueDialogueTic); err != nil {
		return fmt.Errorf("clearing dialogue issues: %w", err)
	}
	for _, tic := range FindTics(dt, a.opts.TicThreshold) {
		what := "opens with"
		if tic.Kind == "filler" {
			what = "leans on the filler"
		}
		issue := types.Issue{
			ID:          uuid.NewString(),
			ProjectID:   projectID,
			Type:        types.IssueDialogueTic,
			Severity:    types.SeverityLow,
			Title:       fmt.Sprintf("Dialogue tic for %s", tic.Display),
			Description: fmt.Sprintf("%s %s %q in %d lines of dialogue.", tic.Display, what, tic.Phrase, tic.Count),
			Status:      types.IssueOpen,
			Evidence:    tic.Examples,
		}
		if err := a.store.InsertIssue(ctx, issue); err != nil {
			return fmt.Errorf("inserting dialogue issue: %w", err)
		}
	}
	return nil
}

// recomputeTone refreshes scene tone vectors and drift issues. When none of
// the baseline-window scenes belong to the current document, only that
// document's scenes get fresh vectors and only its drift issues are
// replaced; a touched baseline forces a full project recompute.
func (a *Analyzer) recomputeTone(ctx context.Context, projectID, docID string, docChunks []types.Chunk) error {
	allScenes, err := a.store.ListScenesForProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("listing scenes: %w", err)
	}
	if len(allScenes) == 0 {
		return nil
	}

	window := a.opts.BaselineScenes
	if window > len(allScenes) {
		window = len(allScenes)
	}
	baselineTouched := false
	for _, sc := range allScenes[:window] {
		if sc.DocumentID == docID {
			baselineTouched = true
			break
		}
	}

	chunksByDoc := map[string][]types.Chunk{docID: docChunks}
	vectors := make([]ToneVector, len(allScenes))
	for i, sc := range allScenes {
		fresh := baselineTouched || sc.DocumentID == docID
		if !fresh {
			var cached ToneVector
			if a.getMetric(ctx, projectID, types.ScopeScene, sc.ID, MetricToneVector, kindToneVector, &cached) {
				vectors[i] = cached
				continue
			}
		}
		text, err := a.sceneText(ctx, sc, chunksByDoc)
		if err != nil {
			return err
		}
		vectors[i] = ComputeToneVector(text, a.lex)
		if err := a.putMetric(ctx, projectID, types.ScopeScene, sc.ID, MetricToneVector, kindToneVector, vectors[i]); err != nil {
			return err
		}
	}

	baseline := ComputeBaseline(vectors[:window])
	if err := a.putMetric(ctx, projectID, types.ScopeProject, projectID, MetricToneBaseline, kindToneBaseline, baseline); err != nil {
		return err
	}

	if baselineTouched {
		if err := a.store.ClearOpenIssuesByType(ctx, projectID, types.IssueToneDrift); err != nil {
			return fmt.Errorf("clearing tone issues: %w", err)
		}
	} else {
		chunkIDs := make([]string, 0, len(docChunks))
		for _, c := range docChunks {
			chunkIDs = append(chunkIDs, c.ID)
		}
		if err := a.store.DeleteOpenIssuesByTypeAndChunkIDs(ctx, projectID, types.IssueToneDrift, chunkIDs); err != nil {
			return fmt.Errorf("clearing scoped tone issues: %w", err)
		}
	}

	for i, sc := range allScenes {
		if !baselineTouched && sc.DocumentID != docID {
			continue
		}
		score := DriftScore(vectors[i], baseline)
		if score < a.opts.DriftThreshold {
			continue
		}
		if err := a.raiseToneIssue(ctx, projectID, sc, score, chunksByDoc); err != nil {
			return err
		}
	}
	return nil
}

func (a *Analyzer) raiseToneIssue(ctx context.Context, projectID string, sc types.Scene, score float64, chunksByDoc map[string][]types.Chunk) error {
	issue := types.Issue{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Type:      types.IssueToneDrift,
		Severity:  types.SeverityMedium,
		Title:     fmt.Sprintf("Tone drift in %s", sceneLabel(sc)),
		Description: fmt.Sprintf("%s departs from the established tone baseline (drift %.1f).",
			sceneLabel(sc), score),
		Status: types.IssueOpen,
	}

	// Evidence points at the scene's opening chunk when it still exists;
	// a tone issue is the only kind allowed to carry zero spans.
	if chunk, err := a.loadChunk(ctx, sc, chunksByDoc); err == nil && chunk != nil {
		end := len(chunk.Text)
		if end > 160 {
			end = 160
		}
		if end > 0 {
			issue.Evidence = []types.EvidenceSpan{{ChunkID: chunk.ID, QuoteStart: 0, QuoteEnd: end}}
		}
	}

	if err := a.store.InsertIssue(ctx, issue); err != nil {
		return fmt.Errorf("inserting tone issue: %w", err)
	}
	return nil
}

func sceneLabel(sc types.Scene) string {
	if sc.Title != "" {
		return fmt.Sprintf("scene %q", sc.Title)
	}
	return fmt.Sprintf("scene %d", sc.Ordinal+1)
}

func (a *Analyzer) loadChunk(ctx context.Context, sc types.Scene, chunksByDoc map[string][]types.Chunk) (*types.Chunk, error) {
	if chunks, ok := chunksByDoc[sc.DocumentID]; ok {
		for i := range chunks {
			if chunks[i].ID == sc.StartChunkID {
				return &chunks[i], nil
			}
		}
	}
	chunk, err := a.store.GetChunk(ctx, sc.StartChunkID)
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

// sceneText joins the chunk texts a scene spans, loading and caching the
// owning document's chunks on demand.
func (a *Analyzer) sceneText(ctx context.Context, sc types.Scene, chunksByDoc map[string][]types.Chunk) (string, error) {
	chunks, ok := chunksByDoc[sc.DocumentID]
	if !ok {
		loaded, err := a.store.ListChunksForDocument(ctx, sc.DocumentID)
		if err != nil {
			return "", fmt.Errorf("loading chunks for %s: %w", sc.DocumentID, err)
		}
		chunksByDoc[sc.DocumentID] = loaded
		chunks = loaded
	}

	var b strings.Builder
	in := false
	for _, c := range chunks {
		if c.ID == sc.StartChunkID {
			in = true
		}
		if in {
			b.WriteString(c.Text)
			b.WriteByte('\n')
		}
		if c.ID == sc.EndChunkID {
			break
		}
	}
	return b.String(), nil
}

// sceneKeyFunc maps a chunk index to the id of the scene containing it.
func sceneKeyFunc(chunks []types.Chunk, scenes []types.Scene) func(int) string {
	keys := make([]string, len(chunks))
	byID := map[string]int{}
	for i, c := range chunks {
		byID[c.ID] = i
	}
	for _, sc := range scenes {
		first, okF := byID[sc.StartChunkID]
		last, okL := byID[sc.EndChunkID]
		if !okF || !okL {
			continue
		}
		for i := first; i <= last && i < len(keys); i++ {
			keys[i] = sc.ID
		}
	}
	return func(i int) string {
		if i < 0 || i >= len(keys) {
			return ""
		}
		return keys[i]
	}
}

func (a *Analyzer) putMetric(ctx context.Context, projectID string, scope types.MetricScope, scopeID, name, kind string, data any) error {
	payload, err := MarshalMetric(kind, data)
	if err != nil {
		return err
	}
	return a.store.ReplaceStyleMetric(ctx, types.StyleMetric{
		ProjectID:  projectID,
		ScopeType:  scope,
		ScopeID:    scopeID,
		MetricName: name,
		MetricJSON: payload,
	})
}

// getMetric loads and unwraps one cached metric; any miss, parse failure or
// version mismatch reads as absent.
func (a *Analyzer) getMetric(ctx context.Context, projectID string, scope types.MetricScope, scopeID, name, kind string, out any) bool {
	metrics, err := a.store.ListStyleMetrics(ctx, projectID, name)
	if err != nil {
		return false
	}
	for _, m := range metrics {
		if m.ScopeType == scope && m.ScopeID == scopeID {
			return UnmarshalMetric(m.MetricJSON, kind, out)
		}
	}
	return false
}
