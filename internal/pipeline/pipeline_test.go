package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackzampolin/quill/internal/providers"
	"github.com/jackzampolin/quill/internal/store"
	"github.com/jackzampolin/quill/internal/types"
)

func newTestPipeline(t *testing.T, llm providers.LLMClient) (*Pipeline, *store.SQLiteStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewSQLiteStore(dir)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, llm, DefaultOptions(), nil), s, dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func TestIngestCreatesSnapshotThenNoOpOnIdenticalContent(t *testing.T) {
	p, s, dir := newTestPipeline(t, nil)
	ctx := context.Background()
	writeFile(t, dir, "draft.md", "# Chapter One\n\nThe road ran north out of the valley and into the hills.\n")

	res, err := p.IngestDocument(ctx, "proj", dir, "draft.md")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !res.SnapshotCreated || res.ChunksCreated == 0 {
		t.Fatalf("first ingest: %+v", res)
	}

	chunks, err := s.ListChunksForDocument(ctx, res.DocumentID)
	if err != nil {
		t.Fatalf("listing chunks: %v", err)
	}
	if len(chunks) != res.ChunksCreated {
		t.Fatalf("chunks = %d, created = %d", len(chunks), res.ChunksCreated)
	}

	again, err := p.IngestDocument(ctx, "proj", dir, "draft.md")
	if err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	if again.SnapshotCreated {
		t.Fatal("identical content must not create a snapshot")
	}
	if again.SnapshotID != res.SnapshotID {
		t.Fatalf("snapshot id changed: %s -> %s", res.SnapshotID, again.SnapshotID)
	}
	if again.ChangeStart != -1 || again.ChangeEnd != -1 {
		t.Fatalf("change range = [%d,%d], want [-1,-1]", again.ChangeStart, again.ChangeEnd)
	}
}

func TestIngestEditPreservesUnchangedChunkIdentity(t *testing.T) {
	p, s, dir := newTestPipeline(t, nil)
	ctx := context.Background()

	// Paragraphs near 900 chars so greedy merging keeps them one chunk each.
	para := func(seed string) string {
		return strings.Repeat(seed+" ", 150) + "\n\n"
	}
	writeFile(t, dir, "draft.txt", para("alpha")+para("bravo")+para("charlie"))

	res, err := p.IngestDocument(ctx, "proj", dir, "draft.txt")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	before, _ := s.ListChunksForDocument(ctx, res.DocumentID)
	if len(before) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(before))
	}

	writeFile(t, dir, "draft.txt", para("alpha")+para("bravo-edited")+para("charlie"))
	res2, err := p.IngestDocument(ctx, "proj", dir, "draft.txt")
	if err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	if !res2.SnapshotCreated {
		t.Fatal("edited content must create a snapshot")
	}
	after, _ := s.ListChunksForDocument(ctx, res2.DocumentID)

	if before[0].ID != after[0].ID {
		t.Errorf("prefix chunk id changed: %s -> %s", before[0].ID, after[0].ID)
	}
	if before[len(before)-1].ID != after[len(after)-1].ID {
		t.Errorf("suffix chunk id changed")
	}
	if res2.ChangeStart < 0 {
		t.Errorf("change range unset after edit: %+v", res2)
	}
}

func TestIngestMissingFile(t *testing.T) {
	p, _, dir := newTestPipeline(t, nil)
	_, err := p.IngestDocument(context.Background(), "proj", dir, "missing.md")
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("err = %v, want ErrDocumentNotFound", err)
	}
}

func TestIngestUnsupportedKind(t *testing.T) {
	p, _, dir := newTestPipeline(t, nil)
	writeFile(t, dir, "notes.rtf", "{\\rtf1 not supported}")
	_, err := p.IngestDocument(context.Background(), "proj", dir, "notes.rtf")
	var unsupported *UnsupportedDocumentKindError
	if !errors.As(err, &unsupported) {
		t.Fatalf("err = %v, want UnsupportedDocumentKindError", err)
	}
	if unsupported.Ext != ".rtf" {
		t.Errorf("ext = %q", unsupported.Ext)
	}
}

func TestIngestCorruptPDFIsExtractionError(t *testing.T) {
	p, _, dir := newTestPipeline(t, nil)
	writeFile(t, dir, "scan.pdf", "%PDF-1.7 truncated garbage")
	_, err := p.IngestDocument(context.Background(), "proj", dir, "scan.pdf")
	var extraction *DocumentExtractionError
	if !errors.As(err, &extraction) {
		t.Fatalf("err = %v, want DocumentExtractionError", err)
	}
}

func ingestFixture(t *testing.T, p *Pipeline, dir, name, content string) *RunContext {
	t.Helper()
	writeFile(t, dir, name, content)
	res, err := p.IngestDocument(context.Background(), "proj", dir, name)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return &RunContext{
		ProjectID:   "proj",
		DocumentID:  res.DocumentID,
		SnapshotID:  res.SnapshotID,
		ChangeStart: res.ChangeStart,
		ChangeEnd:   res.ChangeEnd,
	}
}

func TestSceneStageIdempotent(t *testing.T) {
	p, s, dir := newTestPipeline(t, nil)
	ctx := context.Background()
	rc := ingestFixture(t, p, dir, "draft.md",
		"# Chapter One\n\nHe rode north through the rain. He did not stop until the pass.\n")

	first, err := p.RunSceneStage(ctx, rc)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if !first.OK || first.Skipped {
		t.Fatalf("first = %+v", first)
	}
	scenesBefore, _ := s.ListScenesForDocument(ctx, rc.DocumentID)
	if len(scenesBefore) == 0 {
		t.Fatal("no scenes persisted")
	}

	second, err := p.RunSceneStage(ctx, rc)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !second.OK || !second.Skipped {
		t.Fatalf("second = %+v", second)
	}
	scenesAfter, _ := s.ListScenesForDocument(ctx, rc.DocumentID)
	if len(scenesAfter) != len(scenesBefore) || scenesAfter[0].ID != scenesBefore[0].ID {
		t.Fatal("skipped run must not rewrite scenes")
	}
}

func TestStageSkippedWhenSnapshotSuperseded(t *testing.T) {
	p, _, dir := newTestPipeline(t, nil)
	ctx := context.Background()
	rc := ingestFixture(t, p, dir, "draft.md", "# One\n\nFirst version of the text.\n")

	writeFile(t, dir, "draft.md", "# One\n\nSecond version of the text, which is different.\n")
	if _, err := p.IngestDocument(ctx, "proj", dir, "draft.md"); err != nil {
		t.Fatalf("re-ingest: %v", err)
	}

	res, err := p.RunSceneStage(ctx, rc)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Skipped {
		t.Fatal("stale snapshot must skip")
	}
}

func TestExtractionFailureRecordedAndRetryable(t *testing.T) {
	mock := providers.NewMockLLMClient()
	p, s, dir := newTestPipeline(t, mock)
	ctx := context.Background()
	rc := ingestFixture(t, p, dir, "draft.md",
		"Mira's eyes were blue. She watched the road wind down toward the ferry crossing.\n")

	mock.QueueError(errors.New("upstream unavailable"))
	_, err := p.RunExtractionStage(ctx, rc)
	var stageErr *StageFailureError
	if !errors.As(err, &stageErr) || stageErr.Stage != types.StageExtraction {
		t.Fatalf("err = %v, want extraction StageFailureError", err)
	}

	st, err := s.GetProcessingState(ctx, rc.DocumentID, types.StageExtraction)
	if err != nil {
		t.Fatalf("loading state: %v", err)
	}
	if st.Status != types.StageFailed || st.Error == "" {
		t.Fatalf("state = %+v", st)
	}

	// Same snapshot, healthy provider: the retry runs the body again.
	mock.QueueJSON(`{"entities": [], "claims": [], "merges": []}`)
	res, err := p.RunExtractionStage(ctx, rc)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !res.OK || res.Skipped {
		t.Fatalf("retry = %+v", res)
	}
	st, _ = s.GetProcessingState(ctx, rc.DocumentID, types.StageExtraction)
	if st.Status != types.StageOK {
		t.Fatalf("state after retry = %+v", st)
	}
}

func TestRunAllDetectsContinuityConflict(t *testing.T) {
	p, s, dir := newTestPipeline(t, nil)
	ctx := context.Background()
	rc := ingestFixture(t, p, dir, "draft.md",
		"# Chapter One\n\nMira's eyes were blue. She kept to the shadows of the wall.\n\n"+
			"# Chapter Two\n\nMira's eyes were green. Nobody remarked on it.\n")

	if err := p.RunAll(ctx, rc); err != nil {
		t.Fatalf("run all: %v", err)
	}

	issues, err := s.ListIssues(ctx, "proj")
	if err != nil {
		t.Fatalf("listing issues: %v", err)
	}
	var continuityIssues []types.Issue
	for _, is := range issues {
		if is.Type == types.IssueContinuity {
			continuityIssues = append(continuityIssues, is)
		}
	}
	if len(continuityIssues) != 1 {
		t.Fatalf("continuity issues = %+v", continuityIssues)
	}
	if len(continuityIssues[0].Evidence) != 2 {
		t.Errorf("evidence = %+v", continuityIssues[0].Evidence)
	}

	// Every stage recorded ok for the snapshot.
	for _, stage := range []types.Stage{types.StageScenes, types.StageStyle, types.StageExtraction, types.StageContinuity} {
		st, err := s.GetProcessingState(ctx, rc.DocumentID, stage)
		if err != nil {
			t.Fatalf("state for %s: %v", stage, err)
		}
		if st.Status != types.StageOK {
			t.Errorf("stage %s = %s", stage, st.Status)
		}
	}

	// A second full run skips everything and duplicates nothing.
	if err := p.RunAll(ctx, rc); err != nil {
		t.Fatalf("second run all: %v", err)
	}
	issuesAfter, _ := s.ListIssues(ctx, "proj")
	if len(issuesAfter) != len(issues) {
		t.Fatalf("issue count changed on skipped re-run: %d -> %d", len(issues), len(issuesAfter))
	}
}
