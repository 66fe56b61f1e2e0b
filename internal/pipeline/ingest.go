package pipeline

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/jackzampolin/quill/internal/chunker"
	"github.com/jackzampolin/quill/internal/store"
	"github.com/jackzampolin/quill/internal/types"
)

// IngestResult reports what one ingest changed. ChangeStart/ChangeEnd are
// inclusive chunk ordinals needing re-extraction (-1/-1 when nothing
// changed); the range is already expanded one ordinal on each side.
type IngestResult struct {
	DocumentID      string
	SnapshotID      string
	SnapshotCreated bool
	ChunksCreated   int
	ChunksUpdated   int
	ChunksDeleted   int
	ChangeStart     int
	ChangeEnd       int
}

// IngestDocument reads, normalizes, chunks and diffs one manuscript file.
// It fails fast (before creating any snapshot) on missing files,
// unsupported kinds, and unreadable content. Re-ingesting identical
// content returns the existing snapshot without touching any row.
func (p *Pipeline) IngestDocument(ctx context.Context, projectID, rootPath, relPath string) (*IngestResult, error) {
	absPath := filepath.Join(rootPath, relPath)
	kind, err := kindForPath(absPath)
	if err != nil {
		return nil, err
	}

	text, err := readDocumentText(absPath, kind)
	if err != nil {
		return nil, err
	}
	text = normalizeLineEndings(text)
	textHash := hashFullText(text)

	doc, err := p.store.GetOrCreateDocument(ctx, projectID, rootPath, relPath, kind)
	if err != nil {
		return nil, fmt.Errorf("registering document: %w", err)
	}

	latest, err := p.store.GetLatestSnapshot(ctx, doc.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading latest snapshot: %w", err)
	}
	if latest != nil && latest.TextHash == textHash {
		return &IngestResult{
			DocumentID:  doc.ID,
			SnapshotID:  latest.ID,
			ChangeStart: -1,
			ChangeEnd:   -1,
		}, nil
	}

	old, err := p.store.ListChunksForDocument(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("listing existing chunks: %w", err)
	}
	fresh := chunker.Split(doc.ID, text, p.opts.Limits)
	plan := chunker.Plan(old, fresh)

	rep := store.ChunkReplace{Updates: plan.Updates, Inserts: plan.Inserts, DeleteIDs: plan.DeleteIDs}
	if err := p.store.ReplaceChunks(ctx, doc.ID, rep); err != nil {
		return nil, fmt.Errorf("replacing chunks: %w", err)
	}

	snap := types.Snapshot{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		TextHash:   textHash,
		CreatedAt:  time.Now().UTC(),
	}
	if err := p.store.CreateSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("creating snapshot: %w", err)
	}

	if err := p.setStageState(ctx, &RunContext{DocumentID: doc.ID, SnapshotID: snap.ID}, types.StageIngest, types.StageOK, ""); err != nil {
		return nil, err
	}
	p.logEvent(ctx, projectID, "info", types.StageIngest, "document ingested", map[string]any{
		"document_id":    doc.ID,
		"snapshot_id":    snap.ID,
		"chunks_created": len(plan.Inserts),
		"chunks_updated": len(plan.Updates),
		"chunks_deleted": len(plan.DeleteIDs),
	})

	return &IngestResult{
		DocumentID:      doc.ID,
		SnapshotID:      snap.ID,
		SnapshotCreated: true,
		ChunksCreated:   len(plan.Inserts),
		ChunksUpdated:   len(plan.Updates),
		ChunksDeleted:   len(plan.DeleteIDs),
		ChangeStart:     plan.ChangeStart,
		ChangeEnd:       plan.ChangeEnd,
	}, nil
}

func kindForPath(path string) (types.DocumentKind, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		return types.KindText, nil
	case ".md", ".markdown":
		return types.KindMarkdown, nil
	case ".docx":
		return types.KindDocx, nil
	case ".pdf":
		return "", classifyPDF(path)
	default:
		return "", &UnsupportedDocumentKindError{Path: path, Ext: filepath.Ext(path)}
	}
}

// classifyPDF validates the file so the caller gets an accurate error:
// a corrupt PDF is an extraction failure, a healthy one is simply a kind
// this pipeline does not chunk.
func classifyPDF(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrDocumentNotFound, path)
		}
		return &DocumentExtractionError{Path: path, Err: err}
	}
	defer f.Close()

	pages, err := api.PageCount(f, nil)
	if err != nil {
		return &DocumentExtractionError{Path: path, Err: err}
	}
	return &UnsupportedDocumentKindError{
		Path: path,
		Ext:  ".pdf",
		Hint: fmt.Sprintf("valid PDF with %d pages; export it to .txt, .md or .docx first", pages),
	}
}

func readDocumentText(path string, kind types.DocumentKind) (string, error) {
	switch kind {
	case types.KindDocx:
		return readDocxText(path)
	default:
		raw, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", fmt.Errorf("%w: %s", ErrDocumentNotFound, path)
			}
			return "", &DocumentExtractionError{Path: path, Err: err}
		}
		return string(raw), nil
	}
}

// readDocxText pulls paragraph text out of word/document.xml. Paragraph
// boundaries become newlines so the chunker sees block structure.
func readDocxText(path string) (string, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrDocumentNotFound, path)
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", &DocumentExtractionError{Path: path, Err: err}
	}
	defer zr.Close()

	var docXML io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docXML, err = f.Open()
			if err != nil {
				return "", &DocumentExtractionError{Path: path, Err: err}
			}
			break
		}
	}
	if docXML == nil {
		return "", &DocumentExtractionError{Path: path, Err: errors.New("word/document.xml missing")}
	}
	defer docXML.Close()

	var b strings.Builder
	dec := xml.NewDecoder(docXML)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", &DocumentExtractionError{Path: path, Err: err}
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.EndElement:
			if t.Name.Local == "p" {
				b.WriteString("\n\n")
			}
		}
	}
	return b.String(), nil
}

func normalizeLineEndings(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func hashFullText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
