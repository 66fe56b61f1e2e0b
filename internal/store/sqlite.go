package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/jackzampolin/quill/internal/types"
)

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at dataDir/quill.db.
// If dataDir is empty, defaults to ~/.quill/data.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".quill", "data")
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "quill.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrapping schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	root_path TEXT NOT NULL,
	rel_path TEXT NOT NULL,
	kind TEXT NOT NULL,
	UNIQUE(project_id, root_path, rel_path)
);
CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	text_hash TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_doc ON snapshots(document_id, created_at);
CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	ordinal INTEGER NOT NULL,
	text TEXT NOT NULL,
	text_hash TEXT NOT NULL,
	start_char INTEGER NOT NULL,
	end_char INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(document_id, ordinal);
CREATE TABLE IF NOT EXISTS entities (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	type TEXT NOT NULL,
	display_name TEXT NOT NULL,
	canonical_name TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS aliases (
	entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
	alias TEXT NOT NULL,
	UNIQUE(entity_id, alias)
);
CREATE INDEX IF NOT EXISTS idx_aliases_alias ON aliases(alias);
CREATE TABLE IF NOT EXISTS claims (
	id TEXT PRIMARY KEY,
	entity_id TEXT NOT NULL REFERENCES entities(id),
	field TEXT NOT NULL,
	value_json TEXT NOT NULL,
	status TEXT NOT NULL,
	confidence REAL NOT NULL,
	supersedes_claim_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_claims_entity ON claims(entity_id, field);
CREATE TABLE IF NOT EXISTS claim_evidence (
	claim_id TEXT NOT NULL REFERENCES claims(id) ON DELETE CASCADE,
	chunk_id TEXT NOT NULL,
	quote_start INTEGER NOT NULL,
	quote_end INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_claim_evidence_claim ON claim_evidence(claim_id);
CREATE INDEX IF NOT EXISTS idx_claim_evidence_chunk ON claim_evidence(chunk_id);
CREATE TABLE IF NOT EXISTS issues (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	type TEXT NOT NULL,
	severity TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL,
	status TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_issues_project ON issues(project_id, type, status);
CREATE TABLE IF NOT EXISTS issue_evidence (
	issue_id TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
	chunk_id TEXT NOT NULL,
	quote_start INTEGER NOT NULL,
	quote_end INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_issue_evidence_issue ON issue_evidence(issue_id);
CREATE INDEX IF NOT EXISTS idx_issue_evidence_chunk ON issue_evidence(chunk_id);
CREATE TABLE IF NOT EXISTS scenes (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	ordinal INTEGER NOT NULL,
	start_chunk_id TEXT NOT NULL,
	end_chunk_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	pov_mode TEXT NOT NULL DEFAULT '',
	pov_confidence REAL NOT NULL DEFAULT 0,
	setting_entity TEXT NOT NULL DEFAULT '',
	setting_text TEXT NOT NULL DEFAULT '',
	setting_conf REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_scenes_doc ON scenes(document_id, ordinal);
CREATE TABLE IF NOT EXISTS style_metrics (
	project_id TEXT NOT NULL,
	scope_type TEXT NOT NULL,
	scope_id TEXT NOT NULL,
	metric_name TEXT NOT NULL,
	metric_json TEXT NOT NULL,
	PRIMARY KEY(project_id, scope_type, scope_id, metric_name)
);
CREATE TABLE IF NOT EXISTS processing_state (
	document_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	snapshot_id TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY(document_id, stage)
);
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	level TEXT NOT NULL,
	stage TEXT NOT NULL,
	message TEXT NOT NULL,
	data_json TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
`

func (s *SQLiteStore) ensureSchema() error {
	_, err := s.db.Exec(schema)
	return err
}

// --- documents and snapshots ---

func (s *SQLiteStore) GetOrCreateDocument(ctx context.Context, projectID, rootPath, relPath string, kind types.DocumentKind) (types.Document, error) {
	var doc types.Document
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, root_path, rel_path, kind FROM documents WHERE project_id = ? AND root_path = ? AND rel_path = ?`,
		projectID, rootPath, relPath)
	err := row.Scan(&doc.ID, &doc.ProjectID, &doc.RootPath, &doc.RelPath, &doc.Kind)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return doc, fmt.Errorf("looking up document: %w", err)
	}

	doc = types.Document{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		RootPath:  rootPath,
		RelPath:   relPath,
		Kind:      kind,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, project_id, root_path, rel_path, kind) VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.ProjectID, doc.RootPath, doc.RelPath, doc.Kind)
	if err != nil {
		return doc, fmt.Errorf("creating document: %w", err)
	}
	return doc, nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, documentID string) (*types.Document, error) {
	var doc types.Document
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, root_path, rel_path, kind FROM documents WHERE id = ?`, documentID)
	if err := row.Scan(&doc.ID, &doc.ProjectID, &doc.RootPath, &doc.RelPath, &doc.Kind); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

func (s *SQLiteStore) ListDocumentsByProject(ctx context.Context, projectID string) ([]types.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, root_path, rel_path, kind FROM documents WHERE project_id = ? ORDER BY rel_path`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Document
	for rows.Next() {
		var d types.Document
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.RootPath, &d.RelPath, &d.Kind); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetLatestSnapshot(ctx context.Context, documentID string) (*types.Snapshot, error) {
	var snap types.Snapshot
	row := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, text_hash, created_at FROM snapshots WHERE document_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		documentID)
	if err := row.Scan(&snap.ID, &snap.DocumentID, &snap.TextHash, &snap.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &snap, nil
}

func (s *SQLiteStore) CreateSnapshot(ctx context.Context, snap types.Snapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, document_id, text_hash, created_at) VALUES (?, ?, ?, ?)`,
		snap.ID, snap.DocumentID, snap.TextHash, snap.CreatedAt)
	return err
}

// --- chunks ---

func (s *SQLiteStore) ListChunksForDocument(ctx context.Context, documentID string) ([]types.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, ordinal, text, text_hash, start_char, end_char FROM chunks WHERE document_id = ? ORDER BY ordinal`,
		documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Chunk
	for rows.Next() {
		var c types.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Text, &c.TextHash, &c.StartChar, &c.EndChar); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetChunk(ctx context.Context, chunkID string) (*types.Chunk, error) {
	var c types.Chunk
	row := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, ordinal, text, text_hash, start_char, end_char FROM chunks WHERE id = ?`, chunkID)
	if err := row.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Text, &c.TextHash, &c.StartChar, &c.EndChar); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) ReplaceChunks(ctx context.Context, documentID string, rep ChunkReplace) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning chunk replace: %w", err)
	}
	defer tx.Rollback()

	for _, id := range rep.DeleteIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting chunk %s: %w", id, err)
		}
	}
	for _, c := range rep.Updates {
		if _, err := tx.ExecContext(ctx,
			`UPDATE chunks SET ordinal = ?, text = ?, text_hash = ?, start_char = ?, end_char = ? WHERE id = ?`,
			c.Ordinal, c.Text, c.TextHash, c.StartChar, c.EndChar, c.ID); err != nil {
			return fmt.Errorf("updating chunk %s: %w", c.ID, err)
		}
	}
	for _, c := range rep.Inserts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (id, document_id, ordinal, text, text_hash, start_char, end_char) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, documentID, c.Ordinal, c.Text, c.TextHash, c.StartChar, c.EndChar); err != nil {
			return fmt.Errorf("inserting chunk: %w", err)
		}
	}
	return tx.Commit()
}

// --- entities and aliases ---

func (s *SQLiteStore) CreateEntity(ctx context.Context, e types.Entity) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entities (id, project_id, type, display_name, canonical_name) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.ProjectID, e.Type, e.DisplayName, e.CanonicalName)
	return err
}

func (s *SQLiteStore) GetEntity(ctx context.Context, entityID string) (*types.Entity, error) {
	var e types.Entity
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, type, display_name, canonical_name FROM entities WHERE id = ?`, entityID)
	if err := row.Scan(&e.ID, &e.ProjectID, &e.Type, &e.DisplayName, &e.CanonicalName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteStore) ListEntitiesByProject(ctx context.Context, projectID string) ([]types.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, type, display_name, canonical_name FROM entities WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Entity
	for rows.Next() {
		var e types.Entity
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Type, &e.DisplayName, &e.CanonicalName); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteEntityIfNoClaims(ctx context.Context, entityID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE id = ? AND NOT EXISTS (SELECT 1 FROM claims WHERE entity_id = ?)`,
		entityID, entityID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) AddAlias(ctx context.Context, entityID, alias string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO aliases (entity_id, alias) VALUES (?, ?)`, entityID, alias)
	return err
}

func (s *SQLiteStore) ListAliases(ctx context.Context, entityID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT alias FROM aliases WHERE entity_id = ? ORDER BY alias`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetEntityByAlias(ctx context.Context, projectID, alias string) (*types.Entity, error) {
	var e types.Entity
	row := s.db.QueryRowContext(ctx,
		`SELECT e.id, e.project_id, e.type, e.display_name, e.canonical_name
		 FROM entities e JOIN aliases a ON a.entity_id = e.id
		 WHERE e.project_id = ? AND a.alias = ? ORDER BY e.id LIMIT 1`,
		projectID, alias)
	if err := row.Scan(&e.ID, &e.ProjectID, &e.Type, &e.DisplayName, &e.CanonicalName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// --- claims ---

func (s *SQLiteStore) InsertClaim(ctx context.Context, c types.Claim) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO claims (id, entity_id, field, value_json, status, confidence, supersedes_claim_id) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.EntityID, c.Field, c.ValueJSON, c.Status, c.Confidence, c.SupersedesClaimID)
	return err
}

func (s *SQLiteStore) InsertClaimEvidence(ctx context.Context, claimID string, spans []types.EvidenceSpan) error {
	for _, sp := range spans {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO claim_evidence (claim_id, chunk_id, quote_start, quote_end) VALUES (?, ?, ?, ?)`,
			claimID, sp.ChunkID, sp.QuoteStart, sp.QuoteEnd); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) scanClaims(rows *sql.Rows) ([]types.Claim, error) {
	defer rows.Close()
	var out []types.Claim
	for rows.Next() {
		var c types.Claim
		if err := rows.Scan(&c.ID, &c.EntityID, &c.Field, &c.ValueJSON, &c.Status, &c.Confidence, &c.SupersedesClaimID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListClaimsByEntity(ctx context.Context, entityID string) ([]types.Claim, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, field, value_json, status, confidence, supersedes_claim_id FROM claims WHERE entity_id = ? ORDER BY rowid`,
		entityID)
	if err != nil {
		return nil, err
	}
	return s.scanClaims(rows)
}

func (s *SQLiteStore) ListClaimsByField(ctx context.Context, entityID, field string) ([]types.Claim, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, entity_id, field, value_json, status, confidence, supersedes_claim_id FROM claims WHERE entity_id = ? AND field = ? ORDER BY rowid`,
		entityID, field)
	if err != nil {
		return nil, err
	}
	return s.scanClaims(rows)
}

func (s *SQLiteStore) ListEvidenceForClaim(ctx context.Context, claimID string) ([]types.EvidenceSpan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, quote_start, quote_end FROM claim_evidence WHERE claim_id = ? ORDER BY rowid`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.EvidenceSpan
	for rows.Next() {
		var sp types.EvidenceSpan
		if err := rows.Scan(&sp.ChunkID, &sp.QuoteStart, &sp.QuoteEnd); err != nil {
			return nil, err
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListChunkIDsForEntities(ctx context.Context, entityIDs []string) ([]string, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(entityIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(entityIDs))
	for i, id := range entityIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT ce.chunk_id
		 FROM claims c JOIN claim_evidence ce ON ce.claim_id = c.id
		 WHERE c.entity_id IN (`+placeholders+`) ORDER BY ce.chunk_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// --- issues ---

func (s *SQLiteStore) InsertIssue(ctx context.Context, issue types.Issue) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO issues (id, project_id, type, severity, title, description, status) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		issue.ID, issue.ProjectID, issue.Type, issue.Severity, issue.Title, issue.Description, issue.Status); err != nil {
		return err
	}
	for _, sp := range issue.Evidence {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO issue_evidence (issue_id, chunk_id, quote_start, quote_end) VALUES (?, ?, ?, ?)`,
			issue.ID, sp.ChunkID, sp.QuoteStart, sp.QuoteEnd); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListIssues(ctx context.Context, projectID string) ([]types.Issue, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, type, severity, title, description, status FROM issues WHERE project_id = ? ORDER BY rowid`,
		projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Issue
	for rows.Next() {
		var is types.Issue
		if err := rows.Scan(&is.ID, &is.ProjectID, &is.Type, &is.Severity, &is.Title, &is.Description, &is.Status); err != nil {
			return nil, err
		}
		out = append(out, is)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		evRows, err := s.db.QueryContext(ctx,
			`SELECT chunk_id, quote_start, quote_end FROM issue_evidence WHERE issue_id = ? ORDER BY rowid`, out[i].ID)
		if err != nil {
			return nil, err
		}
		for evRows.Next() {
			var sp types.EvidenceSpan
			if err := evRows.Scan(&sp.ChunkID, &sp.QuoteStart, &sp.QuoteEnd); err != nil {
				evRows.Close()
				return nil, err
			}
			out[i].Evidence = append(out[i].Evidence, sp)
		}
		if err := evRows.Err(); err != nil {
			evRows.Close()
			return nil, err
		}
		evRows.Close()
	}
	return out, nil
}

func (s *SQLiteStore) UpdateIssueStatus(ctx context.Context, issueID string, status types.IssueStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE issues SET status = ? WHERE id = ?`, status, issueID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ClearOpenIssuesByType(ctx context.Context, projectID string, typ types.IssueType) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM issues WHERE project_id = ? AND type = ? AND status = ?`,
		projectID, typ, types.IssueOpen)
	return err
}

func (s *SQLiteStore) DeleteOpenIssuesByTypeAndChunkIDs(ctx context.Context, projectID string, typ types.IssueType, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(chunkIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := []any{projectID, typ, types.IssueOpen}
	for _, id := range chunkIDs {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM issues WHERE project_id = ? AND type = ? AND status = ? AND id IN (
			SELECT issue_id FROM issue_evidence WHERE chunk_id IN (`+placeholders+`))`, args...)
	return err
}

// --- scenes ---

func (s *SQLiteStore) ReplaceScenes(ctx context.Context, documentID string, scenes []types.Scene) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Scene-scoped metrics are keyed by scene id; drop them with the scenes
	// they describe or they would accumulate as orphans across reruns.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM style_metrics WHERE scope_type = ? AND scope_id IN (SELECT id FROM scenes WHERE document_id = ?)`,
		types.ScopeScene, documentID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM scenes WHERE document_id = ?`, documentID); err != nil {
		return err
	}
	for _, sc := range scenes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scenes (id, document_id, ordinal, start_chunk_id, end_chunk_id, title, pov_mode, pov_confidence, setting_entity, setting_text, setting_conf)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sc.ID, documentID, sc.Ordinal, sc.StartChunkID, sc.EndChunkID, sc.Title,
			sc.POVMode, sc.POVConfidence, sc.SettingEntity, sc.SettingText, sc.SettingConf); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) scanScenes(rows *sql.Rows) ([]types.Scene, error) {
	defer rows.Close()
	var out []types.Scene
	for rows.Next() {
		var sc types.Scene
		if err := rows.Scan(&sc.ID, &sc.DocumentID, &sc.Ordinal, &sc.StartChunkID, &sc.EndChunkID, &sc.Title,
			&sc.POVMode, &sc.POVConfidence, &sc.SettingEntity, &sc.SettingText, &sc.SettingConf); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListScenesForDocument(ctx context.Context, documentID string) ([]types.Scene, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, ordinal, start_chunk_id, end_chunk_id, title, pov_mode, pov_confidence, setting_entity, setting_text, setting_conf
		 FROM scenes WHERE document_id = ? ORDER BY ordinal`, documentID)
	if err != nil {
		return nil, err
	}
	return s.scanScenes(rows)
}

func (s *SQLiteStore) ListScenesForProject(ctx context.Context, projectID string) ([]types.Scene, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.document_id, s.ordinal, s.start_chunk_id, s.end_chunk_id, s.title, s.pov_mode, s.pov_confidence, s.setting_entity, s.setting_text, s.setting_conf
		 FROM scenes s JOIN documents d ON d.id = s.document_id
		 WHERE d.project_id = ? ORDER BY d.rel_path, s.ordinal`, projectID)
	if err != nil {
		return nil, err
	}
	return s.scanScenes(rows)
}

// --- style metrics ---

func (s *SQLiteStore) ReplaceStyleMetric(ctx context.Context, m types.StyleMetric) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO style_metrics (project_id, scope_type, scope_id, metric_name, metric_json) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(project_id, scope_type, scope_id, metric_name) DO UPDATE SET metric_json = excluded.metric_json`,
		m.ProjectID, m.ScopeType, m.ScopeID, m.MetricName, m.MetricJSON)
	return err
}

func (s *SQLiteStore) ListStyleMetrics(ctx context.Context, projectID, metricName string) ([]types.StyleMetric, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, scope_type, scope_id, metric_name, metric_json FROM style_metrics WHERE project_id = ? AND metric_name = ? ORDER BY scope_type, scope_id`,
		projectID, metricName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.StyleMetric
	for rows.Next() {
		var m types.StyleMetric
		if err := rows.Scan(&m.ProjectID, &m.ScopeType, &m.ScopeID, &m.MetricName, &m.MetricJSON); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListStyleMetricsForProject(ctx context.Context, projectID string) ([]types.StyleMetric, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project_id, scope_type, scope_id, metric_name, metric_json FROM style_metrics WHERE project_id = ? ORDER BY metric_name, scope_type, scope_id`,
		projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.StyleMetric
	for rows.Next() {
		var m types.StyleMetric
		if err := rows.Scan(&m.ProjectID, &m.ScopeType, &m.ScopeID, &m.MetricName, &m.MetricJSON); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteStyleMetricsByName(ctx context.Context, projectID, metricName string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM style_metrics WHERE project_id = ? AND metric_name = ?`, projectID, metricName)
	return err
}

// --- processing state ---

func (s *SQLiteStore) GetProcessingState(ctx context.Context, documentID string, stage types.Stage) (*types.ProcessingState, error) {
	var st types.ProcessingState
	row := s.db.QueryRowContext(ctx,
		`SELECT document_id, stage, snapshot_id, status, error, updated_at FROM processing_state WHERE document_id = ? AND stage = ?`,
		documentID, stage)
	if err := row.Scan(&st.DocumentID, &st.Stage, &st.SnapshotID, &st.Status, &st.Error, &st.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}

func (s *SQLiteStore) UpsertProcessingState(ctx context.Context, st types.ProcessingState) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processing_state (document_id, stage, snapshot_id, status, error, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(document_id, stage) DO UPDATE SET snapshot_id = excluded.snapshot_id, status = excluded.status, error = excluded.error, updated_at = excluded.updated_at`,
		st.DocumentID, st.Stage, st.SnapshotID, st.Status, st.Error, st.UpdatedAt)
	return err
}

// --- events ---

func (s *SQLiteStore) LogEvent(ctx context.Context, ev types.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, project_id, level, stage, message, data_json, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.ProjectID, ev.Level, ev.Stage, ev.Message, ev.DataJSON, ev.CreatedAt)
	return err
}

func (s *SQLiteStore) ListEvents(ctx context.Context, projectID string, limit int) ([]types.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, level, stage, message, data_json, created_at FROM events WHERE project_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Event
	for rows.Next() {
		var ev types.Event
		if err := rows.Scan(&ev.ID, &ev.ProjectID, &ev.Level, &ev.Stage, &ev.Message, &ev.DataJSON, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
