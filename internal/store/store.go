// Package store defines the narrow storage contract the pipeline depends
// on, plus a SQLite-backed implementation. The pipeline never talks SQL
// directly; schema evolution beyond table bootstrap is the host's concern.
package store

import (
	"context"
	"errors"

	"github.com/jackzampolin/quill/internal/types"
)

// ErrNotFound is returned by point lookups when no row exists.
var ErrNotFound = errors.New("not found")

// ChunkReplace is one atomic chunk-set replacement for a document.
// A crash mid-ingest must never leave a partially updated chunk set,
// so the store applies all three parts in a single transaction.
type ChunkReplace struct {
	Updates   []types.Chunk
	Inserts   []types.Chunk
	DeleteIDs []string
}

// Store is the CRUD contract consumed by the pipeline. All calls are
// atomic per call; multi-row atomicity is only promised where a method
// takes the whole batch (ReplaceChunks, ReplaceScenes).
type Store interface {
	// Documents and snapshots
	GetOrCreateDocument(ctx context.Context, projectID, rootPath, relPath string, kind types.DocumentKind) (types.Document, error)
	GetDocument(ctx context.Context, documentID string) (*types.Document, error)
	ListDocumentsByProject(ctx context.Context, projectID string) ([]types.Document, error)
	GetLatestSnapshot(ctx context.Context, documentID string) (*types.Snapshot, error)
	CreateSnapshot(ctx context.Context, snap types.Snapshot) error

	// Chunks
	ListChunksForDocument(ctx context.Context, documentID string) ([]types.Chunk, error)
	GetChunk(ctx context.Context, chunkID string) (*types.Chunk, error)
	ReplaceChunks(ctx context.Context, documentID string, rep ChunkReplace) error

	// Entities and aliases
	CreateEntity(ctx context.Context, e types.Entity) error
	GetEntity(ctx context.Context, entityID string) (*types.Entity, error)
	ListEntitiesByProject(ctx context.Context, projectID string) ([]types.Entity, error)
	DeleteEntityIfNoClaims(ctx context.Context, entityID string) (bool, error)
	AddAlias(ctx context.Context, entityID, alias string) error
	ListAliases(ctx context.Context, entityID string) ([]string, error)
	GetEntityByAlias(ctx context.Context, projectID, alias string) (*types.Entity, error)

	// Claims and claim evidence
	InsertClaim(ctx context.Context, c types.Claim) error
	InsertClaimEvidence(ctx context.Context, claimID string, spans []types.EvidenceSpan) error
	ListClaimsByEntity(ctx context.Context, entityID string) ([]types.Claim, error)
	ListClaimsByField(ctx context.Context, entityID, field string) ([]types.Claim, error)
	ListEvidenceForClaim(ctx context.Context, claimID string) ([]types.EvidenceSpan, error)
	// ListChunkIDsForEntities joins entity -> claim -> claim_evidence -> chunk,
	// used to scope incremental continuity re-scans.
	ListChunkIDsForEntities(ctx context.Context, entityIDs []string) ([]string, error)

	// Issues
	InsertIssue(ctx context.Context, issue types.Issue) error
	ListIssues(ctx context.Context, projectID string) ([]types.Issue, error)
	UpdateIssueStatus(ctx context.Context, issueID string, status types.IssueStatus) error
	// ClearOpenIssuesByType deletes open issues of one type; dismissed and
	// resolved issues survive recomputation.
	ClearOpenIssuesByType(ctx context.Context, projectID string, typ types.IssueType) error
	// DeleteOpenIssuesByTypeAndChunkIDs deletes open issues of one type whose
	// evidence touches any of the given chunks.
	DeleteOpenIssuesByTypeAndChunkIDs(ctx context.Context, projectID string, typ types.IssueType, chunkIDs []string) error

	// Scenes
	ReplaceScenes(ctx context.Context, documentID string, scenes []types.Scene) error
	ListScenesForDocument(ctx context.Context, documentID string) ([]types.Scene, error)
	ListScenesForProject(ctx context.Context, projectID string) ([]types.Scene, error)

	// Style metrics
	ReplaceStyleMetric(ctx context.Context, m types.StyleMetric) error
	ListStyleMetrics(ctx context.Context, projectID, metricName string) ([]types.StyleMetric, error)
	ListStyleMetricsForProject(ctx context.Context, projectID string) ([]types.StyleMetric, error)
	DeleteStyleMetricsByName(ctx context.Context, projectID, metricName string) error

	// Processing state
	GetProcessingState(ctx context.Context, documentID string, stage types.Stage) (*types.ProcessingState, error)
	UpsertProcessingState(ctx context.Context, st types.ProcessingState) error

	// Event log
	LogEvent(ctx context.Context, ev types.Event) error
	// ListEvents returns the newest events first, capped at limit.
	ListEvents(ctx context.Context, projectID string, limit int) ([]types.Event, error)
}
