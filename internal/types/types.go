// Package types provides shared types used across multiple packages.
// This package has no dependencies on other quill packages to avoid import cycles.
package types

import "time"

// DocumentKind identifies a supported manuscript file format.
type DocumentKind string

const (
	KindText     DocumentKind = "text"
	KindMarkdown DocumentKind = "markdown"
	KindDocx     DocumentKind = "docx"
)

// Document is a registered manuscript file within a project.
type Document struct {
	ID        string
	ProjectID string
	RootPath  string // project root the file was registered under
	RelPath   string // path relative to RootPath
	Kind      DocumentKind
}

// Snapshot is an immutable full-text capture of a document.
// A new snapshot is created only when the normalized text hash changes,
// so re-ingesting identical content is a guaranteed no-op.
type Snapshot struct {
	ID         string
	DocumentID string
	TextHash   string // SHA-256 hex of normalized full text
	CreatedAt  time.Time
}

// Chunk is a bounded-size, ordinal-addressed slice of a document snapshot's
// text. Ordinals are contiguous 0..N-1 per snapshot; [StartChar,EndChar) is
// an offset range into the document's full normalized text. Chunk ids are
// preserved across ingests when the content hash is unchanged, which keeps
// downstream evidence valid.
type Chunk struct {
	ID         string
	DocumentID string
	Ordinal    int
	Text       string
	TextHash   string
	StartChar  int
	EndChar    int
}

// EntityType classifies a story entity.
type EntityType string

const (
	EntityCharacter EntityType = "character"
	EntityLocation  EntityType = "location"
	EntityObject    EntityType = "object"
	EntityOther     EntityType = "other"
)

// Entity is a story entity (character, location, object) with a set of
// normalized aliases. Entities are created on first mention and merged,
// never hard-deleted while claims reference them.
type Entity struct {
	ID            string
	ProjectID     string
	Type          EntityType
	DisplayName   string
	CanonicalName string
}

// ClaimStatus is the lifecycle state of a claim.
type ClaimStatus string

const (
	ClaimInferred   ClaimStatus = "inferred"
	ClaimConfirmed  ClaimStatus = "confirmed"
	ClaimRejected   ClaimStatus = "rejected"
	ClaimSuperseded ClaimStatus = "superseded"
)

// Claim is an evidence-backed fact about an entity and field. At most one
// live claim exists per (entity, field, valueJson); a claim is only usable
// when at least one evidence span resolved against literal chunk text.
type Claim struct {
	ID               string
	EntityID         string
	Field            string
	ValueJSON        string
	Status           ClaimStatus
	Confidence       float64
	SupersedesClaimID string
}

// EvidenceSpan ties a fact to literal chunk text: Chunk.Text[QuoteStart:QuoteEnd]
// is the supporting quote. The same shape is attached to claims, issues and scenes.
type EvidenceSpan struct {
	ChunkID    string
	QuoteStart int
	QuoteEnd   int
}

// IssueType classifies a detected problem.
type IssueType string

const (
	IssueContinuity   IssueType = "continuity"
	IssueToneDrift    IssueType = "tone_drift"
	IssueRepetition   IssueType = "repetition"
	IssueDialogueTic  IssueType = "dialogue_tic"
	IssuePOVAmbiguous IssueType = "pov_ambiguous"
)

// IssueSeverity ranks how urgent an issue is.
type IssueSeverity string

const (
	SeverityLow    IssueSeverity = "low"
	SeverityMedium IssueSeverity = "medium"
	SeverityHigh   IssueSeverity = "high"
)

// IssueStatus is the user-facing lifecycle of an issue.
type IssueStatus string

const (
	IssueOpen      IssueStatus = "open"
	IssueDismissed IssueStatus = "dismissed"
	IssueResolved  IssueStatus = "resolved"
)

// Issue is a flagged problem with 0..N evidence spans. Only tone-drift
// issues may carry zero spans (when the source excerpt chunk is gone).
type Issue struct {
	ID          string
	ProjectID   string
	Type        IssueType
	Severity    IssueSeverity
	Title       string
	Description string
	Status      IssueStatus
	Evidence    []EvidenceSpan
}

// POVMode is the detected narrative point of view for a scene.
type POVMode string

const (
	POVFirst     POVMode = "first"
	POVThird     POVMode = "third"
	POVAmbiguous POVMode = "ambiguous"
)

// Scene is a contiguous run of chunks between scene boundaries, with
// derived point-of-view and setting metadata.
type Scene struct {
	ID            string
	DocumentID    string
	Ordinal       int
	StartChunkID  string
	EndChunkID    string
	Title         string
	POVMode       POVMode
	POVConfidence float64
	SettingEntity string // entity id, when the setting resolved to a known entity
	SettingText   string
	SettingConf   float64
}

// MetricScope is the aggregation level of a style metric row.
type MetricScope string

const (
	ScopeProject  MetricScope = "project"
	ScopeDocument MetricScope = "document"
	ScopeScene    MetricScope = "scene"
	ScopeEntity   MetricScope = "entity"
)

// StyleMetric is one (scope, metric) row, replaced wholesale on recompute.
// MetricJSON carries a versioned envelope; see the style package.
type StyleMetric struct {
	ProjectID  string
	ScopeType  MetricScope
	ScopeID    string
	MetricName string
	MetricJSON string
}

// Stage is one unit of pipeline work executed idempotently per snapshot.
type Stage string

const (
	StageIngest     Stage = "ingest"
	StageScenes     Stage = "scenes"
	StageStyle      Stage = "style"
	StageExtraction Stage = "extraction"
	StageContinuity Stage = "continuity"
)

// StageStatus is the recorded outcome of a stage run.
type StageStatus string

const (
	StagePending StageStatus = "pending"
	StageOK      StageStatus = "ok"
	StageFailed  StageStatus = "failed"
)

// ProcessingState is the resumability ledger: one row per (document, stage),
// keyed to the snapshot the stage last ran against.
type ProcessingState struct {
	DocumentID string
	SnapshotID string
	Stage      Stage
	Status     StageStatus
	Error      string
	UpdatedAt  time.Time
}

// Event is a structured pipeline log entry, persisted for the host process
// and mirrored to slog.
type Event struct {
	ID        string
	ProjectID string
	Level     string
	Stage     Stage
	Message   string
	DataJSON  string
	CreatedAt time.Time
}
