// Package continuity detects contradictory claims about the same entity
// field and raises evidence-backed issues. It never blocks claim insertion;
// the extractor records what the text says and this package judges it.
package continuity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/jackzampolin/quill/internal/store"
	"github.com/jackzampolin/quill/internal/types"
)

// Checker scans entity claims for per-field value conflicts.
type Checker struct {
	store  store.Store
	logger *slog.Logger
}

func NewChecker(st store.Store, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{store: st, logger: logger}
}

// ScanProject clears all open continuity issues for the project and
// re-scans every entity. Dismissed and resolved issues are left alone.
func (c *Checker) ScanProject(ctx context.Context, projectID string) (int, error) {
	if err := c.store.ClearOpenIssuesByType(ctx, projectID, types.IssueContinuity); err != nil {
		return 0, fmt.Errorf("clearing stale continuity issues: %w", err)
	}
	entities, err := c.store.ListEntitiesByProject(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("listing entities: %w", err)
	}
	return c.scan(ctx, projectID, entities)
}

// ScanEntities re-scans only the given entities, clearing open continuity
// issues whose evidence touches chunks those entities' claims cite. This is
// the incremental path after an extraction run.
func (c *Checker) ScanEntities(ctx context.Context, projectID string, entityIDs []string) (int, error) {
	if len(entityIDs) == 0 {
		return 0, nil
	}

	chunkIDs, err := c.store.ListChunkIDsForEntities(ctx, entityIDs)
	if err != nil {
		return 0, fmt.Errorf("resolving chunk scope: %w", err)
	}
	if len(chunkIDs) > 0 {
		if err := c.store.DeleteOpenIssuesByTypeAndChunkIDs(ctx, projectID, types.IssueContinuity, chunkIDs); err != nil {
			return 0, fmt.Errorf("clearing scoped continuity issues: %w", err)
		}
	}

	var entities []types.Entity
	for _, id := range entityIDs {
		ent, err := c.store.GetEntity(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("loading entity %s: %w", id, err)
		}
		entities = append(entities, *ent)
	}
	return c.scan(ctx, projectID, entities)
}

func (c *Checker) scan(ctx context.Context, projectID string, entities []types.Entity) (int, error) {
	raised := 0
	for _, ent := range entities {
		claims, err := c.store.ListClaimsByEntity(ctx, ent.ID)
		if err != nil {
			return raised, fmt.Errorf("listing claims for %s: %w", ent.ID, err)
		}

		n, err := c.scanEntity(ctx, projectID, ent, claims)
		if err != nil {
			return raised, err
		}
		raised += n
	}
	if raised > 0 {
		c.logger.Info("continuity scan raised issues", "project", projectID, "count", raised)
	}
	return raised, nil
}

// fieldValue is one distinct normalized value for a field, with the claim
// that first introduced it and that claim's first resolvable span.
type fieldValue struct {
	claim types.Claim
	span  types.EvidenceSpan
}

// scanEntity groups live claims by field and raises one issue per field
// whose distinct-value set has two or more members. Only the first two
// distinct values become the issue's representatives; any further values
// are named in the description but carry no evidence spans.
func (c *Checker) scanEntity(ctx context.Context, projectID string, ent types.Entity, claims []types.Claim) (int, error) {
	type fieldState struct {
		order  []string
		values map[string]fieldValue
	}
	fields := map[string]*fieldState{}
	var fieldOrder []string

	for _, claim := range claims {
		if claim.Status != types.ClaimInferred && claim.Status != types.ClaimConfirmed {
			continue
		}
		span, ok, err := c.firstResolvableSpan(ctx, claim.ID)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}

		fs := fields[claim.Field]
		if fs == nil {
			fs = &fieldState{values: map[string]fieldValue{}}
			fields[claim.Field] = fs
			fieldOrder = append(fieldOrder, claim.Field)
		}
		key := normalizeValueKey(claim.ValueJSON)
		if _, seen := fs.values[key]; seen {
			continue
		}
		fs.order = append(fs.order, key)
		fs.values[key] = fieldValue{claim: claim, span: span}
	}

	raised := 0
	for _, field := range fieldOrder {
		fs := fields[field]
		if len(fs.order) < 2 {
			continue
		}
		a := fs.values[fs.order[0]]
		b := fs.values[fs.order[1]]

		severity := types.SeverityMedium
		if (a.claim.Status == types.ClaimConfirmed) != (b.claim.Status == types.ClaimConfirmed) {
			severity = types.SeverityHigh
		}

		desc := fmt.Sprintf("%q and %q are both claimed for %s of %s.",
			displayValue(a.claim.ValueJSON), displayValue(b.claim.ValueJSON), field, ent.DisplayName)
		if len(fs.order) > 2 {
			extras := make([]string, 0, len(fs.order)-2)
			for _, key := range fs.order[2:] {
				extras = append(extras, fmt.Sprintf("%q", displayValue(fs.values[key].claim.ValueJSON)))
			}
			desc += " Also claimed: " + strings.Join(extras, ", ") + "."
		}

		issue := types.Issue{
			ID:          uuid.NewString(),
			ProjectID:   projectID,
			Type:        types.IssueContinuity,
			Severity:    severity,
			Title:       fmt.Sprintf("Conflicting %s for %s", field, ent.DisplayName),
			Description: desc,
			Status:      types.IssueOpen,
			Evidence:    []types.EvidenceSpan{a.span, b.span},
		}
		if err := c.store.InsertIssue(ctx, issue); err != nil {
			return raised, fmt.Errorf("inserting continuity issue: %w", err)
		}
		raised++
	}
	return raised, nil
}

// firstResolvableSpan returns the claim's first evidence span that still
// points inside an existing chunk's text. Claims whose chunks were deleted
// or rewritten out from under them silently drop out of conflict scans.
func (c *Checker) firstResolvableSpan(ctx context.Context, claimID string) (types.EvidenceSpan, bool, error) {
	spans, err := c.store.ListEvidenceForClaim(ctx, claimID)
	if err != nil {
		return types.EvidenceSpan{}, false, fmt.Errorf("listing evidence for %s: %w", claimID, err)
	}
	for _, span := range spans {
		chunk, err := c.store.GetChunk(ctx, span.ChunkID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return types.EvidenceSpan{}, false, fmt.Errorf("loading chunk %s: %w", span.ChunkID, err)
		}
		if span.QuoteStart >= 0 && span.QuoteStart < span.QuoteEnd && span.QuoteEnd <= len(chunk.Text) {
			return span, true, nil
		}
	}
	return types.EvidenceSpan{}, false, nil
}

// normalizeValueKey reduces a claim's JSON value to a comparison key:
// strings are lowercased (but not trimmed, so trailing whitespace inside
// the quotes still distinguishes values), numbers are stringified, and
// anything else is re-marshaled canonically.
func normalizeValueKey(valueJSON string) string {
	var v any
	if err := json.Unmarshal([]byte(valueJSON), &v); err != nil {
		return "raw:" + valueJSON
	}
	switch x := v.(type) {
	case string:
		return "s:" + strings.ToLower(x)
	case float64:
		return "n:" + strconv.FormatFloat(x, 'g', -1, 64)
	default:
		canonical, err := json.Marshal(v)
		if err != nil {
			return "raw:" + valueJSON
		}
		return "j:" + string(canonical)
	}
}

// displayValue renders a claim value for issue text: bare string for JSON
// strings, raw JSON otherwise.
func displayValue(valueJSON string) string {
	var s string
	if err := json.Unmarshal([]byte(valueJSON), &s); err == nil {
		return s
	}
	return valueJSON
}
