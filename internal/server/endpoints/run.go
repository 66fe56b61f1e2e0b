package endpoints

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/quill/internal/api"
	"github.com/jackzampolin/quill/internal/pipeline"
	"github.com/jackzampolin/quill/internal/store"
	"github.com/jackzampolin/quill/internal/svcctx"
	"github.com/jackzampolin/quill/internal/types"
)

// StageStateView is one row of the processing ledger.
type StageStateView struct {
	Stage      string `json:"stage"`
	Status     string `json:"status"`
	SnapshotID string `json:"snapshot_id"`
	Error      string `json:"error,omitempty"`
}

// RunResponse reports the ledger after a full stage sequence.
type RunResponse struct {
	DocumentID string           `json:"document_id"`
	SnapshotID string           `json:"snapshot_id"`
	Stages     []StageStateView `json:"stages"`
}

// RunEndpoint handles POST /documents/{id}/run: the full stage sequence
// against the document's latest snapshot. Completed stages skip, failed
// ones retry.
type RunEndpoint struct{}

func (e *RunEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/documents/{id}/run", e.handler
}

func (e *RunEndpoint) RequiresInit() bool { return true }

func (e *RunEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	documentID := r.PathValue("id")
	st := svcctx.StoreFrom(r.Context())

	doc, err := st.GetDocument(r.Context(), documentID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	snap, err := st.GetLatestSnapshot(r.Context(), documentID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusConflict, "document has no snapshot; ingest it first")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Change range unknown at this boundary: extraction covers the whole
	// document and continuity scans the project.
	rc := &pipeline.RunContext{
		ProjectID:   doc.ProjectID,
		DocumentID:  doc.ID,
		SnapshotID:  snap.ID,
		ChangeStart: -1,
		ChangeEnd:   -1,
	}
	runErr := svcctx.PipelineFrom(r.Context()).RunAll(r.Context(), rc)

	resp := RunResponse{DocumentID: doc.ID, SnapshotID: snap.ID}
	for _, stage := range []types.Stage{types.StageIngest, types.StageScenes, types.StageStyle, types.StageExtraction, types.StageContinuity} {
		row, err := st.GetProcessingState(r.Context(), doc.ID, stage)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Stages = append(resp.Stages, StageStateView{
			Stage:      string(row.Stage),
			Status:     string(row.Status),
			SnapshotID: row.SnapshotID,
			Error:      row.Error,
		})
	}

	if runErr != nil {
		// The ledger already records the failure; surface both.
		writeJSON(w, http.StatusUnprocessableEntity, struct {
			RunResponse
			Error string `json:"error"`
		}{resp, runErr.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *RunEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "run <document-id>",
		Short: "Run all analysis stages for a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp RunResponse
			if err := client.Post(cmd.Context(), fmt.Sprintf("/documents/%s/run", args[0]), nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
