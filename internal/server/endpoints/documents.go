package endpoints

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/quill/internal/api"
	"github.com/jackzampolin/quill/internal/store"
	"github.com/jackzampolin/quill/internal/svcctx"
	"github.com/jackzampolin/quill/internal/types"
)

// DocumentView is one registered manuscript file with its latest snapshot
// and stage ledger.
type DocumentView struct {
	ID         string           `json:"id"`
	RelPath    string           `json:"rel_path"`
	Kind       string           `json:"kind"`
	SnapshotID string           `json:"snapshot_id,omitempty"`
	Stages     []StageStateView `json:"stages,omitempty"`
}

// ListDocumentsEndpoint handles GET /projects/{id}/documents.
type ListDocumentsEndpoint struct{}

func (e *ListDocumentsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/projects/{id}/documents", e.handler
}

func (e *ListDocumentsEndpoint) RequiresInit() bool { return true }

func (e *ListDocumentsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	st := svcctx.StoreFrom(r.Context())

	docs, err := st.ListDocumentsByProject(r.Context(), projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]DocumentView, 0, len(docs))
	for _, doc := range docs {
		view := DocumentView{ID: doc.ID, RelPath: doc.RelPath, Kind: string(doc.Kind)}
		if snap, err := st.GetLatestSnapshot(r.Context(), doc.ID); err == nil {
			view.SnapshotID = snap.ID
		} else if !errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, stage := range []types.Stage{types.StageIngest, types.StageScenes, types.StageStyle, types.StageExtraction, types.StageContinuity} {
			row, err := st.GetProcessingState(r.Context(), doc.ID, stage)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			view.Stages = append(view.Stages, StageStateView{
				Stage:      string(row.Stage),
				Status:     string(row.Status),
				SnapshotID: row.SnapshotID,
				Error:      row.Error,
			})
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

func (e *ListDocumentsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "documents <project>",
		Short: "List a project's documents and their stage ledgers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp []DocumentView
			if err := client.Get(cmd.Context(), fmt.Sprintf("/projects/%s/documents", args[0]), &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
