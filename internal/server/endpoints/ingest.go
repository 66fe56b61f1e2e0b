package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/quill/internal/api"
	"github.com/jackzampolin/quill/internal/pipeline"
	"github.com/jackzampolin/quill/internal/svcctx"
)

// IngestRequest registers and ingests one manuscript file.
type IngestRequest struct {
	// Root is the project root directory on the server's filesystem.
	Root string `json:"root"`
	// Path is the file path relative to Root.
	Path string `json:"path"`
	// Run triggers the full stage sequence after a successful ingest.
	Run bool `json:"run,omitempty"`
}

// IngestResponse reports what the ingest changed.
type IngestResponse struct {
	DocumentID      string `json:"document_id"`
	SnapshotID      string `json:"snapshot_id"`
	SnapshotCreated bool   `json:"snapshot_created"`
	ChunksCreated   int    `json:"chunks_created"`
	ChunksUpdated   int    `json:"chunks_updated"`
	ChunksDeleted   int    `json:"chunks_deleted"`
	RanStages       bool   `json:"ran_stages"`
}

// IngestEndpoint handles POST /projects/{id}/ingest.
type IngestEndpoint struct{}

func (e *IngestEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/projects/{id}/ingest", e.handler
}

func (e *IngestEndpoint) RequiresInit() bool { return true }

func (e *IngestEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Root == "" || req.Path == "" {
		writeError(w, http.StatusBadRequest, "root and path are required")
		return
	}

	p := svcctx.PipelineFrom(r.Context())
	res, err := p.IngestDocument(r.Context(), projectID, req.Root, req.Path)
	if err != nil {
		writeIngestError(w, err)
		return
	}

	resp := IngestResponse{
		DocumentID:      res.DocumentID,
		SnapshotID:      res.SnapshotID,
		SnapshotCreated: res.SnapshotCreated,
		ChunksCreated:   res.ChunksCreated,
		ChunksUpdated:   res.ChunksUpdated,
		ChunksDeleted:   res.ChunksDeleted,
	}

	if req.Run && res.SnapshotCreated {
		rc := &pipeline.RunContext{
			ProjectID:   projectID,
			DocumentID:  res.DocumentID,
			SnapshotID:  res.SnapshotID,
			ChangeStart: res.ChangeStart,
			ChangeEnd:   res.ChangeEnd,
		}
		if err := p.RunAll(r.Context(), rc); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		resp.RanStages = true
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeIngestError maps the ingest error taxonomy onto HTTP statuses.
func writeIngestError(w http.ResponseWriter, err error) {
	var unsupported *pipeline.UnsupportedDocumentKindError
	var extraction *pipeline.DocumentExtractionError
	switch {
	case errors.Is(err, pipeline.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &unsupported):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	case errors.As(err, &extraction):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (e *IngestEndpoint) Command(getServerURL func() string) *cobra.Command {
	var root string
	var run bool
	cmd := &cobra.Command{
		Use:   "ingest <project> <file>",
		Short: "Ingest a manuscript file into a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, path := args[0], args[1]
			if root == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				root = wd
			}
			abs, err := filepath.Abs(root)
			if err != nil {
				return err
			}

			client := api.NewClient(getServerURL())
			var resp IngestResponse
			req := IngestRequest{Root: abs, Path: path, Run: run}
			if err := client.Post(cmd.Context(), fmt.Sprintf("/projects/%s/ingest", projectID), req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "Project root directory (default: current directory)")
	cmd.Flags().BoolVar(&run, "run", false, "Run all analysis stages after ingest")
	return cmd
}
