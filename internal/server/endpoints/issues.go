package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/quill/internal/api"
	"github.com/jackzampolin/quill/internal/store"
	"github.com/jackzampolin/quill/internal/svcctx"
	"github.com/jackzampolin/quill/internal/types"
)

// EvidenceView is one resolvable quote span.
type EvidenceView struct {
	ChunkID    string `json:"chunk_id"`
	QuoteStart int    `json:"quote_start"`
	QuoteEnd   int    `json:"quote_end"`
}

// IssueView is the wire shape of one flagged problem.
type IssueView struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Severity    string         `json:"severity"`
	Status      string         `json:"status"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Evidence    []EvidenceView `json:"evidence,omitempty"`
}

func issueView(is types.Issue) IssueView {
	v := IssueView{
		ID:          is.ID,
		Type:        string(is.Type),
		Severity:    string(is.Severity),
		Status:      string(is.Status),
		Title:       is.Title,
		Description: is.Description,
	}
	for _, sp := range is.Evidence {
		v.Evidence = append(v.Evidence, EvidenceView{ChunkID: sp.ChunkID, QuoteStart: sp.QuoteStart, QuoteEnd: sp.QuoteEnd})
	}
	return v
}

// ListIssuesEndpoint handles GET /projects/{id}/issues.
// Optional query params: status, type.
type ListIssuesEndpoint struct{}

func (e *ListIssuesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/projects/{id}/issues", e.handler
}

func (e *ListIssuesEndpoint) RequiresInit() bool { return true }

func (e *ListIssuesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	statusFilter := r.URL.Query().Get("status")
	typeFilter := r.URL.Query().Get("type")

	issues, err := svcctx.StoreFrom(r.Context()).ListIssues(r.Context(), projectID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]IssueView, 0, len(issues))
	for _, is := range issues {
		if statusFilter != "" && string(is.Status) != statusFilter {
			continue
		}
		if typeFilter != "" && string(is.Type) != typeFilter {
			continue
		}
		out = append(out, issueView(is))
	}
	writeJSON(w, http.StatusOK, out)
}

func (e *ListIssuesEndpoint) Command(getServerURL func() string) *cobra.Command {
	var status, typ string
	cmd := &cobra.Command{
		Use:   "list <project>",
		Short: "List a project's issues",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/projects/%s/issues", args[0])
			sep := "?"
			if status != "" {
				path += sep + "status=" + status
				sep = "&"
			}
			if typ != "" {
				path += sep + "type=" + typ
			}

			client := api.NewClient(getServerURL())
			var resp []IssueView
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (open, dismissed, resolved)")
	cmd.Flags().StringVar(&typ, "type", "", "Filter by issue type")
	return cmd
}

// UpdateIssueRequest changes an issue's lifecycle status.
type UpdateIssueRequest struct {
	Status string `json:"status"`
}

// UpdateIssueEndpoint handles PATCH /issues/{id}. Dismissed issues survive
// later re-scans of their type.
type UpdateIssueEndpoint struct{}

func (e *UpdateIssueEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PATCH", "/issues/{id}", e.handler
}

func (e *UpdateIssueEndpoint) RequiresInit() bool { return true }

func (e *UpdateIssueEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	issueID := r.PathValue("id")

	var req UpdateIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	status := types.IssueStatus(req.Status)
	switch status {
	case types.IssueOpen, types.IssueDismissed, types.IssueResolved:
	default:
		writeError(w, http.StatusBadRequest, "status must be open, dismissed or resolved")
		return
	}

	err := svcctx.StoreFrom(r.Context()).UpdateIssueStatus(r.Context(), issueID, status)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "issue not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": issueID, "status": req.Status})
}

func (e *UpdateIssueEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "update <issue-id> <status>",
		Short: "Set an issue's status (open, dismissed, resolved)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp map[string]string
			if err := client.Patch(cmd.Context(), "/issues/"+args[0], UpdateIssueRequest{Status: args[1]}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
