package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/quill/internal/api"
	"github.com/jackzampolin/quill/internal/svcctx"
)

// EventView is one persisted pipeline log entry.
type EventView struct {
	ID        string          `json:"id"`
	Level     string          `json:"level"`
	Stage     string          `json:"stage"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ListEventsEndpoint handles GET /projects/{id}/events.
// Optional query param: limit (default 100).
type ListEventsEndpoint struct{}

func (e *ListEventsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/projects/{id}/events", e.handler
}

func (e *ListEventsEndpoint) RequiresInit() bool { return true }

func (e *ListEventsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := svcctx.StoreFrom(r.Context()).ListEvents(r.Context(), projectID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]EventView, 0, len(events))
	for _, ev := range events {
		view := EventView{
			ID:        ev.ID,
			Level:     ev.Level,
			Stage:     string(ev.Stage),
			Message:   ev.Message,
			CreatedAt: ev.CreatedAt,
		}
		if ev.DataJSON != "" {
			view.Data = json.RawMessage(ev.DataJSON)
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

func (e *ListEventsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events <project>",
		Short: "List a project's pipeline events, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp []EventView
			path := fmt.Sprintf("/projects/%s/events?limit=%d", args[0], limit)
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum events to return")
	return cmd
}
