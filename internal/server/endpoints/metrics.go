package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/quill/internal/api"
	"github.com/jackzampolin/quill/internal/svcctx"
)

// MetricView is one style-metric row. Data is the decoded envelope payload.
type MetricView struct {
	ScopeType  string          `json:"scope_type"`
	ScopeID    string          `json:"scope_id"`
	MetricName string          `json:"metric_name"`
	Data       json.RawMessage `json:"data"`
}

// ListMetricsEndpoint handles GET /projects/{id}/metrics.
// Optional query param: name (metric name filter).
type ListMetricsEndpoint struct{}

func (e *ListMetricsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/projects/{id}/metrics", e.handler
}

func (e *ListMetricsEndpoint) RequiresInit() bool { return true }

func (e *ListMetricsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	name := r.URL.Query().Get("name")
	st := svcctx.StoreFrom(r.Context())

	var (
		rows []MetricView
		err  error
	)
	if name != "" {
		metrics, lerr := st.ListStyleMetrics(r.Context(), projectID, name)
		err = lerr
		for _, m := range metrics {
			rows = append(rows, MetricView{ScopeType: string(m.ScopeType), ScopeID: m.ScopeID, MetricName: m.MetricName, Data: json.RawMessage(m.MetricJSON)})
		}
	} else {
		metrics, lerr := st.ListStyleMetricsForProject(r.Context(), projectID)
		err = lerr
		for _, m := range metrics {
			rows = append(rows, MetricView{ScopeType: string(m.ScopeType), ScopeID: m.ScopeID, MetricName: m.MetricName, Data: json.RawMessage(m.MetricJSON)})
		}
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []MetricView{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (e *ListMetricsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "metrics <project>",
		Short: "List a project's style metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/projects/%s/metrics", args[0])
			if name != "" {
				path += "?name=" + name
			}
			client := api.NewClient(getServerURL())
			var resp []MetricView
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Metric name filter (e.g. repetition, tone_vector)")
	return cmd
}
