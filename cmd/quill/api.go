package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/quill/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running Quill server via HTTP.

These commands require a running server (quill serve).
Use --server to specify a custom server URL.

Examples:
  quill api health                        # Check server health
  quill api ingest novel chapter-01.md    # Ingest a manuscript file
  quill api issues list novel             # List a project's issues`,
}

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "Issue review commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8521", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.StatusEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.SwaggerEndpoint{}).Command(getServerURL))

	// Pipeline operations
	apiCmd.AddCommand((&endpoints.IngestEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.RunEndpoint{}).Command(getServerURL))

	// Project views
	apiCmd.AddCommand((&endpoints.ListDocumentsEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ListMetricsEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ListEventsEndpoint{}).Command(getServerURL))

	// Issues as subcommand group
	issuesCmd.AddCommand((&endpoints.ListIssuesEndpoint{}).Command(getServerURL))
	issuesCmd.AddCommand((&endpoints.UpdateIssueEndpoint{}).Command(getServerURL))

	apiCmd.AddCommand(issuesCmd)
	rootCmd.AddCommand(apiCmd)
}
