package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/quill/internal/api"
	"github.com/jackzampolin/quill/version"
)

var (
	cfgFile      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "quill",
	Short: "Incremental manuscript analysis for working drafts",
	Long: `Quill watches a manuscript as it is written and keeps an updated picture
of what the story claims: who the characters are, what the text says
about them, and where drafts contradict themselves.

The pipeline includes:
  - Content-addressed chunking that survives edits
  - Entity and claim extraction (heuristic, optionally LLM-assisted)
  - Continuity conflict detection with quote-level evidence
  - Style analysis: repetition, tone drift, dialogue tics`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.quill/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
