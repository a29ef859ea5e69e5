package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/foreman/internal/runner"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the workflow graph with live node statuses as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		dir, err := resolveProjectDir()
		if err != nil {
			return err
		}
		def, err := runner.WorkflowDefinition(cmd.Context(), dir)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(def)
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
