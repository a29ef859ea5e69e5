package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/runner"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show workflow progress for the project",
	RunE: func(cmd *cobra.Command, _ []string) error {
		dir, err := resolveProjectDir()
		if err != nil {
			return err
		}

		st, err := runner.WorkflowStatus(cmd.Context(), dir)
		if err != nil {
			return err
		}

		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}

		fmt.Printf("Project: %s\n", st.Project)
		fmt.Printf("Status:  %s\n", st.Status)
		if st.Status != "not_started" {
			fmt.Printf("Phase:   %d\n", st.CurrentPhase)
		}

		phases := make([]core.Phase, 0, len(st.PhaseStatus))
		for p := range st.PhaseStatus {
			phases = append(phases, p)
		}
		sort.Slice(phases, func(i, j int) bool { return phases[i] < phases[j] })
		for _, p := range phases {
			fmt.Printf("  phase %d: %s\n", p, st.PhaseStatus[p])
		}

		if st.Pending != nil {
			fmt.Printf("Pending interrupt: %s\n", st.Pending.Type)
			if st.Pending.Issue != "" {
				fmt.Println("  issue:", st.Pending.Issue)
			}
			for _, a := range st.Pending.SuggestedActions {
				fmt.Println("  option:", a)
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit machine-readable JSON")
	rootCmd.AddCommand(statusCmd)
}
