package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/runner"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <phase>",
	Short: "Reset the repository and workflow state to before a phase",
	Long: `Reset the git working tree to the commit recorded at the start of
the given phase and prune checkpoints from that phase on. The next
'foreman run' re-executes the phase from scratch.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		phase, err := parsePhaseArg(args[0])
		if err != nil {
			return err
		}
		dir, err := resolveProjectDir()
		if err != nil {
			return err
		}
		if err := runner.RollbackToPhase(cmd.Context(), dir, phase); err != nil {
			return err
		}
		fmt.Printf("Rolled back to before phase %d\n", phase)
		return nil
	},
}

func parsePhaseArg(arg string) (core.Phase, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 || n > 5 {
		return 0, fmt.Errorf("invalid phase %q: expected an integer 0-5", arg)
	}
	return core.Phase(n), nil
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
}
