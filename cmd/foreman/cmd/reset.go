package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/runner"
)

var resetCmd = &cobra.Command{
	Use:   "reset [phase]",
	Short: "Clear workflow progress from a phase on, or everything",
	Long: `Without arguments, discard all checkpoints so the next run starts
fresh. With a phase number, keep progress before that phase and discard
the rest. The git working tree is untouched; use 'foreman rollback' to
also reset the repository.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := resolveProjectDir()
		if err != nil {
			return err
		}

		var phase *core.Phase
		if len(args) == 1 {
			p, err := parsePhaseArg(args[0])
			if err != nil {
				return err
			}
			phase = &p
		}

		if err := runner.Reset(cmd.Context(), dir, phase); err != nil {
			return err
		}
		if phase != nil {
			fmt.Printf("Workflow reset from phase %d\n", *phase)
		} else {
			fmt.Println("Workflow reset")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
}
