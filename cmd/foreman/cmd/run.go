package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/runner"
)

var (
	runStartPhase     int
	runEndPhase       int
	runSkipValidation bool
	runAutonomous     bool
	runProjectBudget  float64
	runTaskBudget     float64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start or continue the workflow",
	Long: `Start the workflow from the configured phase, or continue from the
latest checkpoint. Exits 0 on success, 1 on prerequisite or workflow
failure. A paused workflow (pending interrupt) also exits 1; answer it
with 'foreman resume'.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		dir, err := resolveProjectDir()
		if err != nil {
			return err
		}

		res, err := runner.RunWorkflow(cmd.Context(), dir, core.WorkflowConfig{
			StartPhase:       core.Phase(runStartPhase),
			EndPhase:         core.Phase(runEndPhase),
			SkipValidation:   runSkipValidation,
			ProjectBudgetUSD: runProjectBudget,
			TaskBudgetUSD:    runTaskBudget,
		}, runAutonomous, nil)
		if err != nil {
			return err
		}

		printResult(res)
		if !res.Success {
			os.Exit(1)
		}
		return nil
	},
}

func printResult(res *runner.RunResult) {
	switch {
	case res.Paused:
		fmt.Println("Workflow paused:", res.Message)
		if res.Pending != nil {
			fmt.Printf("  interrupt: %s (phase %d)\n", res.Pending.Type, res.Pending.Phase)
			if res.Pending.Issue != "" {
				fmt.Println("  issue:", res.Pending.Issue)
			}
			for _, a := range res.Pending.SuggestedActions {
				fmt.Println("  option:", a)
			}
		}
	case res.Success:
		fmt.Printf("Workflow completed (phase %d)\n", res.Phase)
	default:
		fmt.Printf("Workflow failed (phase %d)\n", res.Phase)
		for _, e := range res.Errors {
			fmt.Println("  error:", e)
		}
		if res.Error != "" {
			fmt.Println("  error:", res.Error)
		}
	}
}

func init() {
	runCmd.Flags().IntVar(&runStartPhase, "start-phase", 0, "first phase to run (0-5)")
	runCmd.Flags().IntVar(&runEndPhase, "end-phase", 5, "last phase to run (0-5)")
	runCmd.Flags().BoolVar(&runSkipValidation, "skip-validation", false, "skip the plan validation phase")
	runCmd.Flags().BoolVar(&runAutonomous, "afk", false, "autonomous mode: no approval interrupts")
	runCmd.Flags().Float64Var(&runProjectBudget, "project-budget", 0, "project spend cap in USD (0 = unbounded)")
	runCmd.Flags().Float64Var(&runTaskBudget, "task-budget", 0, "per-task spend cap in USD (0 = unbounded)")
	rootCmd.AddCommand(runCmd)
}
