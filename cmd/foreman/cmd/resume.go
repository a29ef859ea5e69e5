package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/runner"
)

var (
	resumeAction     string
	resumeFeedback   string
	resumeReason     string
	resumeAutonomous bool
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Answer a pending interrupt and continue the workflow",
	RunE: func(cmd *cobra.Command, _ []string) error {
		dir, err := resolveProjectDir()
		if err != nil {
			return err
		}

		res, err := runner.ResumeWorkflow(cmd.Context(), dir, &core.HumanResponse{
			Action:   resumeAction,
			Feedback: resumeFeedback,
			Reason:   resumeReason,
		}, resumeAutonomous, nil)
		if err != nil {
			return err
		}

		printResult(res)
		if !res.Success && !res.Paused {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	resumeCmd.Flags().StringVar(&resumeAction, "action", "continue",
		"response action (retry, skip, continue, answer_clarification, abort, approve, reject, request_changes)")
	resumeCmd.Flags().StringVar(&resumeFeedback, "feedback", "", "free-form feedback for the agents")
	resumeCmd.Flags().StringVar(&resumeReason, "reason", "", "reason for the decision")
	resumeCmd.Flags().BoolVar(&resumeAutonomous, "afk", false, "autonomous mode: no approval interrupts")
	rootCmd.AddCommand(resumeCmd)
}
