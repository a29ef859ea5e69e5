package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/foreman/internal/logging"
)

var (
	projectDir string
	logLevel   string
	logFormat  string

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string
)

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Phased multi-agent workflow orchestrator for CLI coding agents",
	Long: `foreman drives external AI coding agents (claude, cursor, gemini
families) through a phased, checkpointed workflow: prerequisites,
planning, validation, implementation, verification, completion. Every
working task is reviewed by at least two independent reviewers before
it counts as done, and the whole run can be paused, resumed, rolled
back, and resumed again.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// SetVersion injects build-time version info.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "p", ".",
		"project directory to operate on")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")
}

func newLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logLevel, Format: logFormat})
}

func resolveProjectDir() (string, error) {
	abs, err := os.Getwd()
	if projectDir != "." && projectDir != "" {
		return projectDir, nil
	}
	if err != nil {
		return "", err
	}
	return abs, nil
}
