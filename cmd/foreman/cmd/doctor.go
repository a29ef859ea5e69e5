package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/foreman/internal/adapters/cli"
	"github.com/hugo-lorenzo-mato/foreman/internal/adapters/git"
	"github.com/hugo-lorenzo-mato/foreman/internal/config"
	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check agent CLIs, configuration, and git setup",
	RunE: func(cmd *cobra.Command, _ []string) error {
		dir, err := resolveProjectDir()
		if err != nil {
			return err
		}
		logger := newLogger()

		cfg, err := config.Load(dir)
		if err != nil {
			fmt.Println("config:  FAIL -", err)
			os.Exit(1)
		}
		fmt.Println("config:  ok")

		failures := 0
		exes := map[core.CLIFamily]string{
			core.FamilyClaude: cfg.Agents.ClaudeExe,
			core.FamilyCursor: cfg.Agents.CursorExe,
			core.FamilyGemini: cfg.Agents.GeminiExe,
		}
		for _, family := range core.Families() {
			adapter, err := cli.NewAdapter(family, dir, cli.Options{
				Exe:    exes[family],
				Logger: logger,
			})
			if err != nil {
				fmt.Printf("%-8s FAIL - %v\n", family+":", err)
				failures++
				continue
			}
			if err := adapter.CheckAvailability(cmd.Context()); err != nil {
				fmt.Printf("%-8s missing - %v\n", family+":", err)
				failures++
				continue
			}
			fmt.Printf("%-8s ok\n", family+":")
		}

		if git.NewClient(dir, logger).IsRepository(cmd.Context()) {
			fmt.Println("git:     ok (repository)")
		} else {
			fmt.Println("git:     not a repository (worktree isolation disabled)")
		}

		spec := cfg.Project.SpecPath
		if _, err := os.Stat(specFileIn(dir, spec)); err != nil {
			fmt.Printf("spec:    missing (%s)\n", spec)
		} else {
			fmt.Printf("spec:    ok (%s)\n", spec)
		}

		if failures == len(core.Families()) {
			return fmt.Errorf("no agent CLI available: at least one of %v is required", core.Families())
		}
		return nil
	},
}

func specFileIn(dir, spec string) string {
	if spec == "" {
		spec = "PRODUCT_SPEC.md"
	}
	if filepath.IsAbs(spec) {
		return spec
	}
	return filepath.Join(dir, spec)
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
