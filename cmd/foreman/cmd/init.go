package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var initForce bool

// scaffold mirrors the config tree with yaml tags so the generated file
// round-trips through viper's mapstructure keys.
type scaffold struct {
	Project struct {
		Name     string `yaml:"name"`
		SpecPath string `yaml:"spec_path"`
	} `yaml:"project"`
	Agents struct {
		DefaultTimeout  string  `yaml:"default_timeout"`
		SessionTTLHours float64 `yaml:"session_ttl_hours"`
	} `yaml:"agents"`
	Budget struct {
		ProjectUSD    float64 `yaml:"project_usd"`
		TaskUSD       float64 `yaml:"task_usd"`
		InvocationUSD float64 `yaml:"invocation_usd"`
	} `yaml:"budget"`
	State struct {
		Backend string `yaml:"backend"`
	} `yaml:"state"`
	Loop struct {
		MaxIterations    int    `yaml:"max_iterations"`
		IterationTimeout string `yaml:"iteration_timeout"`
		VerifyTimeout    string `yaml:"verify_timeout"`
	} `yaml:"loop"`
	Review struct {
		MaxIterations int     `yaml:"max_iterations"`
		ApprovalScore float64 `yaml:"approval_score"`
	} `yaml:"review"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter .foreman.yaml for the project",
	RunE: func(_ *cobra.Command, _ []string) error {
		dir, err := resolveProjectDir()
		if err != nil {
			return err
		}
		path := filepath.Join(dir, ".foreman.yaml")
		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		var s scaffold
		s.Project.Name = filepath.Base(dir)
		s.Project.SpecPath = "PRODUCT_SPEC.md"
		s.Agents.DefaultTimeout = "30m"
		s.Agents.SessionTTLHours = 24
		s.State.Backend = "json"
		s.Loop.MaxIterations = 5
		s.Loop.IterationTimeout = "30m"
		s.Loop.VerifyTimeout = "60s"
		s.Review.MaxIterations = 3
		s.Review.ApprovalScore = 7.0
		s.Log.Level = "info"
		s.Log.Format = "auto"

		data, err := yaml.Marshal(&s)
		if err != nil {
			return err
		}
		header := []byte("# foreman configuration. Values here are overridden by FOREMAN_*\n# environment variables (dots become underscores).\n")
		if err := os.WriteFile(path, append(header, data...), 0o644); err != nil {
			return err
		}
		fmt.Println("Wrote", path)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}
