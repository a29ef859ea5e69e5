// Package config loads orchestrator settings from .foreman.yaml, the
// environment (FOREMAN_ prefix), and defaults, in that order of
// increasing precedence for env over file.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

// Config is the full runtime configuration tree.
type Config struct {
	Project   ProjectConfig   `mapstructure:"project"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	State     StateConfig     `mapstructure:"state"`
	Loop      LoopConfig      `mapstructure:"loop"`
	Review    ReviewConfig    `mapstructure:"review"`
	Log       LogConfig       `mapstructure:"log"`
	Preflight PreflightConfig `mapstructure:"preflight"`
}

// ProjectConfig names the project and its spec.
type ProjectConfig struct {
	Name     string `mapstructure:"name"`
	SpecPath string `mapstructure:"spec_path"`
}

// AgentsConfig tunes the CLI adapters.
type AgentsConfig struct {
	ClaudeExe      string        `mapstructure:"claude_exe"`
	CursorExe      string        `mapstructure:"cursor_exe"`
	GeminiExe      string        `mapstructure:"gemini_exe"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	SessionTTL     float64       `mapstructure:"session_ttl_hours"`
}

// BudgetConfig sets the three spending scopes, in USD. Zero disables a
// scope.
type BudgetConfig struct {
	ProjectUSD    float64 `mapstructure:"project_usd"`
	TaskUSD       float64 `mapstructure:"task_usd"`
	InvocationUSD float64 `mapstructure:"invocation_usd"`
}

// StateConfig selects checkpoint persistence.
type StateConfig struct {
	Backend string `mapstructure:"backend"` // json or sqlite
}

// LoopConfig tunes the unified loop runner.
type LoopConfig struct {
	MaxIterations int           `mapstructure:"max_iterations"`
	IterTimeout   time.Duration `mapstructure:"iteration_timeout"`
	VerifyTimeout time.Duration `mapstructure:"verify_timeout"`
}

// ReviewConfig tunes the review cycle.
type ReviewConfig struct {
	MaxIterations int     `mapstructure:"max_iterations"`
	ApprovalScore float64 `mapstructure:"approval_score"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PreflightConfig sets resource floors checked before agent spawns.
type PreflightConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	MinFreeMemoryMB uint64 `mapstructure:"min_free_memory_mb"`
	MinFreeDiskMB   uint64 `mapstructure:"min_free_disk_mb"`
}

// Load reads configuration for a project directory.
func Load(projectDir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(".foreman")
	v.SetConfigType("yaml")
	v.AddConfigPath(projectDir)
	v.SetEnvPrefix("FOREMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, core.ErrValidation("CONFIG_INVALID", "read config file").WithCause(err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, core.ErrValidation("CONFIG_INVALID", "decode config").WithCause(err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("project.spec_path", "PRODUCT_SPEC.md")

	v.SetDefault("agents.default_timeout", "30m")
	v.SetDefault("agents.session_ttl_hours", 24.0)

	v.SetDefault("budget.project_usd", 0.0)
	v.SetDefault("budget.task_usd", 0.0)
	v.SetDefault("budget.invocation_usd", 0.0)

	v.SetDefault("state.backend", "json")

	v.SetDefault("loop.max_iterations", 5)
	v.SetDefault("loop.iteration_timeout", "30m")
	v.SetDefault("loop.verify_timeout", "60s")

	v.SetDefault("review.max_iterations", 3)
	v.SetDefault("review.approval_score", 7.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")

	v.SetDefault("preflight.enabled", true)
	v.SetDefault("preflight.min_free_memory_mb", 512)
	v.SetDefault("preflight.min_free_disk_mb", 1024)
}
