// Package config handles configuration loading for the orchestrator.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the orchestrator.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Health    HealthConfig    `mapstructure:"health"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Bus       BusConfig       `mapstructure:"bus"`
	Worktree  WorktreeConfig  `mapstructure:"worktree"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// WorkersConfig holds worker pool settings.
type WorkersConfig struct {
	// MaxConcurrent caps the number of workers executing at once.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// DefaultAgentType is used when a task does not name one.
	DefaultAgentType string `mapstructure:"default_agent_type"`
	// SubTaskTimeout bounds awaiting delegated sub-tasks.
	SubTaskTimeout time.Duration `mapstructure:"subtask_timeout"`
}

// HealthConfig holds liveness monitoring thresholds.
type HealthConfig struct {
	SweepInterval         time.Duration `mapstructure:"sweep_interval"`
	IdleTimeout           time.Duration `mapstructure:"idle_timeout"`
	StuckTimeout          time.Duration `mapstructure:"stuck_timeout"`
	LoopThreshold         int           `mapstructure:"loop_threshold"`
	ErrorThreshold        int           `mapstructure:"error_threshold"`
	ProgressCheckInterval time.Duration `mapstructure:"progress_check_interval"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

// BusConfig holds queue bus settings.
type BusConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// WorktreeConfig holds worktree placement settings.
type WorktreeConfig struct {
	// BaseDir is where worker checkouts are created. Empty means
	// ~/.cache/foreman/worktrees.
	BaseDir string `mapstructure:"base_dir"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables. Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.foreman.yaml in current directory or parent)
// 3. User config (~/.config/foreman/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("workers.max_concurrent", cfg.Workers.MaxConcurrent)
	v.Set("workers.default_agent_type", cfg.Workers.DefaultAgentType)
	v.Set("workers.subtask_timeout", cfg.Workers.SubTaskTimeout.String())
	v.Set("health.sweep_interval", cfg.Health.SweepInterval.String())
	v.Set("health.idle_timeout", cfg.Health.IdleTimeout.String())
	v.Set("health.stuck_timeout", cfg.Health.StuckTimeout.String())
	v.Set("health.loop_threshold", cfg.Health.LoopThreshold)
	v.Set("health.error_threshold", cfg.Health.ErrorThreshold)
	v.Set("health.progress_check_interval", cfg.Health.ProgressCheckInterval.String())
	v.Set("breaker.failure_threshold", cfg.Breaker.FailureThreshold)
	v.Set("breaker.reset_timeout", cfg.Breaker.ResetTimeout.String())
	v.Set("bus.buffer_size", cfg.Bus.BufferSize)
	v.Set("worktree.base_dir", cfg.Worktree.BaseDir)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetUserSettingsPath returns the path to the user settings file that
// carries permission overrides.
func GetUserSettingsPath() string {
	return filepath.Join(getUserConfigDir(), "settings.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// GetWorkspacePolicyPath returns the path to the workspace policy
// document relative to the project root.
func GetWorkspacePolicyPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".foreman", "policy.md")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")

	v.SetDefault("workers.max_concurrent", 3)
	v.SetDefault("workers.default_agent_type", "coder")
	v.SetDefault("workers.subtask_timeout", "5m")

	v.SetDefault("health.sweep_interval", "30s")
	v.SetDefault("health.idle_timeout", "30s")
	v.SetDefault("health.stuck_timeout", "5m")
	v.SetDefault("health.loop_threshold", 5)
	v.SetDefault("health.error_threshold", 5)
	v.SetDefault("health.progress_check_interval", "5m")

	v.SetDefault("breaker.failure_threshold", 3)
	v.SetDefault("breaker.reset_timeout", "30s")

	v.SetDefault("bus.buffer_size", 256)

	v.SetDefault("worktree.base_dir", "")
}

// getUserConfigDir returns the XDG config directory.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "foreman")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "foreman")
	}
	return filepath.Join(home, ".config", "foreman")
}

// findProjectConfig searches for .foreman.yaml in the current directory
// and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".foreman.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Workers: WorkersConfig{
			MaxConcurrent:    3,
			DefaultAgentType: "coder",
			SubTaskTimeout:   5 * time.Minute,
		},
		Health: HealthConfig{
			SweepInterval:         30 * time.Second,
			IdleTimeout:           30 * time.Second,
			StuckTimeout:          5 * time.Minute,
			LoopThreshold:         5,
			ErrorThreshold:        5,
			ProgressCheckInterval: 5 * time.Minute,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     30 * time.Second,
		},
		Bus: BusConfig{
			BufferSize: 256,
		},
	}
}
