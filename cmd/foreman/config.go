package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify foreman configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/foreman/config.yaml
Project-specific overrides can be placed in .foreman.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	// Mask API key if set
	apiKeyDisplay := "(not set)"
	if cfg.Anthropic.APIKey != "" {
		apiKeyDisplay = "****"
	}

	fmt.Printf("anthropic.api_key: %s\n", apiKeyDisplay)
	fmt.Printf("anthropic.model: %s\n", cfg.Anthropic.Model)
	fmt.Printf("workers.max_concurrent: %d\n", cfg.Workers.MaxConcurrent)
	fmt.Printf("workers.default_agent_type: %s\n", cfg.Workers.DefaultAgentType)
	fmt.Printf("workers.subtask_timeout: %s\n", cfg.Workers.SubTaskTimeout)
	fmt.Printf("health.sweep_interval: %s\n", cfg.Health.SweepInterval)
	fmt.Printf("health.idle_timeout: %s\n", cfg.Health.IdleTimeout)
	fmt.Printf("health.stuck_timeout: %s\n", cfg.Health.StuckTimeout)
	fmt.Printf("health.loop_threshold: %d\n", cfg.Health.LoopThreshold)
	fmt.Printf("health.error_threshold: %d\n", cfg.Health.ErrorThreshold)
	fmt.Printf("health.progress_check_interval: %s\n", cfg.Health.ProgressCheckInterval)
	fmt.Printf("breaker.failure_threshold: %d\n", cfg.Breaker.FailureThreshold)
	fmt.Printf("breaker.reset_timeout: %s\n", cfg.Breaker.ResetTimeout)
	fmt.Printf("bus.buffer_size: %d\n", cfg.Bus.BufferSize)
	fmt.Printf("worktree.base_dir: %s\n", cfg.Worktree.BaseDir)
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s set to %s\n", key, value)
}

func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch key {
	case "anthropic.api_key":
		if cfg.Anthropic.APIKey == "" {
			return "(not set)", nil
		}
		return "****", nil
	case "anthropic.model":
		return cfg.Anthropic.Model, nil
	case "workers.max_concurrent":
		return strconv.Itoa(cfg.Workers.MaxConcurrent), nil
	case "workers.default_agent_type":
		return cfg.Workers.DefaultAgentType, nil
	case "workers.subtask_timeout":
		return cfg.Workers.SubTaskTimeout.String(), nil
	case "health.sweep_interval":
		return cfg.Health.SweepInterval.String(), nil
	case "health.idle_timeout":
		return cfg.Health.IdleTimeout.String(), nil
	case "health.stuck_timeout":
		return cfg.Health.StuckTimeout.String(), nil
	case "health.loop_threshold":
		return strconv.Itoa(cfg.Health.LoopThreshold), nil
	case "health.error_threshold":
		return strconv.Itoa(cfg.Health.ErrorThreshold), nil
	case "health.progress_check_interval":
		return cfg.Health.ProgressCheckInterval.String(), nil
	case "breaker.failure_threshold":
		return strconv.Itoa(cfg.Breaker.FailureThreshold), nil
	case "breaker.reset_timeout":
		return cfg.Breaker.ResetTimeout.String(), nil
	case "bus.buffer_size":
		return strconv.Itoa(cfg.Bus.BufferSize), nil
	case "worktree.base_dir":
		return cfg.Worktree.BaseDir, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

func setConfigValue(cfg *config.Config, key, value string) error {
	setInt := func(dst *int) error {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s requires an integer: %w", key, err)
		}
		*dst = n
		return nil
	}
	setDuration := func(dst *time.Duration) error {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s requires a duration like 30s or 5m: %w", key, err)
		}
		*dst = d
		return nil
	}

	switch key {
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
		return nil
	case "anthropic.model":
		cfg.Anthropic.Model = value
		return nil
	case "workers.max_concurrent":
		return setInt(&cfg.Workers.MaxConcurrent)
	case "workers.default_agent_type":
		cfg.Workers.DefaultAgentType = value
		return nil
	case "workers.subtask_timeout":
		return setDuration(&cfg.Workers.SubTaskTimeout)
	case "health.sweep_interval":
		return setDuration(&cfg.Health.SweepInterval)
	case "health.idle_timeout":
		return setDuration(&cfg.Health.IdleTimeout)
	case "health.stuck_timeout":
		return setDuration(&cfg.Health.StuckTimeout)
	case "health.loop_threshold":
		return setInt(&cfg.Health.LoopThreshold)
	case "health.error_threshold":
		return setInt(&cfg.Health.ErrorThreshold)
	case "health.progress_check_interval":
		return setDuration(&cfg.Health.ProgressCheckInterval)
	case "breaker.failure_threshold":
		return setInt(&cfg.Breaker.FailureThreshold)
	case "breaker.reset_timeout":
		return setDuration(&cfg.Breaker.ResetTimeout)
	case "bus.buffer_size":
		return setInt(&cfg.Bus.BufferSize)
	case "worktree.base_dir":
		cfg.Worktree.BaseDir = value
		return nil
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
}
