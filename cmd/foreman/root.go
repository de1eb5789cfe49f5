package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Agent worker orchestration engine",
	Long: `Foreman coordinates a DAG of tasks across a pool of ephemeral agent
workers, each isolated in its own git worktree.

Workers report through a message queue; the coordinator resolves
permission requests against a layered policy, routes questions through
model judgment or your inbox, monitors worker health, and persists
plan state so runs survive inspection across processes.

Core capabilities:
- Executes task plans as a dependency graph with parallel workers
- Auto-approves or auto-denies actions by policy, asks you otherwise
- Lets workers delegate bounded sub-task batches
- Detects stuck, looping, and error-prone workers
- Records every inbox decision for audit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(inboxCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
}

// checkGitInstalled verifies the git binary is available.
func checkGitInstalled() error {
	if _, err := exec.LookPath("git"); err != nil {
		return fmt.Errorf("git not found in PATH")
	}
	return nil
}

// findGitRoot walks up from startDir to the enclosing git repository.
func findGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		gitDir := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a git repository")
		}
		dir = parent
	}
}
