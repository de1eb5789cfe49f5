package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/config"
	"github.com/ShayCichocki/foreman/internal/worktree"
)

var (
	cleanupForce   bool
	cleanupVerbose bool
	cleanupDryRun  bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned worker worktrees",
	Long: `Clean up orphaned git worktrees left by crashed or interrupted runs.

This command:
  - Lists all foreman worker worktrees
  - Identifies orphans (no persisted worker session)
  - Removes orphaned worktrees and their branches
  - Runs git worktree prune

Examples:
  foreman cleanup              # Interactive cleanup with confirmation
  foreman cleanup --force      # Skip confirmation prompt
  foreman cleanup --dry-run    # Show what would be removed
  foreman cleanup -v           # Verbose output showing each removal`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVarP(&cleanupVerbose, "verbose", "v", false, "Show each worktree as it's removed")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without removing")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	repoPath, err := findGitRoot(cwd)
	if err != nil {
		return fmt.Errorf("find git repository: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	manager, err := worktree.NewManager(cfg.Worktree.BaseDir, repoPath)
	if err != nil {
		return fmt.Errorf("create worktree manager: %w", err)
	}

	activeWorkers, err := activeWorkerIDs()
	if err != nil {
		if cleanupVerbose {
			fmt.Printf("Warning: could not query active workers: %v\n", err)
			fmt.Println("Proceeding with empty active worker list")
		}
		activeWorkers = []string{}
	}

	orphans, err := manager.ListOrphans(activeWorkers)
	if err != nil {
		return fmt.Errorf("list orphaned worktrees: %w", err)
	}

	if len(orphans) == 0 {
		fmt.Println("No orphaned worktrees found.")
		return nil
	}

	fmt.Printf("Found %d orphaned worktree(s):\n", len(orphans))
	for _, wt := range orphans {
		fmt.Printf("  - %s (branch: %s)\n", wt.Path, wt.BranchName)
	}
	fmt.Println()

	if cleanupDryRun {
		fmt.Println("Dry run mode - no worktrees were removed.")
		return nil
	}

	if !cleanupForce {
		fmt.Print("Remove these worktrees? [y/N] ")
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}

		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Cleanup cancelled.")
			return nil
		}
	}

	var verboseCallback func(path string)
	if cleanupVerbose {
		verboseCallback = func(path string) {
			fmt.Printf("Removed: %s\n", path)
		}
	}

	removed, err := manager.CleanupOrphans(activeWorkers, verboseCallback)
	if err != nil {
		return fmt.Errorf("cleanup orphaned worktrees: %w", err)
	}

	fmt.Printf("Successfully removed %d orphaned worktree(s).\n", removed)
	return nil
}

// activeWorkerIDs reads persisted worker sessions from the state
// database. No database means no active workers.
func activeWorkerIDs() ([]string, error) {
	db, err := openStateDB()
	if err != nil {
		return nil, err
	}
	if db == nil {
		return []string{}, nil
	}
	defer db.Close()

	return db.ActiveWorkerIDs()
}
