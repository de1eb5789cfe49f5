// Package worktree manages the isolated git checkouts workers execute in.
package worktree

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/foreman/internal/git"
)

// branchPrefix marks branches whose worktrees this manager owns.
const branchPrefix = "worker-"

// Worktree is one isolated checkout assigned to a worker.
type Worktree struct {
	Path       string    // Absolute path to the worktree directory
	BranchName string    // Branch backing this worktree
	WorkerID   string    // Worker that owns this worktree
	CreatedAt  time.Time // When the worktree was created
}

// Provider defines the interface for worktree management, allowing
// mocking in tests.
type Provider interface {
	// Create creates a new worktree for the given worker.
	Create(workerID string) (*Worktree, error)
	// Remove removes a worktree at the given path.
	Remove(path string, force bool) error
	// List returns all worktrees known to the repository.
	List() ([]*Worktree, error)
	// Prune removes references to worktrees that no longer exist on disk.
	Prune() error
	// ListOrphans returns worker worktrees with no matching active session.
	ListOrphans(activeSessions []string) ([]*Worktree, error)
	// CleanupOrphans removes orphaned worktrees and returns the count removed.
	CleanupOrphans(activeSessions []string, verbose func(path string)) (int, error)
	// BaseDir returns the base directory where worktrees are created.
	BaseDir() string
	// RepoPath returns the path to the main git repository.
	RepoPath() string
}

// Verify Manager implements Provider at compile time.
var _ Provider = (*Manager)(nil)

// Manager handles git worktree operations for worker isolation.
type Manager struct {
	baseDir  string // Base directory for worktrees (e.g., ~/.cache/foreman/worktrees)
	repoPath string // Path to the main git repository
	git      git.Runner
	mu       sync.Mutex
}

// NewManager creates a worktree manager rooted at baseDir. An empty
// baseDir defaults to ~/.cache/foreman/worktrees.
func NewManager(baseDir, repoPath string) (*Manager, error) {
	return NewManagerWithRunner(baseDir, repoPath, git.NewRunner(repoPath))
}

// NewManagerWithRunner creates a manager with a custom git runner (for testing).
func NewManagerWithRunner(baseDir, repoPath string, runner git.Runner) (*Manager, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".cache", "foreman", "worktrees")
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create worktree base directory: %w", err)
	}

	return &Manager{
		baseDir:  baseDir,
		repoPath: repoPath,
		git:      runner,
	}, nil
}

// Create creates a new worktree and backing branch for the given worker.
func (m *Manager) Create(workerID string) (*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if workerID == "" {
		workerID = uuid.New().String()
	}

	branchName := branchPrefix + workerID
	worktreePath := filepath.Join(m.baseDir, branchName)

	if err := m.git.WorktreeAddNewBranch(worktreePath, branchName); err != nil {
		return nil, fmt.Errorf("create worktree: %w", err)
	}

	return &Worktree{
		Path:       worktreePath,
		BranchName: branchName,
		WorkerID:   workerID,
		CreatedAt:  time.Now(),
	}, nil
}

// Remove removes a worktree at the given path. If force is true the
// worktree is removed even with uncommitted changes.
func (m *Manager) Remove(path string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.git.WorktreeRemoveOptionalForce(path, force); err != nil {
		return fmt.Errorf("remove worktree: %w", err)
	}
	return nil
}

// List returns all worktrees known to the repository.
func (m *Manager) List() ([]*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	output, err := m.git.WorktreeListPorcelain()
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	return parseWorktreeList(output)
}

// Prune removes references to worktrees that no longer exist on disk.
func (m *Manager) Prune() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.git.WorktreePruneExpireNow(); err != nil {
		return fmt.Errorf("prune worktrees: %w", err)
	}
	return nil
}

// ListOrphans returns worker-owned worktrees whose worker has no entry
// in activeSessions. The main repository checkout is never an orphan.
func (m *Manager) ListOrphans(activeSessions []string) ([]*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	output, err := m.git.WorktreeListPorcelain()
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	worktrees, err := parseWorktreeList(output)
	if err != nil {
		return nil, err
	}

	activeSet := make(map[string]bool)
	for _, sessionID := range activeSessions {
		activeSet[sessionID] = true
	}

	var orphans []*Worktree
	for _, wt := range worktrees {
		if wt.WorkerID == "" {
			continue // not one of ours
		}
		if wt.Path == m.repoPath {
			continue
		}
		if activeSet[wt.WorkerID] {
			continue
		}
		orphans = append(orphans, wt)
	}

	return orphans, nil
}

// CleanupOrphans removes orphaned worktrees and returns the count of
// removed worktrees. It unlocks before removing, falls back to direct
// directory removal when git refuses, and prunes dangling references
// afterwards. This is the crash-recovery path run at startup.
func (m *Manager) CleanupOrphans(activeSessions []string, verbose func(path string)) (int, error) {
	orphans, err := m.ListOrphans(activeSessions)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, wt := range orphans {
		_ = m.git.WorktreeUnlock(wt.Path) // may not be locked

		if err := m.git.WorktreeRemove(wt.Path); err != nil {
			if err := os.RemoveAll(wt.Path); err != nil {
				continue // skip what we cannot remove
			}
		}

		if verbose != nil {
			verbose(wt.Path)
		}
		removed++
	}

	_ = m.git.WorktreePruneExpireNow() // worktrees already removed

	return removed, nil
}

// BaseDir returns the base directory where worktrees are created.
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// RepoPath returns the path to the main git repository.
func (m *Manager) RepoPath() string {
	return m.repoPath
}

// parseWorktreeList parses the output of 'git worktree list --porcelain'.
func parseWorktreeList(output string) ([]*Worktree, error) {
	var worktrees []*Worktree
	var current *Worktree

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if current != nil {
				worktrees = append(worktrees, current)
				current = nil
			}
			continue
		}

		if strings.HasPrefix(line, "worktree ") {
			current = &Worktree{
				Path: strings.TrimPrefix(line, "worktree "),
			}
		} else if strings.HasPrefix(line, "branch ") && current != nil {
			// Format: branch refs/heads/<name>
			branchRef := strings.TrimPrefix(line, "branch ")
			current.BranchName = strings.TrimPrefix(branchRef, "refs/heads/")

			if strings.HasPrefix(current.BranchName, branchPrefix) {
				current.WorkerID = strings.TrimPrefix(current.BranchName, branchPrefix)
			}
		}
	}

	// The last block may not be followed by a blank line.
	if current != nil {
		worktrees = append(worktrees, current)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse worktree list: %w", err)
	}

	return worktrees, nil
}
