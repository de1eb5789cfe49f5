// Package git provides an interface for the git operations the
// orchestrator needs to isolate workers in worktrees.
package git

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// CurrentBranch returns the name of the current branch.
	CurrentBranch() (string, error)
	// BranchExists returns true if the branch exists.
	BranchExists(name string) (bool, error)
	// DeleteBranch deletes the specified branch (force delete).
	DeleteBranch(name string) error
}

// StatusOperations defines the interface for git status and diff operations.
type StatusOperations interface {
	// Status returns the output of git status --porcelain.
	Status() (string, error)
	// HasChanges returns true if there are uncommitted changes.
	HasChanges() (bool, error)
	// ChangedFiles returns a list of files changed since the base ref.
	ChangedFiles(base string) ([]string, error)
}

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// WorktreeAddNewBranch creates a new worktree with a new branch (git worktree add -b).
	WorktreeAddNewBranch(path, branch string) error
	// WorktreeRemove force-removes the worktree at the given path.
	WorktreeRemove(path string) error
	// WorktreeRemoveOptionalForce removes the worktree, optionally with force.
	WorktreeRemoveOptionalForce(path string, force bool) error
	// WorktreeUnlock unlocks a locked worktree.
	WorktreeUnlock(path string) error
	// WorktreeListPorcelain returns the raw porcelain output for detailed parsing.
	WorktreeListPorcelain() (string, error)
	// WorktreePruneExpireNow prunes stale worktree entries with --expire now.
	WorktreePruneExpireNow() error
}

// Runner defines the complete interface for git operations.
// Consumers should prefer the focused interfaces when possible.
type Runner interface {
	BranchOperations
	StatusOperations
	WorktreeOperations
	// Run executes an arbitrary git command with the given arguments.
	Run(args ...string) (string, error)
}
