package worktree

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
)

// fakeGit records calls and serves canned porcelain output.
type fakeGit struct {
	porcelain string

	added     []string // "path|branch"
	removed   []string
	unlocked  []string
	pruned    int
	removeErr error
}

func (f *fakeGit) CurrentBranch() (string, error)          { return "main", nil }
func (f *fakeGit) BranchExists(string) (bool, error)       { return false, nil }
func (f *fakeGit) DeleteBranch(string) error               { return nil }
func (f *fakeGit) Status() (string, error)                 { return "", nil }
func (f *fakeGit) HasChanges() (bool, error)               { return false, nil }
func (f *fakeGit) ChangedFiles(string) ([]string, error)   { return nil, nil }
func (f *fakeGit) Run(...string) (string, error)           { return "", nil }
func (f *fakeGit) WorktreeListPorcelain() (string, error)  { return f.porcelain, nil }
func (f *fakeGit) WorktreePruneExpireNow() error           { f.pruned++; return nil }
func (f *fakeGit) WorktreeUnlock(path string) error        { f.unlocked = append(f.unlocked, path); return nil }

func (f *fakeGit) WorktreeAddNewBranch(path, branch string) error {
	f.added = append(f.added, path+"|"+branch)
	return nil
}

func (f *fakeGit) WorktreeRemove(path string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, path)
	return nil
}

func (f *fakeGit) WorktreeRemoveOptionalForce(path string, force bool) error {
	f.removed = append(f.removed, path)
	return nil
}

func newTestManager(t *testing.T, g *fakeGit) *Manager {
	t.Helper()
	m, err := NewManagerWithRunner(t.TempDir(), "/repo", g)
	if err != nil {
		t.Fatalf("NewManagerWithRunner: %v", err)
	}
	return m
}

func TestCreateUsesWorkerBranch(t *testing.T) {
	g := &fakeGit{}
	m := newTestManager(t, g)

	wt, err := m.Create("abc123")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if wt.BranchName != "worker-abc123" {
		t.Errorf("BranchName = %q, want worker-abc123", wt.BranchName)
	}
	if wt.WorkerID != "abc123" {
		t.Errorf("WorkerID = %q, want abc123", wt.WorkerID)
	}
	if wt.Path != filepath.Join(m.BaseDir(), "worker-abc123") {
		t.Errorf("Path = %q, want under base dir", wt.Path)
	}
	if len(g.added) != 1 {
		t.Fatalf("expected one worktree add, got %v", g.added)
	}
}

func TestCreateGeneratesWorkerID(t *testing.T) {
	g := &fakeGit{}
	m := newTestManager(t, g)

	wt, err := m.Create("")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if wt.WorkerID == "" {
		t.Error("expected a generated worker id")
	}
	if !strings.HasPrefix(wt.BranchName, "worker-") {
		t.Errorf("BranchName = %q, want worker- prefix", wt.BranchName)
	}
}

func porcelainFor(entries ...[2]string) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "worktree %s\nHEAD 0000000000000000000000000000000000000000\n", e[0])
		if e[1] != "" {
			fmt.Fprintf(&b, "branch refs/heads/%s\n", e[1])
		}
		b.WriteString("\n")
	}
	return b.String()
}

func TestListParsesPorcelain(t *testing.T) {
	g := &fakeGit{porcelain: porcelainFor(
		[2]string{"/repo", "main"},
		[2]string{"/wt/worker-w1", "worker-w1"},
		[2]string{"/wt/worker-w2", "worker-w2"},
	)}
	m := newTestManager(t, g)

	list, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len(list) = %d, want 3", len(list))
	}
	if list[0].WorkerID != "" {
		t.Errorf("main checkout WorkerID = %q, want empty", list[0].WorkerID)
	}
	if list[1].WorkerID != "w1" || list[2].WorkerID != "w2" {
		t.Errorf("worker ids = %q, %q; want w1, w2", list[1].WorkerID, list[2].WorkerID)
	}
}

func TestListHandlesMissingTrailingBlankLine(t *testing.T) {
	porcelain := "worktree /wt/worker-w9\nHEAD 0000\nbranch refs/heads/worker-w9"
	g := &fakeGit{porcelain: porcelain}
	m := newTestManager(t, g)

	list, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].WorkerID != "w9" {
		t.Errorf("list = %+v, want single w9 entry", list)
	}
}

func TestListOrphansSkipsActiveAndForeign(t *testing.T) {
	g := &fakeGit{porcelain: porcelainFor(
		[2]string{"/repo", "main"},
		[2]string{"/wt/worker-live", "worker-live"},
		[2]string{"/wt/worker-dead", "worker-dead"},
		[2]string{"/wt/feature-x", "feature-x"},
	)}
	m := newTestManager(t, g)

	orphans, err := m.ListOrphans([]string{"live"})
	if err != nil {
		t.Fatalf("ListOrphans: %v", err)
	}
	if len(orphans) != 1 {
		t.Fatalf("len(orphans) = %d, want 1", len(orphans))
	}
	if orphans[0].WorkerID != "dead" {
		t.Errorf("orphan = %q, want dead", orphans[0].WorkerID)
	}
}

func TestCleanupOrphansRemovesAndPrunes(t *testing.T) {
	g := &fakeGit{porcelain: porcelainFor(
		[2]string{"/wt/worker-a", "worker-a"},
		[2]string{"/wt/worker-b", "worker-b"},
	)}
	m := newTestManager(t, g)

	var seen []string
	removed, err := m.CleanupOrphans(nil, func(path string) { seen = append(seen, path) })
	if err != nil {
		t.Fatalf("CleanupOrphans: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if len(seen) != 2 {
		t.Errorf("verbose callback saw %d paths, want 2", len(seen))
	}
	if len(g.unlocked) != 2 {
		t.Errorf("unlocked %d worktrees, want 2", len(g.unlocked))
	}
	if g.pruned == 0 {
		t.Error("expected a final prune")
	}
}

func TestCleanupOrphansFallsBackToDirectRemoval(t *testing.T) {
	g := &fakeGit{
		porcelain: porcelainFor([2]string{"/nonexistent/worker-gone", "worker-gone"}),
		removeErr: errors.New("not a working tree"),
	}
	m := newTestManager(t, g)

	// os.RemoveAll on a nonexistent path succeeds, so the orphan still
	// counts as removed.
	removed, err := m.CleanupOrphans(nil, nil)
	if err != nil {
		t.Fatalf("CleanupOrphans: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}
