package permission

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestEngineDefaultsOnly(t *testing.T) {
	e, err := NewEngine(EngineConfig{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if e.Evaluate("read_file") != DecisionAllow {
		t.Errorf("Evaluate(read_file) = %q, want allow from bundled defaults", e.Evaluate("read_file"))
	}
	if e.Evaluate("force_push") != DecisionDeny {
		t.Errorf("Evaluate(force_push) = %q, want deny", e.Evaluate("force_push"))
	}
	if e.Evaluate("unlisted_action") != DecisionAsk {
		t.Errorf("Evaluate(unlisted_action) = %q, want ask", e.Evaluate("unlisted_action"))
	}
	if !e.CheckLimit(LimitMaxSubtaskDepth, 2) {
		t.Error("expected depth 2 under default ceiling 3")
	}
	if e.CheckLimit(LimitMaxSubtaskDepth, 3) {
		t.Error("expected depth 3 rejected at default ceiling 3")
	}
}

func TestEngineMissingLayersAreNotErrors(t *testing.T) {
	dir := t.TempDir()
	e, err := NewEngine(EngineConfig{
		WorkspacePolicyPath: filepath.Join(dir, "no-such-policy.md"),
		UserSettingsPath:    filepath.Join(dir, "no-such-settings.yaml"),
	})
	if err != nil {
		t.Fatalf("NewEngine with absent layers: %v", err)
	}
	if e.Evaluate("read_file") != DecisionAllow {
		t.Error("expected defaults to apply when override layers are absent")
	}
}

func TestEngineWorkspaceOverride(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.md")
	writeFile(t, policyPath, `---
auto_approve:
  - run_tests
limits:
  max_subtask_depth: 2
---
# Workspace policy

Only test runs are pre-approved here; everything else goes through review.
`)

	e, err := NewEngine(EngineConfig{WorkspacePolicyPath: policyPath})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if e.Evaluate("run_tests") != DecisionAllow {
		t.Errorf("Evaluate(run_tests) = %q, want allow", e.Evaluate("run_tests"))
	}
	// read_file fell out of auto_approve when the workspace replaced the list.
	if e.Evaluate("read_file") != DecisionAsk {
		t.Errorf("Evaluate(read_file) = %q, want ask", e.Evaluate("read_file"))
	}
	if got := e.Current().Limits.MaxSubtaskDepth; got != 2 {
		t.Errorf("MaxSubtaskDepth = %d, want 2", got)
	}
	// Untouched limit fields inherit defaults.
	if got := e.Current().Limits.MaxSubtasksPerWorker; got != 10 {
		t.Errorf("MaxSubtasksPerWorker = %d, want 10", got)
	}
}

func TestEngineUserSettingsOverride(t *testing.T) {
	dir := t.TempDir()
	settingsPath := filepath.Join(dir, "settings.yaml")
	writeFile(t, settingsPath, `permissions:
  auto_deny:
    - force_push
    - network_request
  limits:
    max_parallel_subtasks: 2
`)

	e, err := NewEngine(EngineConfig{UserSettingsPath: settingsPath})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	if e.Evaluate("network_request") != DecisionDeny {
		t.Errorf("Evaluate(network_request) = %q, want deny from user layer", e.Evaluate("network_request"))
	}
	if got := e.Current().Limits.MaxParallelSubtasks; got != 2 {
		t.Errorf("MaxParallelSubtasks = %d, want 2", got)
	}
}

func TestEngineReloadSwapsAtomicallyAndNotifies(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.md")
	writeFile(t, policyPath, `---
limits:
  max_subtask_depth: 4
---
`)

	e, err := NewEngine(EngineConfig{WorkspacePolicyPath: policyPath})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	before := e.Current()
	if before.Limits.MaxSubtaskDepth != 4 {
		t.Fatalf("MaxSubtaskDepth = %d, want 4", before.Limits.MaxSubtaskDepth)
	}

	var notified *Policy
	e.Subscribe(func(p *Policy) { notified = p })

	writeFile(t, policyPath, `---
limits:
  max_subtask_depth: 1
---
`)
	if err := e.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	after := e.Current()
	if after == before {
		t.Error("expected Reload to install a fresh policy object")
	}
	if after.Limits.MaxSubtaskDepth != 1 {
		t.Errorf("MaxSubtaskDepth = %d after reload, want 1", after.Limits.MaxSubtaskDepth)
	}
	if notified != after {
		t.Error("expected subscriber to receive the new policy")
	}
	// The old snapshot is unchanged for readers still holding it.
	if before.Limits.MaxSubtaskDepth != 4 {
		t.Error("expected previous policy snapshot to be immutable")
	}
}

func TestParseWorkspacePolicy(t *testing.T) {
	doc, err := ParseWorkspacePolicy([]byte(`---
ask_user:
  - run_migration
---
Prose body that the engine ignores.
`))
	if err != nil {
		t.Fatalf("ParseWorkspacePolicy: %v", err)
	}
	if len(doc.AskUser) != 1 || doc.AskUser[0] != "run_migration" {
		t.Errorf("AskUser = %v, want [run_migration]", doc.AskUser)
	}
}

func TestParseWorkspacePolicyNoFrontMatter(t *testing.T) {
	doc, err := ParseWorkspacePolicy([]byte("# Just prose\n\nNo header here.\n"))
	if err != nil {
		t.Fatalf("ParseWorkspacePolicy: %v", err)
	}
	if len(doc.AutoApprove)+len(doc.AskUser)+len(doc.AutoDeny) != 0 {
		t.Errorf("expected empty layer, got %+v", doc)
	}
}

func TestParseWorkspacePolicyUnterminated(t *testing.T) {
	_, err := ParseWorkspacePolicy([]byte("---\nauto_deny:\n  - force_push\n"))
	if err == nil {
		t.Error("expected error for unterminated front matter")
	}
}
