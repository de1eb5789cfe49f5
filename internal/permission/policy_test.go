package permission

import "testing"

func intPtr(v int) *int { return &v }

func basePolicy() Document {
	return Document{
		AutoApprove: []string{"read_file", "run_tests"},
		AskUser:     []string{"delete_file", "push_remote"},
		AutoDeny:    []string{"force_push"},
		Limits: LimitsDocument{
			MaxSubtaskDepth:      intPtr(3),
			MaxSubtasksPerWorker: intPtr(10),
			MaxParallelSubtasks:  intPtr(5),
			SubtaskSpawnRate:     intPtr(20),
		},
	}
}

func TestMergeListReplaceSemantics(t *testing.T) {
	workspace := Document{
		AutoApprove: []string{"run_tests"}, // replaces, does not union
	}

	p := Merge(basePolicy(), workspace)

	if len(p.AutoApprove) != 1 || p.AutoApprove[0] != "run_tests" {
		t.Errorf("AutoApprove = %v, want [run_tests]", p.AutoApprove)
	}
	// read_file was in the default auto_approve but was replaced away.
	if p.Evaluate("read_file") != DecisionAsk {
		t.Errorf("Evaluate(read_file) = %q, want ask after replace", p.Evaluate("read_file"))
	}
	// Unspecified ask_user is inherited unchanged.
	if len(p.AskUser) != 2 {
		t.Errorf("AskUser = %v, want inherited 2-element list", p.AskUser)
	}
	if p.Evaluate("delete_file") != DecisionAsk {
		t.Errorf("Evaluate(delete_file) = %q, want ask", p.Evaluate("delete_file"))
	}
}

func TestMergeLimitsPerFieldOverride(t *testing.T) {
	workspace := Document{
		Limits: LimitsDocument{MaxSubtaskDepth: intPtr(2)},
	}

	p := Merge(basePolicy(), workspace)

	if p.Limits.MaxSubtaskDepth != 2 {
		t.Errorf("MaxSubtaskDepth = %d, want workspace value 2", p.Limits.MaxSubtaskDepth)
	}
	if p.Limits.MaxSubtasksPerWorker != 10 {
		t.Errorf("MaxSubtasksPerWorker = %d, want inherited 10", p.Limits.MaxSubtasksPerWorker)
	}
}

func TestMergeThreeLayers(t *testing.T) {
	workspace := Document{AutoDeny: []string{"force_push", "run_migration"}}
	user := Document{
		AutoApprove: []string{"read_file", "list_files", "search_code"},
		Limits:      LimitsDocument{MaxParallelSubtasks: intPtr(2)},
	}

	p := Merge(basePolicy(), workspace, user)

	if p.Evaluate("run_migration") != DecisionDeny {
		t.Errorf("Evaluate(run_migration) = %q, want deny from workspace", p.Evaluate("run_migration"))
	}
	if p.Evaluate("search_code") != DecisionAllow {
		t.Errorf("Evaluate(search_code) = %q, want allow from user layer", p.Evaluate("search_code"))
	}
	if p.Limits.MaxParallelSubtasks != 2 {
		t.Errorf("MaxParallelSubtasks = %d, want user value 2", p.Limits.MaxParallelSubtasks)
	}
	if p.Limits.MaxSubtaskDepth != 3 {
		t.Errorf("MaxSubtaskDepth = %d, want inherited 3", p.Limits.MaxSubtaskDepth)
	}
}

func TestEvaluateOrderAndDefault(t *testing.T) {
	// An action in both deny and approve lists: deny is consulted first.
	p := Merge(Document{
		AutoApprove: []string{"overlap"},
		AutoDeny:    []string{"overlap"},
	})
	if p.Evaluate("overlap") != DecisionDeny {
		t.Errorf("Evaluate(overlap) = %q, want deny", p.Evaluate("overlap"))
	}

	// Unknown actions fail toward human confirmation.
	if p.Evaluate("never_heard_of_it") != DecisionAsk {
		t.Errorf("Evaluate(unknown) = %q, want ask", p.Evaluate("never_heard_of_it"))
	}
}

func TestCheckLimitStrictInequality(t *testing.T) {
	p := Merge(Document{Limits: LimitsDocument{MaxSubtaskDepth: intPtr(2)}})

	tests := []struct {
		value int
		want  bool
	}{
		{0, true},
		{1, true},
		{2, false},
		{3, false},
	}
	for _, tt := range tests {
		if got := p.CheckLimit(LimitMaxSubtaskDepth, tt.value); got != tt.want {
			t.Errorf("CheckLimit(depth, %d) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestCheckLimitUnknownNameFailsClosed(t *testing.T) {
	p := Merge(basePolicy())
	if p.CheckLimit("max_total_cost", 0) {
		t.Error("expected unknown limit name to fail closed")
	}
}
