package subtask

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/foreman/internal/permission"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// fakeExecutor returns canned output or errors per prompt.
type fakeExecutor struct {
	mu      sync.Mutex
	outputs map[string]string // prompt -> output
	errs    map[string]error  // prompt -> error
	delay   time.Duration
	calls   int
}

func (f *fakeExecutor) Execute(ctx context.Context, st *models.SubTask) (string, error) {
	f.mu.Lock()
	f.calls++
	out := f.outputs[st.Prompt]
	err := f.errs[st.Prompt]
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return out, err
}

func testEngine(t *testing.T) *permission.Engine {
	t.Helper()
	e, err := permission.NewEngine(permission.EngineConfig{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func newTestManager(t *testing.T, exec Executor) (*Manager, *ResultAggregator) {
	t.Helper()
	agg := NewResultAggregator()
	m := NewManager(testEngine(t), exec, agg)
	m.pollInterval = 5 * time.Millisecond
	return m, agg
}

func parentAt(depth int) *ParentContext {
	return &ParentContext{
		WorkerID:     "w1",
		TaskID:       "t1",
		PlanID:       "plan-1",
		WorktreePath: "/wt/worker-w1",
		Depth:        depth,
	}
}

func TestCreateSubTaskRejectsAtMaxDepth(t *testing.T) {
	m, _ := newTestManager(t, &fakeExecutor{})

	// Bundled default max_subtask_depth is 3: depths 0..2 pass, 3 fails.
	if _, err := m.CreateSubTask(parentAt(2), Spec{Prompt: "ok"}); err != nil {
		t.Fatalf("depth 2 rejected: %v", err)
	}

	_, err := m.CreateSubTask(parentAt(3), Spec{Prompt: "too deep"})
	if err == nil {
		t.Fatal("expected rejection at max depth")
	}
	if !strings.Contains(err.Error(), "complete this task directly") {
		t.Errorf("error = %q, want delegation-stop guidance", err)
	}
	if m.RunningCount() != 0 {
		t.Error("rejected spawn must not create a record")
	}
}

func TestCreateSubTaskSetsChildDepth(t *testing.T) {
	m, _ := newTestManager(t, &fakeExecutor{})

	st, err := m.CreateSubTask(parentAt(1), Spec{Prompt: "child"})
	if err != nil {
		t.Fatalf("CreateSubTask: %v", err)
	}
	if st.Depth != 2 {
		t.Errorf("Depth = %d, want parent+1 = 2", st.Depth)
	}
	if st.Status != models.SubTaskPending {
		t.Errorf("Status = %q, want pending", st.Status)
	}
	if st.PlanID != "plan-1" || st.ParentWorkerID != "w1" {
		t.Errorf("parent context not carried: %+v", st)
	}
}

func TestFileConflictDetection(t *testing.T) {
	m, _ := newTestManager(t, &fakeExecutor{delay: 100 * time.Millisecond})

	st, err := m.CreateSubTask(parentAt(0), Spec{
		Prompt:      "edit auth",
		TargetFiles: []string{"src/Auth/Login.go"},
	})
	if err != nil {
		t.Fatalf("CreateSubTask: %v", err)
	}

	done := make(chan struct{})
	go func() {
		m.ExecuteSubTask(context.Background(), st)
		close(done)
	}()

	// Wait until the sub-task enters the running set.
	deadline := time.Now().Add(time.Second)
	for !m.IsRunning(st.ID) {
		if time.Now().After(deadline) {
			t.Fatal("sub-task never started running")
		}
		time.Sleep(time.Millisecond)
	}

	// Same file, different case and separators: still a conflict.
	conflicts := m.CheckFileConflicts([]string{"src\\auth\\login.go"})
	if len(conflicts) != 1 || conflicts[0] != st.ID {
		t.Errorf("conflicts = %v, want [%s]", conflicts, st.ID)
	}

	// Unrelated file: no conflict.
	if got := m.CheckFileConflicts([]string{"src/db/conn.go"}); len(got) != 0 {
		t.Errorf("conflicts = %v, want none", got)
	}

	// Creation against a conflicting running task is rejected.
	if _, err := m.CreateSubTask(parentAt(0), Spec{
		Prompt:      "also edit auth",
		TargetFiles: []string{"SRC/AUTH/LOGIN.GO"},
	}); err == nil {
		t.Error("expected conflict rejection")
	}

	<-done

	// After completion the file is free again.
	if got := m.CheckFileConflicts([]string{"src/auth/login.go"}); len(got) != 0 {
		t.Errorf("conflicts after completion = %v, want none", got)
	}
}

func TestSpawnParallelRejectsIntraBatchConflicts(t *testing.T) {
	m, _ := newTestManager(t, &fakeExecutor{})

	_, err := m.SpawnParallel(context.Background(), parentAt(0), []Spec{
		{Prompt: "a", TargetFiles: []string{"pkg/server.go"}},
		{Prompt: "b", TargetFiles: []string{"PKG/Server.go"}},
	})
	if err == nil {
		t.Fatal("expected intra-batch conflict rejection")
	}
	if !strings.Contains(err.Error(), "within the batch") {
		t.Errorf("error = %q", err)
	}
	if m.RunningCount() != 0 {
		t.Error("rejected batch must not touch the running set")
	}
}

func TestSpawnParallelCollectsAllResults(t *testing.T) {
	exec := &fakeExecutor{
		outputs: map[string]string{"good": "done"},
		errs:    map[string]error{"bad": errors.New("boom")},
	}
	m, _ := newTestManager(t, exec)

	results, err := m.SpawnParallel(context.Background(), parentAt(0), []Spec{
		{Prompt: "good"},
		{Prompt: "bad"},
	})
	if err != nil {
		t.Fatalf("SpawnParallel: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].Status != models.SubTaskSuccess || results[0].Output != "done" {
		t.Errorf("results[0] = %+v, want success", results[0])
	}
	if results[1].Status != models.SubTaskFailed || results[1].Error != "boom" {
		t.Errorf("results[1] = %+v, want failed boom", results[1])
	}
}

func TestExecuteSubTaskRecordsTimeoutDistinctly(t *testing.T) {
	exec := &fakeExecutor{delay: time.Second}
	m, agg := newTestManager(t, exec)

	st, err := m.CreateSubTask(parentAt(0), Spec{Prompt: "slow"})
	if err != nil {
		t.Fatalf("CreateSubTask: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	result := m.ExecuteSubTask(ctx, st)

	if result.Status != models.SubTaskTimeout {
		t.Errorf("Status = %q, want timeout", result.Status)
	}
	if cached := agg.Get(st.ID); cached == nil || cached.Status != models.SubTaskTimeout {
		t.Error("timeout result not recorded with aggregator")
	}
}

func TestSpawnBreakerOpensAfterRepeatedFailures(t *testing.T) {
	exec := &fakeExecutor{errs: map[string]error{"fail": errors.New("boom")}}
	m, _ := newTestManager(t, exec)

	parent := parentAt(0)
	// Default breaker threshold is 3 consecutive failures.
	for i := 0; i < 3; i++ {
		if _, err := m.Spawn(context.Background(), parent, Spec{Prompt: "fail"}); err != nil {
			t.Fatalf("spawn %d rejected early: %v", i, err)
		}
	}

	_, err := m.Spawn(context.Background(), parent, Spec{Prompt: "fail"})
	if err == nil {
		t.Fatal("expected open circuit to refuse the spawn")
	}
	if !strings.Contains(err.Error(), "retry shortly") {
		t.Errorf("error = %q, want try-later guidance", err)
	}
}

func TestSpawnRateLimit(t *testing.T) {
	m, _ := newTestManager(t, &fakeExecutor{})

	// Pin time so the rate window never slides during the test.
	now := time.Now()
	m.now = func() time.Time { return now }

	parent := parentAt(0)
	// Bundled defaults: spawn rate 20 per window, but max per worker is 10,
	// so the per-worker total trips first.
	var lastErr error
	created := 0
	for i := 0; i < 12; i++ {
		if _, err := m.CreateSubTask(parent, Spec{Prompt: "p"}); err != nil {
			lastErr = err
			break
		}
		created++
	}
	if created != 10 {
		t.Errorf("created = %d, want 10 before the per-worker cap", created)
	}
	if lastErr == nil || !strings.Contains(lastErr.Error(), "limit reached for worker") {
		t.Errorf("lastErr = %v, want per-worker limit error", lastErr)
	}
}

func TestAwaitReturnsWhenAllSettle(t *testing.T) {
	exec := &fakeExecutor{outputs: map[string]string{"p": "output"}, delay: 20 * time.Millisecond}
	m, _ := newTestManager(t, exec)

	st, err := m.CreateSubTask(parentAt(0), Spec{Prompt: "p"})
	if err != nil {
		t.Fatalf("CreateSubTask: %v", err)
	}
	go m.ExecuteSubTask(context.Background(), st)

	report, err := m.Await(context.Background(), []string{st.ID}, time.Second)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if report.TimedOut {
		t.Error("TimedOut = true, want false")
	}
	if !report.Aggregate.AllSucceeded {
		t.Errorf("AllSucceeded = false: %+v", report.Aggregate)
	}
}

func TestAwaitTimeoutFlagsStillRunningSeparately(t *testing.T) {
	exec := &fakeExecutor{delay: time.Second}
	m, _ := newTestManager(t, exec)

	st, err := m.CreateSubTask(parentAt(0), Spec{Prompt: "slow"})
	if err != nil {
		t.Fatalf("CreateSubTask: %v", err)
	}
	go m.ExecuteSubTask(context.Background(), st)

	report, err := m.Await(context.Background(), []string{st.ID}, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if !report.TimedOut {
		t.Fatal("TimedOut = false, want true")
	}
	if len(report.StillRunning) != 1 || report.StillRunning[0] != st.ID {
		t.Errorf("StillRunning = %v, want [%s]", report.StillRunning, st.ID)
	}
	// The still-running task is not counted as failed.
	if report.Aggregate.FailedCount != 0 {
		t.Errorf("FailedCount = %d, want 0", report.Aggregate.FailedCount)
	}
}
