// Package subtask implements recursive delegation: workers spawn bounded
// child tasks, execute them in parallel, and fold the results back into
// the parent's context.
package subtask

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/foreman/internal/breaker"
	"github.com/ShayCichocki/foreman/internal/permission"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// spawnRateWindow is the sliding window for the spawn rate limit.
const spawnRateWindow = time.Minute

// ParentContext carries the spawning worker's identity and depth.
// Depth is taken from the parent's session, never recomputed.
type ParentContext struct {
	WorkerID     string
	TaskID       string
	PlanID       string
	WorktreePath string
	Depth        int
}

// Spec describes one sub-task to spawn.
type Spec struct {
	AgentType      string   `json:"agentType"`
	Prompt         string   `json:"prompt"`
	ExpectedOutput string   `json:"expectedOutput"`
	Model          string   `json:"model,omitempty"`
	TargetFiles    []string `json:"targetFiles,omitempty"`
}

// Executor runs one sub-task to completion and returns its textual output.
type Executor interface {
	Execute(ctx context.Context, st *models.SubTask) (string, error)
}

// Manager creates, bounds, and executes sub-tasks. All policy checks
// happen before a record is created; a rejected spawn leaves no trace.
type Manager struct {
	permissions *permission.Engine
	executor    Executor
	aggregator  *ResultAggregator

	// pollInterval drives Await's result polling.
	pollInterval time.Duration
	now          func() time.Time

	mu            sync.Mutex
	running       map[string]*models.SubTask
	spawnTotals   map[string]int         // lifetime spawns per parent worker
	spawnTimes    map[string][]time.Time // recent spawns per parent worker
	spawnBreakers map[string]*breaker.CircuitBreaker
	breakerCfg    breaker.Config
}

// NewManager creates a sub-task manager. Results are recorded into the
// given aggregator so the parent can collect them later.
func NewManager(permissions *permission.Engine, executor Executor, aggregator *ResultAggregator) *Manager {
	return &Manager{
		permissions:   permissions,
		executor:      executor,
		aggregator:    aggregator,
		pollInterval:  500 * time.Millisecond,
		now:           time.Now,
		running:       make(map[string]*models.SubTask),
		spawnTotals:   make(map[string]int),
		spawnTimes:    make(map[string][]time.Time),
		spawnBreakers: make(map[string]*breaker.CircuitBreaker),
		breakerCfg:    breaker.DefaultConfig(),
	}
}

// SetBreakerConfig overrides the spawn circuit settings. Applies to
// breakers created after the call.
func (m *Manager) SetBreakerConfig(cfg breaker.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakerCfg = cfg
}

// CreateSubTask validates limits and conflicts, then creates a pending
// sub-task record. The error strings are part of the worker-facing
// contract; agents parse them to decide how to proceed.
func (m *Manager) CreateSubTask(parent *ParentContext, spec Spec) (*models.SubTask, error) {
	if !m.permissions.CheckLimit(permission.LimitMaxSubtaskDepth, parent.Depth) {
		return nil, fmt.Errorf("sub-task depth limit reached at depth %d: complete this task directly instead of delegating further", parent.Depth)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.permissions.CheckLimit(permission.LimitMaxSubtasksPerWorker, m.spawnTotals[parent.WorkerID]) {
		return nil, fmt.Errorf("sub-task limit reached for worker %s: complete the remaining work directly", parent.WorkerID)
	}

	recent := m.pruneSpawnTimes(parent.WorkerID)
	if !m.permissions.CheckLimit(permission.LimitSubtaskSpawnRate, len(recent)) {
		return nil, fmt.Errorf("sub-task spawn rate limit reached for worker %s: wait before delegating again", parent.WorkerID)
	}

	if conflicts := m.conflictsLocked(spec.TargetFiles); len(conflicts) > 0 {
		return nil, fmt.Errorf("target files conflict with running sub-tasks %s: wait for them to finish or choose different files", strings.Join(conflicts, ", "))
	}

	st := &models.SubTask{
		ID:             uuid.New().String(),
		ParentWorkerID: parent.WorkerID,
		ParentTaskID:   parent.TaskID,
		PlanID:         parent.PlanID,
		WorktreePath:   parent.WorktreePath,
		AgentType:      spec.AgentType,
		Prompt:         spec.Prompt,
		ExpectedOutput: spec.ExpectedOutput,
		Model:          spec.Model,
		Depth:          parent.Depth + 1,
		TargetFiles:    spec.TargetFiles,
		Status:         models.SubTaskPending,
		CreatedAt:      m.now(),
	}

	m.spawnTotals[parent.WorkerID]++
	m.spawnTimes[parent.WorkerID] = append(recent, m.now())

	return st, nil
}

// pruneSpawnTimes drops spawn timestamps outside the rate window.
// Caller must hold m.mu.
func (m *Manager) pruneSpawnTimes(workerID string) []time.Time {
	cutoff := m.now().Add(-spawnRateWindow)
	var recent []time.Time
	for _, t := range m.spawnTimes[workerID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	m.spawnTimes[workerID] = recent
	return recent
}

// CheckFileConflicts returns the ids of running sub-tasks whose target
// files overlap the candidate set. Paths are compared case-insensitively
// with separators normalized.
func (m *Manager) CheckFileConflicts(targetFiles []string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conflictsLocked(targetFiles)
}

// conflictsLocked is CheckFileConflicts without locking. Caller must
// hold m.mu.
func (m *Manager) conflictsLocked(targetFiles []string) []string {
	if len(targetFiles) == 0 {
		return nil
	}

	candidate := make(map[string]bool, len(targetFiles))
	for _, f := range targetFiles {
		candidate[normalizePath(f)] = true
	}

	conflictSet := make(map[string]bool)
	for id, st := range m.running {
		for _, f := range st.TargetFiles {
			if candidate[normalizePath(f)] {
				conflictSet[id] = true
				break
			}
		}
	}

	if len(conflictSet) == 0 {
		return nil
	}
	conflicts := make([]string, 0, len(conflictSet))
	for id := range conflictSet {
		conflicts = append(conflicts, id)
	}
	sort.Strings(conflicts)
	return conflicts
}

// normalizePath lowercases a path and normalizes its separators so
// conflict detection is stable across platforms and casing.
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")
	return strings.ToLower(p)
}

// breakerFor returns the spawn circuit breaker for a parent worker,
// creating it on first use.
func (m *Manager) breakerFor(workerID string) *breaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	cb, ok := m.spawnBreakers[workerID]
	if !ok {
		cb = breaker.New("spawn:"+workerID, m.breakerCfg)
		m.spawnBreakers[workerID] = cb
	}
	return cb
}

// Spawn creates and executes a single sub-task, returning its result.
// Repeated execution failures open a per-parent circuit; an open circuit
// means "try later", not that the work itself failed.
func (m *Manager) Spawn(ctx context.Context, parent *ParentContext, spec Spec) (*models.SubTaskResult, error) {
	cb := m.breakerFor(parent.WorkerID)
	if !cb.CanExecute() {
		return nil, fmt.Errorf("sub-task spawning temporarily suspended for worker %s after repeated failures: retry shortly", parent.WorkerID)
	}

	st, err := m.CreateSubTask(parent, spec)
	if err != nil {
		return nil, err
	}

	result := m.ExecuteSubTask(ctx, st)
	if result.Status == models.SubTaskSuccess {
		cb.RecordSuccess()
	} else {
		cb.RecordFailure()
	}
	return result, nil
}

// SpawnParallel creates and executes a batch of sub-tasks concurrently.
// The batch is validated as a whole before anything runs: batch size
// against the parallel limit, conflicts within the batch, and each spec
// against the running set. Execution fans out and collects every result
// regardless of individual failures, in spec order.
func (m *Manager) SpawnParallel(ctx context.Context, parent *ParentContext, specs []Spec) ([]*models.SubTaskResult, error) {
	if len(specs) == 0 {
		return nil, errors.New("empty sub-task batch")
	}
	for i := range specs {
		if !m.permissions.CheckLimit(permission.LimitMaxParallelSubtasks, i) {
			return nil, fmt.Errorf("parallel sub-task limit exceeded: batch of %d is too large, split the work into smaller batches", len(specs))
		}
	}

	if conflicts := batchConflicts(specs); len(conflicts) > 0 {
		return nil, fmt.Errorf("target files conflict within the batch: %s", strings.Join(conflicts, ", "))
	}

	tasks := make([]*models.SubTask, 0, len(specs))
	for _, spec := range specs {
		st, err := m.CreateSubTask(parent, spec)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, st)
	}

	results := make([]*models.SubTaskResult, len(tasks))
	var wg sync.WaitGroup
	for i, st := range tasks {
		wg.Add(1)
		go func(i int, st *models.SubTask) {
			defer wg.Done()
			results[i] = m.ExecuteSubTask(ctx, st)
		}(i, st)
	}
	wg.Wait()

	return results, nil
}

// batchConflicts returns the normalized paths claimed by more than one
// spec in the batch.
func batchConflicts(specs []Spec) []string {
	seen := make(map[string]bool)
	dupes := make(map[string]bool)
	for _, spec := range specs {
		// Dedupe within one spec so a repeated path there doesn't
		// conflict with itself.
		local := make(map[string]bool)
		for _, f := range spec.TargetFiles {
			local[normalizePath(f)] = true
		}
		for p := range local {
			if seen[p] {
				dupes[p] = true
			}
			seen[p] = true
		}
	}
	if len(dupes) == 0 {
		return nil
	}
	var out []string
	for p := range dupes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ExecuteSubTask runs one created sub-task, tracks it in the running set
// for conflict checks, and records its result with the aggregator.
// Deadline expiry is recorded as timeout, distinct from failure.
func (m *Manager) ExecuteSubTask(ctx context.Context, st *models.SubTask) *models.SubTaskResult {
	m.mu.Lock()
	st.Status = models.SubTaskRunning
	m.running[st.ID] = st
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		st.Status = models.SubTaskCompleted
		delete(m.running, st.ID)
		m.mu.Unlock()
	}()

	output, err := m.executor.Execute(ctx, st)

	result := &models.SubTaskResult{
		TaskID: st.ID,
		Output: output,
	}
	switch {
	case err == nil:
		result.Status = models.SubTaskSuccess
	case errors.Is(err, context.DeadlineExceeded):
		result.Status = models.SubTaskTimeout
		result.Error = err.Error()
	default:
		result.Status = models.SubTaskFailed
		result.Error = err.Error()
	}

	if result.Status != models.SubTaskSuccess {
		log.Printf("[subtask] %s finished %s: %s", st.ID, result.Status, result.Error)
	}
	m.aggregator.Record(result)

	return result
}

// RunningCount returns the number of sub-tasks currently executing.
func (m *Manager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// IsRunning reports whether a sub-task is still executing.
func (m *Manager) IsRunning(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[id]
	return ok
}
