package models

import "time"

// SubTaskStatus represents the state of a delegated sub-task.
type SubTaskStatus string

const (
	// SubTaskPending indicates the sub-task has been created but not started.
	SubTaskPending SubTaskStatus = "pending"
	// SubTaskRunning indicates the sub-task is executing.
	SubTaskRunning SubTaskStatus = "running"
	// SubTaskCompleted indicates the sub-task finished, successfully or not.
	SubTaskCompleted SubTaskStatus = "completed"
)

// SubTaskResultStatus is the outcome recorded for a finished sub-task.
type SubTaskResultStatus string

const (
	// SubTaskSuccess indicates the sub-task produced its expected output.
	SubTaskSuccess SubTaskResultStatus = "success"
	// SubTaskFailed indicates the sub-task returned an error.
	SubTaskFailed SubTaskResultStatus = "failed"
	// SubTaskTimeout indicates the sub-task did not settle within its deadline.
	// Timeouts are counted separately from failures during aggregation.
	SubTaskTimeout SubTaskResultStatus = "timeout"
)

// SubTask is a child unit of work recursively spawned by a worker.
type SubTask struct {
	// ID is the unique identifier for this sub-task.
	ID string `json:"id"`
	// ParentWorkerID is the worker that spawned this sub-task.
	ParentWorkerID string `json:"parent_worker_id"`
	// ParentTaskID is the task the spawning worker was executing.
	ParentTaskID string `json:"parent_task_id"`
	// PlanID is the plan the parent task belongs to.
	PlanID string `json:"plan_id"`
	// WorktreePath is the checkout the sub-task executes in.
	WorktreePath string `json:"worktree_path"`
	// AgentType selects the agent profile for the child worker.
	AgentType string `json:"agent_type"`
	// Prompt is the instruction given to the child worker.
	Prompt string `json:"prompt"`
	// ExpectedOutput describes what the parent expects back.
	ExpectedOutput string `json:"expected_output"`
	// Model optionally overrides the model for the child worker.
	Model string `json:"model,omitempty"`
	// Depth is the child's delegation depth (parent depth + 1).
	Depth int `json:"depth"`
	// TargetFiles lists files the sub-task intends to touch.
	TargetFiles []string `json:"target_files,omitempty"`
	// Status is the current state of the sub-task.
	Status SubTaskStatus `json:"status"`
	// CreatedAt is when the sub-task was created.
	CreatedAt time.Time `json:"created_at"`
}

// SubTaskResult is the recorded outcome of a sub-task execution.
type SubTaskResult struct {
	// TaskID is the sub-task this result belongs to.
	TaskID string `json:"task_id"`
	// Status is the outcome class.
	Status SubTaskResultStatus `json:"status"`
	// Output is the child worker's textual output.
	Output string `json:"output"`
	// Error holds the failure message when Status is failed or timeout.
	Error string `json:"error,omitempty"`
}
