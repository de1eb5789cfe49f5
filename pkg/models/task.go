package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting on dependencies.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusReady indicates all dependencies are satisfied.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusRunning indicates a worker is executing the task.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled before completion.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusReady, TaskStatusRunning,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true for states a task never leaves.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Task is a unit of work inside a plan. Tasks form a DAG via Dependencies
// and are mutated only by the coordinator.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Name is the short description of the task.
	Name string `json:"name"`
	// Description provides detailed instructions for the worker.
	Description string `json:"description,omitempty"`
	// PlanID is the plan this task belongs to.
	PlanID string `json:"plan_id"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Dependencies lists task IDs that must complete before this task.
	Dependencies []string `json:"dependencies,omitempty"`
	// Priority orders ready tasks for dispatch (higher first).
	Priority int `json:"priority,omitempty"`
	// WorkerID is the worker assigned to this task, if any.
	WorkerID string `json:"worker_id,omitempty"`
	// Error contains the error message if the task failed.
	Error string `json:"error,omitempty"`
	// TargetFiles lists files the task is expected to touch, used for
	// conflict checks when the task delegates sub-tasks.
	TargetFiles []string `json:"target_files,omitempty"`
	// CreatedAt is when the task was added to its plan.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Plan is a DAG of tasks pursued toward one overall goal.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`
	// Name is the human-readable plan name.
	Name string `json:"name"`
	// Tasks holds the plan's tasks keyed by task ID.
	Tasks map[string]*Task `json:"tasks"`
	// CreatedAt is when the plan was created.
	CreatedAt time.Time `json:"created_at"`
}

// NewPlan creates an empty plan.
func NewPlan(id, name string) *Plan {
	return &Plan{
		ID:        id,
		Name:      name,
		Tasks:     make(map[string]*Task),
		CreatedAt: time.Now(),
	}
}

// AddTask registers a task with the plan and stamps its plan ID.
func (p *Plan) AddTask(task *Task) {
	task.PlanID = p.ID
	if task.Status == "" {
		task.Status = TaskStatusPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	p.Tasks[task.ID] = task
}
