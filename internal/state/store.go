package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// Plan operations

// SavePlan inserts or replaces a plan row. Tasks are saved separately.
func (db *DB) SavePlan(p *models.Plan) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO plans (id, name, created_at)
		VALUES (?, ?, ?)
	`, p.ID, p.Name, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	return nil
}

// GetPlan retrieves a plan and its tasks. Returns nil if not found.
func (db *DB) GetPlan(id string) (*models.Plan, error) {
	row := db.QueryRow("SELECT id, name, created_at FROM plans WHERE id = ?", id)

	var p models.Plan
	var createdAt string
	err := row.Scan(&p.ID, &p.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	p.CreatedAt, _ = parseTime(createdAt)

	tasks, err := db.ListTasks(id)
	if err != nil {
		return nil, err
	}
	p.Tasks = make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		p.Tasks[t.ID] = t
	}

	return &p, nil
}

// ListPlans returns all plans, newest first, without their tasks.
func (db *DB) ListPlans() ([]*models.Plan, error) {
	rows, err := db.Query("SELECT id, name, created_at FROM plans ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []*models.Plan
	for rows.Next() {
		var p models.Plan
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		p.CreatedAt, _ = parseTime(createdAt)
		plans = append(plans, &p)
	}
	return plans, rows.Err()
}

// Task operations

// SaveTask inserts or replaces a task row.
func (db *DB) SaveTask(t *models.Task) error {
	deps, err := json.Marshal(t.Dependencies)
	if err != nil {
		return fmt.Errorf("encode dependencies: %w", err)
	}
	targets, err := json.Marshal(t.TargetFiles)
	if err != nil {
		return fmt.Errorf("encode target files: %w", err)
	}

	var completedAt *string
	if t.CompletedAt != nil {
		s := formatTime(*t.CompletedAt)
		completedAt = &s
	}

	_, err = db.Exec(`
		INSERT OR REPLACE INTO tasks
			(id, plan_id, name, description, status, dependencies, priority,
			 worker_id, error, target_files, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.PlanID, t.Name, t.Description, string(t.Status), string(deps),
		t.Priority, t.WorkerID, t.Error, string(targets), formatTime(t.CreatedAt), completedAt)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID. Returns nil if not found.
func (db *DB) GetTask(id string) (*models.Task, error) {
	row := db.QueryRow(`
		SELECT id, plan_id, name, description, status, dependencies, priority,
		       worker_id, error, target_files, created_at, completed_at
		FROM tasks WHERE id = ?
	`, id)

	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListTasks returns all tasks for a plan.
func (db *DB) ListTasks(planID string) ([]*models.Task, error) {
	rows, err := db.Query(`
		SELECT id, plan_id, name, description, status, dependencies, priority,
		       worker_id, error, target_files, created_at, completed_at
		FROM tasks WHERE plan_id = ? ORDER BY created_at
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// scanTask decodes one task row through the given scan function.
func scanTask(scan func(...any) error) (*models.Task, error) {
	var t models.Task
	var status, deps, targets, createdAt string
	var workerID, errStr, description sql.NullString
	var completedAt sql.NullString

	err := scan(&t.ID, &t.PlanID, &t.Name, &description, &status, &deps, &t.Priority,
		&workerID, &errStr, &targets, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}

	t.Description = description.String
	t.Status = models.TaskStatus(status)
	t.WorkerID = workerID.String
	t.Error = errStr.String
	if deps != "" {
		if err := json.Unmarshal([]byte(deps), &t.Dependencies); err != nil {
			return nil, fmt.Errorf("decode dependencies: %w", err)
		}
	}
	if targets != "" {
		if err := json.Unmarshal([]byte(targets), &t.TargetFiles); err != nil {
			return nil, fmt.Errorf("decode target files: %w", err)
		}
	}
	t.CreatedAt, _ = parseTime(createdAt)
	t.CompletedAt = parseNullableTime(completedAt)

	return &t, nil
}

// Worker session operations

// SaveWorker inserts or replaces a worker session row. Conversation
// threads are in-memory only; only deployment metadata persists.
func (db *DB) SaveWorker(w *models.WorkerSession) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO workers (id, task_id, plan_id, worktree_path, agent_type, depth, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, w.ID, w.TaskID, w.PlanID, w.WorktreePath, w.AgentType, w.Depth, formatTime(w.StartedAt))
	if err != nil {
		return fmt.Errorf("save worker: %w", err)
	}
	return nil
}

// DeleteWorker removes a worker session row.
func (db *DB) DeleteWorker(id string) error {
	_, err := db.Exec("DELETE FROM workers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete worker: %w", err)
	}
	return nil
}

// ActiveWorkerIDs returns the ids of all persisted worker sessions.
// Used at startup to distinguish live worktrees from orphans.
func (db *DB) ActiveWorkerIDs() ([]string, error) {
	rows, err := db.Query("SELECT id FROM workers")
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan worker id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Inbox audit operations

// InboxAuditEntry records how one inbox item left the pending set.
type InboxAuditEntry struct {
	ID          string
	PlanID      string
	MessageType string
	// Action is "processed" or "deferred".
	Action    string
	Note      string
	CreatedAt time.Time
}

// RecordInboxAction appends an audit entry for a processed or deferred
// inbox item.
func (db *DB) RecordInboxAction(e *InboxAuditEntry) error {
	_, err := db.Exec(`
		INSERT INTO inbox_audit (id, plan_id, message_type, action, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.PlanID, e.MessageType, e.Action, e.Note, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("record inbox action: %w", err)
	}
	return nil
}

// ListInboxAudit returns the audit trail for a plan, oldest first.
func (db *DB) ListInboxAudit(planID string) ([]*InboxAuditEntry, error) {
	rows, err := db.Query(`
		SELECT id, plan_id, message_type, action, note, created_at
		FROM inbox_audit WHERE plan_id = ? ORDER BY created_at
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list inbox audit: %w", err)
	}
	defer rows.Close()

	var entries []*InboxAuditEntry
	for rows.Next() {
		var e InboxAuditEntry
		var note sql.NullString
		var createdAt string
		if err := rows.Scan(&e.ID, &e.PlanID, &e.MessageType, &e.Action, &note, &createdAt); err != nil {
			return nil, fmt.Errorf("scan inbox audit: %w", err)
		}
		e.Note = note.String
		e.CreatedAt, _ = parseTime(createdAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
