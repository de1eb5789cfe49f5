package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/foreman/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestPlanRoundTrip(t *testing.T) {
	db := openTestDB(t)

	plan := models.NewPlan("plan-1", "refactor auth")
	plan.AddTask(&models.Task{ID: "t1", Name: "extract middleware"})
	plan.AddTask(&models.Task{
		ID:           "t2",
		Name:         "add tests",
		Dependencies: []string{"t1"},
		TargetFiles:  []string{"auth/middleware.go"},
		Priority:     2,
	})

	if err := db.SavePlan(plan); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}
	for _, task := range plan.Tasks {
		if err := db.SaveTask(task); err != nil {
			t.Fatalf("SaveTask(%s): %v", task.ID, err)
		}
	}

	got, err := db.GetPlan("plan-1")
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if got == nil {
		t.Fatal("GetPlan returned nil")
	}
	if got.Name != "refactor auth" {
		t.Errorf("Name = %q, want refactor auth", got.Name)
	}
	if len(got.Tasks) != 2 {
		t.Fatalf("len(Tasks) = %d, want 2", len(got.Tasks))
	}

	t2 := got.Tasks["t2"]
	if t2 == nil {
		t.Fatal("task t2 missing")
	}
	if len(t2.Dependencies) != 1 || t2.Dependencies[0] != "t1" {
		t.Errorf("Dependencies = %v, want [t1]", t2.Dependencies)
	}
	if len(t2.TargetFiles) != 1 || t2.TargetFiles[0] != "auth/middleware.go" {
		t.Errorf("TargetFiles = %v", t2.TargetFiles)
	}
	if t2.Status != models.TaskStatusPending {
		t.Errorf("Status = %q, want pending", t2.Status)
	}
	if t2.Priority != 2 {
		t.Errorf("Priority = %d, want 2", t2.Priority)
	}
}

func TestGetPlanMissing(t *testing.T) {
	db := openTestDB(t)

	got, err := db.GetPlan("nope")
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if got != nil {
		t.Errorf("GetPlan = %+v, want nil for unknown id", got)
	}
}

func TestTaskStatusUpdatePersists(t *testing.T) {
	db := openTestDB(t)

	task := &models.Task{
		ID:        "t1",
		PlanID:    "plan-1",
		Name:      "build",
		Status:    models.TaskStatusRunning,
		WorkerID:  "w1",
		CreatedAt: time.Now(),
	}
	if err := db.SaveTask(task); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}

	now := time.Now()
	task.Status = models.TaskStatusFailed
	task.Error = "compile error"
	task.CompletedAt = &now
	if err := db.SaveTask(task); err != nil {
		t.Fatalf("SaveTask update: %v", err)
	}

	got, err := db.GetTask("t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != models.TaskStatusFailed {
		t.Errorf("Status = %q, want failed", got.Status)
	}
	if got.Error != "compile error" {
		t.Errorf("Error = %q", got.Error)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt = nil, want set")
	}
	if got.WorkerID != "w1" {
		t.Errorf("WorkerID = %q, want w1", got.WorkerID)
	}
}

func TestWorkerLifecycle(t *testing.T) {
	db := openTestDB(t)

	w := &models.WorkerSession{
		ID:           "w1",
		TaskID:       "t1",
		PlanID:       "plan-1",
		WorktreePath: "/wt/worker-w1",
		AgentType:    "coder",
		Depth:        1,
		StartedAt:    time.Now(),
	}
	if err := db.SaveWorker(w); err != nil {
		t.Fatalf("SaveWorker: %v", err)
	}

	ids, err := db.ActiveWorkerIDs()
	if err != nil {
		t.Fatalf("ActiveWorkerIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "w1" {
		t.Errorf("ids = %v, want [w1]", ids)
	}

	if err := db.DeleteWorker("w1"); err != nil {
		t.Fatalf("DeleteWorker: %v", err)
	}
	ids, err = db.ActiveWorkerIDs()
	if err != nil {
		t.Fatalf("ActiveWorkerIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want empty after delete", ids)
	}
}

func TestInboxAuditTrail(t *testing.T) {
	db := openTestDB(t)

	entries := []*InboxAuditEntry{
		{ID: "a1", PlanID: "plan-1", MessageType: "question", Action: "processed", Note: "answered inline", CreatedAt: time.Now()},
		{ID: "a2", PlanID: "plan-1", MessageType: "approval_request", Action: "deferred", Note: "revisit after release", CreatedAt: time.Now().Add(time.Second)},
		{ID: "a3", PlanID: "plan-2", MessageType: "error", Action: "processed", CreatedAt: time.Now()},
	}
	for _, e := range entries {
		if err := db.RecordInboxAction(e); err != nil {
			t.Fatalf("RecordInboxAction(%s): %v", e.ID, err)
		}
	}

	got, err := db.ListInboxAudit("plan-1")
	if err != nil {
		t.Fatalf("ListInboxAudit: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "a1" || got[1].ID != "a2" {
		t.Errorf("order = %s, %s; want a1, a2", got[0].ID, got[1].ID)
	}
	if got[1].Action != "deferred" || got[1].Note != "revisit after release" {
		t.Errorf("deferred entry = %+v", got[1])
	}
}
