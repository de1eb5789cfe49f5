package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show persisted plan and task state",
	Long: `Display the persisted state of foreman plans.

Shows:
  - Plans recorded in the project (or global) database
  - Per-task status and assigned workers
  - Active worker sessions`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	db, err := openStateDB()
	if err != nil {
		return err
	}
	if db == nil {
		fmt.Println("No state database found. Run 'foreman run <task>' to start.")
		return nil
	}
	defer db.Close()

	plans, err := db.ListPlans()
	if err != nil {
		return fmt.Errorf("list plans: %w", err)
	}
	if len(plans) == 0 {
		fmt.Println("No plans recorded.")
		return nil
	}

	for _, plan := range plans {
		displayPlan(db, plan)
		fmt.Println()
	}

	workerIDs, err := db.ActiveWorkerIDs()
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}
	fmt.Printf("Active workers: %d\n", len(workerIDs))
	return nil
}

// openStateDB opens the project database, falling back to the global
// one. Returns nil without error when neither exists.
func openStateDB() (*state.DB, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}

	dbPath := state.ProjectDBPath(cwd)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		dbPath = state.GlobalDBPath()
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func displayPlan(db *state.DB, plan *models.Plan) {
	tasks, err := db.ListTasks(plan.ID)
	if err != nil {
		fmt.Printf("Plan %s: %v\n", plan.ID, err)
		return
	}

	var done int
	for _, t := range tasks {
		if t.Status == models.TaskStatusCompleted {
			done++
		}
	}

	fmt.Printf("Plan: %s (%s)\n", plan.Name, plan.ID)
	fmt.Printf("  Created: %s ago\n", formatDuration(time.Since(plan.CreatedAt)))
	fmt.Printf("  Progress: %d/%d tasks completed\n", done, len(tasks))

	for _, t := range tasks {
		fmt.Println(taskLine(t))
	}
}

// taskLine renders one task's status row.
func taskLine(t *models.Task) string {
	status := statusColor(t.Status).Sprint(t.Status)
	line := fmt.Sprintf("  [%s] %s", status, t.Name)
	if t.WorkerID != "" && !t.Status.Terminal() {
		line += fmt.Sprintf(" (worker %s)", t.WorkerID)
	}
	if t.Error != "" {
		line += fmt.Sprintf(": %s", t.Error)
	}
	return line
}

func statusColor(s models.TaskStatus) *color.Color {
	switch s {
	case models.TaskStatusCompleted:
		return color.New(color.FgGreen)
	case models.TaskStatusFailed:
		return color.New(color.FgRed)
	case models.TaskStatusRunning:
		return color.New(color.FgCyan)
	case models.TaskStatusCancelled:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgWhite)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}
