package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/foreman/internal/config"
	"github.com/ShayCichocki/foreman/internal/coordinator"
	"github.com/ShayCichocki/foreman/internal/registry"
	"github.com/ShayCichocki/foreman/pkg/models"
)

var (
	runPlanFile    string
	runAutoDecide  bool
	runNoWorktrees bool
	runNoPersist   bool
)

var runCmd = &cobra.Command{
	Use:   "run [task description]",
	Short: "Run a task or a plan file with worker orchestration",
	Long: `Run work through the orchestration engine.

With a task description, a single-task plan is created and executed by
one worker. With --plan, a YAML plan file describes a task DAG that is
executed in dependency order with parallel workers.

Plan file format:

  name: release prep
  tasks:
    - id: migrate
      name: write the migration
      description: ...
      targetFiles: [db/migrations/]
    - id: endpoint
      name: add the endpoint
      description: ...
      dependsOn: [migrate]

During the run, permission requests resolve silently against policy;
anything needing your judgment lands in the inbox and is prompted for
on the terminal. Use --auto-decide to let the model answer worker
questions and triage errors first, escalating only what it cannot
resolve.`,
	Args: cobra.ArbitraryArgs,
	RunE: runPlan,
}

func init() {
	runCmd.Flags().StringVar(&runPlanFile, "plan", "", "YAML plan file describing a task DAG")
	runCmd.Flags().BoolVar(&runAutoDecide, "auto-decide", false, "Route questions and errors through model judgment before the inbox")
	runCmd.Flags().BoolVar(&runNoWorktrees, "no-worktrees", false, "Run workers without git worktree isolation")
	runCmd.Flags().BoolVar(&runNoPersist, "no-persist", false, "Skip SQLite persistence of plan state")
}

// planFile is the YAML shape of --plan input.
type planFile struct {
	Name  string `yaml:"name"`
	Tasks []struct {
		ID          string   `yaml:"id"`
		Name        string   `yaml:"name"`
		Description string   `yaml:"description"`
		DependsOn   []string `yaml:"dependsOn"`
		TargetFiles []string `yaml:"targetFiles"`
		Priority    int      `yaml:"priority"`
	} `yaml:"tasks"`
}

func runPlan(cmd *cobra.Command, args []string) error {
	if runPlanFile == "" && len(args) == 0 {
		return fmt.Errorf("provide a task description or --plan <file>")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	root := cwd
	if !runNoWorktrees {
		if err := checkGitInstalled(); err != nil {
			return err
		}
		root, err = findGitRoot(cwd)
		if err != nil {
			return fmt.Errorf("worktree isolation needs a git repository (or use --no-worktrees): %w", err)
		}
	}

	reg, err := registry.New(cfg, registry.Options{
		ProjectRoot: root,
		Persist:     !runNoPersist,
		Worktrees:   !runNoWorktrees,
		AutoDecide:  runAutoDecide,
	})
	if err != nil {
		return err
	}
	defer reg.Close()

	plan, err := buildPlan(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if reg.Watcher != nil {
		go reg.Watcher.Run(ctx)
	}
	go reg.Coordinator.Run(ctx)

	if err := reg.Coordinator.StartPlan(ctx, plan); err != nil {
		return err
	}
	fmt.Printf("Running plan %s (%d tasks)\n\n", plan.Name, len(plan.Tasks))

	return watchRun(ctx, reg.Coordinator, plan)
}

// buildPlan assembles the plan from --plan or the inline description.
func buildPlan(args []string) (*models.Plan, error) {
	if runPlanFile == "" {
		description := strings.Join(args, " ")
		plan := models.NewPlan(uuid.New().String(), description)
		plan.AddTask(&models.Task{
			ID:          uuid.New().String(),
			Name:        description,
			Description: description,
			Status:      models.TaskStatusPending,
		})
		return plan, nil
	}

	raw, err := os.ReadFile(runPlanFile)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	var pf planFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("parse plan file: %w", err)
	}
	if len(pf.Tasks) == 0 {
		return nil, fmt.Errorf("plan file %s has no tasks", runPlanFile)
	}

	name := pf.Name
	if name == "" {
		name = runPlanFile
	}
	plan := models.NewPlan(uuid.New().String(), name)
	for _, t := range pf.Tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("plan task %q has no id", t.Name)
		}
		plan.AddTask(&models.Task{
			ID:           t.ID,
			Name:         t.Name,
			Description:  t.Description,
			Status:       models.TaskStatusPending,
			Dependencies: t.DependsOn,
			TargetFiles:  t.TargetFiles,
			Priority:     t.Priority,
		})
	}
	return plan, nil
}

// watchRun consumes coordinator events until the plan finishes or the
// run is interrupted, prompting for inbox decisions as they arrive.
func watchRun(ctx context.Context, coord *coordinator.Coordinator, plan *models.Plan) error {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted.")
			return nil
		case ev := <-coord.Events():
			switch ev.Type {
			case coordinator.EventTaskStarted:
				cyan.Printf("▶ started %s (worker %s)\n", taskName(plan, ev.TaskID), ev.WorkerID)
			case coordinator.EventTaskCompleted:
				green.Printf("✓ completed %s\n", taskName(plan, ev.TaskID))
			case coordinator.EventTaskFailed:
				red.Printf("✗ failed %s: %s\n", taskName(plan, ev.TaskID), ev.Reason)
			case coordinator.EventTaskCancelled:
				yellow.Printf("⊘ cancelled %s: %s\n", taskName(plan, ev.TaskID), ev.Reason)
			case coordinator.EventWorkerIdle:
				yellow.Printf("… worker %s is idle\n", ev.WorkerID)
			case coordinator.EventWorkerUnhealthy:
				red.Printf("! worker %s unhealthy: %s\n", ev.WorkerID, ev.Reason)
			case coordinator.EventInboxItemAdded:
				if err := promptInbox(coord); err != nil {
					return err
				}
			case coordinator.EventPlanDone:
				printPlanSummary(plan)
				return nil
			}
		}
	}
}

// promptInbox walks the pending inbox items on the terminal. Empty
// input defers the item.
func promptInbox(coord *coordinator.Coordinator) error {
	reader := bufio.NewReader(os.Stdin)

	for _, item := range coord.Inbox().PendingItems() {
		fmt.Printf("\nInbox [%s] from worker %s:\n  %s\n", item.Message.Type, item.Message.WorkerID, item.Message.Content.String())
		fmt.Print("Your response (empty to defer): ")

		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		line = strings.TrimSpace(line)

		if line == "" {
			if err := coord.DeferInboxItem(item.ID, "deferred at terminal"); err != nil {
				return err
			}
			fmt.Println("Deferred.")
			continue
		}
		if err := coord.ProcessInboxItem(item.ID, line); err != nil {
			return err
		}
	}
	return nil
}

func taskName(plan *models.Plan, taskID string) string {
	if t, ok := plan.Tasks[taskID]; ok && t.Name != "" {
		return t.Name
	}
	return taskID
}

func printPlanSummary(plan *models.Plan) {
	var completed, failed, cancelled int
	for _, t := range plan.Tasks {
		switch t.Status {
		case models.TaskStatusCompleted:
			completed++
		case models.TaskStatusFailed:
			failed++
		case models.TaskStatusCancelled:
			cancelled++
		}
	}
	fmt.Printf("\nPlan finished: %d completed, %d failed, %d cancelled\n", completed, failed, cancelled)
}
