// Package registry wires the process's long-lived services once at
// startup. Consumers receive their dependencies from the registry
// instead of reaching for package-level state.
package registry

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/foreman/internal/breaker"
	"github.com/ShayCichocki/foreman/internal/bus"
	"github.com/ShayCichocki/foreman/internal/config"
	"github.com/ShayCichocki/foreman/internal/coordinator"
	"github.com/ShayCichocki/foreman/internal/decision"
	"github.com/ShayCichocki/foreman/internal/health"
	"github.com/ShayCichocki/foreman/internal/llm"
	"github.com/ShayCichocki/foreman/internal/permission"
	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/internal/subtask"
	"github.com/ShayCichocki/foreman/internal/worker"
	"github.com/ShayCichocki/foreman/internal/worktree"
)

// Options selects which optional services the registry constructs.
type Options struct {
	// ProjectRoot anchors the workspace policy, project database, and
	// git repository. Empty means the current directory.
	ProjectRoot string
	// Persist opens the project SQLite store for write-through state.
	Persist bool
	// Worktrees isolates each worker in a git worktree. Requires
	// ProjectRoot to be inside a git repository.
	Worktrees bool
	// AutoDecide routes questions and errors through the LLM decision
	// router instead of sending everything to the inbox.
	AutoDecide bool
}

// Registry holds every long-lived service for one process.
type Registry struct {
	Config      *config.Config
	Bus         *bus.QueueBus
	Permissions *permission.Engine
	Watcher     *permission.Watcher
	Health      *health.Monitor
	LLM         *llm.Client
	SubTasks    *subtask.Manager
	Workers     *worker.Runner
	Worktrees   *worktree.Manager
	Store       *state.DB
	Coordinator *coordinator.Coordinator
}

// New constructs the full service graph from configuration. Optional
// services that fail to construct are reported, not fatal, except the
// LLM client which every worker needs.
func New(cfg *config.Config, opts Options) (*Registry, error) {
	root := opts.ProjectRoot
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve project root: %w", err)
		}
		root = cwd
	}

	client, err := llm.NewClient(llm.ClientConfig{
		APIKey: cfg.Anthropic.APIKey,
		Model:  anthropic.Model(cfg.Anthropic.Model),
	})
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}

	engine, err := permission.NewEngine(permission.EngineConfig{
		WorkspacePolicyPath: config.GetWorkspacePolicyPath(root),
		UserSettingsPath:    config.GetUserSettingsPath(),
	})
	if err != nil {
		return nil, fmt.Errorf("create permission engine: %w", err)
	}

	watcher, err := permission.NewWatcher(engine)
	if err != nil {
		log.Printf("[registry] policy watcher unavailable: %v", err)
		watcher = nil
	}

	queue := bus.New(cfg.Bus.BufferSize)

	monitor := health.NewMonitor(health.Config{
		SweepInterval:         cfg.Health.SweepInterval,
		IdleTimeout:           cfg.Health.IdleTimeout,
		StuckTimeout:          cfg.Health.StuckTimeout,
		LoopThreshold:         cfg.Health.LoopThreshold,
		ErrorThreshold:        cfg.Health.ErrorThreshold,
		ProgressCheckInterval: cfg.Health.ProgressCheckInterval,
	}, health.NewClock())

	subtasks := subtask.NewManager(engine, subtask.NewLLMExecutor(client), subtask.NewResultAggregator())
	subtasks.SetBreakerConfig(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
	})

	workers := worker.NewRunner(queue, client, monitor, subtasks)

	r := &Registry{
		Config:      cfg,
		Bus:         queue,
		Permissions: engine,
		Watcher:     watcher,
		Health:      monitor,
		LLM:         client,
		SubTasks:    subtasks,
		Workers:     workers,
	}

	if opts.Persist {
		dbPath := state.ProjectDBPath(root)
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
		db, err := state.Open(dbPath)
		if err != nil {
			return nil, fmt.Errorf("open state store: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate state store: %w", err)
		}
		r.Store = db
	}

	if opts.Worktrees {
		manager, err := worktree.NewManager(cfg.Worktree.BaseDir, root)
		if err != nil {
			log.Printf("[registry] worktree isolation unavailable: %v", err)
		} else {
			r.Worktrees = manager
		}
	}

	coordOpts := coordinator.Options{
		Bus:         queue,
		Permissions: engine,
		Deployer:    workers,
		Health:      monitor,
		Store:       r.Store,
		EventBuffer: cfg.Bus.BufferSize,
		AgentType:   cfg.Workers.DefaultAgentType,
		MaxWorkers:  cfg.Workers.MaxConcurrent,
	}
	if r.Worktrees != nil {
		coordOpts.Worktrees = r.Worktrees
	}
	if opts.AutoDecide {
		coordOpts.Router = decision.NewRouter(client)
	}
	r.Coordinator = coordinator.New(coordOpts)

	return r, nil
}

// Close releases the registry's resources. Safe to call once, after all
// consumers have stopped.
func (r *Registry) Close() error {
	r.Bus.Close()
	if r.Store != nil {
		return r.Store.Close()
	}
	return nil
}
