package coordinator

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// ErrCycleDetected indicates a circular dependency in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// DependencyGraph is a directed acyclic graph of task dependencies.
// Tasks are nodes; edges point from a task to the tasks it is blocked by.
type DependencyGraph struct {
	nodes     map[string]*models.Task
	edges     map[string][]string
	completed map[string]bool
}

// NewDependencyGraph creates an empty dependency graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes:     make(map[string]*models.Task),
		edges:     make(map[string][]string),
		completed: make(map[string]bool),
	}
}

// Build constructs the graph from a plan's tasks. Returns an error on a
// cycle or a dependency on an unknown task.
func (g *DependencyGraph) Build(tasks []*models.Task) error {
	for _, task := range tasks {
		g.nodes[task.ID] = task
		g.edges[task.ID] = nil
	}

	for _, task := range tasks {
		for _, depID := range task.Dependencies {
			if _, exists := g.nodes[depID]; !exists {
				return fmt.Errorf("task %s depends on unknown task %s", task.ID, depID)
			}
			g.edges[task.ID] = append(g.edges[task.ID], depID)
		}
	}

	if g.HasCycle() {
		return ErrCycleDetected
	}

	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
// Depth-first search with coloring to detect back edges.
func (g *DependencyGraph) HasCycle() bool {
	// 0 = unvisited, 1 = in progress, 2 = done.
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}

		colors[id] = 2
		return false
	}

	for id := range g.nodes {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}

	return false
}

// GetReady returns task IDs whose dependencies are all complete and
// which have not themselves started or finished. These can run in
// parallel.
func (g *DependencyGraph) GetReady() []string {
	var ready []string

	for id, task := range g.nodes {
		if g.completed[id] {
			continue
		}
		switch task.Status {
		case models.TaskStatusPending, models.TaskStatusReady:
		default:
			continue
		}

		allDepsComplete := true
		for _, depID := range g.edges[id] {
			if g.completed[depID] {
				continue
			}
			dep, exists := g.nodes[depID]
			if !exists || dep.Status != models.TaskStatusCompleted {
				allDepsComplete = false
				break
			}
		}

		if allDepsComplete {
			ready = append(ready, id)
		}
	}

	return ready
}

// MarkComplete marks a task as completed, unblocking its dependents.
func (g *DependencyGraph) MarkComplete(taskID string) {
	g.completed[taskID] = true
}

// GetTask returns the task for a given ID, or nil.
func (g *DependencyGraph) GetTask(taskID string) *models.Task {
	return g.nodes[taskID]
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	return len(g.nodes)
}

// GetDependents returns the IDs of tasks blocked by the given task.
func (g *DependencyGraph) GetDependents(taskID string) []string {
	var dependents []string
	for id, deps := range g.edges {
		for _, depID := range deps {
			if depID == taskID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}
