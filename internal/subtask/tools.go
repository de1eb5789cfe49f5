package subtask

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/foreman/internal/bus"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// ErrNoWorkerContext is returned when a worker-scoped tool is used
// outside a worker context. This is a usage error, never ignored.
var ErrNoWorkerContext = errors.New("tool requires an active worker context")

// SpawnToolInput is the wire input of the spawn tool: either a single
// spec inline or a parallel batch under Subtasks.
type SpawnToolInput struct {
	Spec
	Subtasks []Spec `json:"subtasks,omitempty"`
}

// AwaitToolInput is the wire input of the await tool. TimeoutSeconds
// zero means the default of five minutes.
type AwaitToolInput struct {
	SubTaskIDs     []string `json:"subTaskIds"`
	TimeoutSeconds int      `json:"timeout,omitempty"`
}

// NotifyToolInput is the wire input of the notify tool.
type NotifyToolInput struct {
	Type     string                 `json:"type"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Priority string                 `json:"priority,omitempty"`
}

// Tools is the worker-facing tool surface for delegation and
// orchestrator notification. Each instance is bound to one worker's
// context; a nil context makes every call a usage error.
type Tools struct {
	manager *Manager
	queue   *bus.QueueBus
	parent  *ParentContext
}

// NewTools binds the tool surface to a worker context.
func NewTools(manager *Manager, queue *bus.QueueBus, parent *ParentContext) *Tools {
	return &Tools{
		manager: manager,
		queue:   queue,
		parent:  parent,
	}
}

// Spawn handles the spawn tool call. Policy violations (depth, conflict,
// rate) come back as error strings the agent can parse and react to.
func (t *Tools) Spawn(ctx context.Context, input SpawnToolInput) (string, error) {
	if t.parent == nil {
		return "", ErrNoWorkerContext
	}

	if len(input.Subtasks) > 0 {
		results, err := t.manager.SpawnParallel(ctx, t.parent, input.Subtasks)
		if err != nil {
			return "", err
		}
		ids := make([]string, len(results))
		for i, r := range results {
			ids[i] = r.TaskID
		}
		agg := t.manager.aggregator.Aggregate(ids)
		return agg.Summary, nil
	}

	if input.Prompt == "" {
		return "", errors.New("spawn requires a prompt or a subtasks batch")
	}

	result, err := t.manager.Spawn(ctx, t.parent, input.Spec)
	if err != nil {
		return "", err
	}
	agg := t.manager.aggregator.Aggregate([]string{result.TaskID})
	return agg.Summary, nil
}

// Await handles the await tool call, reporting timeouts separately from
// failures.
func (t *Tools) Await(ctx context.Context, input AwaitToolInput) (string, error) {
	if t.parent == nil {
		return "", ErrNoWorkerContext
	}
	if len(input.SubTaskIDs) == 0 {
		return "", errors.New("await requires at least one sub-task id")
	}

	timeout := time.Duration(input.TimeoutSeconds) * time.Second
	report, err := t.manager.Await(ctx, input.SubTaskIDs, timeout)
	if err != nil {
		return "", err
	}

	summary := report.Aggregate.Summary
	if report.TimedOut {
		summary += fmt.Sprintf("\nwait timed out; still running (not failed): %v", report.StillRunning)
	}
	return summary, nil
}

// Notify handles the notify tool call by enqueueing a message on the
// worker's behalf.
func (t *Tools) Notify(input NotifyToolInput) error {
	if t.parent == nil {
		return ErrNoWorkerContext
	}

	msgType := models.MessageType(input.Type)
	if !msgType.Valid() {
		return fmt.Errorf("unknown message type %q", input.Type)
	}

	content := models.TextContent(input.Content)
	if len(input.Metadata) > 0 {
		data := make(map[string]any, len(input.Metadata)+1)
		for k, v := range input.Metadata {
			data[k] = v
		}
		if input.Content != "" {
			data["description"] = input.Content
		}
		content = models.DataContent(data)
	}

	msg := models.QueueMessage{
		PlanID:       t.parent.PlanID,
		TaskID:       t.parent.TaskID,
		WorkerID:     t.parent.WorkerID,
		WorktreePath: t.parent.WorktreePath,
		Type:         msgType,
		Content:      content,
	}
	if input.Priority != "" {
		msg.Priority = models.MessagePriority(input.Priority)
	}

	return t.queue.Enqueue(msg)
}
