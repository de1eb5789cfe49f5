// Package worker runs LLM-backed task workers. Each deployed worker
// executes in its own goroutine, reports through the queue bus, and can
// ask questions or delegate sub-tasks before completing.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/ShayCichocki/foreman/internal/bus"
	"github.com/ShayCichocki/foreman/internal/health"
	"github.com/ShayCichocki/foreman/internal/llm"
	"github.com/ShayCichocki/foreman/internal/subtask"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// maxTurns bounds the question/delegation exchanges before a worker
// must produce a final answer.
const maxTurns = 4

// mailboxSize buffers coordinator replies so the coordinator loop never
// blocks on a slow worker.
const mailboxSize = 8

// Runner deploys and manages LLM workers. It satisfies the
// coordinator's deployer contract.
type Runner struct {
	queue    *bus.QueueBus
	invoker  llm.Invoker
	health   *health.Monitor
	subtasks *subtask.Manager

	mu     sync.Mutex
	active map[string]*session
}

type session struct {
	cancel  context.CancelFunc
	mailbox chan models.QueueMessage
	ws      *models.WorkerSession
}

// NewRunner creates a worker runner. The health monitor and sub-task
// manager are optional; without a manager workers cannot delegate.
func NewRunner(queue *bus.QueueBus, invoker llm.Invoker, monitor *health.Monitor, subtasks *subtask.Manager) *Runner {
	return &Runner{
		queue:    queue,
		invoker:  invoker,
		health:   monitor,
		subtasks: subtasks,
		active:   make(map[string]*session),
	}
}

// Deploy starts a worker goroutine for the task.
func (r *Runner) Deploy(ctx context.Context, task *models.Task, ws *models.WorkerSession) error {
	workerCtx, cancel := context.WithCancel(ctx)
	s := &session{
		cancel:  cancel,
		mailbox: make(chan models.QueueMessage, mailboxSize),
		ws:      ws,
	}

	r.mu.Lock()
	if _, exists := r.active[ws.ID]; exists {
		r.mu.Unlock()
		cancel()
		return fmt.Errorf("worker %s already deployed", ws.ID)
	}
	r.active[ws.ID] = s
	r.mu.Unlock()

	go r.run(workerCtx, task, s)
	return nil
}

// Send delivers a coordinator reply to a running worker.
func (r *Runner) Send(workerID string, msg models.QueueMessage) error {
	r.mu.Lock()
	s, ok := r.active[workerID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("worker %s not running", workerID)
	}

	select {
	case s.mailbox <- msg:
		return nil
	default:
		return fmt.Errorf("worker %s mailbox full", workerID)
	}
}

// Stop cancels a running worker.
func (r *Runner) Stop(workerID string) error {
	r.mu.Lock()
	s, ok := r.active[workerID]
	if ok {
		delete(r.active, workerID)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("worker %s not running", workerID)
	}

	s.cancel()
	return nil
}

// ActiveCount returns the number of running workers.
func (r *Runner) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// run is the worker loop. Each model turn either completes the task,
// asks a question and waits for the answer, or delegates sub-tasks and
// folds their summary back into the transcript.
func (r *Runner) run(ctx context.Context, task *models.Task, s *session) {
	defer r.release(s.ws.ID)

	if r.health != nil {
		r.health.MarkExecutionStart(s.ws.ID)
		defer r.health.MarkExecutionEnd(s.ws.ID)
	}

	r.enqueue(s.ws, task, models.MessageStatusUpdate,
		models.TextContent(fmt.Sprintf("started: %s", task.Name)))

	prompt := buildPrompt(task, s.ws)
	var transcript strings.Builder
	transcript.WriteString(prompt)

	for turn := 0; turn < maxTurns; turn++ {
		reply, err := r.invoker.Complete(ctx, transcript.String())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.enqueue(s.ws, task, models.MessageError,
				models.TextContent(fmt.Sprintf("worker execution failed: %v", err)))
			return
		}

		trimmed := strings.TrimSpace(reply)
		switch {
		case strings.HasPrefix(trimmed, "QUESTION:"):
			question := strings.TrimSpace(strings.TrimPrefix(trimmed, "QUESTION:"))
			r.enqueue(s.ws, task, models.MessageQuestion, models.TextContent(question))

			answer, ok := r.awaitReply(ctx, s)
			if !ok {
				return
			}
			fmt.Fprintf(&transcript, "\n\nYou asked: %s\nAnswer: %s\nContinue the task.", question, answer)

		case strings.HasPrefix(trimmed, "DELEGATE:"):
			r.recordActivity(s.ws.ID, health.ActivityToolCall, "delegate")
			payload := strings.TrimSpace(strings.TrimPrefix(trimmed, "DELEGATE:"))
			summary := r.delegate(ctx, s.ws, payload)
			fmt.Fprintf(&transcript, "\n\nDelegation results:\n%s\nFold these into your final answer.", summary)

		default:
			r.recordActivity(s.ws.ID, health.ActivitySuccess, "")
			r.enqueue(s.ws, task, models.MessageCompletion, models.TextContent(trimmed))
			return
		}
	}

	r.enqueue(s.ws, task, models.MessageError,
		models.TextContent(fmt.Sprintf("worker exceeded %d turns without completing", maxTurns)))
}

// awaitReply blocks until the coordinator routes back an answer or the
// worker is cancelled.
func (r *Runner) awaitReply(ctx context.Context, s *session) (string, bool) {
	select {
	case <-ctx.Done():
		return "", false
	case msg := <-s.mailbox:
		return msg.Content.String(), true
	}
}

// delegate parses a DELEGATE payload as spawn tool input, runs it
// through the sub-task tools, and returns the aggregate summary. Policy
// refusals (depth, conflicts, open circuit) come back verbatim so the
// model can adjust.
func (r *Runner) delegate(ctx context.Context, ws *models.WorkerSession, payload string) string {
	if r.subtasks == nil {
		return "delegation is not available; complete the task directly"
	}

	var input subtask.SpawnToolInput
	if err := json.Unmarshal([]byte(payload), &input); err != nil {
		return fmt.Sprintf("unparseable delegation request: %v", err)
	}

	tools := subtask.NewTools(r.subtasks, r.queue, &subtask.ParentContext{
		WorkerID:     ws.ID,
		TaskID:       ws.TaskID,
		PlanID:       ws.PlanID,
		WorktreePath: ws.WorktreePath,
		Depth:        ws.Depth,
	})

	summary, err := tools.Spawn(ctx, input)
	if err != nil {
		return err.Error()
	}
	return summary
}

// recordActivity feeds the health monitor when one is wired. Tool calls
// drive loop detection; successes reset the error streak.
func (r *Runner) recordActivity(workerID string, kind health.ActivityKind, toolName string) {
	if r.health != nil {
		r.health.RecordActivity(workerID, kind, toolName)
	}
}

// enqueue reports back to the coordinator, logging drops rather than
// blocking the worker.
func (r *Runner) enqueue(ws *models.WorkerSession, task *models.Task, t models.MessageType, content models.MessageContent) {
	msg := models.QueueMessage{
		PlanID:       ws.PlanID,
		TaskID:       task.ID,
		WorkerID:     ws.ID,
		WorktreePath: ws.WorktreePath,
		Type:         t,
		Content:      content,
	}
	if err := r.queue.Enqueue(msg); err != nil {
		log.Printf("[worker] enqueue %s from %s: %v", t, ws.ID, err)
	}
}

func (r *Runner) release(workerID string) {
	r.mu.Lock()
	delete(r.active, workerID)
	r.mu.Unlock()
}

// buildPrompt renders the worker's task briefing, including the reply
// protocol the run loop parses.
func buildPrompt(task *models.Task, ws *models.WorkerSession) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s agent working in %s.\n\n", ws.AgentType, ws.WorktreePath)
	fmt.Fprintf(&b, "Task: %s\n%s\n", task.Name, task.Description)
	if len(task.TargetFiles) > 0 {
		fmt.Fprintf(&b, "\nTarget files: %s\n", strings.Join(task.TargetFiles, ", "))
	}
	b.WriteString(`
Reply protocol:
- If you are blocked on a decision only a human can make, reply with
  "QUESTION: <your question>" and nothing else.
- To delegate independent sub-tasks, reply with "DELEGATE: <json>" where
  the json is {"prompt": "...", "expectedOutput": "...", "targetFiles": [...]}
  or {"subtasks": [<spec>, ...]} for a parallel batch.
- Otherwise reply with your completed work.`)
	return b.String()
}
