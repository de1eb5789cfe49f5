package coordinator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/foreman/internal/bus"
	"github.com/ShayCichocki/foreman/internal/decision"
	"github.com/ShayCichocki/foreman/internal/health"
	"github.com/ShayCichocki/foreman/internal/permission"
	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/internal/worktree"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// WorkerDeployer starts workers and carries messages back to them.
// Implementations own the worker lifecycle; the coordinator only
// decides when to deploy, message, or stop one.
type WorkerDeployer interface {
	// Deploy starts a worker for the task in the given session.
	Deploy(ctx context.Context, task *models.Task, session *models.WorkerSession) error
	// Send delivers a coordinator message to a running worker.
	Send(workerID string, msg models.QueueMessage) error
	// Stop terminates a running worker.
	Stop(workerID string) error
}

// DecisionMaker routes a message through model judgment. Satisfied by
// decision.Router; nil means everything unresolved goes to the inbox.
type DecisionMaker interface {
	HandleWithLLM(ctx context.Context, msg *models.QueueMessage) decision.Outcome
}

// Options wires the coordinator's collaborators. Bus, Permissions, and
// Deployer are required; the rest are optional.
type Options struct {
	Bus         *bus.QueueBus
	Permissions *permission.Engine
	Deployer    WorkerDeployer
	Router      DecisionMaker
	Health      *health.Monitor
	Worktrees   worktree.Provider
	Store       *state.DB
	// EventBuffer sizes the domain event channel (default 64).
	EventBuffer int
	// AgentType is assigned to deployed workers.
	AgentType string
	// MaxWorkers caps concurrently deployed workers (0 = unlimited).
	MaxWorkers int
}

// Coordinator is the top-level state machine. It owns plans, tasks, and
// worker sessions, consumes the queue bus, and maintains the inbox of
// pending user decisions. All task mutations happen on the drain loop.
type Coordinator struct {
	queue       *bus.QueueBus
	permissions *permission.Engine
	deployer    WorkerDeployer
	router      DecisionMaker
	health      *health.Monitor
	worktrees   worktree.Provider
	store       *state.DB
	emitter     *EventEmitter
	inbox       *Inbox
	agentType   string
	maxWorkers  int

	mu      sync.RWMutex
	plans   map[string]*models.Plan
	graphs  map[string]*DependencyGraph
	workers map[string]*models.WorkerSession
}

// New creates a coordinator from the given options.
func New(opts Options) *Coordinator {
	bufferSize := opts.EventBuffer
	if bufferSize <= 0 {
		bufferSize = 64
	}
	agentType := opts.AgentType
	if agentType == "" {
		agentType = "coder"
	}

	return &Coordinator{
		queue:       opts.Bus,
		permissions: opts.Permissions,
		deployer:    opts.Deployer,
		router:      opts.Router,
		health:      opts.Health,
		worktrees:   opts.Worktrees,
		store:       opts.Store,
		emitter:     NewEventEmitter(bufferSize),
		inbox:       NewInbox(),
		agentType:   agentType,
		maxWorkers:  opts.MaxWorkers,
		plans:       make(map[string]*models.Plan),
		graphs:      make(map[string]*DependencyGraph),
		workers:     make(map[string]*models.WorkerSession),
	}
}

// Events returns the coordinator's domain event stream.
func (c *Coordinator) Events() <-chan Event {
	return c.emitter.Events()
}

// Inbox returns the pending-decision inbox.
func (c *Coordinator) Inbox() *Inbox {
	return c.inbox
}

// StartPlan registers a plan, validates its dependency graph, persists
// it, and deploys every task that is ready to run.
func (c *Coordinator) StartPlan(ctx context.Context, plan *models.Plan) error {
	graph := NewDependencyGraph()
	tasks := make([]*models.Task, 0, len(plan.Tasks))
	for _, t := range plan.Tasks {
		tasks = append(tasks, t)
	}
	if err := graph.Build(tasks); err != nil {
		return fmt.Errorf("start plan %s: %w", plan.ID, err)
	}

	c.mu.Lock()
	c.plans[plan.ID] = plan
	c.graphs[plan.ID] = graph
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.SavePlan(plan); err != nil {
			return fmt.Errorf("persist plan %s: %w", plan.ID, err)
		}
		for _, t := range tasks {
			if err := c.store.SaveTask(t); err != nil {
				return fmt.Errorf("persist task %s: %w", t.ID, err)
			}
		}
	}

	c.deployReady(ctx, plan.ID)
	return nil
}

// Run drains the queue bus and the health monitor until the context is
// cancelled or the bus closes.
func (c *Coordinator) Run(ctx context.Context) {
	var healthEvents <-chan health.Event
	if c.health != nil {
		healthEvents = c.health.Events()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.queue.Messages():
			if !ok {
				return
			}
			c.Handle(ctx, msg)
		case ev := <-healthEvents:
			c.handleHealthEvent(ev)
		}
	}
}

// Handle dispatches one bus message. Exposed for tests and for callers
// that drive the loop themselves.
func (c *Coordinator) Handle(ctx context.Context, msg models.QueueMessage) {
	if c.health != nil && msg.WorkerID != "" {
		kind := health.ActivityMessage
		if msg.Type == models.MessageError {
			kind = health.ActivityError
		}
		c.health.RecordActivity(msg.WorkerID, kind, "")
	}

	switch msg.Type {
	case models.MessagePermissionRequest:
		c.handlePermissionRequest(msg)
	case models.MessageQuestion, models.MessageApprovalRequest:
		c.handleJudgmentMessage(ctx, msg)
	case models.MessageStatusUpdate:
		c.handleStatusUpdate(msg)
	case models.MessageCompletion:
		c.handleCompletion(ctx, msg)
	case models.MessageError:
		c.handleError(ctx, msg)
	case models.MessageRetryRequest:
		c.handleRetryRequest(ctx, msg)
	case models.MessageAnswer, models.MessageApprovalResponse, models.MessageRefinement:
		// Replies addressed to a worker pass straight through.
		c.sendToWorker(msg.WorkerID, msg)
	default:
		log.Printf("[coordinator] unhandled message type %q from %s", msg.Type, msg.WorkerID)
	}
}

// handlePermissionRequest consults the policy engine. Allow and deny
// resolve silently back to the worker; only ask_user reaches the inbox.
func (c *Coordinator) handlePermissionRequest(msg models.QueueMessage) {
	action := msg.Content.Action()
	c.recordThread(msg.WorkerID, msg.ID, "worker", msg.Content.String())

	switch c.permissions.Evaluate(action) {
	case permission.DecisionAllow:
		c.resolveExchange(msg, models.MessageApprovalResponse, "coordinator",
			fmt.Sprintf("approved: %s", action))
	case permission.DecisionDeny:
		c.resolveExchange(msg, models.MessageApprovalResponse, "coordinator",
			fmt.Sprintf("denied by policy: %s", action))
	default:
		c.addInboxItem(msg, true)
	}
}

// handleJudgmentMessage routes questions and approval requests through
// the decision maker when one is configured. Anything it cannot resolve
// lands in the inbox with RequiresUserAction set.
func (c *Coordinator) handleJudgmentMessage(ctx context.Context, msg models.QueueMessage) {
	c.recordThread(msg.WorkerID, msg.ID, "worker", msg.Content.String())

	if c.router == nil {
		c.addInboxItem(msg, true)
		return
	}

	outcome := c.router.HandleWithLLM(ctx, &msg)
	switch outcome.Action {
	case decision.ActionRespond:
		c.resolveExchange(msg, models.MessageAnswer, "coordinator", outcome.Payload)
	case decision.ActionApprove:
		c.resolveExchange(msg, models.MessageApprovalResponse, "coordinator", "approved: "+outcome.Payload)
	case decision.ActionDeny:
		c.resolveExchange(msg, models.MessageApprovalResponse, "coordinator", "denied: "+outcome.Payload)
	default:
		c.addInboxItem(msg, true)
	}
}

// handleStatusUpdate reacts to worker progress reports. An idle report
// becomes a domain event for the operator surface.
func (c *Coordinator) handleStatusUpdate(msg models.QueueMessage) {
	if strings.EqualFold(strings.TrimSpace(msg.Content.String()), "idle") {
		c.emitter.Emit(Event{
			Type:     EventWorkerIdle,
			PlanID:   msg.PlanID,
			TaskID:   msg.TaskID,
			WorkerID: msg.WorkerID,
		})
	}
}

// handleCompletion marks the task completed, releases the worker, and
// deploys any tasks the completion unblocked.
func (c *Coordinator) handleCompletion(ctx context.Context, msg models.QueueMessage) {
	task := c.finishTask(msg.PlanID, msg.TaskID, models.TaskStatusCompleted, "")
	if task == nil {
		return
	}

	c.emitter.Emit(Event{
		Type:     EventTaskCompleted,
		PlanID:   msg.PlanID,
		TaskID:   msg.TaskID,
		WorkerID: msg.WorkerID,
	})

	c.releaseWorker(msg.WorkerID)
	c.deployReady(ctx, msg.PlanID)
	c.checkPlanDone(msg.PlanID)
}

// handleError marks the task failed, then routes the error through the
// decision maker. Retry redeploys; cancel stops; everything else, and
// any model failure, escalates to the inbox.
func (c *Coordinator) handleError(ctx context.Context, msg models.QueueMessage) {
	task := c.finishTask(msg.PlanID, msg.TaskID, models.TaskStatusFailed, msg.Content.String())
	if task != nil {
		c.emitter.Emit(Event{
			Type:     EventTaskFailed,
			PlanID:   msg.PlanID,
			TaskID:   msg.TaskID,
			WorkerID: msg.WorkerID,
			Reason:   msg.Content.String(),
		})
	}
	c.releaseWorker(msg.WorkerID)

	if c.router == nil {
		c.addInboxItem(msg, true)
		c.deployReady(ctx, msg.PlanID)
		c.checkPlanDone(msg.PlanID)
		return
	}

	outcome := c.router.HandleWithLLM(ctx, &msg)
	switch outcome.Action {
	case decision.ActionRetry:
		c.retryTask(ctx, msg.PlanID, msg.TaskID, outcome.Payload)
	case decision.ActionCancel:
		c.cancelTask(msg.PlanID, msg.TaskID, outcome.Payload)
	default:
		c.addInboxItem(msg, true)
	}
	c.deployReady(ctx, msg.PlanID)
	c.checkPlanDone(msg.PlanID)
}

// handleRetryRequest redeploys a failed task at the worker's request.
func (c *Coordinator) handleRetryRequest(ctx context.Context, msg models.QueueMessage) {
	c.retryTask(ctx, msg.PlanID, msg.TaskID, msg.Content.String())
}

// handleHealthEvent surfaces monitor findings as domain events. The
// monitor never kills a worker; acting on the event is the operator's
// call.
func (c *Coordinator) handleHealthEvent(ev health.Event) {
	switch ev.Kind {
	case health.EventUnhealthy:
		c.emitter.Emit(Event{
			Type:     EventWorkerUnhealthy,
			WorkerID: ev.WorkerID,
			Reason:   string(ev.Reason),
		})
	case health.EventIdle:
		c.emitter.Emit(Event{
			Type:     EventWorkerIdle,
			WorkerID: ev.WorkerID,
		})
		if c.health != nil {
			c.health.MarkIdleInquirySent(ev.WorkerID)
		}
		c.sendToWorker(ev.WorkerID, models.QueueMessage{
			WorkerID: ev.WorkerID,
			Type:     models.MessageRefinement,
			Content:  models.TextContent("You have been idle. Report status or continue your task."),
		})
	case health.EventProgressCheckDue:
		if c.health != nil {
			c.health.MarkProgressCheckSent(ev.WorkerID)
		}
		c.sendToWorker(ev.WorkerID, models.QueueMessage{
			WorkerID: ev.WorkerID,
			Type:     models.MessageRefinement,
			Content:  models.TextContent("Progress check: summarize what you have done and what remains."),
		})
	}
}

// Inbox operations

// ProcessInboxItem removes a pending item and routes the user's
// response back to the worker that raised it.
func (c *Coordinator) ProcessInboxItem(id, responseText string) error {
	item, err := c.inbox.Take(id)
	if err != nil {
		return err
	}

	replyType := models.MessageAnswer
	if item.Message.Type == models.MessageApprovalRequest || item.Message.Type == models.MessagePermissionRequest {
		replyType = models.MessageApprovalResponse
	}
	c.resolveExchange(item.Message, replyType, "user", responseText)

	c.auditInbox(item, "processed", responseText)
	return nil
}

// DeferInboxItem removes a pending item without acting on it, recording
// the user's note. The underlying request stays unresolved.
func (c *Coordinator) DeferInboxItem(id, note string) error {
	item, err := c.inbox.Take(id)
	if err != nil {
		return err
	}
	item.DeferredNote = note

	c.auditInbox(item, "deferred", note)
	return nil
}

// auditInbox writes the inbox decision to the store when one is wired.
func (c *Coordinator) auditInbox(item *models.InboxItem, action, note string) {
	if c.store == nil {
		return
	}
	err := c.store.RecordInboxAction(&state.InboxAuditEntry{
		ID:          item.ID,
		PlanID:      item.Message.PlanID,
		MessageType: string(item.Message.Type),
		Action:      action,
		Note:        note,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		log.Printf("[coordinator] inbox audit failed for %s: %v", item.ID, err)
	}
}

// Internal plumbing

// addInboxItem promotes a message to the inbox and emits the event.
func (c *Coordinator) addInboxItem(msg models.QueueMessage, requiresUserAction bool) {
	c.inbox.Add(msg, requiresUserAction)
	c.emitter.Emit(Event{
		Type:     EventInboxItemAdded,
		PlanID:   msg.PlanID,
		TaskID:   msg.TaskID,
		WorkerID: msg.WorkerID,
		Reason:   string(msg.Type),
	})
}

// recordThread appends one exchange entry to the worker session's
// conversation thread. The originating message id is the topic, so a
// request and every reply to it share a thread. No-op once the session
// is gone.
func (c *Coordinator) recordThread(workerID, topic, role, text string) {
	if workerID == "" || topic == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	session, ok := c.workers[workerID]
	if !ok {
		return
	}
	session.Thread(topic).Append(role, text)
}

// resolveExchange records the reply in the session thread, marks the
// thread resolved, and delivers the reply to the worker.
func (c *Coordinator) resolveExchange(msg models.QueueMessage, t models.MessageType, role, text string) {
	c.recordThread(msg.WorkerID, msg.ID, role, text)
	c.markThreadResolved(msg.WorkerID, msg.ID)
	c.sendToWorker(msg.WorkerID, c.reply(msg, t, models.TextContent(text)))
}

// markThreadResolved settles the thread for a topic, if one exists.
func (c *Coordinator) markThreadResolved(workerID, topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session, ok := c.workers[workerID]
	if !ok {
		return
	}
	if thread, ok := session.Threads[topic]; ok {
		thread.Resolve()
	}
}

// reply builds a coordinator-to-worker message answering msg.
func (c *Coordinator) reply(msg models.QueueMessage, t models.MessageType, content models.MessageContent) models.QueueMessage {
	return models.QueueMessage{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Priority:  models.PriorityNormal,
		PlanID:    msg.PlanID,
		TaskID:    msg.TaskID,
		WorkerID:  msg.WorkerID,
		Type:      t,
		Content:   content,
	}
}

// sendToWorker delivers a message, tolerating workers that are already
// gone.
func (c *Coordinator) sendToWorker(workerID string, msg models.QueueMessage) {
	if workerID == "" || c.deployer == nil {
		return
	}
	if err := c.deployer.Send(workerID, msg); err != nil {
		log.Printf("[coordinator] send to worker %s: %v", workerID, err)
	}
}

// finishTask moves a task to a terminal state and persists it. Returns
// nil when the plan or task is unknown or the task already terminal.
func (c *Coordinator) finishTask(planID, taskID string, status models.TaskStatus, errText string) *models.Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	plan, ok := c.plans[planID]
	if !ok {
		return nil
	}
	task, ok := plan.Tasks[taskID]
	if !ok || task.Status.Terminal() {
		return nil
	}

	now := time.Now()
	task.Status = status
	task.CompletedAt = &now
	if errText != "" {
		task.Error = errText
	}
	if status == models.TaskStatusCompleted {
		c.graphs[planID].MarkComplete(taskID)
	}

	c.persistTask(task)
	return task
}

// retryTask puts a terminal task back into rotation with guidance.
func (c *Coordinator) retryTask(ctx context.Context, planID, taskID, guidance string) {
	c.mu.Lock()
	plan, ok := c.plans[planID]
	if !ok {
		c.mu.Unlock()
		return
	}
	task, ok := plan.Tasks[taskID]
	if !ok {
		c.mu.Unlock()
		return
	}
	task.Status = models.TaskStatusReady
	task.Error = ""
	task.CompletedAt = nil
	task.WorkerID = ""
	if guidance != "" {
		task.Description = task.Description + "\n\nRetry guidance: " + guidance
	}
	c.persistTask(task)
	c.mu.Unlock()

	c.deployTask(ctx, task)
}

// cancelTask moves a task to cancelled and emits the event.
func (c *Coordinator) cancelTask(planID, taskID, reason string) {
	if task := c.finishTask(planID, taskID, models.TaskStatusCancelled, reason); task != nil {
		c.emitter.Emit(Event{
			Type:   EventTaskCancelled,
			PlanID: planID,
			TaskID: taskID,
			Reason: reason,
		})
	}
}

// CancelTask cancels a task on behalf of the user, stopping its worker
// if one is running.
func (c *Coordinator) CancelTask(planID, taskID, reason string) {
	c.mu.RLock()
	var workerID string
	if plan, ok := c.plans[planID]; ok {
		if task, ok := plan.Tasks[taskID]; ok {
			workerID = task.WorkerID
		}
	}
	c.mu.RUnlock()

	if workerID != "" && c.deployer != nil {
		if err := c.deployer.Stop(workerID); err != nil {
			log.Printf("[coordinator] stop worker %s: %v", workerID, err)
		}
		c.releaseWorker(workerID)
	}
	c.cancelTask(planID, taskID, reason)
	c.checkPlanDone(planID)
}

// deployReady deploys tasks whose dependencies are satisfied, up to the
// worker cap.
func (c *Coordinator) deployReady(ctx context.Context, planID string) {
	c.mu.Lock()
	graph, ok := c.graphs[planID]
	if !ok {
		c.mu.Unlock()
		return
	}
	capacity := -1
	if c.maxWorkers > 0 {
		capacity = c.maxWorkers - len(c.workers)
	}
	var toDeploy []*models.Task
	for _, id := range graph.GetReady() {
		if capacity == 0 {
			break
		}
		task := graph.GetTask(id)
		if task != nil && task.Status != models.TaskStatusRunning {
			toDeploy = append(toDeploy, task)
			if capacity > 0 {
				capacity--
			}
		}
	}
	c.mu.Unlock()

	for _, task := range toDeploy {
		c.deployTask(ctx, task)
	}
}

// deployTask creates a worker session (and worktree when a provider is
// wired) and hands the task to the deployer.
func (c *Coordinator) deployTask(ctx context.Context, task *models.Task) {
	if c.deployer == nil {
		return
	}

	session := &models.WorkerSession{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		PlanID:    task.PlanID,
		AgentType: c.agentType,
		Depth:     0,
		Threads:   make(map[string]*models.ConversationThread),
		StartedAt: time.Now(),
	}

	if c.worktrees != nil {
		wt, err := c.worktrees.Create(session.ID)
		if err != nil {
			log.Printf("[coordinator] create worktree for task %s: %v", task.ID, err)
			return
		}
		session.WorktreePath = wt.Path
	}

	if err := c.deployer.Deploy(ctx, task, session); err != nil {
		log.Printf("[coordinator] deploy task %s: %v", task.ID, err)
		c.cleanupSessionWorktree(session)
		return
	}

	c.mu.Lock()
	task.Status = models.TaskStatusRunning
	task.WorkerID = session.ID
	c.workers[session.ID] = session
	c.persistTask(task)
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.SaveWorker(session); err != nil {
			log.Printf("[coordinator] persist worker %s: %v", session.ID, err)
		}
	}
	if c.health != nil {
		c.health.StartMonitoring(session.ID)
	}

	c.emitter.Emit(Event{
		Type:     EventTaskStarted,
		PlanID:   task.PlanID,
		TaskID:   task.ID,
		WorkerID: session.ID,
	})
}

// releaseWorker tears down a worker session: monitoring, worktree, and
// persisted state.
func (c *Coordinator) releaseWorker(workerID string) {
	if workerID == "" {
		return
	}

	c.mu.Lock()
	session, ok := c.workers[workerID]
	if ok {
		delete(c.workers, workerID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if c.health != nil {
		c.health.StopMonitoring(workerID)
	}
	c.cleanupSessionWorktree(session)
	if c.store != nil {
		if err := c.store.DeleteWorker(workerID); err != nil {
			log.Printf("[coordinator] delete worker %s: %v", workerID, err)
		}
	}
}

// cleanupSessionWorktree removes the session's checkout if one exists.
func (c *Coordinator) cleanupSessionWorktree(session *models.WorkerSession) {
	if c.worktrees == nil || session.WorktreePath == "" {
		return
	}
	if err := c.worktrees.Remove(session.WorktreePath, true); err != nil {
		log.Printf("[coordinator] remove worktree %s: %v", session.WorktreePath, err)
	}
}

// checkPlanDone emits EventPlanDone once every task is terminal.
func (c *Coordinator) checkPlanDone(planID string) {
	c.mu.RLock()
	plan, ok := c.plans[planID]
	if !ok {
		c.mu.RUnlock()
		return
	}
	done := len(plan.Tasks) > 0
	for _, t := range plan.Tasks {
		if !t.Status.Terminal() {
			done = false
			break
		}
	}
	c.mu.RUnlock()

	if done {
		c.emitter.Emit(Event{Type: EventPlanDone, PlanID: planID})
	}
}

// persistTask writes a task through to the store. Caller may hold c.mu;
// the store has its own locking.
func (c *Coordinator) persistTask(task *models.Task) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveTask(task); err != nil {
		log.Printf("[coordinator] persist task %s: %v", task.ID, err)
	}
}

// Worker returns the session for a worker id, if it is still active.
func (c *Coordinator) Worker(workerID string) (*models.WorkerSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.workers[workerID]
	return s, ok
}

// Plan returns a registered plan by id, or nil.
func (c *Coordinator) Plan(planID string) *models.Plan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.plans[planID]
}
