package models

import "time"

// ThreadStatus represents the state of a conversation thread.
type ThreadStatus string

const (
	// ThreadActive indicates the thread is awaiting further messages.
	ThreadActive ThreadStatus = "active"
	// ThreadResolved indicates the thread's topic has been settled.
	ThreadResolved ThreadStatus = "resolved"
)

// ThreadMessage is a single entry in a conversation thread.
type ThreadMessage struct {
	// Role identifies the author ("worker", "coordinator", "user").
	Role string `json:"role"`
	// Text is the message body.
	Text string `json:"text"`
	// Timestamp is when the message was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// ConversationThread is a topic-scoped message list between a worker and
// the coordinator (questions, approvals, refinements).
type ConversationThread struct {
	// Topic is the thread subject, usually the originating message ID.
	Topic string `json:"topic"`
	// Status is active while the topic is unresolved.
	Status ThreadStatus `json:"status"`
	// Messages are the thread entries in order.
	Messages []ThreadMessage `json:"messages"`
}

// WorkerSession is one ephemeral worker bound to a task and a worktree.
// Health metrics for the session are owned by the health monitor, not
// stored here.
type WorkerSession struct {
	// ID is the unique identifier for this worker.
	ID string `json:"id"`
	// TaskID is the task the worker is executing.
	TaskID string `json:"task_id"`
	// PlanID is the plan the task belongs to.
	PlanID string `json:"plan_id"`
	// WorktreePath is the worker's isolated checkout.
	WorktreePath string `json:"worktree_path"`
	// AgentType selects the agent profile used to drive the worker.
	AgentType string `json:"agent_type"`
	// Depth is the delegation depth; 0 for workers deployed by the
	// coordinator, parent depth + 1 for sub-task workers.
	Depth int `json:"depth"`
	// Threads holds conversation threads keyed by topic.
	Threads map[string]*ConversationThread `json:"threads,omitempty"`
	// StartedAt is when the worker was deployed.
	StartedAt time.Time `json:"started_at"`
}

// Thread returns the conversation thread for a topic, creating it if needed.
func (w *WorkerSession) Thread(topic string) *ConversationThread {
	if w.Threads == nil {
		w.Threads = make(map[string]*ConversationThread)
	}
	th, ok := w.Threads[topic]
	if !ok {
		th = &ConversationThread{Topic: topic, Status: ThreadActive}
		w.Threads[topic] = th
	}
	return th
}

// Append adds a message to the thread.
func (t *ConversationThread) Append(role, text string) {
	t.Messages = append(t.Messages, ThreadMessage{
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	})
}

// Resolve marks the thread's topic as settled.
func (t *ConversationThread) Resolve() {
	t.Status = ThreadResolved
}
