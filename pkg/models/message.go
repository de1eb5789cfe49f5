package models

import "time"

// MessageType identifies the kind of message a worker puts on the queue bus.
type MessageType string

const (
	// MessageStatusUpdate reports worker progress or state ("idle", "working on X").
	MessageStatusUpdate MessageType = "status_update"
	// MessageQuestion asks the coordinator (or the user) for guidance.
	MessageQuestion MessageType = "question"
	// MessageError reports a failure the worker could not resolve.
	MessageError MessageType = "error"
	// MessageCompletion reports that the worker's task is finished.
	MessageCompletion MessageType = "completion"
	// MessageApprovalRequest asks for approval before a sensitive operation.
	MessageApprovalRequest MessageType = "approval_request"
	// MessageApprovalResponse carries the answer to a prior approval request.
	MessageApprovalResponse MessageType = "approval_response"
	// MessagePermissionRequest asks the policy engine whether an action is allowed.
	MessagePermissionRequest MessageType = "permission_request"
	// MessageRetryRequest asks the coordinator to re-run a failed task.
	MessageRetryRequest MessageType = "retry_request"
	// MessageAnswer carries the answer to a prior question.
	MessageAnswer MessageType = "answer"
	// MessageRefinement carries updated instructions for a running worker.
	MessageRefinement MessageType = "refinement"
)

// Valid returns true if the message type is a known value.
func (t MessageType) Valid() bool {
	switch t {
	case MessageStatusUpdate, MessageQuestion, MessageError, MessageCompletion,
		MessageApprovalRequest, MessageApprovalResponse, MessagePermissionRequest,
		MessageRetryRequest, MessageAnswer, MessageRefinement:
		return true
	default:
		return false
	}
}

// MessagePriority orders messages for presentation in the inbox.
type MessagePriority string

const (
	// PriorityLow is for informational traffic.
	PriorityLow MessagePriority = "low"
	// PriorityNormal is the default priority.
	PriorityNormal MessagePriority = "normal"
	// PriorityHigh is for messages that block a worker until handled.
	PriorityHigh MessagePriority = "high"
)

// MessageContent is the payload of a queue message. The wire contract allows
// either a plain string or a structured object; the two are kept as separate
// fields so consumers never type-switch on interface{}.
type MessageContent struct {
	// Text is the plain-string form (status updates, questions, errors).
	Text string `json:"text,omitempty"`
	// Data is the structured form (permission requests, completion reports).
	Data map[string]any `json:"data,omitempty"`
}

// TextContent builds a plain-string payload.
func TextContent(text string) MessageContent {
	return MessageContent{Text: text}
}

// DataContent builds a structured payload.
func DataContent(data map[string]any) MessageContent {
	return MessageContent{Data: data}
}

// IsStructured returns true if the payload carries a structured object.
func (c MessageContent) IsStructured() bool {
	return c.Data != nil
}

// String returns the best human-readable form of the payload.
func (c MessageContent) String() string {
	if c.Text != "" {
		return c.Text
	}
	if v, ok := c.Data["description"].(string); ok {
		return v
	}
	if v, ok := c.Data["action"].(string); ok {
		return v
	}
	return ""
}

// Action returns the action name from a structured permission payload.
// Falls back to the text payload for string-form permission requests.
func (c MessageContent) Action() string {
	if v, ok := c.Data["action"].(string); ok {
		return v
	}
	return c.Text
}

// QueueMessage is a single message on the queue bus. Messages are immutable
// once enqueued and consumed exactly once by the coordinator.
type QueueMessage struct {
	// ID is the unique identifier for this message.
	ID string `json:"id"`
	// Timestamp is when the message was enqueued.
	Timestamp time.Time `json:"timestamp"`
	// Priority is the message priority (low, normal, high).
	Priority MessagePriority `json:"priority"`
	// PlanID is the plan the sending worker belongs to.
	PlanID string `json:"planId"`
	// TaskID is the task the sending worker is executing.
	TaskID string `json:"taskId"`
	// WorkerID identifies the sending worker.
	WorkerID string `json:"workerId"`
	// WorktreePath is the sending worker's isolated checkout.
	WorktreePath string `json:"worktreePath"`
	// Type is the message kind.
	Type MessageType `json:"type"`
	// Content is the message payload, plain or structured.
	Content MessageContent `json:"content"`
}

// InboxItem wraps a queue message that needs user attention.
type InboxItem struct {
	// ID is the unique identifier for this inbox item.
	ID string `json:"id"`
	// Message is the queue message that was promoted to the inbox.
	Message QueueMessage `json:"message"`
	// RequiresUserAction is true when the item blocks a worker until resolved.
	RequiresUserAction bool `json:"requiresUserAction"`
	// CreatedAt is when the item entered the inbox.
	CreatedAt time.Time `json:"createdAt"`
	// DeferredNote records the user's note when the item was deferred.
	DeferredNote string `json:"deferredNote,omitempty"`
}
