// Package coordinator owns the task/plan graph, drains the queue bus,
// and routes every worker event to policy, model judgment, or the
// user's inbox.
package coordinator

import (
	"log"
	"sync/atomic"
	"time"
)

// EventType identifies a domain event emitted by the coordinator.
type EventType string

const (
	// EventTaskStarted indicates a worker was deployed for a task.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed.
	EventTaskFailed EventType = "task_failed"
	// EventTaskCancelled indicates a task was cancelled before completion.
	EventTaskCancelled EventType = "task_cancelled"
	// EventWorkerIdle indicates a worker reported an idle status.
	EventWorkerIdle EventType = "worker_idle"
	// EventWorkerUnhealthy indicates the health monitor flagged a worker.
	EventWorkerUnhealthy EventType = "worker_unhealthy"
	// EventInboxItemAdded indicates a message was promoted to the inbox.
	EventInboxItemAdded EventType = "inbox_item_added"
	// EventPlanDone indicates every task in a plan reached a terminal state.
	EventPlanDone EventType = "plan_done"
)

// Event is one coordinator domain event with a tagged payload.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// PlanID is the related plan, if applicable.
	PlanID string
	// TaskID is the related task, if applicable.
	TaskID string
	// WorkerID is the related worker, if applicable.
	WorkerID string
	// Reason carries the health reason or failure detail.
	Reason string
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// EventEmitter fans coordinator events out to one consumer (UI or
// telemetry). Emission never blocks the coordinator loop.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
}

// NewEventEmitter creates an emitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, bufferSize),
	}
}

// Emit sends an event. If the channel is full it retries briefly, then
// drops the event and counts the drop.
func (e *EventEmitter) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case e.events <- event:
		return
	default:
	}

	// Give a slow consumer a moment to drain before dropping.
	select {
	case e.events <- event:
		return
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			log.Printf("[coordinator] WARNING: event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the total number of events dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns the read-only event channel for subscribers.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the event channel.
func (e *EventEmitter) Close() {
	close(e.events)
}
