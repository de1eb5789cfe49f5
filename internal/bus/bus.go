// Package bus provides the ordered message channel between workers and
// the coordinator. Many workers enqueue concurrently; a single consumer
// drains, which is what gives per-plan FIFO delivery. No ordering is
// guaranteed across plans.
package bus

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// ErrClosed is returned by Enqueue after the bus has been closed.
var ErrClosed = errors.New("queue bus is closed")

// ErrDropped is returned by Enqueue when the bus stays full past the
// grace window and the message is discarded.
var ErrDropped = errors.New("queue bus full, message dropped")

// DefaultBufferSize is the enqueue buffer used when none is given.
const DefaultBufferSize = 256

// enqueueGrace is how long a full bus waits for the consumer to drain
// before dropping the message.
const enqueueGrace = 100 * time.Millisecond

// QueueBus carries queue messages from workers to the coordinator.
// Enqueue never blocks the caller beyond a short grace window; delivery
// is asynchronous and each message is consumed exactly once.
type QueueBus struct {
	messages chan models.QueueMessage

	mu     sync.RWMutex
	closed bool

	droppedCount atomic.Uint64
}

// New creates a bus with the given buffer size (DefaultBufferSize if <= 0).
func New(bufferSize int) *QueueBus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &QueueBus{
		messages: make(chan models.QueueMessage, bufferSize),
	}
}

// Enqueue places a message on the bus. Missing ID, timestamp, and priority
// fields are filled in; the message is immutable after this call. A full
// bus returns ErrDropped after the grace window so callers can retry or
// surface the loss.
func (b *QueueBus) Enqueue(msg models.QueueMessage) error {
	if !msg.Type.Valid() {
		return errors.New("unknown message type: " + string(msg.Type))
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.Priority == "" {
		msg.Priority = models.PriorityNormal
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	// Try immediate send first.
	select {
	case b.messages <- msg:
		return nil
	default:
	}

	// Buffer full: give the consumer a short window to drain before dropping.
	select {
	case b.messages <- msg:
		return nil
	case <-time.After(enqueueGrace):
		count := b.droppedCount.Add(1)
		if count%10 == 1 { // Log every 10th drop to avoid spam
			log.Printf("[bus] WARNING: bus full, dropped message (total dropped: %d): type=%s plan=%s",
				count, msg.Type, msg.PlanID)
		}
		return ErrDropped
	}
}

// Messages returns the consumer channel. The coordinator is the single
// logical consumer; each message is delivered exactly once.
func (b *QueueBus) Messages() <-chan models.QueueMessage {
	return b.messages
}

// DroppedCount returns the total number of messages dropped on a full bus.
func (b *QueueBus) DroppedCount() uint64 {
	return b.droppedCount.Load()
}

// Len returns the number of messages waiting to be consumed.
func (b *QueueBus) Len() int {
	return len(b.messages)
}

// Close stops the bus. Subsequent Enqueue calls return ErrClosed; the
// consumer channel is closed once, letting the coordinator loop exit.
func (b *QueueBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.messages)
}
