// Package health tracks per-worker liveness. Workers record activity as
// it happens; a single shared sweep timer detects idle and stuck workers.
// The monitor only reports: it never terminates a worker itself.
package health

import (
	"log"
	"sync"
	"time"
)

// ActivityKind classifies a recorded worker activity.
type ActivityKind string

const (
	// ActivityToolCall is a tool invocation by the worker.
	ActivityToolCall ActivityKind = "tool_call"
	// ActivityMessage is conversational output from the worker.
	ActivityMessage ActivityKind = "message"
	// ActivityError is a failed operation reported by the worker.
	ActivityError ActivityKind = "error"
	// ActivitySuccess is a successful operation, resetting the error streak.
	ActivitySuccess ActivityKind = "success"
)

// EventKind classifies a monitor event.
type EventKind string

const (
	// EventUnhealthy signals a stuck, looping, or error-heavy worker.
	EventUnhealthy EventKind = "unhealthy"
	// EventIdle signals a worker with no recent activity.
	EventIdle EventKind = "idle"
	// EventProgressCheckDue signals a long-executing worker that should be
	// asked for a progress report.
	EventProgressCheckDue EventKind = "progress_check_due"
)

// UnhealthyReason explains an EventUnhealthy.
type UnhealthyReason string

const (
	// ReasonStuck means no activity for longer than the stuck timeout.
	ReasonStuck UnhealthyReason = "stuck"
	// ReasonLooping means the worker repeated the same tool call.
	ReasonLooping UnhealthyReason = "looping"
	// ReasonHighErrorRate means too many consecutive errors.
	ReasonHighErrorRate UnhealthyReason = "high_error_rate"
)

// Event is a tagged monitor notification.
type Event struct {
	// Kind is the event class.
	Kind EventKind
	// WorkerID is the affected worker.
	WorkerID string
	// Reason is set for EventUnhealthy.
	Reason UnhealthyReason
	// Timestamp is when the monitor raised the event.
	Timestamp time.Time
}

// Config holds monitor thresholds.
type Config struct {
	// SweepInterval is how often the shared sweep runs.
	SweepInterval time.Duration
	// IdleTimeout is how long without activity before a non-executing
	// worker is considered idle.
	IdleTimeout time.Duration
	// StuckTimeout is how long without activity before a worker is
	// considered stuck, executing or not.
	StuckTimeout time.Duration
	// LoopThreshold is how many identical consecutive tool calls mark a
	// worker as looping.
	LoopThreshold int
	// ErrorThreshold is how many consecutive errors mark a worker as
	// unhealthy.
	ErrorThreshold int
	// ProgressCheckInterval is how often a long-executing worker is due
	// for a progress check.
	ProgressCheckInterval time.Duration
}

// DefaultConfig returns the standard monitor thresholds.
func DefaultConfig() Config {
	return Config{
		SweepInterval:         30 * time.Second,
		IdleTimeout:           30 * time.Second,
		StuckTimeout:          5 * time.Minute,
		LoopThreshold:         5,
		ErrorThreshold:        5,
		ProgressCheckInterval: 5 * time.Minute,
	}
}

// Metrics is the health state tracked for one worker. Snapshot copies are
// returned to callers; the monitor owns the live state.
type Metrics struct {
	// LastActivity is when the worker last recorded any activity.
	LastActivity time.Time
	// ConsecutiveFailures counts errors since the last success.
	ConsecutiveFailures int
	// ToolCallCount counts tool calls since monitoring started.
	ToolCallCount int
	// IsStuck is set by the sweep when StuckTimeout elapses.
	IsStuck bool
	// IsLooping is set when the recent tool calls are all identical.
	IsLooping bool
	// IsIdle is set by the sweep when IdleTimeout elapses while not executing.
	IsIdle bool
	// IsExecuting is true between MarkExecutionStart and MarkExecutionEnd.
	IsExecuting bool
	// IdleInquiryPending is true while an idle inquiry awaits a response.
	IdleInquiryPending bool
	// IdleInquirySentAt is when the pending idle inquiry was sent.
	IdleInquirySentAt time.Time
	// LastProgressCheckAt is when the last progress check fired or was marked sent.
	LastProgressCheckAt time.Time
	// RecentToolCalls is a bounded buffer of recent tool names.
	RecentToolCalls []string
}

// Monitor watches all registered workers with one shared sweep timer.
// The timer starts lazily when the first worker registers and stops when
// the last worker unregisters.
type Monitor struct {
	cfg   Config
	clock Clock

	mu      sync.Mutex
	workers map[string]*Metrics

	ticker Ticker
	stopCh chan struct{}

	events chan Event
}

// NewMonitor creates a monitor with the given config and clock. Zero
// config fields fall back to defaults.
func NewMonitor(cfg Config, clock Clock) *Monitor {
	def := DefaultConfig()
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.StuckTimeout <= 0 {
		cfg.StuckTimeout = def.StuckTimeout
	}
	if cfg.LoopThreshold <= 0 {
		cfg.LoopThreshold = def.LoopThreshold
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = def.ErrorThreshold
	}
	if cfg.ProgressCheckInterval <= 0 {
		cfg.ProgressCheckInterval = def.ProgressCheckInterval
	}
	if clock == nil {
		clock = NewClock()
	}
	return &Monitor{
		cfg:     cfg,
		clock:   clock,
		workers: make(map[string]*Metrics),
		events:  make(chan Event, 64),
	}
}

// Events returns the channel of monitor notifications.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// StartMonitoring registers a worker. The shared sweep timer starts with
// the first registration.
func (m *Monitor) StartMonitoring(workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workers[workerID]; ok {
		return
	}
	now := m.clock.Now()
	m.workers[workerID] = &Metrics{
		LastActivity:        now,
		LastProgressCheckAt: now,
	}

	if m.ticker == nil {
		m.ticker = m.clock.NewTicker(m.cfg.SweepInterval)
		m.stopCh = make(chan struct{})
		go m.sweepLoop(m.ticker, m.stopCh)
		log.Printf("[health] sweep started (interval %v)", m.cfg.SweepInterval)
	}
}

// StopMonitoring unregisters a worker. The sweep timer stops with the
// last unregistration.
func (m *Monitor) StopMonitoring(workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.workers, workerID)

	if len(m.workers) == 0 && m.ticker != nil {
		m.ticker.Stop()
		close(m.stopCh)
		m.ticker = nil
		m.stopCh = nil
		log.Printf("[health] sweep stopped, no workers monitored")
	}
}

// sweepLoop drives periodic sweeps until the stop channel closes.
func (m *Monitor) sweepLoop(ticker Ticker, stop chan struct{}) {
	for {
		select {
		case <-ticker.C():
			m.Sweep()
		case <-stop:
			return
		}
	}
}

// RecordActivity records a worker activity. Any activity resets the
// activity timestamp, clears stuck/idle flags, and clears a pending idle
// inquiry. Tool names are only consulted for ActivityToolCall.
func (m *Monitor) RecordActivity(workerID string, kind ActivityKind, toolName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID]
	if !ok {
		return
	}

	w.LastActivity = m.clock.Now()
	w.IsStuck = false
	w.IsIdle = false
	w.IdleInquiryPending = false
	w.IdleInquirySentAt = time.Time{}

	switch kind {
	case ActivityToolCall:
		w.ToolCallCount++
		w.RecentToolCalls = append(w.RecentToolCalls, toolName)
		if max := 2 * m.cfg.LoopThreshold; len(w.RecentToolCalls) > max {
			w.RecentToolCalls = w.RecentToolCalls[len(w.RecentToolCalls)-max:]
		}
		if !w.IsLooping && m.isLoopingLocked(w) {
			w.IsLooping = true
			m.emit(Event{Kind: EventUnhealthy, WorkerID: workerID, Reason: ReasonLooping})
		}
	case ActivityMessage:
		// Natural conversation breaks loops.
		w.RecentToolCalls = nil
		w.IsLooping = false
	case ActivityError:
		w.ConsecutiveFailures++
		if w.ConsecutiveFailures == m.cfg.ErrorThreshold {
			m.emit(Event{Kind: EventUnhealthy, WorkerID: workerID, Reason: ReasonHighErrorRate})
		}
	case ActivitySuccess:
		w.ConsecutiveFailures = 0
	}
}

// isLoopingLocked reports whether the last LoopThreshold tool calls are
// identical. Callers must hold the mutex.
func (m *Monitor) isLoopingLocked(w *Metrics) bool {
	n := m.cfg.LoopThreshold
	if len(w.RecentToolCalls) < n {
		return false
	}
	recent := w.RecentToolCalls[len(w.RecentToolCalls)-n:]
	for _, name := range recent[1:] {
		if name != recent[0] {
			return false
		}
	}
	return true
}

// MarkExecutionStart flags the worker as inside an agent invocation.
// Idle detection is suppressed while executing, so long thinking phases
// with no intermediate output do not raise false idle events.
func (m *Monitor) MarkExecutionStart(workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[workerID]; ok {
		w.IsExecuting = true
	}
}

// MarkExecutionEnd clears the executing flag.
func (m *Monitor) MarkExecutionEnd(workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[workerID]; ok {
		w.IsExecuting = false
	}
}

// MarkIdleInquirySent records that an idle inquiry was sent, so the
// monitor does not request another until the worker responds.
func (m *Monitor) MarkIdleInquirySent(workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[workerID]; ok {
		w.IdleInquiryPending = true
		w.IdleInquirySentAt = m.clock.Now()
	}
}

// HasIdleInquiryPending reports whether an idle inquiry awaits a response.
func (m *Monitor) HasIdleInquiryPending(workerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[workerID]; ok {
		return w.IdleInquiryPending
	}
	return false
}

// ClearIdleInquiry clears the pending idle inquiry flag.
func (m *Monitor) ClearIdleInquiry(workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[workerID]; ok {
		w.IdleInquiryPending = false
		w.IdleInquirySentAt = time.Time{}
	}
}

// MarkProgressCheckSent resets the progress-check interval for a worker.
// Callers must invoke this after acting on EventProgressCheckDue or the
// next sweep fires it again.
func (m *Monitor) MarkProgressCheckSent(workerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[workerID]; ok {
		w.LastProgressCheckAt = m.clock.Now()
	}
}

// Metrics returns a snapshot of a worker's health state, and whether the
// worker is monitored.
func (m *Monitor) Metrics(workerID string) (Metrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[workerID]
	if !ok {
		return Metrics{}, false
	}
	snapshot := *w
	snapshot.RecentToolCalls = append([]string(nil), w.RecentToolCalls...)
	return snapshot, true
}

// Sweep runs one pass over all monitored workers. It is normally driven
// by the shared ticker but is exported so callers and tests can force a
// pass at a known time.
func (m *Monitor) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for workerID, w := range m.workers {
		elapsed := now.Sub(w.LastActivity)

		// Stuck detection applies regardless of execution state and does
		// not auto-clear except via new activity.
		if !w.IsStuck && elapsed > m.cfg.StuckTimeout {
			w.IsStuck = true
			m.emit(Event{Kind: EventUnhealthy, WorkerID: workerID, Reason: ReasonStuck})
		}

		// Idle never fires while the worker is executing.
		if !w.IsIdle && !w.IsStuck && !w.IdleInquiryPending && !w.IsExecuting &&
			elapsed > m.cfg.IdleTimeout {
			w.IsIdle = true
			m.emit(Event{Kind: EventIdle, WorkerID: workerID})
		}

		// Progress checks fire only while executing and not stuck.
		if w.IsExecuting && !w.IsStuck &&
			now.Sub(w.LastProgressCheckAt) > m.cfg.ProgressCheckInterval {
			m.emit(Event{Kind: EventProgressCheckDue, WorkerID: workerID})
		}
	}
}

// emit delivers an event without blocking the sweep; a full channel drops
// the event. Callers must hold the mutex (emit does not touch state).
func (m *Monitor) emit(ev Event) {
	ev.Timestamp = m.clock.Now()
	select {
	case m.events <- ev:
	default:
		log.Printf("[health] WARNING: event channel full, dropped %s for worker %s", ev.Kind, ev.WorkerID)
	}
}
