package subtask

import (
	"context"
	"time"
)

// DefaultAwaitTimeout bounds waiting for sub-task results when the
// caller does not specify a timeout.
const DefaultAwaitTimeout = 5 * time.Minute

// AwaitReport is the per-task status report returned by Await. A task
// that is still running when the wait expires is reported as such,
// never as failed.
type AwaitReport struct {
	// Aggregate covers the tasks that settled before the deadline.
	Aggregate *Aggregate
	// StillRunning lists ids with no result when the wait ended.
	StillRunning []string
	// TimedOut is true when the wait expired before all results arrived.
	TimedOut bool
}

// Await polls for the results of the given sub-tasks until all are
// available or the timeout elapses. A zero timeout uses
// DefaultAwaitTimeout.
func (m *Manager) Await(ctx context.Context, ids []string, timeout time.Duration) (*AwaitReport, error) {
	if timeout <= 0 {
		timeout = DefaultAwaitTimeout
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(m.pollInterval)
	defer poll.Stop()

	for {
		if missing := m.missingResults(ids); len(missing) == 0 {
			return &AwaitReport{Aggregate: m.aggregator.Aggregate(ids)}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			missing := m.missingResults(ids)
			settled := make([]string, 0, len(ids))
			missingSet := make(map[string]bool, len(missing))
			for _, id := range missing {
				missingSet[id] = true
			}
			for _, id := range ids {
				if !missingSet[id] {
					settled = append(settled, id)
				}
			}
			return &AwaitReport{
				Aggregate:    m.aggregator.Aggregate(settled),
				StillRunning: missing,
				TimedOut:     true,
			}, nil
		case <-poll.C:
		}
	}
}

// missingResults returns the ids that have no cached result yet.
func (m *Manager) missingResults(ids []string) []string {
	var missing []string
	for _, id := range ids {
		if m.aggregator.Get(id) == nil {
			missing = append(missing, id)
		}
	}
	return missing
}
