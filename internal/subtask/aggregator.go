package subtask

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// outputTruncateLen caps each result's output in the aggregate summary.
const outputTruncateLen = 200

// ResultAggregator caches sub-task results and folds them into a
// summary for the parent worker.
type ResultAggregator struct {
	mu      sync.RWMutex
	results map[string]*models.SubTaskResult
}

// NewResultAggregator creates an empty aggregator.
func NewResultAggregator() *ResultAggregator {
	return &ResultAggregator{
		results: make(map[string]*models.SubTaskResult),
	}
}

// Record caches a result, replacing any earlier result for the same task.
func (a *ResultAggregator) Record(r *models.SubTaskResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results[r.TaskID] = r
}

// Get returns the cached result for a task, or nil.
func (a *ResultAggregator) Get(taskID string) *models.SubTaskResult {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.results[taskID]
}

// CollectResults returns one result per requested id, in request order.
// A missing result is synthesized as failed with output "Result not
// found" rather than silently skipped.
func (a *ResultAggregator) CollectResults(ids []string) []*models.SubTaskResult {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]*models.SubTaskResult, 0, len(ids))
	for _, id := range ids {
		if r, ok := a.results[id]; ok {
			out = append(out, r)
			continue
		}
		out = append(out, &models.SubTaskResult{
			TaskID: id,
			Status: models.SubTaskFailed,
			Output: "Result not found",
		})
	}
	return out
}

// Aggregate is the folded outcome of a set of sub-tasks.
type Aggregate struct {
	Results        []*models.SubTaskResult
	SucceededCount int
	FailedCount    int
	TimedOutCount  int
	// AllSucceeded is true only when nothing failed and nothing timed out.
	AllSucceeded bool
	// Summary is the human-readable report handed back to the parent
	// worker, with each output truncated.
	Summary string
}

// Aggregate collects the results for the given ids and computes counts
// and the summary text.
func (a *ResultAggregator) Aggregate(ids []string) *Aggregate {
	results := a.CollectResults(ids)

	agg := &Aggregate{Results: results}
	var b strings.Builder
	for _, r := range results {
		switch r.Status {
		case models.SubTaskSuccess:
			agg.SucceededCount++
		case models.SubTaskTimeout:
			agg.TimedOutCount++
		default:
			agg.FailedCount++
		}

		fmt.Fprintf(&b, "- %s [%s]: %s\n", r.TaskID, r.Status, truncate(r.Output, outputTruncateLen))
		if r.Error != "" {
			fmt.Fprintf(&b, "  error: %s\n", truncate(r.Error, outputTruncateLen))
		}
	}
	agg.AllSucceeded = agg.FailedCount == 0 && agg.TimedOutCount == 0

	fmt.Fprintf(&b, "%d succeeded, %d failed, %d timed out", agg.SucceededCount, agg.FailedCount, agg.TimedOutCount)
	agg.Summary = b.String()

	return agg
}

// truncate shortens s to maxLen with an ellipsis marker.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
