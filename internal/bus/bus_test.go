package bus

import (
	"errors"
	"sync"
	"testing"

	"github.com/ShayCichocki/foreman/pkg/models"
)

func TestEnqueueFillsDefaults(t *testing.T) {
	b := New(4)
	defer b.Close()

	err := b.Enqueue(models.QueueMessage{
		Type:    models.MessageStatusUpdate,
		PlanID:  "plan-1",
		Content: models.TextContent("idle"),
	})
	if err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}

	msg := <-b.Messages()
	if msg.ID == "" {
		t.Error("expected generated message ID")
	}
	if msg.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
	if msg.Priority != models.PriorityNormal {
		t.Errorf("Priority = %q, want %q", msg.Priority, models.PriorityNormal)
	}
}

func TestEnqueueRejectsUnknownType(t *testing.T) {
	b := New(4)
	defer b.Close()

	if err := b.Enqueue(models.QueueMessage{Type: "bogus"}); err == nil {
		t.Error("expected error for unknown message type")
	}
}

func TestPerPlanOrdering(t *testing.T) {
	b := New(64)

	for i := 0; i < 10; i++ {
		content := "msg"
		if i%2 == 0 {
			content = "even"
		}
		err := b.Enqueue(models.QueueMessage{
			Type:    models.MessageStatusUpdate,
			PlanID:  "plan-a",
			TaskID:  string(rune('a' + i)),
			Content: models.TextContent(content),
		})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	b.Close()

	var order []string
	for msg := range b.Messages() {
		order = append(order, msg.TaskID)
	}
	if len(order) != 10 {
		t.Fatalf("received %d messages, want 10", len(order))
	}
	for i := 1; i < len(order); i++ {
		if order[i] < order[i-1] {
			t.Errorf("messages out of enqueue order: %v", order)
			break
		}
	}
}

func TestConcurrentProducersExactlyOnce(t *testing.T) {
	// Cross-plan interleaving is unspecified; this only asserts that every
	// message from every producer arrives exactly once and that messages
	// from the same plan keep their relative order.
	b := New(1024)

	const plans = 4
	const perPlan = 50

	var wg sync.WaitGroup
	for p := 0; p < plans; p++ {
		wg.Add(1)
		go func(plan int) {
			defer wg.Done()
			planID := string(rune('A' + plan))
			for i := 0; i < perPlan; i++ {
				_ = b.Enqueue(models.QueueMessage{
					Type:    models.MessageStatusUpdate,
					PlanID:  planID,
					Content: models.DataContent(map[string]any{"seq": i}),
				})
			}
		}(p)
	}
	wg.Wait()
	b.Close()

	seen := make(map[string][]int)
	total := 0
	for msg := range b.Messages() {
		seq := msg.Content.Data["seq"].(int)
		seen[msg.PlanID] = append(seen[msg.PlanID], seq)
		total++
	}

	if total != plans*perPlan {
		t.Fatalf("received %d messages, want %d", total, plans*perPlan)
	}
	for planID, seqs := range seen {
		for i, seq := range seqs {
			if seq != i {
				t.Errorf("plan %s: position %d has seq %d, per-plan order violated", planID, i, seq)
				break
			}
		}
	}
}

func TestEnqueueFullBusReturnsErrDropped(t *testing.T) {
	b := New(1)
	defer b.Close()

	if err := b.Enqueue(models.QueueMessage{Type: models.MessageStatusUpdate}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// No consumer drains, so the second enqueue exhausts the grace window.
	err := b.Enqueue(models.QueueMessage{Type: models.MessageQuestion})
	if !errors.Is(err, ErrDropped) {
		t.Errorf("Enqueue on full bus = %v, want ErrDropped", err)
	}
	if got := b.DroppedCount(); got != 1 {
		t.Errorf("DroppedCount() = %d, want 1", got)
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	b := New(4)
	b.Close()

	err := b.Enqueue(models.QueueMessage{Type: models.MessageStatusUpdate})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue after Close = %v, want ErrClosed", err)
	}

	// Close is idempotent.
	b.Close()
}
