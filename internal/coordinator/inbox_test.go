package coordinator

import (
	"testing"

	"github.com/ShayCichocki/foreman/pkg/models"
)

func inboxMsg(planID string, t models.MessageType) models.QueueMessage {
	return models.QueueMessage{
		PlanID:   planID,
		WorkerID: "worker-1",
		Type:     t,
		Content:  models.TextContent("needs a decision"),
	}
}

func TestInboxAddAndGet(t *testing.T) {
	in := NewInbox()
	item := in.Add(inboxMsg("plan-1", models.MessageQuestion), true)

	if item.ID == "" {
		t.Error("Add() returned item with empty ID")
	}
	if !item.RequiresUserAction {
		t.Error("RequiresUserAction = false, want true")
	}
	if got := in.Get(item.ID); got != item {
		t.Errorf("Get(%s) = %v, want the added item", item.ID, got)
	}
	if in.Len() != 1 {
		t.Errorf("Len() = %d, want 1", in.Len())
	}
}

func TestInboxGroupsByPlan(t *testing.T) {
	in := NewInbox()
	in.Add(inboxMsg("plan-1", models.MessageQuestion), true)
	in.Add(inboxMsg("plan-2", models.MessageApprovalRequest), true)

	groups := in.ItemsByPlan()
	if len(groups) != 2 {
		t.Fatalf("ItemsByPlan() has %d groups, want 2", len(groups))
	}
	if len(groups["plan-1"]) != 1 {
		t.Errorf("plan-1 group has %d items, want 1", len(groups["plan-1"]))
	}
	if len(groups["plan-2"]) != 1 {
		t.Errorf("plan-2 group has %d items, want 1", len(groups["plan-2"]))
	}
}

func TestInboxItemsForPlan(t *testing.T) {
	in := NewInbox()
	in.Add(inboxMsg("plan-1", models.MessageQuestion), true)
	in.Add(inboxMsg("plan-1", models.MessageError), true)
	in.Add(inboxMsg("plan-2", models.MessageQuestion), true)

	if got := in.ItemsForPlan("plan-1"); len(got) != 2 {
		t.Errorf("ItemsForPlan(plan-1) has %d items, want 2", len(got))
	}
	if got := in.ItemsForPlan("plan-3"); len(got) != 0 {
		t.Errorf("ItemsForPlan(plan-3) has %d items, want 0", len(got))
	}
}

func TestInboxTakeRemovesItem(t *testing.T) {
	in := NewInbox()
	item := in.Add(inboxMsg("plan-1", models.MessageQuestion), true)

	taken, err := in.Take(item.ID)
	if err != nil {
		t.Fatalf("Take() error: %v", err)
	}
	if taken.ID != item.ID {
		t.Errorf("Take() returned %s, want %s", taken.ID, item.ID)
	}
	if in.Len() != 0 {
		t.Errorf("Len() after Take = %d, want 0", in.Len())
	}

	if _, err := in.Take(item.ID); err == nil {
		t.Error("second Take() = nil error, want not-found error")
	}
}

func TestInboxGetUnknownReturnsNil(t *testing.T) {
	in := NewInbox()
	if got := in.Get("nope"); got != nil {
		t.Errorf("Get(nope) = %v, want nil", got)
	}
}
