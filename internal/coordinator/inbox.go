package coordinator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// Inbox holds messages awaiting a user decision, grouped by plan.
// Items leave the pending set either by being processed (a response is
// routed back) or deferred (recorded and postponed without resolving).
type Inbox struct {
	mu      sync.RWMutex
	pending map[string]*models.InboxItem
}

// NewInbox creates an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{
		pending: make(map[string]*models.InboxItem),
	}
}

// Add wraps a message into a pending inbox item and returns it.
func (in *Inbox) Add(msg models.QueueMessage, requiresUserAction bool) *models.InboxItem {
	item := &models.InboxItem{
		ID:                 uuid.New().String(),
		Message:            msg,
		RequiresUserAction: requiresUserAction,
		CreatedAt:          time.Now(),
	}

	in.mu.Lock()
	in.pending[item.ID] = item
	in.mu.Unlock()

	return item
}

// PendingItems returns all pending items.
func (in *Inbox) PendingItems() []*models.InboxItem {
	in.mu.RLock()
	defer in.mu.RUnlock()

	items := make([]*models.InboxItem, 0, len(in.pending))
	for _, item := range in.pending {
		items = append(items, item)
	}
	return items
}

// ItemsByPlan returns pending items grouped by plan ID.
func (in *Inbox) ItemsByPlan() map[string][]*models.InboxItem {
	in.mu.RLock()
	defer in.mu.RUnlock()

	groups := make(map[string][]*models.InboxItem)
	for _, item := range in.pending {
		groups[item.Message.PlanID] = append(groups[item.Message.PlanID], item)
	}
	return groups
}

// ItemsForPlan returns the pending items for one plan.
func (in *Inbox) ItemsForPlan(planID string) []*models.InboxItem {
	in.mu.RLock()
	defer in.mu.RUnlock()

	var items []*models.InboxItem
	for _, item := range in.pending {
		if item.Message.PlanID == planID {
			items = append(items, item)
		}
	}
	return items
}

// Get returns a pending item by ID, or nil.
func (in *Inbox) Get(id string) *models.InboxItem {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.pending[id]
}

// Take removes and returns a pending item. Returns an error for an
// unknown or already-handled id.
func (in *Inbox) Take(id string) (*models.InboxItem, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	item, ok := in.pending[id]
	if !ok {
		return nil, fmt.Errorf("inbox item %s not found", id)
	}
	delete(in.pending, id)
	return item, nil
}

// Len returns the number of pending items.
func (in *Inbox) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.pending)
}
