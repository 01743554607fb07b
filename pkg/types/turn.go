package types

// TurnStatus is the lifecycle state of one assistant generation cycle.
type TurnStatus string

const (
	TurnActive      TurnStatus = "active"
	TurnCompleted   TurnStatus = "completed"
	TurnInterrupted TurnStatus = "interrupted"
	TurnError       TurnStatus = "error"
)

// Turn is one assistant generation cycle in response to a single user
// message. Items are keyed by id and kept in first-appearance order; items
// are never removed, only appended to or status-transitioned.
type Turn struct {
	ID        string      `json:"id"`
	Status    TurnStatus  `json:"status"`
	StartedAt int64       `json:"startedAt"`
	Usage     *TokenUsage `json:"usage,omitempty"`

	order []string
	items map[string]Item
}

// NewTurn creates an active turn.
func NewTurn(id string, startedAt int64) *Turn {
	return &Turn{
		ID:        id,
		Status:    TurnActive,
		StartedAt: startedAt,
		items:     make(map[string]Item),
	}
}

// Item returns the item with the given id, if present.
func (t *Turn) Item(id string) (Item, bool) {
	item, ok := t.items[id]
	return item, ok
}

// Add inserts a new item. The insertion position is fixed at first
// appearance; a second Add for the same id is ignored.
func (t *Turn) Add(item Item) {
	id := item.ItemID()
	if _, ok := t.items[id]; ok {
		return
	}
	t.items[id] = item
	t.order = append(t.order, id)
}

// Items returns the items in display order (first-appearance order).
func (t *Turn) Items() []Item {
	out := make([]Item, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.items[id])
	}
	return out
}

// Len returns the number of items accumulated so far.
func (t *Turn) Len() int { return len(t.order) }
