// Package transcript maintains the ordered, deduplicated message list for
// a session and its display projection. The reconciler is mutated only by
// the session's apply loop, so it carries no locks.
package transcript

import (
	"time"

	"github.com/agenthub-ai/agenthub/internal/logging"
	"github.com/agenthub-ai/agenthub/pkg/types"
)

// Reconciler holds a session's transcript. Messages and display items live
// in indexed containers cross-referenced by id; the projection is rebuilt
// from the message list, never mutated from two directions.
type Reconciler struct {
	mergeWindow time.Duration

	messages []*types.Message
	byID     map[string]int

	display []types.DisplayItem
	// spans[i] is the half-open display range covering messages[i].
	spans []displaySpan
}

type displaySpan struct {
	start int
	end   int
}

// NewReconciler creates an empty transcript with the given merge window.
func NewReconciler(mergeWindow time.Duration) *Reconciler {
	return &Reconciler{
		mergeWindow: mergeWindow,
		byID:        make(map[string]int),
	}
}

// MergeOrAppend integrates one message into the transcript:
//  1. a message whose id is already present is discarded,
//  2. an assistant message arriving within the merge window whose tool-call
//     id set is a superset of the previous assistant message's is merged
//     into it,
//  3. anything else is appended.
//
// Only the affected slice of the display projection is rebuilt.
func (r *Reconciler) MergeOrAppend(message *types.Message) {
	if _, exists := r.byID[message.ID]; exists {
		logging.Debug().Str("messageID", message.ID).Msg("duplicate message discarded")
		return
	}

	if idx, ok := r.mergeTarget(message); ok {
		r.merge(idx, message)
		r.rebuildFrom(idx)
		return
	}

	idx := len(r.messages)
	r.messages = append(r.messages, message)
	r.byID[message.ID] = idx
	r.spans = append(r.spans, displaySpan{})
	r.rebuildFrom(idx)
}

// mergeTarget reports whether the incoming message should merge into the
// most recent transcript entry. Both sides must be assistant messages,
// their timestamps must fall within the merge window, and the incoming
// tool-call id set must contain every tool call of the existing side.
func (r *Reconciler) mergeTarget(incoming *types.Message) (int, bool) {
	if len(r.messages) == 0 || incoming.Role != "assistant" {
		return 0, false
	}
	idx := len(r.messages) - 1
	previous := r.messages[idx]
	if previous.Role != "assistant" {
		return 0, false
	}

	delta := incoming.Time.Created - previous.Time.Created
	if delta < 0 {
		delta = -delta
	}
	if delta > r.mergeWindow.Milliseconds() {
		return 0, false
	}

	incomingTools := incoming.ToolCallIDs()
	for id := range previous.ToolCallIDs() {
		if !incomingTools[id] {
			return 0, false
		}
	}
	return idx, true
}

// merge replaces the target's content with the richer of the two sides.
// Richer means more accumulated text; on a text tie, more content blocks.
// When block counts differ, tool blocks from both sides are unioned with
// the incoming side's order first. This heuristic picks sides, it does not
// prove equivalence.
func (r *Reconciler) merge(idx int, incoming *types.Message) {
	target := r.messages[idx]

	richer := incoming
	if target.TextLength() > incoming.TextLength() {
		richer = target
	} else if target.TextLength() == incoming.TextLength() && len(target.Blocks) > len(incoming.Blocks) {
		richer = target
	}

	blocks := richer.Blocks
	if len(target.Blocks) != len(incoming.Blocks) {
		blocks = unionToolBlocks(richer, incoming, target)
	}

	target.Blocks = blocks
	target.IsStreaming = incoming.IsStreaming
	if incoming.Usage != nil {
		target.Usage = incoming.Usage
	}
	if incoming.Error != nil {
		target.Error = incoming.Error
	}
	updated := incoming.Time.Created
	target.Time.Updated = &updated
}

// unionToolBlocks keeps the richer side's blocks and appends any tool
// block present on only one side, incoming side first.
func unionToolBlocks(richer, incoming, previous *types.Message) []types.Item {
	seen := make(map[string]bool)
	blocks := make([]types.Item, 0, len(richer.Blocks))
	for _, block := range richer.Blocks {
		if tool, ok := block.(*types.ToolItem); ok {
			seen[tool.ID] = true
		}
		blocks = append(blocks, block)
	}

	for _, side := range []*types.Message{incoming, previous} {
		for _, block := range side.Blocks {
			tool, ok := block.(*types.ToolItem)
			if !ok || seen[tool.ID] {
				continue
			}
			seen[tool.ID] = true
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// ApplyUsage attaches token statistics to an existing message. Statistics
// arrive after the message body, from the terminal result event.
func (r *Reconciler) ApplyUsage(messageID string, usage *types.TokenUsage) {
	idx, ok := r.byID[messageID]
	if !ok {
		logging.Debug().Str("messageID", messageID).Msg("usage for unknown message dropped")
		return
	}
	r.messages[idx].Usage = usage
}

// Message returns the message with the given id, if present.
func (r *Reconciler) Message(id string) (*types.Message, bool) {
	idx, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return r.messages[idx], true
}

// Messages returns a page of the transcript in order.
func (r *Reconciler) Messages(offset, limit int) []*types.Message {
	if offset < 0 || offset >= len(r.messages) {
		return nil
	}
	end := len(r.messages)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*types.Message, end-offset)
	copy(out, r.messages[offset:end])
	return out
}

// Len returns the number of transcript entries.
func (r *Reconciler) Len() int {
	return len(r.messages)
}

// Display returns the current projection. The slice is shared; callers
// must not mutate it.
func (r *Reconciler) Display() []types.DisplayItem {
	return r.display
}

// rebuildFrom regenerates the projection for messages[idx:]. Items for
// earlier messages are untouched, and ids are derived from message and
// block ids so an unchanged block keeps its id across rebuilds.
func (r *Reconciler) rebuildFrom(idx int) {
	start := 0
	if idx > 0 {
		start = r.spans[idx-1].end
	}
	rebuilt := r.display[:start]

	for i := idx; i < len(r.messages); i++ {
		spanStart := len(rebuilt)
		rebuilt = append(rebuilt, projectMessage(r.messages[i])...)
		r.spans[i] = displaySpan{start: spanStart, end: len(rebuilt)}
	}
	r.display = rebuilt
}

// projectMessage flattens one message into display items, one per block,
// in block order.
func projectMessage(message *types.Message) []types.DisplayItem {
	items := make([]types.DisplayItem, 0, len(message.Blocks))
	for i, block := range message.Blocks {
		item := types.DisplayItem{
			ID:         message.ID + "/" + block.ItemID(),
			MessageID:  message.ID,
			BlockIndex: i,
			Kind:       block.ItemType(),
			Streaming:  message.IsStreaming,
		}
		switch b := block.(type) {
		case *types.TextItem:
			item.Text = b.Text
		case *types.ThinkingItem:
			item.Text = b.Text
		case *types.ToolItem:
			item.ToolName = b.Name
			item.ToolStatus = b.Status
			if b.Result != nil {
				item.Text = *b.Result
			}
		}
		items = append(items, item)
	}
	return items
}
