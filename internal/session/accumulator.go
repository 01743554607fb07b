package session

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agenthub-ai/agenthub/internal/event"
	"github.com/agenthub-ai/agenthub/internal/logging"
	"github.com/agenthub-ai/agenthub/pkg/types"
)

// Accumulator builds the in-progress turn from the adapter's event stream.
// Deltas sharing an item id are applied in arrival order; across items,
// display order is first-appearance order, so an early-started tool that
// finishes late still renders where it started.
type Accumulator struct {
	turn *types.Turn
}

// Begin opens a new active turn. A turn already in progress is discarded;
// the adapter signals that only across a terminal event, so in practice
// Begin follows a Finish.
func (a *Accumulator) Begin(turnID string, startedAt int64) *types.Turn {
	if turnID == "" {
		turnID = ulid.Make().String()
	}
	a.turn = types.NewTurn(turnID, startedAt)
	return a.turn
}

// Active returns the in-progress turn, or nil.
func (a *Accumulator) Active() *types.Turn {
	return a.turn
}

// Apply folds one content or tool event into the active turn. An event
// arriving with no active turn opens one, so a backend that skips an
// explicit start still accumulates correctly.
func (a *Accumulator) Apply(ev event.Event) {
	if a.turn == nil {
		a.Begin(ev.TurnID, ev.Timestamp)
	}

	switch ev.Type {
	case event.TextDelta:
		a.appendText(ev.ItemID, ev.Text)
	case event.ThinkingDelta:
		a.appendThinking(ev.ItemID, ev.Text)
	case event.ToolStarted:
		a.startTool(ev)
	case event.ToolOutput:
		a.appendToolOutput(ev.ItemID, ev.Text)
	case event.ToolCompleted:
		a.completeTool(ev)
	default:
		logging.Debug().Str("type", string(ev.Type)).Msg("accumulator ignoring event")
	}
}

// Finish closes the active turn with the given terminal status, marks the
// final text item, and returns the finished turn. The accumulator is empty
// afterwards.
func (a *Accumulator) Finish(status types.TurnStatus, usage *types.TokenUsage) *types.Turn {
	turn := a.turn
	if turn == nil {
		return nil
	}
	a.turn = nil

	turn.Status = status
	if usage != nil {
		turn.Usage = usage
	}

	// Mark the last text item so renderers know where streaming ended.
	items := turn.Items()
	for i := len(items) - 1; i >= 0; i-- {
		if text, ok := items[i].(*types.TextItem); ok {
			text.Last = true
			break
		}
	}
	return turn
}

func (a *Accumulator) appendText(itemID, delta string) {
	if existing, ok := a.turn.Item(itemID); ok {
		if text, ok := existing.(*types.TextItem); ok {
			text.Text += delta
		}
		return
	}
	a.turn.Add(&types.TextItem{ID: itemID, Type: "text", Text: delta})
}

func (a *Accumulator) appendThinking(itemID, delta string) {
	if existing, ok := a.turn.Item(itemID); ok {
		if thinking, ok := existing.(*types.ThinkingItem); ok {
			thinking.Text += delta
		}
		return
	}
	a.turn.Add(&types.ThinkingItem{ID: itemID, Type: "thinking", Text: delta})
}

func (a *Accumulator) startTool(ev event.Event) {
	if existing, ok := a.turn.Item(ev.ItemID); ok {
		if tool, ok := existing.(*types.ToolItem); ok && tool.Status == types.ToolStarted {
			tool.Status = types.ToolRunning
		}
		return
	}
	a.turn.Add(&types.ToolItem{
		ID:     ev.ItemID,
		Type:   "tool",
		Name:   ev.ToolName,
		Kind:   ev.ToolKind,
		Input:  ev.Parameters,
		Status: types.ToolStarted,
	})
}

func (a *Accumulator) appendToolOutput(itemID, chunk string) {
	existing, ok := a.turn.Item(itemID)
	if !ok {
		a.turn.Add(&types.ToolItem{ID: itemID, Type: "tool", RawOutput: chunk, Status: types.ToolRunning})
		return
	}
	if tool, ok := existing.(*types.ToolItem); ok {
		tool.RawOutput += chunk
		if tool.Status == types.ToolStarted {
			tool.Status = types.ToolRunning
		}
	}
}

func (a *Accumulator) completeTool(ev event.Event) {
	existing, ok := a.turn.Item(ev.ItemID)
	if !ok {
		// Completion for a tool we never saw start still gets a block.
		tool := &types.ToolItem{ID: ev.ItemID, Type: "tool", Name: ev.ToolName, Kind: ev.ToolKind, Input: ev.Parameters}
		finishToolItem(tool, ev)
		a.turn.Add(tool)
		return
	}
	if tool, ok := existing.(*types.ToolItem); ok {
		if len(ev.Parameters) > 0 {
			tool.Input = ev.Parameters
		} else if tool.Input == nil && tool.RawOutput != "" {
			// Input streamed as fragments; parse the assembled JSON.
			var input map[string]any
			if err := json.Unmarshal([]byte(tool.RawOutput), &input); err == nil {
				tool.Input = input
			}
		}
		finishToolItem(tool, ev)
	}
}

func finishToolItem(tool *types.ToolItem, ev event.Event) {
	if ev.Success != nil && !*ev.Success {
		tool.Status = types.ToolFailed
	} else {
		tool.Status = types.ToolSuccess
	}
	if ev.Text != "" {
		result := ev.Text
		tool.Result = &result
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
