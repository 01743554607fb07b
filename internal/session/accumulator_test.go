package session

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub-ai/agenthub/internal/event"
	"github.com/agenthub-ai/agenthub/pkg/types"
)

func textDelta(itemID, text string) event.Event {
	return event.Event{Type: event.TextDelta, ItemID: itemID, Text: text, TurnID: "turn_1"}
}

func TestAccumulatorReassemblesRandomChunks(t *testing.T) {
	const reference = "The quick brown fox jumps over the lazy dog, twice, for good measure."

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		var acc Accumulator
		acc.Begin("turn_1", 0)

		rest := reference
		for len(rest) > 0 {
			n := 1 + rng.Intn(len(rest))
			acc.Apply(textDelta("item_1", rest[:n]))
			rest = rest[n:]
		}

		turn := acc.Finish(types.TurnCompleted, nil)
		require.NotNil(t, turn)
		require.Equal(t, 1, turn.Len())

		text, ok := turn.Items()[0].(*types.TextItem)
		require.True(t, ok)
		assert.Equal(t, reference, text.Text)
	}
}

func TestAccumulatorTextSequence(t *testing.T) {
	var acc Accumulator
	acc.Begin("turn_1", 0)

	acc.Apply(textDelta("item_1", "Hello"))
	acc.Apply(textDelta("item_1", " world"))

	turn := acc.Finish(types.TurnCompleted, nil)
	require.NotNil(t, turn)
	assert.Equal(t, types.TurnCompleted, turn.Status)
	require.Equal(t, 1, turn.Len())

	text, ok := turn.Items()[0].(*types.TextItem)
	require.True(t, ok)
	assert.Equal(t, "Hello world", text.Text)
	assert.True(t, text.Last)
}

func TestAccumulatorCreatesTurnOnFirstDelta(t *testing.T) {
	var acc Accumulator
	require.Nil(t, acc.Active())

	acc.Apply(textDelta("item_1", "hi"))
	require.NotNil(t, acc.Active())
	assert.Equal(t, "turn_1", acc.Active().ID)
}

func TestAccumulatorFirstAppearanceOrder(t *testing.T) {
	var acc Accumulator
	acc.Begin("turn_1", 0)

	// A tool starts first, then text streams, then the tool completes.
	// Display order must keep the tool where it started.
	acc.Apply(event.Event{Type: event.ToolStarted, ItemID: "tool_1", ToolName: "bash", TurnID: "turn_1"})
	acc.Apply(textDelta("item_1", "running it"))
	acc.Apply(event.Event{Type: event.ToolCompleted, ItemID: "tool_1", Success: event.Bool(true), TurnID: "turn_1"})

	turn := acc.Finish(types.TurnCompleted, nil)
	items := turn.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "tool", items[0].ItemType())
	assert.Equal(t, "text", items[1].ItemType())

	tool := items[0].(*types.ToolItem)
	assert.Equal(t, types.ToolSuccess, tool.Status)
}

func TestAccumulatorToolOutputAndInputParse(t *testing.T) {
	var acc Accumulator
	acc.Begin("turn_1", 0)

	acc.Apply(event.Event{Type: event.ToolStarted, ItemID: "tool_1", ToolName: "read", TurnID: "turn_1"})
	acc.Apply(event.Event{Type: event.ToolOutput, ItemID: "tool_1", Text: `{"path":`, TurnID: "turn_1"})
	acc.Apply(event.Event{Type: event.ToolOutput, ItemID: "tool_1", Text: `"main.go"}`, TurnID: "turn_1"})
	acc.Apply(event.Event{Type: event.ToolCompleted, ItemID: "tool_1", Success: event.Bool(true), TurnID: "turn_1"})

	turn := acc.Finish(types.TurnCompleted, nil)
	tool := turn.Items()[0].(*types.ToolItem)
	assert.Equal(t, `{"path":"main.go"}`, tool.RawOutput)
	require.NotNil(t, tool.Input)
	assert.Equal(t, "main.go", tool.Input["path"])
}

func TestAccumulatorFailedTool(t *testing.T) {
	var acc Accumulator
	acc.Begin("turn_1", 0)

	acc.Apply(event.Event{Type: event.ToolStarted, ItemID: "tool_1", ToolName: "bash", TurnID: "turn_1"})
	acc.Apply(event.Event{
		Type: event.ToolCompleted, ItemID: "tool_1",
		Success: event.Bool(false), Text: "exit status 1", TurnID: "turn_1",
	})

	turn := acc.Finish(types.TurnCompleted, nil)
	tool := turn.Items()[0].(*types.ToolItem)
	assert.Equal(t, types.ToolFailed, tool.Status)
	require.NotNil(t, tool.Result)
	assert.Equal(t, "exit status 1", *tool.Result)
}

func TestAccumulatorFinishAttachesUsage(t *testing.T) {
	var acc Accumulator
	acc.Begin("turn_1", 0)
	acc.Apply(textDelta("item_1", "done"))

	turn := acc.Finish(types.TurnCompleted, &types.TokenUsage{Input: 10, Output: 5})
	require.NotNil(t, turn.Usage)
	assert.Equal(t, 10, turn.Usage.Input)

	assert.Nil(t, acc.Active())
	assert.Nil(t, acc.Finish(types.TurnCompleted, nil))
}
