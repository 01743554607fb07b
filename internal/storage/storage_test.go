package storage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub-ai/agenthub/pkg/types"
)

func TestPutGetRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	in := &types.Message{
		ID:        "msg_1",
		SessionID: "sess_1",
		Role:      "assistant",
		Blocks: []types.Item{
			&types.TextItem{ID: "b1", Type: "text", Text: "hello"},
			&types.ToolItem{ID: "t1", Type: "tool", Name: "read", Status: types.ToolSuccess},
		},
		Time: types.MessageTime{Created: 1000},
	}
	require.NoError(t, s.Put(ctx, []string{"sessions", "sess_1", "messages", "msg_1"}, in))

	var out types.Message
	require.NoError(t, s.Get(ctx, []string{"sessions", "sess_1", "messages", "msg_1"}, &out))
	assert.Equal(t, "msg_1", out.ID)
	require.Len(t, out.Blocks, 2)
	assert.Equal(t, "hello", out.Blocks[0].(*types.TextItem).Text)
	assert.Equal(t, "read", out.Blocks[1].(*types.ToolItem).Name)
}

func TestGetMissing(t *testing.T) {
	s := New(t.TempDir())
	var out map[string]any
	err := s.Get(context.Background(), []string{"nope"}, &out)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScanInKeyOrder(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	// Deliberately written out of order; scan must come back sorted.
	for _, key := range []string{"01C", "01A", "01B"} {
		require.NoError(t, s.Put(ctx, []string{"sessions", "sess_1", "messages", key}, map[string]string{"id": key}))
	}

	var keys []string
	err := s.Scan(ctx, []string{"sessions", "sess_1", "messages"}, func(key string, data json.RawMessage) error {
		keys = append(keys, key)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"01A", "01B", "01C"}, keys)
}

func TestScanMissingDir(t *testing.T) {
	s := New(t.TempDir())
	err := s.Scan(context.Background(), []string{"absent"}, func(string, json.RawMessage) error {
		t.Fatal("callback must not fire")
		return nil
	})
	assert.NoError(t, err)
}

func TestDeleteIdempotent(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, []string{"a", "b"}, map[string]int{"x": 1}))
	require.NoError(t, s.Delete(ctx, []string{"a", "b"}))
	require.NoError(t, s.Delete(ctx, []string{"a", "b"}))

	var out map[string]int
	assert.ErrorIs(t, s.Get(ctx, []string{"a", "b"}, &out), ErrNotFound)
}

func TestListMixedEntries(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, []string{"sessions", "sess_1", "messages", "msg_1"}, map[string]int{}))
	require.NoError(t, s.Put(ctx, []string{"sessions", "sess_2", "messages", "msg_1"}, map[string]int{}))

	sessions, err := s.List(ctx, []string{"sessions"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sess_1", "sess_2"}, sessions)
}
