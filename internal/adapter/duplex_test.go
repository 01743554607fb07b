package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub-ai/agenthub/internal/event"
	"github.com/agenthub-ai/agenthub/pkg/types"
)

var upgrader = websocket.Upgrader{}

// duplexServer is a scripted push backend: it sends the init frame, then
// replays script frames, and records everything the client writes.
type duplexServer struct {
	*httptest.Server
	script   []map[string]any
	received chan map[string]any
}

func newDuplexServer(t *testing.T, script []map[string]any) *duplexServer {
	t.Helper()
	s := &duplexServer{script: script, received: make(chan map[string]any, 16)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteJSON(map[string]any{
			"type": "system", "subtype": "init", "session_id": "sess_1",
		}))
		for _, frame := range s.script {
			require.NoError(t, conn.WriteJSON(frame))
		}
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			s.received <- msg
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *duplexServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func dialAdapter(t *testing.T, server *duplexServer) *DuplexAdapter {
	t.Helper()
	d := NewDuplexAdapter(types.DuplexConfig{URL: server.wsURL(), HandshakeTimeoutMs: 2000})
	id, err := d.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess_1", id)
	t.Cleanup(func() { d.Disconnect() })
	return d
}

func drainUntil(t *testing.T, events <-chan event.Event, stop func(event.Event) bool) []event.Event {
	t.Helper()
	var out []event.Event
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
			if stop(ev) {
				return out
			}
		case <-deadline:
			t.Fatalf("timed out, got %d events", len(out))
		}
	}
}

func TestDuplexTextStream(t *testing.T) {
	server := newDuplexServer(t, []map[string]any{
		{"type": "message_start", "message": map[string]any{"id": "turn_1"}},
		{"type": "content_block_start", "index": 0, "content_block": map[string]any{"type": "text"}},
		{"type": "content_block_delta", "index": 0, "delta": map[string]any{"type": "text_delta", "text": "Hello"}},
		{"type": "content_block_delta", "index": 0, "delta": map[string]any{"type": "text_delta", "text": " world"}},
		{"type": "content_block_stop", "index": 0},
		{"type": "message_delta", "usage": map[string]any{"input_tokens": 7, "output_tokens": 2}},
		{"type": "message_stop"},
	})
	d := dialAdapter(t, server)

	got := drainUntil(t, d.Events(), func(ev event.Event) bool { return ev.Type == event.TurnCompleted })

	require.Len(t, got, 3)
	assert.Equal(t, event.TextDelta, got[0].Type)
	assert.Equal(t, "Hello", got[0].Text)
	assert.Equal(t, got[0].ItemID, got[1].ItemID)
	assert.Equal(t, " world", got[1].Text)

	terminal := got[2]
	assert.Equal(t, "turn_1", terminal.TurnID)
	assert.Equal(t, string(types.TurnCompleted), terminal.Status)
	require.NotNil(t, terminal.Usage)
	assert.Equal(t, 7, terminal.Usage.Input)

	for _, ev := range got {
		assert.Equal(t, "sess_1", ev.SessionID)
	}
}

func TestDuplexToolUseLifecycle(t *testing.T) {
	server := newDuplexServer(t, []map[string]any{
		{"type": "message_start", "message": map[string]any{"id": "turn_1"}},
		{"type": "content_block_start", "index": 0, "content_block": map[string]any{
			"type": "tool_use", "id": "toolu_1", "toolName": "bash",
		}},
		{"type": "content_block_delta", "index": 0, "delta": map[string]any{"type": "input_json_delta", "partial_json": `{"command":`}},
		{"type": "content_block_delta", "index": 0, "delta": map[string]any{"type": "input_json_delta", "partial_json": `"ls"}`}},
		{"type": "content_block_stop", "index": 0},
		{"type": "message_stop"},
	})
	d := dialAdapter(t, server)

	got := drainUntil(t, d.Events(), func(ev event.Event) bool { return ev.Type == event.TurnCompleted })
	require.Len(t, got, 5)

	started := got[0]
	assert.Equal(t, event.ToolStarted, started.Type)
	assert.Equal(t, "toolu_1", started.ItemID)
	assert.Equal(t, types.ToolKindExecute, started.ToolKind)

	assert.Equal(t, event.ToolOutput, got[1].Type)
	assert.Equal(t, event.ToolOutput, got[2].Type)

	completed := got[3]
	assert.Equal(t, event.ToolCompleted, completed.Type)
	assert.Equal(t, "toolu_1", completed.ItemID)
	require.NotNil(t, completed.Parameters)
	assert.Equal(t, "ls", completed.Parameters["command"])
}

func TestDuplexMismatchedDeltaGetsOwnItem(t *testing.T) {
	// Text deltas arriving at an index declared tool_use must not corrupt
	// the tool item.
	server := newDuplexServer(t, []map[string]any{
		{"type": "message_start", "message": map[string]any{"id": "turn_1"}},
		{"type": "content_block_start", "index": 0, "content_block": map[string]any{
			"type": "tool_use", "id": "toolu_1", "toolName": "read",
		}},
		{"type": "content_block_delta", "index": 0, "delta": map[string]any{"type": "text_delta", "text": "Hello"}},
		{"type": "content_block_delta", "index": 0, "delta": map[string]any{"type": "text_delta", "text": " world"}},
		{"type": "message_stop"},
	})
	d := dialAdapter(t, server)

	got := drainUntil(t, d.Events(), func(ev event.Event) bool { return ev.Type == event.TurnCompleted })
	require.Len(t, got, 4)

	assert.Equal(t, event.TextDelta, got[1].Type)
	assert.Equal(t, event.TextDelta, got[2].Type)
	assert.NotEqual(t, "toolu_1", got[1].ItemID)
	assert.Equal(t, got[1].ItemID, got[2].ItemID)
}

func TestDuplexErrorResult(t *testing.T) {
	server := newDuplexServer(t, []map[string]any{
		{"type": "message_start", "message": map[string]any{"id": "turn_1"}},
		{"type": "result", "is_error": true, "subtype": "overloaded", "result": "backend overloaded"},
	})
	d := dialAdapter(t, server)

	got := drainUntil(t, d.Events(), func(ev event.Event) bool { return ev.Type == event.Error })
	require.Len(t, got, 2)

	assert.Equal(t, event.TurnCompleted, got[0].Type)
	assert.Equal(t, string(types.TurnError), got[0].Status)
	assert.Equal(t, "overloaded", got[1].Code)
	assert.Equal(t, "backend overloaded", got[1].Message)
}

func TestDuplexOutboundFrames(t *testing.T) {
	server := newDuplexServer(t, nil)
	d := dialAdapter(t, server)

	require.NoError(t, d.Send(context.Background(), types.TextContent("hi")))
	require.NoError(t, d.Interrupt(context.Background()))
	require.NoError(t, d.ResolveApproval(context.Background(), "req_1", true, ""))

	expectTypes := []string{"user_message", "interrupt", "approval_response"}
	for _, want := range expectTypes {
		select {
		case msg := <-server.received:
			assert.Equal(t, want, msg["type"])
		case <-time.After(2 * time.Second):
			t.Fatalf("server never received %s frame", want)
		}
	}
}

func TestDuplexSendWhileDisconnected(t *testing.T) {
	d := NewDuplexAdapter(types.DuplexConfig{URL: "ws://127.0.0.1:1", HandshakeTimeoutMs: 100})
	err := d.Send(context.Background(), types.TextContent("hi"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDuplexReconnect(t *testing.T) {
	// The server replays its script on every connection, so each Connect
	// sees one full turn.
	server := newDuplexServer(t, []map[string]any{
		{"type": "message_start", "message": map[string]any{"id": "turn_1"}},
		{"type": "content_block_start", "index": 0, "content_block": map[string]any{"type": "text"}},
		{"type": "content_block_delta", "index": 0, "delta": map[string]any{"type": "text_delta", "text": "hi"}},
		{"type": "message_stop"},
	})
	d := dialAdapter(t, server)

	first := d.Events()
	drainUntil(t, first, func(ev event.Event) bool { return ev.Type == event.TurnCompleted })
	require.NoError(t, d.Disconnect())

	// The old loop closes the channel it owned.
	drainUntil(t, first, func(ev event.Event) bool { return false })

	id, err := d.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess_1", id)

	second := d.Events()
	got := drainUntil(t, second, func(ev event.Event) bool { return ev.Type == event.TurnCompleted })
	require.NotEmpty(t, got)
	assert.Equal(t, event.TextDelta, got[0].Type)
	assert.Equal(t, "hi", got[0].Text)

	require.NoError(t, d.Disconnect())
}

func TestDuplexDisconnectIdempotent(t *testing.T) {
	server := newDuplexServer(t, nil)
	d := dialAdapter(t, server)

	require.NoError(t, d.Disconnect())
	require.NoError(t, d.Disconnect())
}
