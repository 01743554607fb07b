package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/agenthub-ai/agenthub/internal/event"
	"github.com/agenthub-ai/agenthub/internal/logging"
	"github.com/agenthub-ai/agenthub/pkg/types"
)

// dialRetries bounds reconnect attempts during Connect.
const dialRetries = 3

// DuplexAdapter drives the push-variant backend over a persistent
// websocket. Every inbound frame is decoded immediately on the receive
// loop; a frame that fails to decode is logged and skipped without
// terminating the connection.
type DuplexAdapter struct {
	cfg types.DuplexConfig

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	sessionID string

	writeMu sync.Mutex

	// events is replaced on every Connect; each receive loop owns and
	// closes the channel it was started with, so a reconnect never races
	// a draining predecessor.
	events chan event.Event

	// Decode state, touched only by the receive loop.
	turnID       string
	blockKind    map[int]string
	blockItem    map[int]string
	toolInput    map[int]*strings.Builder
	usage        *types.TokenUsage
	terminalSent bool
}

// NewDuplexAdapter creates a disconnected duplex adapter.
func NewDuplexAdapter(cfg types.DuplexConfig) *DuplexAdapter {
	return &DuplexAdapter{
		cfg:       cfg,
		events:    make(chan event.Event, eventBuffer),
		blockKind: make(map[int]string),
		blockItem: make(map[int]string),
		toolInput: make(map[int]*strings.Builder),
	}
}

// Inbound frame shape. One struct covers the whole vocabulary; the type
// field selects which members are meaningful.
type duplexFrame struct {
	Type      string       `json:"type"`
	Subtype   string       `json:"subtype,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	Index     int          `json:"index,omitempty"`
	Block     *duplexBlock `json:"content_block,omitempty"`
	Delta     *duplexDelta `json:"delta,omitempty"`
	Message   *duplexMsg   `json:"message,omitempty"`
	Usage     *duplexUsage `json:"usage,omitempty"`

	// result frames
	IsError bool   `json:"is_error,omitempty"`
	Result  string `json:"result,omitempty"`

	// approval_request frames
	RequestID  string         `json:"request_id,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
}

type duplexBlock struct {
	Type     string         `json:"type"`
	ID       string         `json:"id,omitempty"`
	ToolName string         `json:"toolName,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
}

type duplexDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

type duplexMsg struct {
	ID string `json:"id,omitempty"`
}

type duplexUsage struct {
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	ReasoningTokens int `json:"reasoning_tokens"`
	CacheReadTokens int `json:"cache_read_input_tokens"`
}

// Connect dials the backend and waits for the init frame carrying the
// session id. On any failure the transport is fully torn down before the
// error is returned.
func (d *DuplexAdapter) Connect(ctx context.Context) (string, error) {
	d.mu.Lock()
	if d.connected {
		d.mu.Unlock()
		return d.sessionID, nil
	}
	d.mu.Unlock()

	var conn *websocket.Conn
	dial := func() error {
		var err error
		conn, _, err = websocket.DefaultDialer.DialContext(ctx, d.cfg.URL, nil)
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), dialRetries),
		ctx,
	)
	if err := backoff.Retry(dial, policy); err != nil {
		return "", fmt.Errorf("dial %s: %w", d.cfg.URL, err)
	}

	sessionID, err := d.handshake(conn)
	if err != nil {
		conn.Close()
		return "", err
	}

	d.mu.Lock()
	d.conn = conn
	d.connected = true
	d.sessionID = sessionID
	d.events = make(chan event.Event, eventBuffer)
	events := d.events
	d.turnID = ""
	d.blockKind = make(map[int]string)
	d.blockItem = make(map[int]string)
	d.toolInput = make(map[int]*strings.Builder)
	d.usage = nil
	d.terminalSent = false
	d.mu.Unlock()

	go d.readLoop(conn, events)
	return sessionID, nil
}

// handshake reads frames until the init frame arrives.
func (d *DuplexAdapter) handshake(conn *websocket.Conn) (string, error) {
	deadline := time.Now().Add(d.cfg.HandshakeTimeout())
	if err := conn.SetReadDeadline(deadline); err != nil {
		return "", err
	}
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("handshake: %w", err)
		}
		var frame duplexFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logging.Warn().Err(err).Msg("skipping undecodable handshake frame")
			continue
		}
		if frame.Type == "system" && frame.Subtype == "init" {
			if frame.SessionID == "" {
				return "", fmt.Errorf("handshake: init frame missing session id")
			}
			return frame.SessionID, nil
		}
	}
}

// Disconnect closes the transport. Idempotent.
func (d *DuplexAdapter) Disconnect() error {
	d.mu.Lock()
	conn := d.conn
	d.connected = false
	d.conn = nil
	d.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	return nil
}

// Events returns the decoded event stream of the current connection.
func (d *DuplexAdapter) Events() <-chan event.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.events
}

// Send delivers a user message frame.
func (d *DuplexAdapter) Send(ctx context.Context, content []types.UserContent) error {
	return d.writeJSON(map[string]any{
		"type":    "user_message",
		"content": content,
	})
}

// Interrupt sends a best-effort interrupt frame.
func (d *DuplexAdapter) Interrupt(ctx context.Context) error {
	return d.writeJSON(map[string]any{"type": "interrupt"})
}

// ResolveApproval sends the decision frame for a pending approval.
func (d *DuplexAdapter) ResolveApproval(ctx context.Context, requestID string, approved bool, reason string) error {
	return d.writeJSON(map[string]any{
		"type":       "approval_response",
		"request_id": requestID,
		"approved":   approved,
		"reason":     reason,
	})
}

func (d *DuplexAdapter) writeJSON(v any) error {
	d.mu.Lock()
	conn := d.conn
	connected := d.connected
	d.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// readLoop decodes every inbound frame until the connection drops.
func (d *DuplexAdapter) readLoop(conn *websocket.Conn, events chan event.Event) {
	defer close(events)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			d.mu.Lock()
			wasConnected := d.connected && d.conn == conn
			if wasConnected {
				d.connected = false
				d.conn = nil
			}
			d.mu.Unlock()

			if wasConnected {
				d.emit(events, event.Event{
					Type:    event.Error,
					Code:    event.CodeConnectionLost,
					Message: err.Error(),
				})
			}
			return
		}

		var frame duplexFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logging.Warn().Err(err).Msg("skipping undecodable frame")
			continue
		}
		d.handleFrame(&frame, events)
	}
}

// handleFrame translates one wire frame into zero or more events.
func (d *DuplexAdapter) handleFrame(frame *duplexFrame, events chan<- event.Event) {
	switch frame.Type {
	case "message_start":
		d.turnID = ""
		if frame.Message != nil {
			d.turnID = frame.Message.ID
		}
		if d.turnID == "" {
			d.turnID = ulid.Make().String()
		}
		d.blockKind = make(map[int]string)
		d.blockItem = make(map[int]string)
		d.toolInput = make(map[int]*strings.Builder)
		d.usage = nil
		d.terminalSent = false

	case "content_block_start":
		if frame.Block == nil {
			return
		}
		d.blockKind[frame.Index] = frame.Block.Type
		itemID := frame.Block.ID
		if itemID == "" {
			itemID = d.derivedItemID(frame.Index)
		}
		d.blockItem[frame.Index] = itemID

		if frame.Block.Type == "tool_use" {
			d.toolInput[frame.Index] = &strings.Builder{}
			d.emit(events, event.Event{
				Type:       event.ToolStarted,
				ItemID:     itemID,
				ToolName:   frame.Block.ToolName,
				ToolKind:   classifyTool(frame.Block.ToolName),
				Parameters: frame.Block.Input,
				TurnID:     d.turnID,
			})
		}

	case "content_block_delta":
		if frame.Delta == nil {
			return
		}
		switch frame.Delta.Type {
		case "text_delta":
			itemID := d.contentItemID(frame.Index, "text")
			d.emit(events, event.Event{Type: event.TextDelta, ItemID: itemID, Text: frame.Delta.Text, TurnID: d.turnID})
		case "thinking_delta":
			itemID := d.contentItemID(frame.Index, "thinking")
			d.emit(events, event.Event{Type: event.ThinkingDelta, ItemID: itemID, Text: frame.Delta.Text, TurnID: d.turnID})
		case "input_json_delta":
			itemID := d.itemIDFor(frame.Index)
			if buf, ok := d.toolInput[frame.Index]; ok {
				buf.WriteString(frame.Delta.PartialJSON)
			}
			d.emit(events, event.Event{Type: event.ToolOutput, ItemID: itemID, Text: frame.Delta.PartialJSON, TurnID: d.turnID})
		default:
			logging.Debug().Str("delta", frame.Delta.Type).Msg("ignoring unknown delta type")
		}

	case "content_block_stop":
		if d.blockKind[frame.Index] != "tool_use" {
			return
		}
		itemID := d.itemIDFor(frame.Index)
		var params map[string]any
		if buf, ok := d.toolInput[frame.Index]; ok && buf.Len() > 0 {
			if err := json.Unmarshal([]byte(buf.String()), &params); err != nil {
				logging.Warn().Str("item", itemID).Err(err).Msg("tool input did not parse")
			}
		}
		d.emit(events, event.Event{
			Type:       event.ToolCompleted,
			ItemID:     itemID,
			Success:    event.Bool(true),
			Parameters: params,
			TurnID:     d.turnID,
		})

	case "message_delta":
		if frame.Usage != nil {
			d.usage = &types.TokenUsage{
				Input:     frame.Usage.InputTokens,
				Output:    frame.Usage.OutputTokens,
				Reasoning: frame.Usage.ReasoningTokens,
				CacheRead: frame.Usage.CacheReadTokens,
			}
		}

	case "message_stop":
		if d.terminalSent {
			return
		}
		d.terminalSent = true
		d.emit(events, event.Event{
			Type:   event.TurnCompleted,
			TurnID: d.turnID,
			Status: string(types.TurnCompleted),
			Usage:  d.usage,
		})

	case "result":
		d.handleResult(frame, events)

	case "approval_request":
		d.emit(events, event.Event{
			Type:       event.ApprovalRequest,
			RequestID:  frame.RequestID,
			ToolCallID: frame.ToolCallID,
			ToolName:   frame.ToolName,
			Parameters: frame.Input,
			TurnID:     d.turnID,
		})

	default:
		logging.Debug().Str("frame", frame.Type).Msg("ignoring unknown frame type")
	}
}

// handleResult processes the out-of-band result frame. An error result
// terminates the turn with exactly one turn_completed and one error event.
func (d *DuplexAdapter) handleResult(frame *duplexFrame, events chan<- event.Event) {
	if !frame.IsError {
		if !d.terminalSent && d.turnID != "" {
			d.terminalSent = true
			d.emit(events, event.Event{
				Type:   event.TurnCompleted,
				TurnID: d.turnID,
				Status: string(types.TurnCompleted),
				Usage:  d.usage,
			})
		}
		return
	}

	d.terminalSent = true
	code := frame.Subtype
	if code == "" {
		code = event.CodeBackendError
	}
	d.emit(events, event.Event{
		Type:   event.TurnCompleted,
		TurnID: d.turnID,
		Status: string(types.TurnError),
	})
	d.emit(events, event.Event{
		Type:    event.Error,
		TurnID:  d.turnID,
		Code:    code,
		Message: frame.Result,
	})
}

// derivedItemID builds a deterministic id for blocks the backend did not
// name, so repeated deltas for one position always target the same item.
func (d *DuplexAdapter) derivedItemID(index int) string {
	return fmt.Sprintf("%s_block_%d", d.turnID, index)
}

func (d *DuplexAdapter) itemIDFor(index int) string {
	if id, ok := d.blockItem[index]; ok {
		return id
	}
	id := d.derivedItemID(index)
	d.blockItem[index] = id
	return id
}

// contentItemID resolves the target item for a text or thinking delta.
// A delta whose kind disagrees with the declared block at that index gets
// its own deterministic id rather than corrupting the declared item.
func (d *DuplexAdapter) contentItemID(index int, kind string) string {
	declared, ok := d.blockKind[index]
	if !ok {
		d.blockKind[index] = kind
		id := d.derivedItemID(index)
		d.blockItem[index] = id
		return id
	}
	if declared == kind {
		return d.itemIDFor(index)
	}
	return fmt.Sprintf("%s_%s", d.derivedItemID(index), kind)
}

func (d *DuplexAdapter) emit(events chan<- event.Event, ev event.Event) {
	d.mu.Lock()
	ev.SessionID = d.sessionID
	d.mu.Unlock()
	ev.Timestamp = time.Now().UnixMilli()
	events <- ev
}
