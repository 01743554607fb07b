package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agenthub-ai/agenthub/internal/event"
	"github.com/agenthub-ai/agenthub/internal/logging"
	"github.com/agenthub-ai/agenthub/pkg/types"
)

// pollFailureLimit is how many consecutive poll failures are tolerated
// before the connection is declared lost.
const pollFailureLimit = 5

// PollingAdapter drives the poll-variant backend: outbound RPC calls
// matched to responses by a locally generated monotonic id, and a
// fixed-interval poll that retrieves inbound notifications and
// server-initiated requests as an ordered batch.
type PollingAdapter struct {
	cfg    types.PollingConfig
	client *http.Client
	ids    atomic.Int64

	mu        sync.Mutex
	connected bool
	threadID  string
	// serverReqs maps approval request ids to the envelope id the backend
	// expects the decision response under.
	serverReqs map[string]int64

	// events is replaced on every Connect; each poll loop owns and closes
	// the channel it was started with, so a reconnect never races a
	// draining predecessor.
	events     chan event.Event
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// NewPollingAdapter creates a disconnected polling adapter.
func NewPollingAdapter(cfg types.PollingConfig) *PollingAdapter {
	return &PollingAdapter{
		cfg:        cfg,
		client:     &http.Client{},
		serverReqs: make(map[string]int64),
		events:     make(chan event.Event, eventBuffer),
	}
}

// rpcEnvelope is both the outbound request shape {id, method, params} and
// the inbound poll-batch element. An inbound element carrying an id is a
// server request that needs a {id, result|error} response; one without an
// id is a fire-and-forget notification.
type rpcEnvelope struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Err() error {
	return fmt.Errorf("rpc error %d: %s", e.Code, e.Message)
}

// Connect performs the thread-start handshake and then begins polling.
func (p *PollingAdapter) Connect(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.connected {
		id := p.threadID
		p.mu.Unlock()
		return id, nil
	}
	p.mu.Unlock()

	result, err := p.call(ctx, "thread/start", map[string]any{})
	if err != nil {
		return "", fmt.Errorf("thread/start: %w", err)
	}

	var started struct {
		ThreadID string `json:"thread_id"`
	}
	if err := json.Unmarshal(result, &started); err != nil {
		return "", fmt.Errorf("thread/start: %w", err)
	}
	if started.ThreadID == "" {
		return "", errors.New("thread/start: missing thread id")
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.connected = true
	p.threadID = started.ThreadID
	p.serverReqs = make(map[string]int64)
	p.events = make(chan event.Event, eventBuffer)
	p.loopCancel = cancel
	p.loopDone = make(chan struct{})
	events, done := p.events, p.loopDone
	p.mu.Unlock()

	go p.pollLoop(loopCtx, events, done)
	return started.ThreadID, nil
}

// Disconnect stops the poll loop immediately. Idempotent.
func (p *PollingAdapter) Disconnect() error {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return nil
	}
	p.connected = false
	cancel := p.loopCancel
	done := p.loopDone
	p.mu.Unlock()

	cancel()
	<-done
	return nil
}

// Events returns the decoded event stream of the current connection.
func (p *PollingAdapter) Events() <-chan event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events
}

// Send delivers a user message via RPC.
func (p *PollingAdapter) Send(ctx context.Context, content []types.UserContent) error {
	p.mu.Lock()
	threadID := p.threadID
	connected := p.connected
	p.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	_, err := p.call(ctx, "thread/send", map[string]any{
		"thread_id": threadID,
		"content":   content,
	})
	return err
}

// Interrupt issues a best-effort interrupt RPC.
func (p *PollingAdapter) Interrupt(ctx context.Context) error {
	p.mu.Lock()
	threadID := p.threadID
	connected := p.connected
	p.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	_, err := p.call(ctx, "thread/interrupt", map[string]any{"thread_id": threadID})
	return err
}

// ResolveApproval answers a polled server request with the decision.
func (p *PollingAdapter) ResolveApproval(ctx context.Context, requestID string, approved bool, reason string) error {
	p.mu.Lock()
	envelopeID, ok := p.serverReqs[requestID]
	if ok {
		delete(p.serverReqs, requestID)
	}
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending server request for approval %s", requestID)
	}

	decision := "declined"
	if approved {
		decision = "approved"
	}
	return p.respond(ctx, &rpcEnvelope{
		ID:     &envelopeID,
		Result: mustMarshal(map[string]any{"decision": decision, "reason": reason}),
	})
}

// call sends one {id, method, params} request and returns its result.
// Each call carries its own timeout; an expired call rejects only its own
// caller.
func (p *PollingAdapter) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := p.ids.Add(1)
	env := rpcEnvelope{ID: &id, Method: method, Params: mustMarshal(params)}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout())
	defer cancel()

	resp, err := p.post(callCtx, "/rpc", env)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", method, ErrRequestTimeout)
		}
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error.Err()
	}
	if resp.ID == nil || *resp.ID != id {
		return nil, fmt.Errorf("%s: response id mismatch", method)
	}
	return resp.Result, nil
}

// respond posts a response envelope for a server-initiated request.
func (p *PollingAdapter) respond(ctx context.Context, env *rpcEnvelope) error {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout())
	defer cancel()
	_, err := p.post(callCtx, "/rpc", env)
	return err
}

func (p *PollingAdapter) post(ctx context.Context, path string, env any) (*rpcEnvelope, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("backend returned %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out rpcEnvelope
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("undecodable response: %w", err)
		}
	}
	return &out, nil
}

// pollLoop retrieves the inbound batch at a fixed interval while
// connected. Batches are processed strictly in array order.
func (p *PollingAdapter) pollLoop(ctx context.Context, events chan event.Event, done chan struct{}) {
	defer close(done)
	defer close(events)

	ticker := time.NewTicker(p.cfg.PollInterval())
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		batch, err := p.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			logging.Warn().Err(err).Int("failures", failures).Msg("poll failed")
			if failures >= pollFailureLimit {
				p.mu.Lock()
				p.connected = false
				p.mu.Unlock()
				p.emit(events, event.Event{
					Type:    event.Error,
					Code:    event.CodeConnectionLost,
					Message: err.Error(),
				})
				return
			}
			continue
		}
		failures = 0

		for i := range batch {
			p.processEnvelope(ctx, &batch[i], events)
		}
	}
}

// poll fetches the next ordered batch of envelopes.
func (p *PollingAdapter) poll(ctx context.Context) ([]rpcEnvelope, error) {
	p.mu.Lock()
	threadID := p.threadID
	p.mu.Unlock()

	pollCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(pollCtx, http.MethodGet, p.cfg.BaseURL+"/threads/"+threadID+"/events", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("backend returned %s", resp.Status)
	}

	var batch []rpcEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, fmt.Errorf("undecodable poll batch: %w", err)
	}
	return batch, nil
}

// processEnvelope handles one element of a poll batch. Elements with an id
// are server requests; the rest are notifications. A malformed element is
// logged and skipped without affecting the session.
func (p *PollingAdapter) processEnvelope(ctx context.Context, env *rpcEnvelope, events chan<- event.Event) {
	if env.ID != nil {
		p.processServerRequest(ctx, env, events)
		return
	}
	p.processNotification(env.Method, env.Params, events)
}

func (p *PollingAdapter) processServerRequest(ctx context.Context, env *rpcEnvelope, events chan<- event.Event) {
	if env.Method != "approval/request" {
		logging.Debug().Str("method", env.Method).Msg("rejecting unknown server request")
		id := *env.ID
		_ = p.respond(ctx, &rpcEnvelope{
			ID:    &id,
			Error: &rpcError{Code: -32601, Message: "method not found"},
		})
		return
	}

	var params struct {
		RequestID  string         `json:"request_id"`
		ToolCallID string         `json:"tool_call_id"`
		ToolName   string         `json:"tool_name"`
		Input      map[string]any `json:"input"`
		TurnID     string         `json:"turn_id"`
	}
	if err := json.Unmarshal(env.Params, &params); err != nil {
		logging.Warn().Err(err).Msg("skipping malformed approval request")
		return
	}
	requestID := params.RequestID
	if requestID == "" {
		requestID = fmt.Sprintf("srv_%d", *env.ID)
	}

	p.mu.Lock()
	p.serverReqs[requestID] = *env.ID
	p.mu.Unlock()

	p.emit(events, event.Event{
		Type:       event.ApprovalRequest,
		RequestID:  requestID,
		ToolCallID: params.ToolCallID,
		ToolName:   params.ToolName,
		Parameters: params.Input,
		TurnID:     params.TurnID,
	})
}

func (p *PollingAdapter) processNotification(method string, params json.RawMessage, events chan<- event.Event) {
	switch method {
	case "item/agent_message_delta":
		var n struct {
			TurnID string `json:"turn_id"`
			ItemID string `json:"item_id"`
			Delta  string `json:"delta"`
		}
		if err := json.Unmarshal(params, &n); err != nil {
			logging.Warn().Err(err).Str("method", method).Msg("skipping malformed notification")
			return
		}
		p.emit(events, event.Event{Type: event.TextDelta, ItemID: n.ItemID, Text: n.Delta, TurnID: n.TurnID})

	case "item/reasoning_delta":
		var n struct {
			TurnID string `json:"turn_id"`
			ItemID string `json:"item_id"`
			Delta  string `json:"delta"`
		}
		if err := json.Unmarshal(params, &n); err != nil {
			logging.Warn().Err(err).Str("method", method).Msg("skipping malformed notification")
			return
		}
		p.emit(events, event.Event{Type: event.ThinkingDelta, ItemID: n.ItemID, Text: n.Delta, TurnID: n.TurnID})

	case "item/started":
		var n struct {
			TurnID   string         `json:"turn_id"`
			ItemID   string         `json:"item_id"`
			ToolName string         `json:"tool_name"`
			Input    map[string]any `json:"input"`
		}
		if err := json.Unmarshal(params, &n); err != nil {
			logging.Warn().Err(err).Str("method", method).Msg("skipping malformed notification")
			return
		}
		p.emit(events, event.Event{
			Type:       event.ToolStarted,
			ItemID:     n.ItemID,
			ToolName:   n.ToolName,
			ToolKind:   classifyTool(n.ToolName),
			Parameters: n.Input,
			TurnID:     n.TurnID,
		})

	case "item/output_delta":
		var n struct {
			TurnID string `json:"turn_id"`
			ItemID string `json:"item_id"`
			Chunk  string `json:"chunk"`
		}
		if err := json.Unmarshal(params, &n); err != nil {
			logging.Warn().Err(err).Str("method", method).Msg("skipping malformed notification")
			return
		}
		p.emit(events, event.Event{Type: event.ToolOutput, ItemID: n.ItemID, Text: n.Chunk, TurnID: n.TurnID})

	case "item/completed":
		var n struct {
			TurnID  string `json:"turn_id"`
			ItemID  string `json:"item_id"`
			Success bool   `json:"success"`
			Result  string `json:"result"`
		}
		if err := json.Unmarshal(params, &n); err != nil {
			logging.Warn().Err(err).Str("method", method).Msg("skipping malformed notification")
			return
		}
		p.emit(events, event.Event{
			Type:    event.ToolCompleted,
			ItemID:  n.ItemID,
			Success: event.Bool(n.Success),
			Text:    n.Result,
			TurnID:  n.TurnID,
		})

	case "turn/completed":
		var n struct {
			TurnID string            `json:"turn_id"`
			Status string            `json:"status"`
			Usage  *types.TokenUsage `json:"usage"`
			Error  *struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(params, &n); err != nil {
			logging.Warn().Err(err).Str("method", method).Msg("skipping malformed notification")
			return
		}
		p.emit(events, event.Event{
			Type:   event.TurnCompleted,
			TurnID: n.TurnID,
			Status: n.Status,
			Usage:  n.Usage,
		})
		if n.Status == string(types.TurnError) && n.Error != nil {
			p.emit(events, event.Event{
				Type:    event.Error,
				TurnID:  n.TurnID,
				Code:    n.Error.Code,
				Message: n.Error.Message,
			})
		}

	case "thread/error":
		var n struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(params, &n); err != nil {
			logging.Warn().Err(err).Str("method", method).Msg("skipping malformed notification")
			return
		}
		code := n.Code
		if code == "" {
			code = event.CodeBackendError
		}
		p.emit(events, event.Event{Type: event.Error, Code: code, Message: n.Message})

	default:
		logging.Debug().Str("method", method).Msg("ignoring unknown notification")
	}
}

func (p *PollingAdapter) emit(events chan<- event.Event, ev event.Event) {
	p.mu.Lock()
	ev.SessionID = p.threadID
	p.mu.Unlock()
	ev.Timestamp = time.Now().UnixMilli()
	events <- ev
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
