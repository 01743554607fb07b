// Package approval tracks pending human-approval requests for tool calls
// and guarantees each one is resolved exactly once, whether by a user
// decision or by timeout.
package approval

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/agenthub-ai/agenthub/internal/logging"
	"github.com/agenthub-ai/agenthub/pkg/types"
)

// Resolution is the terminal outcome of one approval request.
type Resolution struct {
	Request  types.ApprovalRequest
	Approved bool
	Reason   string
}

// Correlator holds the pending-request table for one session. Every
// registered request reaches exactly one terminal state: the first of a
// user decision or the deadline wins, the loser is a silent no-op.
type Correlator struct {
	timeout    time.Duration
	onResolved func(Resolution)

	mu      sync.Mutex
	pending map[string]*pendingApproval
	stopped bool
}

type pendingApproval struct {
	request types.ApprovalRequest
	timer   *time.Timer
}

// NewCorrelator creates a correlator that auto-declines requests still
// pending after timeout. onResolved fires exactly once per request with
// the terminal outcome.
func NewCorrelator(timeout time.Duration, onResolved func(Resolution)) *Correlator {
	return &Correlator{
		timeout:    timeout,
		onResolved: onResolved,
		pending:    make(map[string]*pendingApproval),
	}
}

// Register records a new pending request and arms its deadline. The
// returned request carries the pending status and computed deadline.
func (c *Correlator) Register(sessionID, requestID, toolCallID, toolName string, input map[string]any) types.ApprovalRequest {
	if requestID == "" {
		requestID = ulid.Make().String()
	}

	now := time.Now()
	request := types.ApprovalRequest{
		ID:         requestID,
		SessionID:  sessionID,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Input:      input,
		Status:     types.ApprovalPending,
		CreatedAt:  now.UnixMilli(),
		Deadline:   now.Add(c.timeout).UnixMilli(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return request
	}
	if _, exists := c.pending[requestID]; exists {
		logging.Warn().Str("requestID", requestID).Msg("duplicate approval request ignored")
		return request
	}

	entry := &pendingApproval{request: request}
	entry.timer = time.AfterFunc(c.timeout, func() {
		c.expire(requestID)
	})
	c.pending[requestID] = entry
	return request
}

// Resolve applies a user decision. Returns false when the request is
// unknown or already resolved; a late decision changes nothing.
func (c *Correlator) Resolve(requestID string, approved bool, reason string) bool {
	entry, ok := c.take(requestID)
	if !ok {
		return false
	}
	entry.timer.Stop()

	if approved {
		entry.request.Status = types.ApprovalApproved
	} else {
		entry.request.Status = types.ApprovalDeclined
	}
	c.onResolved(Resolution{Request: entry.request, Approved: approved, Reason: reason})
	return true
}

// expire auto-declines a request whose deadline passed before any
// decision arrived.
func (c *Correlator) expire(requestID string) {
	entry, ok := c.take(requestID)
	if !ok {
		return
	}

	logging.Info().Str("requestID", requestID).Str("tool", entry.request.ToolName).Msg("approval request timed out")
	entry.request.Status = types.ApprovalTimedOut
	c.onResolved(Resolution{Request: entry.request, Approved: false, Reason: "approval timed out"})
}

// take removes and returns the pending entry, claiming the sole right to
// resolve it.
func (c *Correlator) take(requestID string) (*pendingApproval, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.pending[requestID]
	if ok {
		delete(c.pending, requestID)
	}
	return entry, ok
}

// Pending returns a snapshot of the unresolved requests.
func (c *Correlator) Pending() []types.ApprovalRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.ApprovalRequest, 0, len(c.pending))
	for _, entry := range c.pending {
		out = append(out, entry.request)
	}
	return out
}

// Stop cancels all deadline timers without resolving anything. Used on
// session teardown.
func (c *Correlator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	for id, entry := range c.pending {
		entry.timer.Stop()
		delete(c.pending, id)
	}
}
