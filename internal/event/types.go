package event

import "github.com/agenthub-ai/agenthub/pkg/types"

// Type discriminates the canonical event union. The set is closed: adapters
// decode wire messages into exactly these kinds, and downstream code
// switches exhaustively on them.
type Type string

const (
	TextDelta        Type = "text_delta"
	ThinkingDelta    Type = "thinking_delta"
	ToolStarted      Type = "tool_started"
	ToolOutput       Type = "tool_output"
	ToolCompleted    Type = "tool_completed"
	TurnCompleted    Type = "turn_completed"
	ApprovalRequest  Type = "approval_request"
	ApprovalResolved Type = "approval_resolved"
	Error            Type = "error"
)

// Event is the canonical, backend-agnostic event emitted by an adapter and
// consumed by the session pipeline and external subscribers. Fields beyond
// Type, SessionID and Timestamp are populated per kind.
type Event struct {
	Type      Type   `json:"type"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"` // unix millis

	// Content deltas and tool lifecycle
	ItemID     string         `json:"itemId,omitempty"`
	Text       string         `json:"text,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	ToolKind   types.ToolKind `json:"toolKind,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Success    *bool          `json:"success,omitempty"`

	// Turn terminal state
	TurnID string            `json:"turnId,omitempty"`
	Status string            `json:"status,omitempty"`
	Usage  *types.TokenUsage `json:"usage,omitempty"`

	// Approvals
	RequestID  string `json:"requestId,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
	Approved   *bool  `json:"approved,omitempty"`

	// Errors
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Stable error codes carried by Error events.
const (
	CodeConnectionFailed = "connection_failed"
	CodeConnectionLost   = "connection_lost"
	CodeBackendError     = "backend_error"
	CodeTurnFailed       = "turn_failed"
)

// Bool returns a pointer to b, for the optional Success/Approved fields.
func Bool(b bool) *bool { return &b }
