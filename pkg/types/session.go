package types

// BackendType selects which backend adapter variant a session speaks to.
type BackendType string

const (
	// BackendDuplex is the push variant: a persistent duplex connection
	// that streams partial-response frames.
	BackendDuplex BackendType = "duplex"

	// BackendPolling is the poll variant: outbound RPC calls plus a
	// fixed-interval poll for inbound notifications and server requests.
	BackendPolling BackendType = "polling"
)

// ConnectionStatus is the transport state of a session.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

// ApprovalStatus is the lifecycle state of a human-approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDeclined ApprovalStatus = "declined"
	ApprovalTimedOut ApprovalStatus = "timedOut"
)

// ApprovalRequest is a backend request for a human decision on a tool call.
type ApprovalRequest struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"sessionID"`
	ToolCallID string         `json:"toolCallID"`
	ToolName   string         `json:"toolName,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Status     ApprovalStatus `json:"status"`
	CreatedAt  int64          `json:"createdAt"`
	Deadline   int64          `json:"deadline"`
}

// UserContent is one block of an outbound user message.
type UserContent struct {
	Type string `json:"type"` // "text"
	Text string `json:"text"`
}

// TextContent builds a single-block text user message.
func TextContent(text string) []UserContent {
	return []UserContent{{Type: "text", Text: text}}
}
