// Package adapter translates backend wire protocols into the canonical
// event vocabulary. Two variants exist: a duplex adapter driving a
// persistent websocket that pushes partial-response frames, and a polling
// adapter driving outbound RPC calls plus a fixed-interval poll for
// inbound notifications and server requests.
package adapter

import (
	"context"
	"errors"
	"strings"

	"github.com/agenthub-ai/agenthub/internal/event"
	"github.com/agenthub-ai/agenthub/pkg/types"
)

var (
	// ErrNotConnected is returned by operations that need a live transport.
	ErrNotConnected = errors.New("adapter not connected")

	// ErrRequestTimeout is returned to a caller whose RPC request expired.
	ErrRequestTimeout = errors.New("request timed out")
)

// Adapter is a connection to one backend for one session. Connect either
// fully succeeds (a backend session id is obtained) or fails atomically;
// Disconnect is idempotent. Decoded events are delivered on Events() in
// transport order; the channel closes when the adapter shuts down.
type Adapter interface {
	// Connect establishes the transport and returns the backend session id.
	Connect(ctx context.Context) (string, error)

	// Disconnect tears down the transport. Safe to call when already
	// disconnected.
	Disconnect() error

	// Send delivers a user message to the backend.
	Send(ctx context.Context, content []types.UserContent) error

	// Interrupt asks the backend to stop the in-flight turn. Best effort.
	Interrupt(ctx context.Context) error

	// ResolveApproval sends the protocol-specific decision for a pending
	// approval request.
	ResolveApproval(ctx context.Context, requestID string, approved bool, reason string) error

	// Events returns the adapter's decoded event stream.
	Events() <-chan event.Event
}

// eventBuffer is the depth of the decoded-event queue between the receive
// loop and the session's apply loop.
const eventBuffer = 256

// classifyTool maps a backend tool name onto a coarse kind for renderers.
func classifyTool(name string) types.ToolKind {
	switch strings.ToLower(name) {
	case "read", "glob", "grep", "ls", "list":
		return types.ToolKindRead
	case "edit", "write", "patch", "apply_patch", "multiedit":
		return types.ToolKindEdit
	case "bash", "shell", "exec", "command_execution":
		return types.ToolKindExecute
	case "webfetch", "fetch", "web_search":
		return types.ToolKindFetch
	default:
		return types.ToolKindOther
	}
}
