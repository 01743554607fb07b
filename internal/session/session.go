// Package session runs the event pipeline for one conversation: it feeds
// the adapter's decoded events through the turn accumulator, the approval
// correlator and the transcript reconciler, strictly in arrival order, and
// fans the results out to subscribers.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/agenthub-ai/agenthub/internal/adapter"
	"github.com/agenthub-ai/agenthub/internal/approval"
	"github.com/agenthub-ai/agenthub/internal/event"
	"github.com/agenthub-ai/agenthub/internal/logging"
	"github.com/agenthub-ai/agenthub/internal/storage"
	"github.com/agenthub-ai/agenthub/internal/transcript"
	"github.com/agenthub-ai/agenthub/pkg/types"
)

var (
	// ErrAlreadyGenerating is returned by SendMessage while a turn is in
	// flight.
	ErrAlreadyGenerating = errors.New("session is already generating")

	// ErrNotConnected is returned by operations that require a connected
	// session.
	ErrNotConnected = errors.New("session not connected")
)

// Session owns one conversation with one backend. All pipeline state (the
// accumulator, correlator and reconciler) is mutated only under mu, and
// adapter events are applied strictly sequentially by the run loop.
type Session struct {
	backendType types.BackendType
	adapter     adapter.Adapter
	bus         *event.Bus
	store       *storage.Storage
	config      *types.Config

	mu            sync.Mutex
	id            string
	status        types.ConnectionStatus
	isGenerating  bool
	accumulator   Accumulator
	correlator    *approval.Correlator
	reconciler    *transcript.Reconciler
	lastFlushedID string

	done chan struct{}
}

// New creates a disconnected session.
func New(backendType types.BackendType, a adapter.Adapter, bus *event.Bus, store *storage.Storage, config *types.Config) *Session {
	s := &Session{
		backendType: backendType,
		adapter:     a,
		bus:         bus,
		store:       store,
		config:      config,
		status:      types.StatusDisconnected,
		reconciler:  transcript.NewReconciler(config.MergeWindow()),
	}
	s.correlator = approval.NewCorrelator(config.ApprovalTimeout(), s.onApprovalResolved)
	return s
}

// ID returns the backend session id. Empty until Connect succeeds.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Status returns the current connection status.
func (s *Session) Status() types.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsGenerating reports whether a turn is in flight.
func (s *Session) IsGenerating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isGenerating
}

// Connect establishes the backend transport and starts the apply loop.
// It either fully succeeds or leaves the session disconnected.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.status == types.StatusConnected {
		s.mu.Unlock()
		return nil
	}
	s.status = types.StatusConnecting
	s.mu.Unlock()
	s.publishStatus(types.StatusConnecting)

	id, err := s.adapter.Connect(ctx)
	if err != nil {
		s.mu.Lock()
		s.status = types.StatusError
		s.mu.Unlock()
		s.publishStatus(types.StatusError)
		return err
	}

	s.mu.Lock()
	s.id = id
	s.status = types.StatusConnected
	s.done = make(chan struct{})
	s.mu.Unlock()
	s.publishStatus(types.StatusConnected)

	go s.run(s.adapter.Events(), s.done)

	logging.Info().Str("sessionID", id).Str("backend", string(s.backendType)).Msg("session connected")
	return nil
}

// Disconnect tears the session down. Idempotent.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.status == types.StatusDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.status = types.StatusDisconnected
	s.isGenerating = false
	done := s.done
	s.mu.Unlock()

	s.correlator.Stop()
	err := s.adapter.Disconnect()
	if done != nil {
		<-done
	}
	s.publishStatus(types.StatusDisconnected)
	return err
}

// SendMessage sends user content and opens a new turn. Rejected
// synchronously while a turn is already in flight.
func (s *Session) SendMessage(ctx context.Context, content []types.UserContent) error {
	s.mu.Lock()
	if s.status != types.StatusConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.isGenerating {
		s.mu.Unlock()
		return ErrAlreadyGenerating
	}
	s.isGenerating = true

	userMessage := &types.Message{
		ID:        ulid.Make().String(),
		SessionID: s.id,
		Role:      "user",
		Blocks:    contentBlocks(content),
		Time:      types.MessageTime{Created: nowMillis()},
	}
	s.reconciler.MergeOrAppend(userMessage)
	s.accumulator.Begin("", nowMillis())
	s.mu.Unlock()

	s.persist(userMessage)

	if err := s.adapter.Send(ctx, content); err != nil {
		s.mu.Lock()
		s.isGenerating = false
		s.accumulator.Finish(types.TurnError, nil)
		s.mu.Unlock()
		return err
	}
	return nil
}

// Interrupt asks the backend to stop the in-flight turn. Generation stops
// optimistically: the flag clears and the active turn is flushed as
// interrupted right away, so the session stays responsive even if the
// backend never delivers a terminal event. With no active turn it returns
// immediately without emitting anything.
func (s *Session) Interrupt(ctx context.Context) error {
	s.mu.Lock()
	if !s.isGenerating {
		s.mu.Unlock()
		return nil
	}
	s.isGenerating = false
	message := s.flushLocked(types.TurnInterrupted, nil)
	s.mu.Unlock()

	if message != nil {
		s.persist(message)
	}
	return s.adapter.Interrupt(ctx)
}

// RespondToApproval applies a user decision to a pending approval. A
// decision arriving after the deadline already resolved the request is a
// no-op.
func (s *Session) RespondToApproval(requestID string, approved bool, reason string) error {
	if !s.correlator.Resolve(requestID, approved, reason) {
		logging.Debug().Str("requestID", requestID).Msg("late approval response ignored")
	}
	return nil
}

// PendingApprovals returns the unresolved approval requests.
func (s *Session) PendingApprovals() []types.ApprovalRequest {
	return s.correlator.Pending()
}

// Subscribe returns an independent receive channel for this session's
// events.
func (s *Session) Subscribe(ctx context.Context) (<-chan event.Event, error) {
	return s.bus.Subscribe(ctx, s.ID())
}

// SubscribeStatus returns an independent receive channel for connection
// status changes.
func (s *Session) SubscribeStatus(ctx context.Context) (<-chan types.ConnectionStatus, error) {
	return s.bus.SubscribeStatus(ctx, s.ID())
}

// LoadHistory returns a page of the transcript. An empty in-memory
// transcript is first hydrated from storage.
func (s *Session) LoadHistory(ctx context.Context, offset, limit int) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reconciler.Len() == 0 {
		if err := s.hydrateLocked(ctx); err != nil {
			return nil, err
		}
	}
	return s.reconciler.Messages(offset, limit), nil
}

// Display returns the current display projection.
func (s *Session) Display() []types.DisplayItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconciler.Display()
}

// run applies adapter events strictly in delivery order until the event
// channel closes. The channel and done marker are captured per connection
// so a reconnect's fresh loop never races a draining old one.
func (s *Session) run(events <-chan event.Event, done chan struct{}) {
	for ev := range events {
		s.apply(ev)
	}

	s.mu.Lock()
	wasConnected := s.status == types.StatusConnected
	if wasConnected {
		s.status = types.StatusDisconnected
		s.isGenerating = false
	}
	close(done)
	s.mu.Unlock()

	if wasConnected {
		s.publishStatus(types.StatusDisconnected)
	}
}

// apply folds one event into the pipeline and republishes it.
func (s *Session) apply(ev event.Event) {
	ev.SessionID = s.ID()

	switch ev.Type {
	case event.TextDelta, event.ThinkingDelta, event.ToolStarted, event.ToolOutput, event.ToolCompleted:
		s.mu.Lock()
		s.accumulator.Apply(ev)
		s.mu.Unlock()

	case event.TurnCompleted:
		s.finishTurn(ev)

	case event.ApprovalRequest:
		request := s.correlator.Register(ev.SessionID, ev.RequestID, ev.ToolCallID, ev.ToolName, ev.Parameters)
		ev.RequestID = request.ID

	case event.Error:
		s.applyError(ev)
	}

	s.publish(ev)
}

// finishTurn closes the active turn and flushes it into the transcript.
// A terminal event arriving after the turn was already flushed (interrupt
// or error got there first) still lands its usage statistics.
func (s *Session) finishTurn(ev event.Event) {
	status := types.TurnStatus(ev.Status)
	switch status {
	case types.TurnCompleted, types.TurnInterrupted, types.TurnError:
	default:
		status = types.TurnCompleted
	}

	s.mu.Lock()
	s.isGenerating = false
	if s.accumulator.Active() == nil {
		if ev.Usage != nil && s.lastFlushedID != "" {
			s.reconciler.ApplyUsage(s.lastFlushedID, ev.Usage)
		}
		s.mu.Unlock()
		return
	}
	message := s.flushLocked(status, ev.Usage)
	s.mu.Unlock()

	s.persist(message)
}

// flushLocked destroys the active turn and appends its items to the
// transcript as an assistant message. Returns nil when no turn is active.
// Caller holds mu.
func (s *Session) flushLocked(status types.TurnStatus, usage *types.TokenUsage) *types.Message {
	turn := s.accumulator.Finish(status, usage)
	if turn == nil {
		return nil
	}

	message := &types.Message{
		ID:        turn.ID,
		SessionID: s.id,
		Role:      "assistant",
		Blocks:    turn.Items(),
		Time:      types.MessageTime{Created: nowMillis()},
		Usage:     turn.Usage,
	}
	s.reconciler.MergeOrAppend(message)
	s.lastFlushedID = message.ID
	logging.Debug().Str("turnID", turn.ID).Str("status", string(status)).Int("items", turn.Len()).Msg("turn flushed")
	return message
}

// applyError handles the error taxonomy: connection errors are fatal to
// the session, everything else just stops generation. Either way an error
// destroys the active turn; whatever streamed so far is flushed rather
// than dropped, and the error attaches to the affected message.
func (s *Session) applyError(ev event.Event) {
	s.mu.Lock()
	s.isGenerating = false

	fatal := ev.Code == event.CodeConnectionFailed || ev.Code == event.CodeConnectionLost
	if fatal {
		s.status = types.StatusError
	}

	message := s.flushLocked(types.TurnError, nil)
	if message == nil && ev.TurnID != "" {
		// The turn was already flushed; find its message. Backends report
		// their own turn id, so fall back to the last flushed message.
		if found, ok := s.reconciler.Message(ev.TurnID); ok {
			message = found
		} else if found, ok := s.reconciler.Message(s.lastFlushedID); ok {
			message = found
		}
	}
	if message != nil {
		message.Error = &types.MessageError{Code: ev.Code, Message: ev.Message}
	}
	s.mu.Unlock()

	if message != nil {
		s.persist(message)
	}
	if fatal {
		s.publishStatus(types.StatusError)
	}
	logging.Warn().Str("code", ev.Code).Str("message", ev.Message).Msg("session error")
}

// onApprovalResolved fires exactly once per approval request. It sends the
// protocol-specific decision and emits the bookkeeping event.
func (s *Session) onApprovalResolved(res approval.Resolution) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Polling.RequestTimeout())
	defer cancel()

	if err := s.adapter.ResolveApproval(ctx, res.Request.ID, res.Approved, res.Reason); err != nil {
		logging.Warn().Err(err).Str("requestID", res.Request.ID).Msg("failed to deliver approval decision")
	}

	s.publish(event.Event{
		Type:       event.ApprovalResolved,
		SessionID:  s.ID(),
		Timestamp:  nowMillis(),
		RequestID:  res.Request.ID,
		ToolCallID: res.Request.ToolCallID,
		Approved:   event.Bool(res.Approved),
		Status:     string(res.Request.Status),
	})
}

func (s *Session) publish(ev event.Event) {
	if err := s.bus.Publish(ev); err != nil {
		logging.Warn().Err(err).Str("type", string(ev.Type)).Msg("failed to publish event")
	}
}

func (s *Session) publishStatus(status types.ConnectionStatus) {
	if err := s.bus.PublishStatus(s.ID(), status); err != nil {
		logging.Warn().Err(err).Msg("failed to publish status")
	}
}

// persist writes a message to storage. Persistence failures are logged,
// not fatal; the in-memory transcript stays authoritative.
func (s *Session) persist(message *types.Message) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Polling.RequestTimeout())
	defer cancel()

	path := []string{"sessions", message.SessionID, "messages", message.ID}
	if err := s.store.Put(ctx, path, message); err != nil {
		logging.Warn().Err(err).Str("messageID", message.ID).Msg("failed to persist message")
	}
}

// hydrateLocked loads persisted messages into the reconciler. Storage keys
// are ulids, so lexical scan order is creation order.
func (s *Session) hydrateLocked(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	path := []string{"sessions", s.id, "messages"}
	return s.store.Scan(ctx, path, func(key string, data json.RawMessage) error {
		var message types.Message
		if err := message.UnmarshalJSON(data); err != nil {
			logging.Warn().Err(err).Str("key", key).Msg("skipping undecodable stored message")
			return nil
		}
		s.reconciler.MergeOrAppend(&message)
		return nil
	})
}

// contentBlocks converts outbound user content into transcript blocks.
func contentBlocks(content []types.UserContent) []types.Item {
	blocks := make([]types.Item, 0, len(content))
	for _, c := range content {
		blocks = append(blocks, &types.TextItem{
			ID:   ulid.Make().String(),
			Type: "text",
			Text: c.Text,
		})
	}
	return blocks
}
