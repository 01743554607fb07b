// Package event defines the canonical event vocabulary and a per-session
// fan-out bus built on watermill's gochannel pub/sub.
package event

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/agenthub-ai/agenthub/internal/logging"
	"github.com/agenthub-ai/agenthub/pkg/types"
)

const subscriberBuffer = 64

// Bus fans events out to any number of independent subscribers. Each
// Subscribe call gets its own receive channel; slow subscribers do not
// block the publisher or each other beyond the channel buffer.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates a bus backed by a watermill GoChannel.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: subscriberBuffer,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
	}
}

func eventTopic(sessionID string) string  { return "events." + sessionID }
func statusTopic(sessionID string) string { return "status." + sessionID }

// Publish sends an event to every subscriber of its session.
func (b *Bus) Publish(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return b.pubsub.Publish(eventTopic(ev.SessionID), msg)
}

// Subscribe returns an independent receive channel for a session's events.
// The channel closes when ctx is canceled or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, sessionID string) (<-chan Event, error) {
	msgs, err := b.pubsub.Subscribe(ctx, eventTopic(sessionID))
	if err != nil {
		return nil, err
	}

	out := make(chan Event, subscriberBuffer)
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				logging.Warn().Err(err).Msg("dropping undecodable bus event")
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// statusChange is the payload published on the status topic.
type statusChange struct {
	Status types.ConnectionStatus `json:"status"`
}

// PublishStatus notifies status subscribers of a connection state change.
func (b *Bus) PublishStatus(sessionID string, status types.ConnectionStatus) error {
	payload, err := json.Marshal(statusChange{Status: status})
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return b.pubsub.Publish(statusTopic(sessionID), msg)
}

// SubscribeStatus returns an independent receive channel for a session's
// connection status changes.
func (b *Bus) SubscribeStatus(ctx context.Context, sessionID string) (<-chan types.ConnectionStatus, error) {
	msgs, err := b.pubsub.Subscribe(ctx, statusTopic(sessionID))
	if err != nil {
		return nil, err
	}

	out := make(chan types.ConnectionStatus, subscriberBuffer)
	go func() {
		defer close(out)
		for msg := range msgs {
			var change statusChange
			if err := json.Unmarshal(msg.Payload, &change); err != nil {
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- change.Status:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
