package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub-ai/agenthub/pkg/types"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestFanOutToIndependentSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	ctx := context.Background()

	first, err := bus.Subscribe(ctx, "sess_1")
	require.NoError(t, err)
	second, err := bus.Subscribe(ctx, "sess_1")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(Event{Type: TextDelta, SessionID: "sess_1", Text: "hi"}))

	for _, ch := range []<-chan Event{first, second} {
		ev := receive(t, ch)
		assert.Equal(t, TextDelta, ev.Type)
		assert.Equal(t, "hi", ev.Text)
	}
}

func TestSessionsIsolated(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	ctx := context.Background()

	other, err := bus.Subscribe(ctx, "sess_2")
	require.NoError(t, err)
	mine, err := bus.Subscribe(ctx, "sess_1")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(Event{Type: TextDelta, SessionID: "sess_1", Text: "hi"}))

	receive(t, mine)
	select {
	case ev := <-other:
		t.Fatalf("unexpected cross-session event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeCanceledByContext(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(ctx, "sess_1")
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestStatusChannel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	ctx := context.Background()

	statuses, err := bus.SubscribeStatus(ctx, "sess_1")
	require.NoError(t, err)

	require.NoError(t, bus.PublishStatus("sess_1", types.StatusConnecting))
	require.NoError(t, bus.PublishStatus("sess_1", types.StatusConnected))

	select {
	case status := <-statuses:
		assert.Equal(t, types.StatusConnecting, status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status")
	}
	select {
	case status := <-statuses:
		assert.Equal(t, types.StatusConnected, status)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status")
	}
}
