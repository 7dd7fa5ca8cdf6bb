package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowion/flowion/pkg/channels/gochannel"
	"github.com/flowion/flowion/pkg/eventbus"
	"github.com/flowion/flowion/pkg/events"
	"github.com/flowion/flowion/pkg/models"
)

func newTestBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_DeliversDecodedEvent(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.RunStarted, 1)

	err := bus.Handle(events.RunStartedEvent, func(_ context.Context, event any) error {
		started, ok := event.(*events.RunStarted)
		if !ok {
			t.Errorf("unexpected event payload type %T", event)

			return nil
		}

		received <- started

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(context.Background()))

	sent := events.RunStarted{
		BaseEvent: events.NewBaseEvent(events.RunStartedEvent),
		RunID:     "run-1",
		FlowID:    "flow-1",
		Trigger:   models.RunTrigger{Kind: models.TriggerKindManual},
	}
	require.NoError(t, bus.Publish(context.Background(), "run-1", sent))

	select {
	case got := <-received:
		assert.Equal(t, "run-1", got.RunID)
		assert.Equal(t, "flow-1", got.FlowID)
		assert.Equal(t, events.RunStartedEvent, got.Type)
		assert.Equal(t, models.TriggerKindManual, got.Trigger.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never received the published event")
	}
}

func TestWatermillEventBus_UnhandledTypeIsSkipped(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.NodeCompleted, 1)

	err := bus.Handle(events.NodeCompletedEvent, func(_ context.Context, event any) error {
		completed, ok := event.(*events.NodeCompleted)
		if !ok {
			t.Errorf("unexpected event payload type %T", event)

			return nil
		}

		received <- completed

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(context.Background()))

	// No handler for run starts: the consumer acks and moves on, so the
	// subscribed type behind it still gets delivered.
	require.NoError(t, bus.Publish(context.Background(), "run-1", events.RunStarted{
		BaseEvent: events.NewBaseEvent(events.RunStartedEvent),
		RunID:     "run-1",
	}))
	require.NoError(t, bus.Publish(context.Background(), "run-1", events.NodeCompleted{
		BaseEvent: events.NewBaseEvent(events.NodeCompletedEvent),
		RunID:     "run-1",
		NodeID:    "node-1",
	}))

	select {
	case got := <-received:
		assert.Equal(t, "node-1", got.NodeID)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never received the published event")
	}
}
