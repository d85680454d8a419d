package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/devflow/pkg/channels/gochannel"
	"github.com/dukex/devflow/pkg/eventbus"
	"github.com/dukex/devflow/pkg/events"
	"github.com/dukex/devflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	received := make(chan *events.PhaseStarted, 1)

	err = bus.Handle(events.PhaseStartedEvent, func(_ context.Context, event any) error {
		started, ok := event.(*events.PhaseStarted)
		require.True(t, ok)
		received <- started

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	publishEvent := events.PhaseStarted{
		BaseEvent: events.NewBaseEvent(events.PhaseStartedEvent, "run-1"),
		Phase:     models.PhasePlan,
		Attempt:   2,
	}

	require.NoError(t, bus.Publish(ctx, "run-1", publishEvent))

	select {
	case got := <-received:
		assert.Equal(t, "run-1", got.RunID)
		assert.Equal(t, models.PhasePlan, got.Phase)
		assert.Equal(t, 2, got.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestWatermillEventBus_IgnoresUnhandledTypes(t *testing.T) {
	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	// No handler registered for RunCompleted; the event is acked and
	// dropped without error.
	event := events.RunCompleted{
		BaseEvent: events.NewBaseEvent(events.RunCompletedEvent, "run-2"),
	}
	require.NoError(t, bus.Publish(ctx, "run-2", event))
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
