package cmd_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/courier/pkg/cmd"
	"github.com/dukex/courier/pkg/eventbus"
	"github.com/dukex/courier/pkg/events"
	"github.com/dukex/courier/pkg/mocks"
	"github.com/dukex/courier/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRegisterEventLog(t *testing.T) {
	bus := &mocks.MockEventBus{}

	for _, eventType := range []events.EventType{
		events.RunCompletedEvent,
		events.RunFailedEvent,
		events.JobDeadLetteredEvent,
		events.MessageDispatchedEvent,
	} {
		bus.On("Handle", eventType, mock.AnythingOfType("eventbus.EventHandler")).Return(nil).Once()
	}

	err := cmd.RegisterEventLog(bus, testutil.QuietLogger())
	require.NoError(t, err)

	bus.AssertExpectations(t)
}

func TestRegisterEventLog_HandlersAcceptTheirEvents(t *testing.T) {
	bus := &mocks.MockEventBus{}
	handlers := map[events.EventType]eventbus.EventHandler{}

	bus.On("Handle", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		eventType, _ := args.Get(0).(events.EventType)
		handlers[eventType] = args.Get(1).(eventbus.EventHandler)
	})

	require.NoError(t, cmd.RegisterEventLog(bus, testutil.QuietLogger()))
	require.Len(t, handlers, 4)

	ctx := context.Background()

	assert.NoError(t, handlers[events.RunCompletedEvent](ctx, &events.RunCompleted{Graph: "dispatch"}))
	assert.NoError(t, handlers[events.RunFailedEvent](ctx, &events.RunFailed{Code: "EXECUTION_FAILED"}))
	assert.NoError(t, handlers[events.JobDeadLetteredEvent](ctx, &events.JobDeadLettered{Attempts: 3}))
	assert.NoError(t, handlers[events.MessageDispatchedEvent](ctx, &events.MessageDispatched{Status: "sent"}))

	// Unexpected payloads are acknowledged and dropped.
	assert.NoError(t, handlers[events.RunFailedEvent](ctx, "not an event"))
}

func TestRegisterEventLog_PropagatesHandleError(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Handle", mock.Anything, mock.Anything).Return(errors.New("closed"))

	err := cmd.RegisterEventLog(bus, testutil.QuietLogger())
	assert.EqualError(t, err, "closed")
}
