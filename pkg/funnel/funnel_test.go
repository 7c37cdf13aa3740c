package funnel_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukex/courier/pkg/contracts"
	"github.com/dukex/courier/pkg/engine"
	"github.com/dukex/courier/pkg/funnel"
	"github.com/dukex/courier/pkg/gateway"
	"github.com/dukex/courier/pkg/mocks"
	"github.com/dukex/courier/pkg/observability"
	persistencememory "github.com/dukex/courier/pkg/persistence/memory"
	"github.com/dukex/courier/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	gateway *mocks.MockGateway
	saver   *engine.MemorySaver
	store   *persistencememory.Persistence
	runner  *funnel.Runner
	slept   []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		gateway: &mocks.MockGateway{},
		saver:   engine.NewMemorySaver(),
		store:   persistencememory.NewPersistence(),
	}

	logger := testutil.QuietLogger()
	f.runner = funnel.NewRunner(f.gateway, testutil.StaticSaver{Store: f.saver},
		observability.NewRecorder(logger, f.store.RunLogs(), f.store.DeadLetters()), logger,
		funnel.WithSleeper(func(_ context.Context, d time.Duration) error {
			f.slept = append(f.slept, d)

			return nil
		}))

	return f
}

func isType(kind gateway.MessageType) any {
	return mock.MatchedBy(func(req gateway.SendRequest) bool {
		return req.Type == kind
	})
}

func TestRunner_CompletesAllSteps(t *testing.T) {
	f := newFixture(t)

	cmd := testutil.CreateFunnelCommand(
		contracts.FunnelStep{Type: contracts.StepText, Content: "Oi!"},
		contracts.FunnelStep{Type: contracts.StepWait, Delay: 30},
		contracts.FunnelStep{Type: contracts.StepAudio, Content: "https://cdn.example.com/a.ogg", Delay: 3},
	)

	f.gateway.On("SetPresence", mock.Anything, cmd.Phone, gateway.PresenceComposing, time.Second).Return(nil).Once()
	f.gateway.On("SetPresence", mock.Anything, cmd.Phone, gateway.PresenceRecording, 3*time.Second).Return(nil).Once()
	f.gateway.On("Send", mock.Anything, isType(gateway.MessageText)).
		Return(gateway.SendResult{OK: true, Status: 201, ExternalMessageID: "wamid-1"}, nil).Once()
	f.gateway.On("Send", mock.Anything, isType(gateway.MessageAudio)).
		Return(gateway.SendResult{OK: true, Status: 201, ExternalMessageID: "wamid-2"}, nil).Once()

	ack, err := f.runner.Run(context.Background(), cmd)
	require.NoError(t, err)
	require.True(t, ack.OK)

	assert.Equal(t, "chat_funnel_graph_executed", ack.Message)
	assert.Equal(t, "chat-42-funnel-"+cmd.RunID, ack.ThreadID)
	assert.Equal(t, 3, ack.Data["completedSteps"])
	assert.Equal(t, 3, ack.Data["totalSteps"])
	assert.Equal(t, "Boas-vindas", ack.Data["title"])
	assert.Equal(t, []time.Duration{0, 30 * time.Second, 3 * time.Second}, f.slept)

	history := f.saver.History(ack.ThreadID)
	require.Len(t, history, 3)
	assert.True(t, history[2].Terminal())

	f.gateway.AssertExpectations(t)
}

func TestRunner_FailedStepHaltsSequence(t *testing.T) {
	f := newFixture(t)

	cmd := testutil.CreateFunnelCommand(
		contracts.FunnelStep{Type: contracts.StepText, Content: "Oi!"},
		contracts.FunnelStep{Type: contracts.StepWait, Delay: 1},
		contracts.FunnelStep{Type: contracts.StepImage, Content: "https://cdn.example.com/a.png"},
		contracts.FunnelStep{Type: contracts.StepText, Content: "never sent"},
	)

	f.gateway.On("SetPresence", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.gateway.On("Send", mock.Anything, isType(gateway.MessageText)).
		Return(gateway.SendResult{OK: true, Status: 201, ExternalMessageID: "wamid-1"}, nil).Once()
	f.gateway.On("Send", mock.Anything, isType(gateway.MessageImage)).
		Return(gateway.SendResult{OK: false, Status: 500}, nil).Once()

	ack, err := f.runner.Run(context.Background(), cmd)
	require.NoError(t, err)
	require.False(t, ack.OK)

	assert.Equal(t, contracts.CodeFunnelStepFailed, ack.Error.Code)
	assert.Equal(t, "funnel_send_failed_500", ack.Error.Message)
	assert.False(t, ack.Error.Retryable)
	assert.Equal(t, 2, ack.Data["completedSteps"])
	assert.Equal(t, 4, ack.Data["totalSteps"])
	assert.Equal(t, 2, ack.Data["failedStep"])

	results, ok := ack.Data["steps"].([]funnel.StepResult)
	require.True(t, ok)
	require.Len(t, results, 3)
	assert.Equal(t, funnel.StepCompleted, results[0].Status)
	assert.Equal(t, contracts.StepText, results[0].Type)
	assert.Equal(t, funnel.StepCompleted, results[1].Status)
	assert.Equal(t, contracts.StepWait, results[1].Type)
	assert.Equal(t, funnel.StepFailed, results[2].Status)
	assert.Equal(t, contracts.StepImage, results[2].Type)

	f.gateway.AssertNumberOfCalls(t, "Send", 2)
}

func TestRunner_PresenceFailureIsIgnored(t *testing.T) {
	f := newFixture(t)
	cmd := testutil.CreateFunnelCommand(contracts.FunnelStep{Type: contracts.StepText, Content: "Oi!"})

	f.gateway.On("SetPresence", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("404"))
	f.gateway.On("Send", mock.Anything, mock.Anything).
		Return(gateway.SendResult{OK: true, Status: 201, ExternalMessageID: "wamid-1"}, nil)

	ack, err := f.runner.Run(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, ack.OK)
}

func TestRunner_ResumesAfterInterruption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cmd := testutil.CreateFunnelCommand(
		contracts.FunnelStep{Type: contracts.StepText, Content: "Oi!"},
		contracts.FunnelStep{Type: contracts.StepWait, Delay: 60},
		contracts.FunnelStep{Type: contracts.StepText, Content: "Tudo bem?"},
	)

	interrupted := true
	logger := testutil.QuietLogger()
	runner := funnel.NewRunner(f.gateway, testutil.StaticSaver{Store: f.saver},
		observability.NewRecorder(logger, nil, nil), logger,
		funnel.WithSleeper(func(_ context.Context, d time.Duration) error {
			if d == time.Minute && interrupted {
				interrupted = false

				return context.Canceled
			}

			return nil
		}))

	f.gateway.On("SetPresence", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.gateway.On("Send", mock.Anything, mock.Anything).
		Return(gateway.SendResult{OK: true, Status: 201}, nil)

	_, err := runner.Run(ctx, cmd)
	require.ErrorIs(t, err, context.Canceled)
	f.gateway.AssertNumberOfCalls(t, "Send", 1)

	ack, err := runner.Run(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, ack.OK)
	assert.Equal(t, 3, ack.Data["completedSteps"])
	f.gateway.AssertNumberOfCalls(t, "Send", 2)
}

func TestRunner_RejectsInvalidCommand(t *testing.T) {
	f := newFixture(t)

	cmd := testutil.CreateFunnelCommand()

	ack, err := f.runner.Run(context.Background(), cmd)
	require.Error(t, err)
	assert.Equal(t, contracts.CodeValidation, ack.Error.Code)
	f.gateway.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}
