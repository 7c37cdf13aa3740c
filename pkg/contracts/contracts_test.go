package contracts_test

import (
	"errors"
	"testing"

	"github.com/dukex/courier/pkg/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFunnel() *contracts.FunnelRunCommand {
	return &contracts.FunnelRunCommand{
		ChatID: 42,
		Phone:  "5511999990000",
		Title:  "Onboarding",
		Steps: []contracts.FunnelStep{
			{Type: contracts.StepText, Content: "hello"},
			{Type: contracts.StepWait, Delay: 5},
		},
	}
}

func TestValidate_ContractVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		version string
		wantErr bool
	}{
		{name: "absent defaults to v1", version: ""},
		{name: "supported", version: "v1"},
		{name: "future version", version: "v2", wantErr: true},
		{name: "legacy version", version: "v0", wantErr: true},
		{name: "case mismatch", version: "V1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cmd := &contracts.DispatchRunCommand{}
			cmd.ContractVersion = tt.version

			err := contracts.Validate(cmd)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, contracts.ContractVersion, cmd.ContractVersion)

				return
			}

			require.Error(t, err)
			assert.True(t, contracts.IsValidationError(err))
			assert.True(t, contracts.IsInvalidContractVersion(err))
			assert.Equal(t, contracts.CodeValidation, contracts.CodeOf(err))
			assert.False(t, contracts.IsRetryable(err))

			var schemaErr *contracts.SchemaError
			require.ErrorAs(t, err, &schemaErr)
			assert.Equal(t, "contractVersion", schemaErr.Field)
			assert.Equal(t, string(contracts.CodeInvalidContractVersion), schemaErr.Reason)
		})
	}
}

func TestValidate_Defaults(t *testing.T) {
	t.Parallel()

	dispatch := &contracts.DispatchRunCommand{}
	require.NoError(t, contracts.Validate(dispatch))
	assert.Equal(t, 25, dispatch.BatchSize)

	funnel := validFunnel()
	require.NoError(t, contracts.Validate(funnel))
	assert.Equal(t, "ui", funnel.InitiatedBy)

	send := &contracts.SendCommand{ChatID: 1, Phone: "5511999990000", Message: "hi"}
	require.NoError(t, contracts.ValidateSend(send))
	assert.Equal(t, contracts.StepText, send.Type)
}

func TestValidate_FieldErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cmd       contracts.Command
		wantField string
	}{
		{
			name:      "batch size above limit",
			cmd:       &contracts.DispatchRunCommand{BatchSize: 201},
			wantField: "batchSize",
		},
		{
			name: "run id not a uuid",
			cmd: &contracts.SchedulerRunCommand{
				Envelope: contracts.Envelope{RunID: "not-a-uuid"},
			},
			wantField: "runId",
		},
		{
			name: "non positive chat id",
			cmd: func() contracts.Command {
				c := validFunnel()
				c.ChatID = 0

				return c
			}(),
			wantField: "chatId",
		},
		{
			name: "short phone",
			cmd: func() contracts.Command {
				c := validFunnel()
				c.Phone = "123"

				return c
			}(),
			wantField: "phone",
		},
		{
			name: "empty title",
			cmd: func() contracts.Command {
				c := validFunnel()
				c.Title = ""

				return c
			}(),
			wantField: "title",
		},
		{
			name: "unknown step type",
			cmd: func() contracts.Command {
				c := validFunnel()
				c.Steps[1].Type = "sticker"

				return c
			}(),
			wantField: "steps[1].type",
		},
		{
			name: "negative delay",
			cmd: func() contracts.Command {
				c := validFunnel()
				c.Steps[0].Delay = -1

				return c
			}(),
			wantField: "steps[0].delay",
		},
		{
			name: "unknown initiator",
			cmd: func() contracts.Command {
				c := validFunnel()
				c.InitiatedBy = "robot"

				return c
			}(),
			wantField: "initiatedBy",
		},
		{
			name: "no steps",
			cmd: func() contracts.Command {
				c := validFunnel()
				c.Steps = nil

				return c
			}(),
			wantField: "steps",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := contracts.Validate(tt.cmd)
			require.Error(t, err)
			assert.True(t, contracts.IsValidationError(err))
			assert.False(t, contracts.IsInvalidContractVersion(err))

			var schemaErr *contracts.SchemaError
			require.ErrorAs(t, err, &schemaErr)
			assert.Equal(t, tt.wantField, schemaErr.Field)
		})
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		kind      contracts.Kind
		payload   string
		wantErr   bool
		wantField string
		check     func(t *testing.T, cmd contracts.Command)
	}{
		{
			name:    "dispatch with defaults",
			kind:    contracts.KindDispatch,
			payload: `{"dryRun": true}`,
			check: func(t *testing.T, cmd contracts.Command) {
				t.Helper()
				dispatch, ok := cmd.(*contracts.DispatchRunCommand)
				require.True(t, ok)
				assert.Equal(t, 25, dispatch.BatchSize)
				assert.True(t, dispatch.DryRun)
				assert.Equal(t, "v1", dispatch.ContractVersion)
			},
		},
		{
			name:      "explicit zero batch size",
			kind:      contracts.KindDispatch,
			payload:   `{"batchSize": 0}`,
			wantErr:   true,
			wantField: "batchSize",
		},
		{
			name:      "batch size wrong type",
			kind:      contracts.KindDispatch,
			payload:   `{"batchSize": "ten"}`,
			wantErr:   true,
			wantField: "batchSize",
		},
		{
			name:      "version mismatch",
			kind:      contracts.KindScheduler,
			payload:   `{"contractVersion": "v2"}`,
			wantErr:   true,
			wantField: "contractVersion",
		},
		{
			name:      "funnel missing steps",
			kind:      contracts.KindFunnel,
			payload:   `{"chatId": 1, "phone": "5511999990000", "title": "x"}`,
			wantErr:   true,
			wantField: "steps",
		},
		{
			name:    "funnel",
			kind:    contracts.KindFunnel,
			payload: `{"chatId": 7, "phone": "5511999990000", "title": "Welcome", "steps": [{"type": "text", "content": "hi"}, {"type": "wait", "delay": 3}]}`,
			check: func(t *testing.T, cmd contracts.Command) {
				t.Helper()
				funnel, ok := cmd.(*contracts.FunnelRunCommand)
				require.True(t, ok)
				assert.Equal(t, int64(7), funnel.ChatID)
				assert.Len(t, funnel.Steps, 2)
				assert.Equal(t, 3, funnel.Steps[1].Delay)
			},
		},
		{
			name:    "malformed json",
			kind:    contracts.KindDispatch,
			payload: `{`,
			wantErr: true,
		},
		{
			name:      "unknown kind",
			kind:      contracts.Kind("reports"),
			payload:   `{}`,
			wantErr:   true,
			wantField: "name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cmd, err := contracts.Decode(tt.kind, []byte(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, contracts.IsValidationError(err))

				if tt.wantField != "" {
					var schemaErr *contracts.SchemaError
					require.ErrorAs(t, err, &schemaErr)
					assert.Equal(t, tt.wantField, schemaErr.Field)
				}

				return
			}

			require.NoError(t, err)
			tt.check(t, cmd)
		})
	}
}

func TestAck(t *testing.T) {
	t.Parallel()

	ok := contracts.Success("run-1", "thread-1", "done", map[string]any{"sentCount": 2})
	assert.True(t, ok.OK)
	assert.Equal(t, "v1", ok.ContractVersion)
	assert.Nil(t, ok.Error)

	failed := contracts.Failure("run-1", "", contracts.NewError("dispatch_batch", contracts.CodeGatewaySendFailed, true, errors.New("503")))
	assert.False(t, failed.OK)
	require.NotNil(t, failed.Error)
	assert.Equal(t, contracts.CodeGatewaySendFailed, failed.Error.Code)
	assert.True(t, failed.Error.Retryable)

	unknown := contracts.Failure("run-2", "", errors.New("connection reset"))
	assert.Equal(t, contracts.CodeExecutionFailed, unknown.Error.Code)
	assert.True(t, unknown.Error.Retryable)
}

func TestError_Is(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: refused")
	err := contracts.NewError("resolve", contracts.CodeCheckpointUnavailable, false, cause)

	assert.ErrorIs(t, err, contracts.ErrCheckpointUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, contracts.ErrValidation)
	assert.Equal(t, contracts.CodeCheckpointUnavailable, contracts.CodeOf(err))
	assert.False(t, contracts.IsRetryable(err))
}
