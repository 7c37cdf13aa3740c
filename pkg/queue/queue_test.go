package queue_test

import (
	"testing"
	"time"

	"github.com/dukex/courier/pkg/contracts"
	"github.com/dukex/courier/pkg/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Delays(t *testing.T) {
	tests := []struct {
		name   string
		policy queue.RetryPolicy
		want   []time.Duration
	}{
		{
			name:   "default",
			policy: queue.DefaultRetryPolicy(),
			want:   []time.Duration{5 * time.Second, 10 * time.Second},
		},
		{
			name:   "five attempts",
			policy: queue.RetryPolicy{MaxAttempts: 5, Base: time.Second},
			want:   []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second},
		},
		{
			name:   "single attempt",
			policy: queue.RetryPolicy{MaxAttempts: 1, Base: time.Second},
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delays := tt.policy.Delays()
			assert.Equal(t, tt.want, delays)

			for i := 1; i < len(delays); i++ {
				assert.Greater(t, delays[i], delays[i-1])
			}
		})
	}
}

func TestNewJob(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	job, err := queue.NewJob(&contracts.DispatchRunCommand{DryRun: true}, now)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, contracts.KindDispatch, job.Name)
	assert.Equal(t, now, job.EnqueuedAt)

	cmd, err := job.Command()
	require.NoError(t, err)

	dispatch, ok := cmd.(*contracts.DispatchRunCommand)
	require.True(t, ok)
	assert.True(t, dispatch.DryRun)
	assert.Equal(t, contracts.DefaultBatchSize, dispatch.BatchSize)
	assert.Equal(t, contracts.ContractVersion, dispatch.ContractVersion)
}

func TestNewJob_RejectsInvalidCommand(t *testing.T) {
	cmd := &contracts.SchedulerRunCommand{Envelope: contracts.Envelope{ContractVersion: "v2"}}

	job, err := queue.NewJob(cmd, time.Now())
	require.Error(t, err)
	assert.Nil(t, job)
	assert.True(t, contracts.IsValidationError(err))
	assert.True(t, contracts.IsInvalidContractVersion(err))
}

func TestJob_CommandUnknownKind(t *testing.T) {
	job := &queue.Job{Name: "cleanup", Payload: []byte(`{}`)}

	_, err := job.Command()
	require.Error(t, err)
	assert.True(t, contracts.IsValidationError(err))
}
