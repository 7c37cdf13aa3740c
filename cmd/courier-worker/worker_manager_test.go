package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/courier/pkg/checkpoint"
	"github.com/dukex/courier/pkg/cmd"
	"github.com/dukex/courier/pkg/config"
	"github.com/dukex/courier/pkg/observability"
	"github.com/dukex/courier/pkg/queue"
	"github.com/dukex/courier/pkg/testutil"
	"github.com/dukex/courier/pkg/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *WorkerManager {
	t.Helper()

	ctx := context.Background()
	logger := testutil.QuietLogger()

	runtime, err := cmd.NewRuntime(ctx, config.Config{
		CheckpointMode:    checkpoint.ModeMemory,
		QueueName:         config.DefaultQueueName,
		BatchSize:         25,
		Retry:             queue.DefaultRetryPolicy(),
		SLO:               observability.DefaultSLOTargets(),
		SchedulerInterval: time.Minute,
		DryRun:            true,
		Port:              config.DefaultPort,
		LogLevel:          "info",
		LogFormat:         "text",
		EventBus:          config.DefaultEventBus,
	}, "courier-worker-test", logger)
	require.NoError(t, err)
	t.Cleanup(func() { runtime.Close(ctx) })

	return NewWorkerManager(runtime, logger)
}

func TestWorkerManager_App(t *testing.T) {
	manager := newTestManager(t)
	app := manager.App(manager.runtime.NewScheduler())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/livez", nil))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var health web.HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))

	assert.True(t, health.OK)
	require.NotNil(t, health.Scheduler)
	assert.Equal(t, "1m0s", health.Scheduler.Interval)
	assert.False(t, health.Scheduler.Started)
	require.NotNil(t, health.Queue)
	assert.Zero(t, health.Queue.Waiting)
}
