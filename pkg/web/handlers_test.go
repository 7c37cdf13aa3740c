package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukex/courier/pkg/checkpoint"
	"github.com/dukex/courier/pkg/contracts"
	"github.com/dukex/courier/pkg/gateway"
	"github.com/dukex/courier/pkg/mocks"
	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/observability"
	"github.com/dukex/courier/pkg/orchestration"
	persistencememory "github.com/dukex/courier/pkg/persistence/memory"
	queuememory "github.com/dukex/courier/pkg/queue/memory"
	"github.com/dukex/courier/pkg/testutil"
	"github.com/dukex/courier/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeDryRunner struct {
	report contracts.DryRunReport
}

func (f fakeDryRunner) DryRun(context.Context) contracts.DryRunReport {
	return f.report
}

type fakeSLO struct {
	counts models.OutcomeCounts
	err    error
}

func (f fakeSLO) Report(context.Context) (observability.SLOReport, error) {
	if f.err != nil {
		return observability.SLOReport{}, f.err
	}

	return observability.ComputeSLO(f.counts, observability.DefaultSLOTargets()), nil
}

type testApp struct {
	app     *fiber.App
	queue   *queuememory.Queue
	store   *persistencememory.Persistence
	gateway *mocks.MockGateway
}

func setupTestApp(t *testing.T, overrides ...func(*web.Dependencies)) *testApp {
	t.Helper()

	logger := testutil.QuietLogger()
	ta := &testApp{
		queue:   queuememory.NewQueue(logger),
		store:   persistencememory.NewPersistence(),
		gateway: &mocks.MockGateway{},
	}

	registry := prometheus.NewRegistry()
	observability.NewMetrics(registry).Dispatched("sent")

	deps := web.Dependencies{
		Queue:       ta.queue,
		Stats:       ta.queue,
		DryRun:      fakeDryRunner{report: contracts.DryRunReport{OK: true, RunID: "run-dry"}},
		SLO:         fakeSLO{counts: models.OutcomeCounts{Sent: 95, Failed: 5}},
		Deletes:     orchestration.NewExecutor(ta.store.ChatMessages(), ta.gateway, logger),
		Sender:      ta.gateway,
		Checkpoints: checkpoint.NewResolver(logger, checkpoint.ModeMemory, "", nil),
		Persistence: ta.store,
		Gatherer:    registry,
	}

	for _, override := range overrides {
		override(&deps)
	}

	ta.app = fiber.New()
	web.NewAPIHandlers(deps, logger).RegisterRoutes(ta.app)

	return ta
}

func (ta *testApp) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ta.app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, raw
}

func decodeAck(t *testing.T, raw []byte) contracts.Ack {
	t.Helper()

	var ack contracts.Ack
	require.NoError(t, json.Unmarshal(raw, &ack))

	return ack
}

func TestAPIHandlers_EnqueueJob(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		body           string
		expectedStatus int
		expectedCode   contracts.Code
		expectedJobs   int64
	}{
		{
			name:           "dispatch with defaults",
			path:           "/automation/jobs/dispatch",
			expectedStatus: http.StatusAccepted,
			expectedJobs:   1,
		},
		{
			name:           "scheduler dry run",
			path:           "/automation/jobs/scheduler",
			body:           `{"contractVersion":"v1","dryRun":true}`,
			expectedStatus: http.StatusAccepted,
			expectedJobs:   1,
		},
		{
			name:           "unsupported contract version",
			path:           "/automation/jobs/dispatch",
			body:           `{"contractVersion":"v2"}`,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   contracts.CodeValidation,
		},
		{
			name:           "batch size above limit",
			path:           "/automation/jobs/dispatch",
			body:           `{"batchSize":500}`,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   contracts.CodeValidation,
		},
		{
			name:           "malformed body",
			path:           "/automation/jobs/scheduler",
			body:           `{"dryRun":`,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   contracts.CodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := setupTestApp(t)

			resp, raw := ta.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			stats, err := ta.queue.Stats(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.expectedJobs, stats.Waiting)

			if tt.expectedCode != "" {
				ack := decodeAck(t, raw)
				assert.False(t, ack.OK)
				require.NotNil(t, ack.Error)
				assert.Equal(t, tt.expectedCode, ack.Error.Code)
				assert.False(t, ack.Error.Retryable)

				return
			}

			var accepted web.EnqueueResponse
			require.NoError(t, json.Unmarshal(raw, &accepted))
			assert.True(t, accepted.OK)
			assert.NotEmpty(t, accepted.RunID)
			assert.NotEmpty(t, accepted.JobID)
		})
	}
}

func TestAPIHandlers_EnqueueUnknownJob(t *testing.T) {
	ta := setupTestApp(t)

	resp, raw := ta.do(t, http.MethodPost, "/automation/jobs/reports", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(raw), "not_found")
}

func TestAPIHandlers_RunFunnel(t *testing.T) {
	ta := setupTestApp(t)

	body := `{
		"runId": "run-funnel-1",
		"chatId": 42,
		"phone": "5511999990000",
		"title": "Boas-vindas",
		"initiatedBy": "api",
		"steps": [{"type":"text","content":"Oi"},{"type":"wait","delay":5},{"type":"image","content":"https://cdn.example.com/a.png"}]
	}`

	resp, raw := ta.do(t, http.MethodPost, "/automation/funnel/run", body)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(raw))

	var accepted web.EnqueueResponse
	require.NoError(t, json.Unmarshal(raw, &accepted))
	assert.Equal(t, "run-funnel-1", accepted.RunID)
	assert.Equal(t, contracts.KindFunnel, accepted.Name)

	t.Run("rejects an unknown step type", func(t *testing.T) {
		resp, raw := ta.do(t, http.MethodPost, "/automation/funnel/run",
			`{"chatId":42,"phone":"5511999990000","title":"x","steps":[{"type":"sticker"}]}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, contracts.CodeValidation, decodeAck(t, raw).Error.Code)
	})
}

func TestAPIHandlers_DryRun(t *testing.T) {
	ta := setupTestApp(t)

	resp, raw := ta.do(t, http.MethodPost, "/automation/dry-run", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var report contracts.DryRunReport
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.True(t, report.OK)
	assert.Equal(t, "run-dry", report.RunID)

	failing := setupTestApp(t, func(d *web.Dependencies) {
		d.DryRun = fakeDryRunner{report: contracts.DryRunReport{OK: false}}
	})

	resp, _ = failing.do(t, http.MethodPost, "/automation/dry-run", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestAPIHandlers_SLO(t *testing.T) {
	tests := []struct {
		name            string
		slo             fakeSLO
		expectedStatus  int
		expectedRate    float64
		expectedVerdict string
	}{
		{
			name:            "meets target",
			slo:             fakeSLO{counts: models.OutcomeCounts{Sent: 95, Failed: 5}},
			expectedStatus:  http.StatusOK,
			expectedRate:    95,
			expectedVerdict: observability.StatusPass,
		},
		{
			name:            "misses target",
			slo:             fakeSLO{counts: models.OutcomeCounts{Sent: 90, Failed: 10}},
			expectedStatus:  http.StatusOK,
			expectedRate:    90,
			expectedVerdict: observability.StatusFail,
		},
		{
			name:           "store failure",
			slo:            fakeSLO{err: errors.New("connection refused")},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := setupTestApp(t, func(d *web.Dependencies) { d.SLO = tt.slo })

			resp, raw := ta.do(t, http.MethodGet, "/automation/metrics/slo", "")
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus != http.StatusOK {
				return
			}

			var report observability.SLOReport
			require.NoError(t, json.Unmarshal(raw, &report))
			assert.InDelta(t, tt.expectedRate, report.SuccessRate, 0.001)
			assert.Equal(t, tt.expectedVerdict, report.SLOStatus.SuccessRate)
		})
	}
}

func TestAPIHandlers_SendMessage(t *testing.T) {
	t.Run("delivers a quoted text", func(t *testing.T) {
		ta := setupTestApp(t)
		ta.gateway.On("Send", mock.Anything, gateway.SendRequest{
			Phone: "5511999990000", Type: gateway.MessageText, Content: "Sim, confirmado",
			Quoted: &gateway.Quoted{ID: "wamid.prev", Text: "Confirma?"},
		}).Return(gateway.SendResult{OK: true, Status: 201, ExternalMessageID: "wamid.new"}, nil)

		resp, raw := ta.do(t, http.MethodPost, "/messages/send",
			`{"chatId":42,"phone":"5511999990000","message":"Sim, confirmado","replyTo":{"wppId":"wamid.prev","quotedText":"Confirma?"}}`)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

		ack := decodeAck(t, raw)
		assert.True(t, ack.OK)
		assert.Equal(t, "wamid.new", ack.Data["externalMessageId"])
	})

	t.Run("media uses the url and the message as caption", func(t *testing.T) {
		ta := setupTestApp(t)
		ta.gateway.On("Send", mock.Anything, gateway.SendRequest{
			Phone: "5511999990000", Type: gateway.MessageImage, Content: "https://cdn.example.com/a.png", Caption: "Mapa",
		}).Return(gateway.SendResult{OK: true, Status: 201}, nil)

		resp, _ := ta.do(t, http.MethodPost, "/messages/send",
			`{"chatId":42,"phone":"5511999990000","type":"image","mediaUrl":"https://cdn.example.com/a.png","message":"Mapa"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("gateway rejection", func(t *testing.T) {
		ta := setupTestApp(t)
		ta.gateway.On("Send", mock.Anything, mock.Anything).Return(gateway.SendResult{OK: false, Status: 503}, nil)

		resp, raw := ta.do(t, http.MethodPost, "/messages/send", `{"chatId":42,"phone":"5511999990000","message":"Oi"}`)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

		ack := decodeAck(t, raw)
		assert.Equal(t, contracts.CodeGatewaySendFailed, ack.Error.Code)
		assert.Equal(t, "evolution_send_failed_503", ack.Error.Message)
		assert.True(t, ack.Error.Retryable)
	})

	t.Run("unreachable gateway is retryable", func(t *testing.T) {
		ta := setupTestApp(t)
		ta.gateway.On("Send", mock.Anything, mock.Anything).
			Return(gateway.SendResult{}, errors.New("dial tcp: connection refused"))

		resp, raw := ta.do(t, http.MethodPost, "/messages/send", `{"chatId":42,"phone":"5511999990000","message":"Oi"}`)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

		ack := decodeAck(t, raw)
		require.NotNil(t, ack.Error)
		assert.Equal(t, contracts.CodeGatewaySendFailed, ack.Error.Code)
		assert.Equal(t, "evolution_send_failed_0", ack.Error.Message)
		assert.True(t, ack.Error.Retryable)
	})

	t.Run("invalid phone", func(t *testing.T) {
		ta := setupTestApp(t)

		resp, _ := ta.do(t, http.MethodPost, "/messages/send", `{"chatId":42,"phone":"1","message":"Oi"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		ta.gateway.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})
}

func TestAPIHandlers_DeleteMessage(t *testing.T) {
	t.Run("everyone retracts and keeps a tombstone", func(t *testing.T) {
		ta := setupTestApp(t)
		id := ta.store.AddChatMessage(models.ChatMessage{ChatID: 42, ExternalMessageID: "wamid-1"})
		ta.gateway.On("Retract", mock.Anything, "wamid-1").Return(nil)

		resp, raw := ta.do(t, http.MethodPost, "/messages/delete",
			`{"messageId":`+jsonInt(id)+`,"externalId":"wamid-1","target":"everyone"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

		record, err := ta.store.ChatMessages().ByID(context.Background(), id)
		require.NoError(t, err)
		assert.NotNil(t, record.RevokedAt)
		assert.Contains(t, string(raw), `"shouldCallGateway":true`)
	})

	t.Run("system removes the record", func(t *testing.T) {
		ta := setupTestApp(t)
		id := ta.store.AddChatMessage(models.ChatMessage{ChatID: 42})

		resp, _ := ta.do(t, http.MethodPost, "/messages/delete", `{"messageId":`+jsonInt(id)+`,"target":"system"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		_, err := ta.store.ChatMessages().ByID(context.Background(), id)
		require.Error(t, err)
		ta.gateway.AssertNotCalled(t, "Retract", mock.Anything, mock.Anything)
	})

	t.Run("unknown message", func(t *testing.T) {
		ta := setupTestApp(t)

		resp, _ := ta.do(t, http.MethodPost, "/messages/delete", `{"messageId":999,"target":"everyone"}`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("invalid target", func(t *testing.T) {
		ta := setupTestApp(t)

		resp, raw := ta.do(t, http.MethodPost, "/messages/delete", `{"messageId":1,"target":"nobody"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, contracts.CodeValidation, decodeAck(t, raw).Error.Code)
	})
}

func TestAPIHandlers_Health(t *testing.T) {
	ta := setupTestApp(t)

	resp, raw := ta.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health web.HealthResponse
	require.NoError(t, json.Unmarshal(raw, &health))
	assert.True(t, health.OK)
	assert.Equal(t, checkpoint.ModeMemory, health.Checkpoint.Requested)
	require.NotNil(t, health.Queue)
	assert.Nil(t, health.Scheduler)

	forced := setupTestApp(t, func(d *web.Dependencies) {
		resolver := checkpoint.NewResolver(testutil.QuietLogger(), checkpoint.ModePostgres, "", nil)
		_, err := resolver.Saver(context.Background())
		require.Error(t, err)

		d.Checkpoints = resolver
	})

	resp, _ = forced.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAPIHandlers_Metrics(t *testing.T) {
	ta := setupTestApp(t)

	resp, raw := ta.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(raw), `courier_dispatch_messages_total{status="sent"} 1`))
}

func jsonInt(id int64) string {
	raw, _ := json.Marshal(id)

	return string(raw)
}
