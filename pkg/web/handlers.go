package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/courier/pkg/checkpoint"
	"github.com/dukex/courier/pkg/contracts"
	"github.com/dukex/courier/pkg/gateway"
	"github.com/dukex/courier/pkg/observability"
	"github.com/dukex/courier/pkg/orchestration"
	"github.com/dukex/courier/pkg/queue"
	"github.com/dukex/courier/pkg/scheduler"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, cmd contracts.Command) (*queue.Job, error)
}

type QueueStats interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

type DryRunner interface {
	DryRun(ctx context.Context) contracts.DryRunReport
}

type SLOReporter interface {
	Report(ctx context.Context) (observability.SLOReport, error)
}

type MessageDeleter interface {
	Execute(ctx context.Context, req orchestration.Request) (orchestration.Result, error)
}

type CheckpointHealth interface {
	Health() checkpoint.Health
}

type SchedulerSnapshot interface {
	Snapshot() scheduler.Snapshot
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies are the collaborators behind the routes. Scheduler may be nil
// when the process runs no cron.
type Dependencies struct {
	Queue       Enqueuer
	Stats       QueueStats
	DryRun      DryRunner
	SLO         SLOReporter
	Deletes     MessageDeleter
	Sender      gateway.Sender
	Checkpoints CheckpointHealth
	Scheduler   SchedulerSnapshot
	Persistence HealthChecker
	Gatherer    prometheus.Gatherer
}

type APIHandlers struct {
	deps   Dependencies
	logger *slog.Logger
}

func NewAPIHandlers(deps Dependencies, logger *slog.Logger) *APIHandlers {
	return &APIHandlers{
		deps:   deps,
		logger: logger.With("module", "http"),
	}
}

// RegisterRoutes mounts every endpoint on router.
func (h *APIHandlers) RegisterRoutes(router fiber.Router) {
	router.Get("/health", h.Health)
	router.Get("/metrics", h.Metrics())

	a := router.Group("/automation")
	a.Post("/dry-run", h.DryRun)
	a.Post("/funnel/run", h.RunFunnel)
	a.Post("/jobs/:name", h.EnqueueJob)
	a.Get("/metrics/slo", h.SLO)

	m := router.Group("/messages")
	m.Post("/send", h.SendMessage)
	m.Post("/delete", h.DeleteMessage)
}

func (h *APIHandlers) Health(c fiber.Ctx) error {
	ctx := c.Context()
	response := HealthResponse{OK: true, Persistence: "ok"}

	if h.deps.Persistence != nil {
		err := h.deps.Persistence.HealthCheck(ctx)
		if err != nil {
			response.OK = false
			response.Persistence = err.Error()
		}
	}

	if h.deps.Checkpoints != nil {
		response.Checkpoint = h.deps.Checkpoints.Health()
		if response.Checkpoint.Requested == checkpoint.ModePostgres && response.Checkpoint.LastError != "" {
			response.OK = false
		}
	}

	if h.deps.Stats != nil {
		stats, err := h.deps.Stats.Stats(ctx)
		if err != nil {
			response.OK = false
			response.QueueError = err.Error()
		} else {
			response.Queue = &stats
		}
	}

	if h.deps.Scheduler != nil {
		snapshot := h.deps.Scheduler.Snapshot()
		response.Scheduler = &snapshot
	}

	status := fiber.StatusOK
	if !response.OK {
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(response)
}

// Metrics exposes the prometheus registry.
func (h *APIHandlers) Metrics() fiber.Handler {
	gatherer := h.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

// DryRun runs both scheduled graphs without side effects.
func (h *APIHandlers) DryRun(c fiber.Ctx) error {
	report := h.deps.DryRun.DryRun(c.Context())

	status := fiber.StatusOK
	if !report.OK {
		status = fiber.StatusInternalServerError
	}

	return c.Status(status).JSON(report)
}

func (h *APIHandlers) RunFunnel(c fiber.Ctx) error {
	return h.enqueue(c, contracts.KindFunnel)
}

func (h *APIHandlers) EnqueueJob(c fiber.Ctx) error {
	kind := contracts.Kind(c.Params("name"))
	if !kind.Valid() {
		return notFound(c, fmt.Sprintf("unknown job %q", kind))
	}

	return h.enqueue(c, kind)
}

func (h *APIHandlers) enqueue(c fiber.Ctx, kind contracts.Kind) error {
	body := c.Body()
	if len(body) == 0 {
		body = []byte("{}")
	}

	cmd, err := contracts.Decode(kind, body)
	if err != nil {
		return failure(c, "", "", err)
	}

	meta := cmd.Meta()
	if meta.RunID == "" {
		meta.RunID = uuid.NewString()
	}

	job, err := h.deps.Queue.Enqueue(c.Context(), cmd)
	if err != nil {
		h.logger.ErrorContext(c.Context(), "Failed to enqueue job", "job_name", kind, "run_id", meta.RunID, "error", err)

		return failure(c, meta.RunID, meta.ThreadID, err)
	}

	h.logger.InfoContext(c.Context(), "Job enqueued", "job_name", kind, "job_id", job.ID, "run_id", meta.RunID)

	return c.Status(fiber.StatusAccepted).JSON(EnqueueResponse{
		OK:              true,
		ContractVersion: contracts.ContractVersion,
		RunID:           meta.RunID,
		JobID:           job.ID,
		Name:            kind,
	})
}

func (h *APIHandlers) SLO(c fiber.Ctx) error {
	report, err := h.deps.SLO.Report(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(report)
}

// SendMessage delivers one message synchronously through the gateway.
func (h *APIHandlers) SendMessage(c fiber.Ctx) error {
	cmd, err := contracts.DecodeSend(c.Body())
	if err != nil {
		return failure(c, "", "", err)
	}

	runID := cmd.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	req := gateway.SendRequest{Phone: cmd.Phone, Type: gateway.MessageType(cmd.Type), Content: cmd.Message}
	if cmd.Type != contracts.StepText {
		req.Content = cmd.MediaURL
		req.Caption = cmd.Message
	}

	if cmd.ReplyTo != nil {
		req.Quoted = &gateway.Quoted{ID: cmd.ReplyTo.WppID, Text: cmd.ReplyTo.QuotedText, FromMe: cmd.ReplyTo.FromMe}
	}

	result, err := h.deps.Sender.Send(c.Context(), req)
	if err != nil {
		h.logger.WarnContext(c.Context(), "Gateway call failed", "run_id", runID, "chat_id", cmd.ChatID, "error", err)

		result = gateway.SendResult{Status: 0}
	}

	if !result.OK {
		cause := contracts.NewError("send_message", contracts.CodeGatewaySendFailed,
			gateway.Transient(result.Status), errors.New(gateway.FailureCode(result.Status)))
		cause.Message = gateway.FailureCode(result.Status)

		return failure(c, runID, "", cause)
	}

	return c.JSON(contracts.Success(runID, "", "message_sent", map[string]any{
		"chatId":            cmd.ChatID,
		"dbMessageId":       cmd.DBMessageID,
		"externalMessageId": result.ExternalMessageID,
		"status":            result.Status,
	}))
}

// DeleteMessage applies the delete decision for one chat message.
func (h *APIHandlers) DeleteMessage(c fiber.Ctx) error {
	var req orchestration.Request

	err := c.Bind().JSON(&req)
	if err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	result, err := h.deps.Deletes.Execute(c.Context(), req)
	if err != nil {
		return failure(c, "", "", err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":     true,
		"result": result,
	})
}
