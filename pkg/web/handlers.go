// Package web provides the REST endpoints for run management: creating runs,
// resolving approval gates, cancelling, and status queries.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/dukex/devflow/pkg/models"
	"github.com/dukex/devflow/pkg/orchestrator"
	"github.com/dukex/devflow/pkg/persistence"
)

// Engine is the orchestration surface the API layer is allowed to call.
type Engine interface {
	CreateRun(ctx context.Context, slug, workDescription string, pipeline models.PipelineConfig) (*models.Run, error)
	ResolveApproval(ctx context.Context, decision *models.ApprovalDecision) error
	CancelRun(ctx context.Context, runID, reason string) error
	GetRunStatus(ctx context.Context, runID string) (*orchestrator.RunStatusView, error)
	ListRuns(ctx context.Context) ([]*models.Run, error)
}

type APIHandlers struct {
	engine              Engine
	store               persistence.Persistence
	validator           *validator.Validate
	defaultExecutorType string
}

func NewAPIHandlers(engine Engine, store persistence.Persistence, validator *validator.Validate, defaultExecutorType string) *APIHandlers {
	return &APIHandlers{
		engine:              engine,
		store:               store,
		validator:           validator,
		defaultExecutorType: defaultExecutorType,
	}
}

func (h *APIHandlers) CreateRun(c fiber.Ctx) error {
	var req CreateRunRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	pipeline := models.DefaultPipelineConfig(h.defaultExecutorType)
	if req.Pipeline != nil {
		pipeline = *req.Pipeline
	}

	run, err := h.engine.CreateRun(c.Context(), req.Slug, req.WorkDescription, pipeline)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(run)
}

func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	runs, err := h.engine.ListRuns(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"runs":        runs,
		"total_count": len(runs),
	})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	view, err := h.engine.GetRunStatus(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(view)
}

func (h *APIHandlers) ResolveApproval(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	var req ResolveApprovalRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	decision := &models.ApprovalDecision{
		RunID:     id,
		Phase:     models.Phase(req.Phase),
		Decision:  models.Decision(req.Decision),
		Feedback:  req.Feedback,
		DecidedBy: req.DecidedBy,
		DecidedAt: time.Now().UTC(),
	}

	if err := h.engine.ResolveApproval(c.Context(), decision); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	var req CancelRunRequest

	// The body is optional; a bare cancel carries no reason.
	_ = c.Bind().JSON(&req)

	if err := h.engine.CancelRun(c.Context(), id, req.Reason); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK
	detail := "ok"

	if err := h.store.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
		detail = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"persistence": detail,
		},
		"timestamp": time.Now().UTC(),
	})
}
