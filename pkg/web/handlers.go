// Package web provides the HTTP surface of the review worker: progress queries, signals
// and ledger resolution.
package web

import (
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/models"
	"github.com/Naoya-Yasuda/agent-store-sub000/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	manager   *services.Manager
	validator *validator.Validate
}

func NewAPIHandlers(manager *services.Manager, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		manager:   manager,
		validator: validator,
	}
}

// Register mounts every review endpoint on router.
func (h *APIHandlers) Register(router fiber.Router) {
	r := router.Group("/reviews")
	r.Post("/", h.StartReview)
	r.Get("/:submissionId/progress", h.GetProgress)
	r.Post("/:submissionId/retry", h.RetryStage)
	r.Post("/:submissionId/human-decision", h.HumanDecision)
	r.Post("/:submissionId/judge-config", h.UpdateJudgeConfig)
	r.Get("/:submissionId/stages/:stage/ledger", h.GetLedger)
	r.Get("/:submissionId/stages/:stage/ledger/health", h.GetLedgerHealth)

	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.manager.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Review worker is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Review worker is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"running":   len(h.manager.Running()),
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) StartReview(c fiber.Ctx) error {
	var req StartReviewRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	progress, err := h.manager.Start(c.Context(), req.input())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"submissionId": req.SubmissionID,
		"workflowId":   models.WorkflowID(req.SubmissionID),
		"progress":     progress,
	})
}

func (h *APIHandlers) GetProgress(c fiber.Ctx) error {
	submissionID := c.Params("submissionId")
	if submissionID == "" {
		return badRequest(c, "Submission ID is required")
	}

	progress, err := h.manager.Progress(c.Context(), submissionID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(progress)
}

func (h *APIHandlers) RetryStage(c fiber.Ctx) error {
	submissionID := c.Params("submissionId")

	var req RetryStageRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	stage, err := models.ParseStageName(req.Stage)
	if err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.manager.RetryStage(c.Context(), submissionID, stage, req.Reason); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(SignalResponse{SubmissionID: submissionID, Signal: "retryStage", Accepted: true})
}

func (h *APIHandlers) HumanDecision(c fiber.Ctx) error {
	submissionID := c.Params("submissionId")

	var req HumanDecisionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	decision, err := models.ParseHumanDecision(req.Decision)
	if err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.manager.HumanDecision(c.Context(), submissionID, decision, req.Notes); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(SignalResponse{SubmissionID: submissionID, Signal: "humanDecision", Accepted: true})
}

func (h *APIHandlers) UpdateJudgeConfig(c fiber.Ctx) error {
	submissionID := c.Params("submissionId")

	var req models.JudgeLLMConfig
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.manager.UpdateJudgeConfig(c.Context(), submissionID, req); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(SignalResponse{SubmissionID: submissionID, Signal: "updateJudgeConfig", Accepted: true})
}

// GetLedger resolves the stage's ledger entry. Missing artifacts are reported in the body,
// not as errors. With download=true an existing artifact is streamed instead.
func (h *APIHandlers) GetLedger(c fiber.Ctx) error {
	submissionID := c.Params("submissionId")

	stage, err := models.ParseStageName(c.Params("stage"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	allowRemote, err := queryBool(c, "allowRemote")
	if err != nil {
		return badRequest(c, "Invalid allowRemote parameter")
	}

	download, err := queryBool(c, "download")
	if err != nil {
		return badRequest(c, "Invalid download parameter")
	}

	res, err := h.manager.ResolveLedger(c.Context(), submissionID, stage, allowRemote)
	if err != nil {
		return handleServiceError(c, err)
	}

	if !download || !res.Exists {
		return c.JSON(res)
	}

	reader, err := h.manager.OpenLedger(res)
	if err != nil {
		return handleServiceError(c, err)
	}

	c.Attachment(filepath.Base(res.Path))
	c.Set("X-Ledger-Status", string(res.Status))

	// fasthttp closes the reader once the body is written.
	return c.SendStream(reader, int(res.Size))
}

func (h *APIHandlers) GetLedgerHealth(c fiber.Ctx) error {
	submissionID := c.Params("submissionId")

	stage, err := models.ParseStageName(c.Params("stage"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	probe, err := h.manager.ProbeLedger(c.Context(), submissionID, stage)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"url":              probe.URL,
		"reachable":        probe.Reachable,
		"methodRestricted": probe.MethodRestricted,
		"statusCode":       probe.StatusCode,
		"method":           probe.Method,
		"latencyMs":        probe.Latency.Milliseconds(),
		"error":            probe.Error,
	})
}

func queryBool(c fiber.Ctx, key string) (bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return false, nil
	}

	return strconv.ParseBool(raw)
}
