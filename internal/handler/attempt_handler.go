package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/quillmark/quillmark-api/internal/dto"
	"github.com/quillmark/quillmark-api/internal/service"
	"github.com/quillmark/quillmark-api/internal/utils"
)

// AttemptHandler exposes the student-facing attempt endpoints.
type AttemptHandler struct {
	service   service.AttemptService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewAttemptHandler builds an attempt handler instance.
func NewAttemptHandler(service service.AttemptService, validator *validator.Validate, logger zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "attempt_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *AttemptHandler) Register(router fiber.Router) {
	router.Post("/attempts/join", h.join)
	router.Get("/attempts/:id", h.get)
	router.Put("/attempts/:id/answers", h.autosave)
	router.Post("/attempts/:id/submit", h.submit)
	router.Post("/attempts/:id/security-events", h.securityEvent)
}

func (h *AttemptHandler) join(c *fiber.Ctx) error {
	var payload dto.JoinRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return h.handleError(c, err)
	}

	attempt, err := h.service.Join(c.Context(), payload.JoinCode, payload.StudentName, payload.StudentID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "attempt created", dto.NewAttemptResponse(attempt))
}

func (h *AttemptHandler) get(c *fiber.Ctx) error {
	attempt, err := h.service.Get(c.Context(), c.Params("id"))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "attempt retrieved", dto.NewAttemptResponse(attempt))
}

func (h *AttemptHandler) autosave(c *fiber.Ctx) error {
	var payload dto.AutosaveRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return h.handleError(c, err)
	}

	attempt, accepted, err := h.service.Autosave(c.Context(), c.Params("id"), payload.Answers)
	if err != nil {
		return h.handleError(c, err)
	}

	message := "answers saved"
	if !accepted {
		message = "attempt already finalized, answers not saved"
	}

	return utils.SendSuccess(c, message, dto.NewAttemptResponse(attempt))
}

func (h *AttemptHandler) submit(c *fiber.Ctx) error {
	var payload dto.SubmitRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return h.handleError(c, err)
	}

	attempt, err := h.service.Submit(c.Context(), c.Params("id"), payload.Reason, payload.Answers)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "attempt submitted", dto.NewAttemptResponse(attempt))
}

func (h *AttemptHandler) securityEvent(c *fiber.Ctx) error {
	var payload dto.SecurityEventRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return h.handleError(c, err)
	}

	if err := h.service.LogSecurityEvent(c.Context(), c.Params("id"), payload.Type, payload.Details); err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "security event recorded", nil)
}

func (h *AttemptHandler) handleError(c *fiber.Ctx, err error) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrAttemptNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "attempt not found")
	case errors.Is(err, service.ErrAssessmentNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "assessment not found")
	case errors.Is(err, service.ErrAssessmentNotJoinable):
		return utils.SendError(c, fiber.StatusConflict, "assessment is not accepting attempts")
	case errors.Is(err, service.ErrInvalidFinalizeReason):
		return utils.SendError(c, fiber.StatusBadRequest, "invalid finalize reason")
	case errors.As(err, &validationErrors):
		return utils.SendError(c, fiber.StatusBadRequest, validationErrors.Error())
	default:
		h.logger.Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
