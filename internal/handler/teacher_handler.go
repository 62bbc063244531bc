package handler

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/quillmark/quillmark-api/internal/dto"
	"github.com/quillmark/quillmark-api/internal/service"
	"github.com/quillmark/quillmark-api/internal/utils"
)

// TeacherHandler exposes the owning teacher's view of attempts: full grading
// detail, regrading, artifact generation, and the feedback release gate.
type TeacherHandler struct {
	attempts  service.AttemptService
	grading   service.GradingService
	artifacts service.ArtifactService
	release   service.ReleaseService
	logger    zerolog.Logger
}

// NewTeacherHandler builds a teacher handler instance.
func NewTeacherHandler(attempts service.AttemptService, grading service.GradingService, artifacts service.ArtifactService, release service.ReleaseService, logger zerolog.Logger) *TeacherHandler {
	return &TeacherHandler{
		attempts:  attempts,
		grading:   grading,
		artifacts: artifacts,
		release:   release,
		logger:    logger.With().Str("component", "teacher_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group.
func (h *TeacherHandler) Register(router fiber.Router) {
	router.Get("/assessments/:id/attempts", h.list)
	router.Post("/assessments/:id/release-all", h.releaseAll)
	router.Post("/attempts/:id/grade", h.grade)
	router.Post("/attempts/:id/artifact", h.artifact)
	router.Post("/attempts/:id/release", h.releaseOne)
}

func (h *TeacherHandler) list(c *fiber.Ctx) error {
	assessmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	attempts, err := h.attempts.ListByAssessment(c.Context(), assessmentID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "attempts retrieved", dto.NewTeacherAttemptResponses(attempts))
}

func (h *TeacherHandler) grade(c *fiber.Ctx) error {
	attempt, err := h.grading.GradeAndStore(c.Context(), c.Params("id"))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "attempt graded", dto.NewTeacherAttemptResponse(attempt))
}

func (h *TeacherHandler) artifact(c *fiber.Ctx) error {
	attempt, err := h.artifacts.EnsureArtifact(c.Context(), c.Params("id"))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "feedback artifact ready", dto.NewTeacherAttemptResponse(attempt))
}

func (h *TeacherHandler) releaseOne(c *fiber.Ctx) error {
	attempt, err := h.release.Release(c.Context(), c.Params("id"))
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "feedback released", dto.NewTeacherAttemptResponse(attempt))
}

func (h *TeacherHandler) releaseAll(c *fiber.Ctx) error {
	assessmentID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	released, err := h.release.ReleaseAll(c.Context(), assessmentID)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "feedback released", dto.ReleaseAllResponse{
		AssessmentID: assessmentID,
		Released:     released,
	})
}

func (h *TeacherHandler) handleError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrAttemptNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "attempt not found")
	case errors.Is(err, service.ErrAssessmentNotFound):
		return utils.SendError(c, fiber.StatusNotFound, "assessment not found")
	case errors.Is(err, service.ErrAttemptNotFinalized):
		return utils.SendError(c, fiber.StatusConflict, "attempt has not been submitted")
	case errors.Is(err, service.ErrAttemptNotMarked):
		return utils.SendError(c, fiber.StatusConflict, "attempt has no grading result")
	case errors.Is(err, service.ErrGradingFailed):
		return utils.SendError(c, fiber.StatusBadGateway, "grading failed")
	default:
		h.logger.Error().Err(err).Msg("internal server error")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}

func parseUintParam(c *fiber.Ctx, key string) (uint, error) {
	parsed, err := strconv.ParseUint(c.Params(key), 10, 64)
	if err != nil {
		return 0, errors.New("invalid " + key)
	}
	return uint(parsed), nil
}
