package handler

import (
	"crypto/subtle"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/quillmark/quillmark-api/internal/dto"
	"github.com/quillmark/quillmark-api/internal/service"
	"github.com/quillmark/quillmark-api/internal/utils"
)

// CronHandler exposes the scheduler-invoked maintenance endpoints. Callers
// authenticate with a shared secret in the X-Cron-Secret header.
type CronHandler struct {
	sweeper service.ExpirySweeper
	secret  string
	logger  zerolog.Logger
	now     func() time.Time
}

// NewCronHandler builds a cron handler instance.
func NewCronHandler(sweeper service.ExpirySweeper, secret string, logger zerolog.Logger) *CronHandler {
	return &CronHandler{
		sweeper: sweeper,
		secret:  secret,
		logger:  logger.With().Str("component", "cron_handler").Logger(),
		now:     time.Now,
	}
}

// Register attaches the routes to the provided router group.
func (h *CronHandler) Register(router fiber.Router) {
	router.Post("/finalize-expired-attempts", h.finalizeExpired)
}

func (h *CronHandler) finalizeExpired(c *fiber.Ctx) error {
	provided := c.Get("X-Cron-Secret")
	if h.secret == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) != 1 {
		return utils.SendError(c, fiber.StatusUnauthorized, "invalid cron secret")
	}

	finalized, err := h.sweeper.Run(c.Context(), h.now().UTC())
	if err != nil {
		h.logger.Error().Err(err).Msg("expiry sweep failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "sweep failed")
	}

	return utils.SendSuccess(c, "sweep completed", dto.SweepResponse{Finalized: finalized})
}
