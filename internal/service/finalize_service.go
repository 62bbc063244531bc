package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/quillmark/quillmark-api/internal/events"
	"github.com/quillmark/quillmark-api/internal/models"
	"github.com/quillmark/quillmark-api/internal/observability"
	"github.com/quillmark/quillmark-api/internal/repository"
)

// ErrAttemptNotFound indicates the attempt does not exist.
var ErrAttemptNotFound = errors.New("attempt not found")

// ErrInvalidFinalizeReason indicates an unrecognised finalize reason.
var ErrInvalidFinalizeReason = errors.New("invalid finalize reason")

// FinalizationService performs the idempotent in_progress -> submitted
// transition. It deliberately has no other side effects, so it is safe to
// call from the request path, the expiry guard, and the background sweeper
// at the same time: whichever caller wins the conditional write, all of them
// observe the same submitted_at and finalize_reason.
type FinalizationService interface {
	// Finalize returns the attempt's authoritative state and whether this
	// call performed the transition (false when the attempt was already
	// finalized or a concurrent caller won the write).
	Finalize(ctx context.Context, attemptID, reason string) (models.Attempt, bool, error)
}

type finalizationService struct {
	attempts  repository.AttemptRepository
	publisher *events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// NewFinalizationService constructs the finalization service.
func NewFinalizationService(attempts repository.AttemptRepository, publisher *events.Publisher, logger zerolog.Logger) FinalizationService {
	return &finalizationService{
		attempts:  attempts,
		publisher: publisher,
		logger:    logger.With().Str("component", "finalization_service").Logger(),
		now:       time.Now,
	}
}

func (s *finalizationService) Finalize(ctx context.Context, attemptID, reason string) (models.Attempt, bool, error) {
	if reason == "" {
		reason = models.FinalizeReasonManual
	}
	if !models.ValidFinalizeReason(reason) {
		return models.Attempt{}, false, ErrInvalidFinalizeReason
	}

	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Attempt{}, false, ErrAttemptNotFound
		}
		return models.Attempt{}, false, err
	}

	// Already finalized: return as stored. The first writer's submitted_at
	// and finalize_reason stand, whatever reason this caller brought.
	if attempt.IsFinalized() {
		return attempt, false, nil
	}

	now := s.now().UTC()
	fields := map[string]interface{}{
		"status":          models.AttemptStatusSubmitted,
		"submitted_at":    now,
		"finalize_reason": reason,
		"autosubmitted":   reason == models.FinalizeReasonTimeout,
	}

	won, err := s.attempts.UpdateIfStatus(ctx, attemptID, models.AttemptStatusInProgress, fields)
	if err != nil {
		return models.Attempt{}, false, err
	}

	updated, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return models.Attempt{}, false, err
	}

	if !won {
		// Another finalizer got there first; their write is authoritative.
		s.logger.Debug().Str("attempt_id", attemptID).Msg("finalize race lost, returning existing state")
		return updated, false, nil
	}

	observability.Finalizations().WithLabelValues(reason).Inc()
	s.publisher.Publish(events.SubjectAttemptFinalized, map[string]interface{}{
		"attempt_id":    attemptID,
		"assessment_id": updated.AssessmentID,
		"reason":        reason,
		"submitted_at":  updated.SubmittedAt,
	})

	s.logger.Info().
		Str("attempt_id", attemptID).
		Uint("assessment_id", updated.AssessmentID).
		Str("reason", reason).
		Str("student", updated.StudentName).
		Msg("attempt finalized")

	return updated, true, nil
}
