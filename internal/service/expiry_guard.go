package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/quillmark/quillmark-api/internal/models"
	"github.com/quillmark/quillmark-api/internal/repository"
)

// ExpiryGuard runs at the top of every attempt-touching request and lazily
// finalizes an attempt whose time window has elapsed. Together with the
// sweeper this means no per-attempt timer ever needs to run.
type ExpiryGuard interface {
	// CheckAndFinalize reports whether the attempt was expired and finalized
	// by this call.
	CheckAndFinalize(ctx context.Context, attemptID string) (bool, error)
}

type expiryGuard struct {
	attempts    repository.AttemptRepository
	assessments AssessmentLookup
	finalizer   FinalizationService
	logger      zerolog.Logger
	now         func() time.Time
}

// NewExpiryGuard constructs the per-request expiry guard.
func NewExpiryGuard(attempts repository.AttemptRepository, assessments AssessmentLookup, finalizer FinalizationService, logger zerolog.Logger) ExpiryGuard {
	return &expiryGuard{
		attempts:    attempts,
		assessments: assessments,
		finalizer:   finalizer,
		logger:      logger.With().Str("component", "expiry_guard").Logger(),
		now:         time.Now,
	}
}

func (g *expiryGuard) CheckAndFinalize(ctx context.Context, attemptID string) (bool, error) {
	attempt, err := g.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Missing attempts are the enclosing request's problem to report.
			return false, nil
		}
		return false, err
	}

	if attempt.Status != models.AttemptStatusInProgress {
		return false, nil
	}

	assessment, err := g.assessments.Lookup(ctx, attempt.AssessmentID)
	if err != nil {
		if errors.Is(err, ErrAssessmentNotFound) {
			return false, nil
		}
		return false, err
	}

	if !assessment.WindowElapsed(g.now()) {
		return false, nil
	}

	_, won, err := g.finalizer.Finalize(ctx, attemptID, models.FinalizeReasonTimeout)
	if err != nil {
		return false, err
	}

	if won {
		g.logger.Info().Str("attempt_id", attemptID).Msg("expired attempt finalized on request")
	}

	return won, nil
}
