package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/quillmark/quillmark-api/internal/models"
	"github.com/quillmark/quillmark-api/internal/observability"
	"github.com/quillmark/quillmark-api/internal/repository"
)

const defaultSweepBatchSize = 1000

// ExpirySweeper finalizes expired attempts whose owner never issued another
// request. It is triggered by an external scheduler (the cron endpoint), not
// self-scheduling.
type ExpirySweeper interface {
	Run(ctx context.Context, now time.Time) (int, error)
}

type expirySweeper struct {
	attempts    repository.AttemptRepository
	assessments AssessmentLookup
	finalizer   FinalizationService
	batchSize   int
	logger      zerolog.Logger
}

// NewExpirySweeper constructs the sweeper. batchSize <= 0 selects the default.
func NewExpirySweeper(attempts repository.AttemptRepository, assessments AssessmentLookup, finalizer FinalizationService, batchSize int, logger zerolog.Logger) ExpirySweeper {
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}

	return &expirySweeper{
		attempts:    attempts,
		assessments: assessments,
		finalizer:   finalizer,
		batchSize:   batchSize,
		logger:      logger.With().Str("component", "expiry_sweeper").Logger(),
	}
}

// Run processes a bounded batch of in-progress attempts. Each attempt is
// independent: a failure on one is logged and skipped, never aborting the
// batch.
func (s *expirySweeper) Run(ctx context.Context, now time.Time) (int, error) {
	observability.SweepRuns().Inc()

	attempts, err := s.attempts.ListInProgress(ctx, s.batchSize)
	if err != nil {
		return 0, err
	}

	finalized := 0
	for _, attempt := range attempts {
		assessment, err := s.assessments.Lookup(ctx, attempt.AssessmentID)
		if err != nil {
			observability.SweepSkipped().Inc()
			s.logger.Warn().Err(err).
				Str("attempt_id", attempt.ID).
				Uint("assessment_id", attempt.AssessmentID).
				Msg("sweep skipping attempt, assessment lookup failed")
			continue
		}

		if !assessment.WindowElapsed(now) {
			continue
		}

		_, won, err := s.finalizer.Finalize(ctx, attempt.ID, models.FinalizeReasonTimeout)
		if err != nil {
			observability.SweepSkipped().Inc()
			s.logger.Warn().Err(err).Str("attempt_id", attempt.ID).Msg("sweep failed to finalize attempt")
			continue
		}

		// A racing request-path guard may have finalized between the listing
		// and the conditional write; only transitions this sweep performed
		// count.
		if won {
			finalized++
		}
	}

	if finalized > 0 {
		s.logger.Info().Int("finalized", finalized).Msg("expiry sweep finalized attempts")
	}

	return finalized, nil
}
