package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/quillmark/quillmark-api/internal/events"
	"github.com/quillmark/quillmark-api/internal/models"
	"github.com/quillmark/quillmark-api/internal/repository"
)

// ReleaseService controls the teacher gate on student-visible feedback.
// Grading results exist on the attempt as soon as marking completes, but
// students see nothing until the owning teacher releases them.
type ReleaseService interface {
	Release(ctx context.Context, attemptID string) (models.Attempt, error)
	ReleaseAll(ctx context.Context, assessmentID uint) (int64, error)
}

type releaseService struct {
	attempts  repository.AttemptRepository
	publisher *events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// NewReleaseService constructs the feedback release service.
func NewReleaseService(attempts repository.AttemptRepository, publisher *events.Publisher, logger zerolog.Logger) ReleaseService {
	return &releaseService{
		attempts:  attempts,
		publisher: publisher,
		logger:    logger.With().Str("component", "release_service").Logger(),
		now:       time.Now,
	}
}

func (s *releaseService) Release(ctx context.Context, attemptID string) (models.Attempt, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Attempt{}, ErrAttemptNotFound
		}
		return models.Attempt{}, err
	}

	if !attempt.IsMarked() {
		return models.Attempt{}, ErrAttemptNotMarked
	}

	if attempt.FeedbackReleased {
		return attempt, nil
	}

	fields := map[string]interface{}{
		"feedback_released": true,
		"released_at":       s.now().UTC(),
	}

	if _, err := s.attempts.UpdateIfStatus(ctx, attemptID, models.AttemptStatusMarked, fields); err != nil {
		return models.Attempt{}, err
	}

	updated, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return models.Attempt{}, err
	}

	s.publisher.Publish(events.SubjectFeedbackReleased, map[string]interface{}{
		"attempt_id":    attemptID,
		"assessment_id": updated.AssessmentID,
	})

	s.logger.Info().Str("attempt_id", attemptID).Msg("feedback released")

	return updated, nil
}

// ReleaseAll releases every marked, unreleased attempt of an assessment in a
// single write and reports how many changed.
func (s *releaseService) ReleaseAll(ctx context.Context, assessmentID uint) (int64, error) {
	fields := map[string]interface{}{
		"feedback_released": true,
		"released_at":       s.now().UTC(),
	}

	released, err := s.attempts.ReleaseAllMarked(ctx, assessmentID, fields)
	if err != nil {
		return 0, err
	}

	if released > 0 {
		s.publisher.Publish(events.SubjectFeedbackReleased, map[string]interface{}{
			"assessment_id": assessmentID,
			"released":      released,
		})
	}

	s.logger.Info().
		Uint("assessment_id", assessmentID).
		Int64("released", released).
		Msg("feedback released for assessment")

	return released, nil
}
