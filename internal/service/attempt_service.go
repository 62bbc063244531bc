package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/quillmark/quillmark-api/internal/models"
	"github.com/quillmark/quillmark-api/internal/repository"
)

// ErrAssessmentNotJoinable indicates the assessment is not accepting new
// attempts: it has not been started, has been closed, or its window elapsed.
var ErrAssessmentNotJoinable = errors.New("assessment not joinable")

// AttemptService owns the student-facing attempt lifecycle. Every operation
// that touches an existing attempt runs the expiry guard first, so an expired
// attempt is finalized before the request's own logic sees it.
type AttemptService interface {
	Join(ctx context.Context, joinCode, studentName string, studentID *string) (models.Attempt, error)
	Get(ctx context.Context, attemptID string) (models.Attempt, error)
	Autosave(ctx context.Context, attemptID string, answers map[string]string) (models.Attempt, bool, error)
	Submit(ctx context.Context, attemptID, reason string, answers map[string]string) (models.Attempt, error)
	LogSecurityEvent(ctx context.Context, attemptID, eventType, details string) error
	ListByAssessment(ctx context.Context, assessmentID uint) ([]models.Attempt, error)
}

type attemptService struct {
	attempts    repository.AttemptRepository
	assessments repository.AssessmentRepository
	lookup      AssessmentLookup
	guard       ExpiryGuard
	finalizer   FinalizationService
	grader      GradingService
	artifacts   ArtifactService
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	now         func() time.Time
}

// NewAttemptService constructs the attempt lifecycle service.
func NewAttemptService(
	attempts repository.AttemptRepository,
	assessments repository.AssessmentRepository,
	lookup AssessmentLookup,
	guard ExpiryGuard,
	finalizer FinalizationService,
	grader GradingService,
	artifacts ArtifactService,
	logger zerolog.Logger,
) AttemptService {
	return &attemptService{
		attempts:    attempts,
		assessments: assessments,
		lookup:      lookup,
		guard:       guard,
		finalizer:   finalizer,
		grader:      grader,
		artifacts:   artifacts,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger.With().Str("component", "attempt_service").Logger(),
		now:         time.Now,
	}
}

// Join creates a fresh in-progress attempt against a started assessment.
func (s *attemptService) Join(ctx context.Context, joinCode, studentName string, studentID *string) (models.Attempt, error) {
	assessment, err := s.assessments.GetByJoinCode(ctx, strings.ToUpper(strings.TrimSpace(joinCode)))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Attempt{}, ErrAssessmentNotFound
		}
		return models.Attempt{}, err
	}

	now := s.now().UTC()
	if assessment.Status != models.AssessmentStatusStarted || assessment.WindowElapsed(now) {
		return models.Attempt{}, ErrAssessmentNotJoinable
	}

	attempt := models.Attempt{
		ID:           uuid.NewString(),
		AssessmentID: assessment.ID,
		StudentName:  strings.TrimSpace(s.sanitizer.Sanitize(studentName)),
		StudentID:    studentID,
		Status:       models.AttemptStatusInProgress,
		JoinedAt:     now,
		MaxScore:     assessment.TotalMarks,
		Answers:      datatypes.JSONMap{},
	}

	if err := s.attempts.Create(ctx, &attempt); err != nil {
		return models.Attempt{}, err
	}

	s.logger.Info().
		Str("attempt_id", attempt.ID).
		Uint("assessment_id", assessment.ID).
		Str("student", attempt.StudentName).
		Msg("student joined assessment")

	return attempt, nil
}

// Get returns the attempt after the expiry guard has had its chance to
// finalize it.
func (s *attemptService) Get(ctx context.Context, attemptID string) (models.Attempt, error) {
	if _, err := s.guard.CheckAndFinalize(ctx, attemptID); err != nil {
		return models.Attempt{}, err
	}

	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Attempt{}, ErrAttemptNotFound
		}
		return models.Attempt{}, err
	}

	return attempt, nil
}

// Autosave persists the latest answers. A finalized attempt rejects the save
// without error: the second return value reports whether the write landed,
// and the caller gets the authoritative state either way.
func (s *attemptService) Autosave(ctx context.Context, attemptID string, answers map[string]string) (models.Attempt, bool, error) {
	if _, err := s.guard.CheckAndFinalize(ctx, attemptID); err != nil {
		return models.Attempt{}, false, err
	}

	fields := map[string]interface{}{
		"answers":       s.sanitizeAnswers(answers),
		"last_saved_at": s.now().UTC(),
	}

	accepted, err := s.attempts.UpdateIfStatus(ctx, attemptID, models.AttemptStatusInProgress, fields)
	if err != nil {
		return models.Attempt{}, false, err
	}

	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Attempt{}, false, ErrAttemptNotFound
		}
		return models.Attempt{}, false, err
	}

	if !accepted {
		s.logger.Debug().Str("attempt_id", attemptID).Msg("autosave dropped, attempt already finalized")
	}

	return attempt, accepted, nil
}

// Submit finalizes the attempt and pushes it through grading and artifact
// generation. Grading or artifact failures never fail the submit itself: the
// student's submission is durable the moment finalization lands.
func (s *attemptService) Submit(ctx context.Context, attemptID, reason string, answers map[string]string) (models.Attempt, error) {
	expired, err := s.guard.CheckAndFinalize(ctx, attemptID)
	if err != nil {
		return models.Attempt{}, err
	}

	if len(answers) > 0 {
		// Last-chance answer write; silently ignored once finalized.
		fields := map[string]interface{}{
			"answers":       s.sanitizeAnswers(answers),
			"last_saved_at": s.now().UTC(),
		}
		if _, err := s.attempts.UpdateIfStatus(ctx, attemptID, models.AttemptStatusInProgress, fields); err != nil {
			return models.Attempt{}, err
		}
	}

	if expired {
		reason = models.FinalizeReasonTimeout
	}

	attempt, _, err := s.finalizer.Finalize(ctx, attemptID, reason)
	if err != nil {
		return models.Attempt{}, err
	}

	if attempt.Status == models.AttemptStatusSubmitted {
		graded, err := s.grader.GradeAndStore(ctx, attemptID)
		if err != nil {
			// The attempt is already in the error state with the cause
			// recorded; the student still gets their submission receipt.
			s.logger.Warn().Err(err).Str("attempt_id", attemptID).Msg("grading after submit failed")
			return s.attempts.GetByID(ctx, attemptID)
		}
		attempt = graded
	}

	if attempt.IsMarked() && attempt.ArtifactURL == "" {
		if generated, err := s.artifacts.EnsureArtifact(ctx, attemptID); err != nil {
			s.logger.Warn().Err(err).Str("attempt_id", attemptID).Msg("artifact generation after submit failed")
		} else {
			attempt = generated
		}
	}

	return attempt, nil
}

// securityEvent is one entry in the attempt's append-only audit trail.
type securityEvent struct {
	Type    string    `json:"type"`
	Details string    `json:"details,omitempty"`
	At      time.Time `json:"at"`
}

// LogSecurityEvent appends an audit record (tab switch, fullscreen exit,
// reconnect) to the attempt. Events are accepted for finalized attempts too;
// they never influence the status machine.
func (s *attemptService) LogSecurityEvent(ctx context.Context, attemptID, eventType, details string) error {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAttemptNotFound
		}
		return err
	}

	var trail []securityEvent
	if len(attempt.SecurityEvents) > 0 {
		if err := json.Unmarshal(attempt.SecurityEvents, &trail); err != nil {
			s.logger.Warn().Err(err).Str("attempt_id", attemptID).Msg("resetting malformed security event trail")
			trail = nil
		}
	}

	trail = append(trail, securityEvent{
		Type:    s.sanitizer.Sanitize(eventType),
		Details: s.sanitizer.Sanitize(details),
		At:      s.now().UTC(),
	})

	payload, err := json.Marshal(trail)
	if err != nil {
		return err
	}

	return s.attempts.UpdateColumns(ctx, attemptID, map[string]interface{}{
		"security_events": datatypes.JSON(payload),
	})
}

func (s *attemptService) ListByAssessment(ctx context.Context, assessmentID uint) ([]models.Attempt, error) {
	if _, err := s.lookup.Lookup(ctx, assessmentID); err != nil {
		return nil, err
	}

	return s.attempts.ListByAssessment(ctx, assessmentID)
}

func (s *attemptService) sanitizeAnswers(answers map[string]string) datatypes.JSONMap {
	clean := make(datatypes.JSONMap, len(answers))
	for key, value := range answers {
		clean[key] = s.sanitizer.Sanitize(value)
	}
	return clean
}
