package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/quillmark/quillmark-api/internal/events"
	"github.com/quillmark/quillmark-api/internal/models"
	"github.com/quillmark/quillmark-api/internal/observability"
	"github.com/quillmark/quillmark-api/internal/repository"
	"github.com/quillmark/quillmark-api/pkg/ai"
)

// ErrAttemptNotFinalized indicates grading was requested before submission.
var ErrAttemptNotFinalized = errors.New("attempt not finalized")

// ErrGradingFailed wraps a grader failure. The attempt is left in the error
// state with the cause recorded for teacher-facing views; no automatic retry
// happens.
var ErrGradingFailed = errors.New("grading failed")

// GradingService drives the submitted -> marked (or -> error) transition by
// invoking the external grader. A marked attempt is never regraded through
// the regular path; error attempts can be regraded by explicit re-invocation.
type GradingService interface {
	GradeAndStore(ctx context.Context, attemptID string) (models.Attempt, error)
}

type gradingService struct {
	attempts    repository.AttemptRepository
	assessments AssessmentLookup
	grader      ai.Grader
	publisher   *events.Publisher
	timeout     time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

// NewGradingService constructs the grading orchestrator.
func NewGradingService(attempts repository.AttemptRepository, assessments AssessmentLookup, grader ai.Grader, publisher *events.Publisher, timeout time.Duration, logger zerolog.Logger) GradingService {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &gradingService{
		attempts:    attempts,
		assessments: assessments,
		grader:      grader,
		publisher:   publisher,
		timeout:     timeout,
		logger:      logger.With().Str("component", "grading_service").Logger(),
		now:         time.Now,
	}
}

func (s *gradingService) GradeAndStore(ctx context.Context, attemptID string) (models.Attempt, error) {
	tracer := otel.Tracer("github.com/quillmark/quillmark-api/internal/service/grading")
	ctx, span := tracer.Start(ctx, "grading.grade_and_store")
	span.SetAttributes(attribute.String("grading.attempt_id", attemptID))
	defer span.End()

	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Error, "attempt_not_found")
			return models.Attempt{}, ErrAttemptNotFound
		}
		span.RecordError(err)
		return models.Attempt{}, err
	}

	// Idempotence: a marked attempt never moves backward, and a second
	// grader racing the first simply observes the winner's result.
	if attempt.IsMarked() {
		span.SetAttributes(attribute.Bool("grading.idempotent", true))
		return attempt, nil
	}

	if attempt.Status == models.AttemptStatusInProgress {
		span.SetStatus(codes.Error, "attempt_not_finalized")
		return models.Attempt{}, ErrAttemptNotFinalized
	}

	assessment, err := s.assessments.Lookup(ctx, attempt.AssessmentID)
	if err != nil {
		span.RecordError(err)
		return models.Attempt{}, err
	}

	input, err := buildGradingInput(assessment, attempt)
	if err != nil {
		return s.recordFailure(ctx, span, attempt, fmt.Errorf("build grading input: %w", err))
	}

	gradeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.grader.Grade(gradeCtx, input)
	if err != nil {
		return s.recordFailure(ctx, span, attempt, err)
	}

	now := s.now().UTC()
	scores := make(datatypes.JSONMap, len(result.QuestionScores))
	for key, score := range result.QuestionScores {
		scores[key] = score
	}

	reviewReasons, err := json.Marshal(result.ReviewReasons)
	if err != nil {
		reviewReasons = []byte("[]")
	}

	fields := map[string]interface{}{
		"status":          models.AttemptStatusMarked,
		"marked_at":       now,
		"score":           result.Score,
		"max_score":       result.MaxScore,
		"question_scores": scores,
		"strengths":       result.Feedback.Strengths,
		"next_steps":      result.Feedback.NextSteps,
		"summary":         result.Feedback.Summary,
		"confidence":      result.Confidence,
		"needs_review":    result.NeedsReview,
		"review_reasons":  datatypes.JSON(reviewReasons),
		"grading_error":   "",
	}

	won, err := s.attempts.UpdateIfStatus(ctx, attemptID, attempt.Status, fields)
	if err != nil {
		span.RecordError(err)
		return models.Attempt{}, err
	}

	updated, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return models.Attempt{}, err
	}

	if !won {
		// Lost the race; whoever won has already recorded a result.
		return updated, nil
	}

	observability.Gradings().WithLabelValues(models.AttemptStatusMarked).Inc()
	s.publisher.Publish(events.SubjectAttemptMarked, map[string]interface{}{
		"attempt_id":    attemptID,
		"assessment_id": attempt.AssessmentID,
		"score":         result.Score,
		"max_score":     result.MaxScore,
		"needs_review":  result.NeedsReview,
	})

	span.SetAttributes(
		attribute.Float64("grading.score", result.Score),
		attribute.Float64("grading.confidence", result.Confidence),
	)

	s.logger.Info().
		Str("attempt_id", attemptID).
		Float64("score", result.Score).
		Float64("confidence", result.Confidence).
		Bool("needs_review", result.NeedsReview).
		Msg("attempt marked")

	return updated, nil
}

// recordFailure moves the attempt to the error state, preserving the cause
// for operator visibility. The error status itself never overwrites marked.
func (s *gradingService) recordFailure(ctx context.Context, span trace.Span, attempt models.Attempt, cause error) (models.Attempt, error) {
	span.RecordError(cause)

	fields := map[string]interface{}{
		"status":        models.AttemptStatusError,
		"grading_error": cause.Error(),
	}

	if _, err := s.attempts.UpdateIfStatus(ctx, attempt.ID, attempt.Status, fields); err != nil {
		s.logger.Error().Err(err).Str("attempt_id", attempt.ID).Msg("failed to record grading failure")
	}

	observability.Gradings().WithLabelValues(models.AttemptStatusError).Inc()
	s.publisher.Publish(events.SubjectGradingFailed, map[string]interface{}{
		"attempt_id":    attempt.ID,
		"assessment_id": attempt.AssessmentID,
		"error":         cause.Error(),
	})

	s.logger.Error().Err(cause).Str("attempt_id", attempt.ID).Msg("grading failed")

	updated, err := s.attempts.GetByID(ctx, attempt.ID)
	if err != nil {
		return models.Attempt{}, err
	}

	return updated, fmt.Errorf("%w: %v", ErrGradingFailed, cause)
}

func buildGradingInput(assessment models.Assessment, attempt models.Attempt) (ai.GradingInput, error) {
	specs, err := assessment.QuestionSpecs()
	if err != nil {
		return ai.GradingInput{}, err
	}

	questions := make([]ai.Question, 0, len(specs))
	for _, spec := range specs {
		question := ai.Question{
			Number:      spec.Number,
			Body:        spec.Body,
			MaxMarks:    spec.MaxMarks,
			MarkScheme:  spec.MarkScheme,
			ModelAnswer: spec.ModelAnswer,
		}
		for _, part := range spec.Parts {
			question.Parts = append(question.Parts, ai.QuestionPart{
				Label:      part.Label,
				Prompt:     part.Prompt,
				MaxMarks:   part.MaxMarks,
				MarkScheme: part.MarkScheme,
			})
		}
		questions = append(questions, question)
	}

	answers := make(map[string]string, len(attempt.Answers))
	for key, value := range attempt.Answers {
		if text, ok := value.(string); ok {
			answers[key] = text
		}
	}

	return ai.GradingInput{
		StudentName:     attempt.StudentName,
		AssessmentTitle: assessment.Title,
		Subject:         assessment.Subject,
		Questions:       questions,
		Answers:         answers,
	}, nil
}
