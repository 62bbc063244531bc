package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/quillmark/quillmark-api/internal/models"
	"github.com/quillmark/quillmark-api/internal/observability"
	"github.com/quillmark/quillmark-api/internal/repository"
	"github.com/quillmark/quillmark-api/pkg/artifact"
)

// ErrAttemptNotMarked indicates the attempt has no grading result to
// generate a feedback document from.
var ErrAttemptNotMarked = errors.New("attempt not marked")

// FileUploader stores a rendered document and returns its public URL.
type FileUploader interface {
	Upload(ctx context.Context, name string, reader io.Reader) (string, error)
}

// ArtifactService renders the feedback document for a marked attempt and
// stores its URL on the attempt. Generation is repeatable: every call
// re-renders from the current grading output and overwrites the stored
// reference, so a teacher who edits feedback can regenerate the document.
type ArtifactService interface {
	EnsureArtifact(ctx context.Context, attemptID string) (models.Attempt, error)
}

type artifactService struct {
	attempts    repository.AttemptRepository
	assessments AssessmentLookup
	renderer    artifact.Renderer
	uploader    FileUploader
	timeout     time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

// NewArtifactService constructs the feedback-artifact service.
func NewArtifactService(attempts repository.AttemptRepository, assessments AssessmentLookup, renderer artifact.Renderer, uploader FileUploader, timeout time.Duration, logger zerolog.Logger) ArtifactService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &artifactService{
		attempts:    attempts,
		assessments: assessments,
		renderer:    renderer,
		uploader:    uploader,
		timeout:     timeout,
		logger:      logger.With().Str("component", "artifact_service").Logger(),
		now:         time.Now,
	}
}

func (s *artifactService) EnsureArtifact(ctx context.Context, attemptID string) (models.Attempt, error) {
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

	assessment, err := s.assessments.Lookup(ctx, attempt.AssessmentID)
	if err != nil {
		return models.Attempt{}, err
	}

	renderCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, name, err := s.renderer.Render(renderCtx, buildArtifactInput(assessment, attempt))
	if err != nil {
		observability.Artifacts().WithLabelValues("render_error").Inc()
		s.logger.Error().Err(err).Str("attempt_id", attemptID).Msg("failed to render feedback artifact")
		return models.Attempt{}, err
	}

	kind := mimetype.Detect(data)
	if !kind.Is("text/html") {
		observability.Artifacts().WithLabelValues("render_error").Inc()
		err := fmt.Errorf("unexpected artifact content type %s", kind.String())
		s.logger.Error().Err(err).Str("attempt_id", attemptID).Msg("refusing to upload feedback artifact")
		return models.Attempt{}, err
	}

	s.logger.Debug().
		Str("attempt_id", attemptID).
		Str("content_type", kind.String()).
		Int("size", len(data)).
		Msg("feedback artifact rendered")

	url, err := s.uploader.Upload(renderCtx, name, bytes.NewReader(data))
	if err != nil {
		observability.Artifacts().WithLabelValues("upload_error").Inc()
		s.logger.Error().Err(err).Str("attempt_id", attemptID).Msg("failed to upload feedback artifact")
		return models.Attempt{}, err
	}

	fields := map[string]interface{}{
		"artifact_url":          url,
		"artifact_generated_at": s.now().UTC(),
	}

	// The conditional write keeps a stale generator from attaching an
	// artifact to an attempt that has since moved out of marked.
	if _, err := s.attempts.UpdateIfStatus(ctx, attemptID, models.AttemptStatusMarked, fields); err != nil {
		return models.Attempt{}, err
	}

	updated, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return models.Attempt{}, err
	}

	observability.Artifacts().WithLabelValues("generated").Inc()
	s.logger.Info().Str("attempt_id", attemptID).Str("url", url).Msg("feedback artifact stored")

	return updated, nil
}

func buildArtifactInput(assessment models.Assessment, attempt models.Attempt) artifact.Input {
	input := artifact.Input{
		StudentName:     attempt.StudentName,
		AssessmentTitle: assessment.Title,
		Subject:         assessment.Subject,
		TeacherDisplay:  assessment.OwnerDisplayName,
		School:          assessment.OwnerSchool,
		MaxScore:        attempt.MaxScore,
		Strengths:       attempt.Strengths,
		NextSteps:       attempt.NextSteps,
		Summary:         attempt.Summary,
	}

	if attempt.Score != nil {
		input.Score = *attempt.Score
	}
	if attempt.SubmittedAt != nil {
		input.SubmittedAt = attempt.SubmittedAt.UTC().Format(time.RFC3339)
	}
	if attempt.MarkedAt != nil {
		input.MarkedAt = attempt.MarkedAt.UTC().Format(time.RFC3339)
	}

	input.QuestionScores = make(map[string]float64, len(attempt.QuestionScores))
	for key, value := range attempt.QuestionScores {
		if score, ok := value.(float64); ok {
			input.QuestionScores[key] = score
		}
	}

	return input
}
