package service

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/quillmark/quillmark-api/internal/models"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// fakeAttemptRepo is an in-memory AttemptRepository with real conditional
// update semantics, so the race-sensitive paths can be exercised without a
// database.
type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts map[string]models.Attempt

	getErr    error
	updateErr error
	casCalls  int

	// beforeCAS runs at the top of UpdateIfStatus, letting tests interleave a
	// competing writer between read and conditional write.
	beforeCAS func(r *fakeAttemptRepo)
}

func newFakeAttemptRepo(attempts ...models.Attempt) *fakeAttemptRepo {
	repo := &fakeAttemptRepo{attempts: make(map[string]models.Attempt)}
	for _, attempt := range attempts {
		repo.attempts[attempt.ID] = attempt
	}
	return repo
}

func (r *fakeAttemptRepo) GetByID(ctx context.Context, id string) (models.Attempt, error) {
	if r.getErr != nil {
		return models.Attempt{}, r.getErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	attempt, ok := r.attempts[id]
	if !ok {
		return models.Attempt{}, gorm.ErrRecordNotFound
	}
	return attempt, nil
}

func (r *fakeAttemptRepo) Create(ctx context.Context, attempt *models.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts[attempt.ID] = *attempt
	return nil
}

func (r *fakeAttemptRepo) UpdateIfStatus(ctx context.Context, id, expected string, fields map[string]interface{}) (bool, error) {
	if r.beforeCAS != nil {
		hook := r.beforeCAS
		r.beforeCAS = nil
		hook(r)
	}

	if r.updateErr != nil {
		return false, r.updateErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.casCalls++

	attempt, ok := r.attempts[id]
	if !ok || attempt.Status != expected {
		return false, nil
	}

	applyFields(&attempt, fields)
	r.attempts[id] = attempt
	return true, nil
}

func (r *fakeAttemptRepo) ListInProgress(ctx context.Context, limit int) ([]models.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []models.Attempt
	for _, attempt := range r.attempts {
		if attempt.Status == models.AttemptStatusInProgress && len(result) < limit {
			result = append(result, attempt)
		}
	}
	return result, nil
}

func (r *fakeAttemptRepo) ListByAssessment(ctx context.Context, assessmentID uint) ([]models.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []models.Attempt
	for _, attempt := range r.attempts {
		if attempt.AssessmentID == assessmentID {
			result = append(result, attempt)
		}
	}
	return result, nil
}

func (r *fakeAttemptRepo) ReleaseAllMarked(ctx context.Context, assessmentID uint, fields map[string]interface{}) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var released int64
	for id, attempt := range r.attempts {
		if attempt.AssessmentID == assessmentID && attempt.Status == models.AttemptStatusMarked && !attempt.FeedbackReleased {
			applyFields(&attempt, fields)
			r.attempts[id] = attempt
			released++
		}
	}
	return released, nil
}

func (r *fakeAttemptRepo) UpdateColumns(ctx context.Context, id string, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	attempt, ok := r.attempts[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}

	applyFields(&attempt, fields)
	r.attempts[id] = attempt
	return nil
}

func applyFields(attempt *models.Attempt, fields map[string]interface{}) {
	for column, value := range fields {
		switch column {
		case "status":
			attempt.Status = value.(string)
		case "submitted_at":
			t := value.(time.Time)
			attempt.SubmittedAt = &t
		case "marked_at":
			t := value.(time.Time)
			attempt.MarkedAt = &t
		case "last_saved_at":
			t := value.(time.Time)
			attempt.LastSavedAt = &t
		case "released_at":
			t := value.(time.Time)
			attempt.ReleasedAt = &t
		case "artifact_generated_at":
			t := value.(time.Time)
			attempt.ArtifactGeneratedAt = &t
		case "finalize_reason":
			attempt.FinalizeReason = value.(string)
		case "autosubmitted":
			attempt.Autosubmitted = value.(bool)
		case "answers":
			attempt.Answers = value.(datatypes.JSONMap)
		case "score":
			score := value.(float64)
			attempt.Score = &score
		case "max_score":
			attempt.MaxScore = value.(float64)
		case "question_scores":
			attempt.QuestionScores = value.(datatypes.JSONMap)
		case "strengths":
			attempt.Strengths = value.(string)
		case "next_steps":
			attempt.NextSteps = value.(string)
		case "summary":
			attempt.Summary = value.(string)
		case "confidence":
			confidence := value.(float64)
			attempt.Confidence = &confidence
		case "needs_review":
			attempt.NeedsReview = value.(bool)
		case "review_reasons":
			attempt.ReviewReasons = value.(datatypes.JSON)
		case "grading_error":
			attempt.GradingError = value.(string)
		case "artifact_url":
			attempt.ArtifactURL = value.(string)
		case "feedback_released":
			attempt.FeedbackReleased = value.(bool)
		case "security_events":
			attempt.SecurityEvents = value.(datatypes.JSON)
		}
	}
}

// staticLookup serves assessments from a map without touching a database.
type staticLookup struct {
	assessments map[uint]models.Assessment
	err         error
}

func (l *staticLookup) Lookup(ctx context.Context, id uint) (models.Assessment, error) {
	if l.err != nil {
		return models.Assessment{}, l.err
	}

	assessment, ok := l.assessments[id]
	if !ok {
		return models.Assessment{}, ErrAssessmentNotFound
	}
	return assessment, nil
}

func timedAssessment(id uint, startedAt time.Time, durationMinutes int) models.Assessment {
	return models.Assessment{
		ID:              id,
		Title:           "Algebra Paper 1",
		Subject:         "Mathematics",
		JoinCode:        "ALG123",
		Status:          models.AssessmentStatusStarted,
		StartedAt:       &startedAt,
		DurationMinutes: durationMinutes,
		TotalMarks:      20,
	}
}

func inProgressAttempt(id string, assessmentID uint) models.Attempt {
	return models.Attempt{
		ID:           id,
		AssessmentID: assessmentID,
		StudentName:  "Ada",
		Status:       models.AttemptStatusInProgress,
		JoinedAt:     time.Now().Add(-30 * time.Minute),
		Answers:      datatypes.JSONMap{},
		MaxScore:     20,
	}
}
