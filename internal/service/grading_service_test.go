package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quillmark/quillmark-api/internal/models"
	"github.com/quillmark/quillmark-api/pkg/ai"
)

type fakeGrader struct {
	result ai.GradingResult
	err    error
	calls  int
	input  ai.GradingInput
}

func (g *fakeGrader) Grade(ctx context.Context, input ai.GradingInput) (ai.GradingResult, error) {
	g.calls++
	g.input = input
	if g.err != nil {
		return ai.GradingResult{}, g.err
	}
	return g.result, nil
}

func submittedAttempt(id string, assessmentID uint) models.Attempt {
	attempt := inProgressAttempt(id, assessmentID)
	submittedAt := time.Now().Add(-time.Minute)
	attempt.Status = models.AttemptStatusSubmitted
	attempt.SubmittedAt = &submittedAt
	attempt.FinalizeReason = models.FinalizeReasonManual
	attempt.Answers = map[string]interface{}{"1": "x = 4", "2": "9.8 m/s^2"}
	return attempt
}

func TestGradeAndStoreMarksSubmittedAttempt(t *testing.T) {
	repo := newFakeAttemptRepo(submittedAttempt("a1", 1))
	lookup := &staticLookup{assessments: map[uint]models.Assessment{
		1: timedAssessment(1, time.Now().Add(-time.Hour), 60),
	}}
	grader := &fakeGrader{result: ai.GradingResult{
		Score:          14,
		MaxScore:       20,
		QuestionScores: map[string]float64{"1": 8, "2": 6},
		Feedback: ai.Feedback{
			Strengths: "Clear working shown throughout.",
			NextSteps: "Check units on question 2.",
			Summary:   "A solid attempt.",
		},
		Confidence: 0.9,
	}}

	svc := NewGradingService(repo, lookup, grader, testPublisher(), time.Minute, testLogger())

	attempt, err := svc.GradeAndStore(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, models.AttemptStatusMarked, attempt.Status)
	require.NotNil(t, attempt.MarkedAt)
	require.NotNil(t, attempt.Score)
	require.Equal(t, 14.0, *attempt.Score)
	require.Equal(t, "Clear working shown throughout.", attempt.Strengths)
	require.NotNil(t, attempt.Confidence)
	require.Equal(t, 0.9, *attempt.Confidence)
	require.False(t, attempt.NeedsReview)

	// The grader saw the student's answers.
	require.Equal(t, "x = 4", grader.input.Answers["1"])
}

func TestGradeAndStorePersistsReviewFlagAsGiven(t *testing.T) {
	repo := newFakeAttemptRepo(submittedAttempt("a1", 1))
	lookup := &staticLookup{assessments: map[uint]models.Assessment{
		1: timedAssessment(1, time.Now().Add(-time.Hour), 60),
	}}
	grader := &fakeGrader{result: ai.GradingResult{
		Score:         5,
		MaxScore:      20,
		Confidence:    0.4,
		NeedsReview:   true,
		ReviewReasons: []string{"low confidence"},
	}}

	svc := NewGradingService(repo, lookup, grader, testPublisher(), time.Minute, testLogger())

	attempt, err := svc.GradeAndStore(context.Background(), "a1")
	require.NoError(t, err)
	require.True(t, attempt.NeedsReview)
	require.JSONEq(t, `["low confidence"]`, string(attempt.ReviewReasons))
}

func TestGradeAndStoreRecordsFailure(t *testing.T) {
	repo := newFakeAttemptRepo(submittedAttempt("a1", 1))
	lookup := &staticLookup{assessments: map[uint]models.Assessment{
		1: timedAssessment(1, time.Now().Add(-time.Hour), 60),
	}}
	grader := &fakeGrader{err: errors.New("model unavailable")}

	svc := NewGradingService(repo, lookup, grader, testPublisher(), time.Minute, testLogger())

	_, err := svc.GradeAndStore(context.Background(), "a1")
	require.ErrorIs(t, err, ErrGradingFailed)

	attempt, getErr := repo.GetByID(context.Background(), "a1")
	require.NoError(t, getErr)
	require.Equal(t, models.AttemptStatusError, attempt.Status)
	require.Contains(t, attempt.GradingError, "model unavailable")
}

func TestGradeAndStoreIdempotentOnMarked(t *testing.T) {
	attempt := submittedAttempt("a1", 1)
	markedAt := time.Now().Add(-time.Minute)
	score := 12.0
	attempt.Status = models.AttemptStatusMarked
	attempt.MarkedAt = &markedAt
	attempt.Score = &score
	repo := newFakeAttemptRepo(attempt)
	grader := &fakeGrader{}

	svc := NewGradingService(repo, &staticLookup{}, grader, testPublisher(), time.Minute, testLogger())

	result, err := svc.GradeAndStore(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, models.AttemptStatusMarked, result.Status)
	require.Equal(t, 12.0, *result.Score)
	require.Zero(t, grader.calls)
}

func TestGradeAndStoreRejectsInProgressAttempt(t *testing.T) {
	repo := newFakeAttemptRepo(inProgressAttempt("a1", 1))
	svc := NewGradingService(repo, &staticLookup{}, &fakeGrader{}, testPublisher(), time.Minute, testLogger())

	_, err := svc.GradeAndStore(context.Background(), "a1")
	require.ErrorIs(t, err, ErrAttemptNotFinalized)
}

func TestGradeAndStoreRegradesErrorAttempt(t *testing.T) {
	attempt := submittedAttempt("a1", 1)
	attempt.Status = models.AttemptStatusError
	attempt.GradingError = "model unavailable"
	repo := newFakeAttemptRepo(attempt)
	lookup := &staticLookup{assessments: map[uint]models.Assessment{
		1: timedAssessment(1, time.Now().Add(-time.Hour), 60),
	}}
	grader := &fakeGrader{result: ai.GradingResult{Score: 10, MaxScore: 20, Confidence: 0.8}}

	svc := NewGradingService(repo, lookup, grader, testPublisher(), time.Minute, testLogger())

	result, err := svc.GradeAndStore(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, models.AttemptStatusMarked, result.Status)
	require.Empty(t, result.GradingError)
}
