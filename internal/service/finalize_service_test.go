package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quillmark/quillmark-api/internal/events"
	"github.com/quillmark/quillmark-api/internal/models"
)

func testPublisher() *events.Publisher {
	return events.NewPublisher(nil, "", testLogger())
}

func TestFinalizeTransitionsInProgressAttempt(t *testing.T) {
	repo := newFakeAttemptRepo(inProgressAttempt("a1", 1))
	svc := NewFinalizationService(repo, testPublisher(), testLogger())

	attempt, won, err := svc.Finalize(context.Background(), "a1", models.FinalizeReasonManual)
	require.NoError(t, err)
	require.True(t, won)
	require.Equal(t, models.AttemptStatusSubmitted, attempt.Status)
	require.NotNil(t, attempt.SubmittedAt)
	require.Equal(t, models.FinalizeReasonManual, attempt.FinalizeReason)
	require.False(t, attempt.Autosubmitted)
}

func TestFinalizeDefaultsToManualReason(t *testing.T) {
	repo := newFakeAttemptRepo(inProgressAttempt("a1", 1))
	svc := NewFinalizationService(repo, testPublisher(), testLogger())

	attempt, _, err := svc.Finalize(context.Background(), "a1", "")
	require.NoError(t, err)
	require.Equal(t, models.FinalizeReasonManual, attempt.FinalizeReason)
}

func TestFinalizeTimeoutSetsAutosubmitted(t *testing.T) {
	repo := newFakeAttemptRepo(inProgressAttempt("a1", 1))
	svc := NewFinalizationService(repo, testPublisher(), testLogger())

	attempt, _, err := svc.Finalize(context.Background(), "a1", models.FinalizeReasonTimeout)
	require.NoError(t, err)
	require.True(t, attempt.Autosubmitted)
}

func TestFinalizeRejectsUnknownReason(t *testing.T) {
	repo := newFakeAttemptRepo(inProgressAttempt("a1", 1))
	svc := NewFinalizationService(repo, testPublisher(), testLogger())

	_, _, err := svc.Finalize(context.Background(), "a1", "gave_up")
	require.ErrorIs(t, err, ErrInvalidFinalizeReason)
}

func TestFinalizeMissingAttempt(t *testing.T) {
	repo := newFakeAttemptRepo()
	svc := NewFinalizationService(repo, testPublisher(), testLogger())

	_, _, err := svc.Finalize(context.Background(), "ghost", models.FinalizeReasonManual)
	require.ErrorIs(t, err, ErrAttemptNotFound)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	repo := newFakeAttemptRepo(inProgressAttempt("a1", 1))
	svc := NewFinalizationService(repo, testPublisher(), testLogger())

	first, won, err := svc.Finalize(context.Background(), "a1", models.FinalizeReasonManual)
	require.NoError(t, err)
	require.True(t, won)

	second, won, err := svc.Finalize(context.Background(), "a1", models.FinalizeReasonTimeout)
	require.NoError(t, err)
	require.False(t, won)

	// The first writer's reason and timestamp stand.
	require.Equal(t, first.FinalizeReason, second.FinalizeReason)
	require.Equal(t, first.SubmittedAt.Unix(), second.SubmittedAt.Unix())
	require.False(t, second.Autosubmitted)
	require.Equal(t, 1, repo.casCalls)
}

func TestFinalizeRaceLoserObservesWinnerState(t *testing.T) {
	repo := newFakeAttemptRepo(inProgressAttempt("a1", 1))

	// A competing finalizer lands between this caller's read and its
	// conditional write.
	winnerAt := time.Now().UTC().Add(-time.Second)
	repo.beforeCAS = func(r *fakeAttemptRepo) {
		r.mu.Lock()
		defer r.mu.Unlock()
		attempt := r.attempts["a1"]
		attempt.Status = models.AttemptStatusSubmitted
		attempt.SubmittedAt = &winnerAt
		attempt.FinalizeReason = models.FinalizeReasonTimeout
		attempt.Autosubmitted = true
		r.attempts["a1"] = attempt
	}

	svc := NewFinalizationService(repo, testPublisher(), testLogger())

	attempt, won, err := svc.Finalize(context.Background(), "a1", models.FinalizeReasonManual)
	require.NoError(t, err)
	require.False(t, won)
	require.Equal(t, models.AttemptStatusSubmitted, attempt.Status)
	require.Equal(t, models.FinalizeReasonTimeout, attempt.FinalizeReason)
	require.True(t, attempt.Autosubmitted)
	require.Equal(t, winnerAt.Unix(), attempt.SubmittedAt.Unix())
}
