package handler_test

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/quillmark/quillmark-api/internal/dto"
	"github.com/quillmark/quillmark-api/internal/models"
)

func TestTeacherListShowsUnreleasedGrades(t *testing.T) {
	app, db, _ := setupAttemptApp(t)
	assessment := seedAssessment(t, db, "LIST01", time.Minute, 60)

	attempt := postJSON(t, app, "/api/v1/public/attempts/join", dto.JoinRequest{
		JoinCode:    "LIST01",
		StudentName: "Ada",
	})
	postJSON(t, app, "/api/v1/public/attempts/"+attempt.ID+"/submit", dto.SubmitRequest{
		Answers: map[string]string{"1": "x = 4"},
	})

	req := httptest.NewRequest("GET", "/api/v1/teacher/assessments/"+uintString(assessment.ID)+"/attempts", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var parsed struct {
		Data []dto.TeacherAttemptResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	require.Len(t, parsed.Data, 1)

	// The teacher view carries the grade before any release.
	row := parsed.Data[0]
	require.Equal(t, "marked", row.Status)
	require.NotNil(t, row.Score)
	require.Equal(t, 14.0, *row.Score)
	require.False(t, row.FeedbackReleased)
}

func TestTeacherRegradeAfterFailure(t *testing.T) {
	app, db, grader := setupAttemptApp(t)
	grader.err = errAlways
	seedAssessment(t, db, "REGR01", time.Minute, 60)

	attempt := postJSON(t, app, "/api/v1/public/attempts/join", dto.JoinRequest{
		JoinCode:    "REGR01",
		StudentName: "Ada",
	})
	submitted := postJSON(t, app, "/api/v1/public/attempts/"+attempt.ID+"/submit", dto.SubmitRequest{})
	require.Equal(t, "error", submitted.Status)

	// The model recovers; the teacher triggers a regrade.
	grader.err = nil
	req := httptest.NewRequest("POST", "/api/v1/teacher/attempts/"+attempt.ID+"/grade", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var parsed struct {
		Data dto.TeacherAttemptResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	require.Equal(t, "marked", parsed.Data.Status)
	require.Empty(t, parsed.Data.GradingError)
}

func TestTeacherReleaseAll(t *testing.T) {
	app, db, _ := setupAttemptApp(t)
	assessment := seedAssessment(t, db, "RALL01", time.Minute, 60)

	for _, name := range []string{"Ada", "Grace"} {
		attempt := postJSON(t, app, "/api/v1/public/attempts/join", dto.JoinRequest{
			JoinCode:    "RALL01",
			StudentName: name,
		})
		postJSON(t, app, "/api/v1/public/attempts/"+attempt.ID+"/submit", dto.SubmitRequest{})
	}

	req := httptest.NewRequest("POST", "/api/v1/teacher/assessments/"+uintString(assessment.ID)+"/release-all", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var parsed struct {
		Data dto.ReleaseAllResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	require.Equal(t, int64(2), parsed.Data.Released)

	var count int64
	require.NoError(t, db.Model(&models.Attempt{}).
		Where("assessment_id = ? AND feedback_released = ?", assessment.ID, true).
		Count(&count).Error)
	require.Equal(t, int64(2), count)
}

func TestTeacherReleaseRequiresMarkedAttempt(t *testing.T) {
	app, db, _ := setupAttemptApp(t)
	seedAssessment(t, db, "RCON01", time.Minute, 60)

	attempt := postJSON(t, app, "/api/v1/public/attempts/join", dto.JoinRequest{
		JoinCode:    "RCON01",
		StudentName: "Ada",
	})

	req := httptest.NewRequest("POST", "/api/v1/teacher/attempts/"+attempt.ID+"/release", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)
}

func TestCronSweepRequiresSecret(t *testing.T) {
	app, _, _ := setupAttemptApp(t)

	req := httptest.NewRequest("POST", "/cron/finalize-expired-attempts", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest("POST", "/cron/finalize-expired-attempts", nil)
	req.Header.Set("X-Cron-Secret", "wrong")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestCronSweepFinalizesExpiredAttempts(t *testing.T) {
	app, db, _ := setupAttemptApp(t)

	// Window already elapsed: the join would be refused now, so seed the
	// attempt directly as a student who joined in time and walked away.
	assessment := seedAssessment(t, db, "SWEE01", 2*time.Hour, 60)
	attempt := models.Attempt{
		ID:           "sweep-target",
		AssessmentID: assessment.ID,
		StudentName:  "Ada",
		Status:       models.AttemptStatusInProgress,
		JoinedAt:     time.Now().Add(-2 * time.Hour),
	}
	require.NoError(t, db.Create(&attempt).Error)

	req := httptest.NewRequest("POST", "/cron/finalize-expired-attempts", nil)
	req.Header.Set("X-Cron-Secret", testCronSecret)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var parsed struct {
		Data dto.SweepResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	require.GreaterOrEqual(t, parsed.Data.Finalized, 1)

	var stored models.Attempt
	require.NoError(t, db.Where("id = ?", "sweep-target").First(&stored).Error)
	require.Equal(t, models.AttemptStatusSubmitted, stored.Status)
	require.Equal(t, models.FinalizeReasonTimeout, stored.FinalizeReason)
	require.True(t, stored.Autosubmitted)
}
