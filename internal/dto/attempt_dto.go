package dto

import (
	"encoding/json"
	"time"

	"github.com/quillmark/quillmark-api/internal/models"
)

// JoinRequest is the payload for a student joining an assessment by code.
type JoinRequest struct {
	JoinCode    string  `json:"join_code" validate:"required,min=4,max=12"`
	StudentName string  `json:"student_name" validate:"required,min=1,max=120"`
	StudentID   *string `json:"student_id" validate:"omitempty,max=64"`
}

// AutosaveRequest carries the latest answer snapshot.
type AutosaveRequest struct {
	Answers map[string]string `json:"answers" validate:"required"`
}

// SubmitRequest finalizes an attempt. Reason defaults to manual.
type SubmitRequest struct {
	Reason  string            `json:"reason" validate:"omitempty,oneof=manual timeout offline_reconnect"`
	Answers map[string]string `json:"answers"`
}

// SecurityEventRequest records a client-side proctoring event.
type SecurityEventRequest struct {
	Type    string `json:"type" validate:"required,min=1,max=64"`
	Details string `json:"details" validate:"omitempty,max=512"`
}

// FeedbackView is the graded result exposed once a teacher releases it.
type FeedbackView struct {
	Score          *float64           `json:"score"`
	MaxScore       float64            `json:"max_score"`
	QuestionScores map[string]float64 `json:"question_scores"`
	Strengths      string             `json:"strengths"`
	NextSteps      string             `json:"next_steps"`
	Summary        string             `json:"summary"`
	ArtifactURL    string             `json:"artifact_url,omitempty"`
	ReleasedAt     *time.Time         `json:"released_at"`
}

// AttemptResponse is the student-facing view of an attempt. Grading output is
// present only after the owning teacher has released feedback.
type AttemptResponse struct {
	ID               string            `json:"id"`
	AssessmentID     uint              `json:"assessment_id"`
	StudentName      string            `json:"student_name"`
	Status           string            `json:"status"`
	JoinedAt         time.Time         `json:"joined_at"`
	LastSavedAt      *time.Time        `json:"last_saved_at"`
	SubmittedAt      *time.Time        `json:"submitted_at"`
	FinalizeReason   string            `json:"finalize_reason,omitempty"`
	Autosubmitted    bool              `json:"autosubmitted"`
	Answers          map[string]string `json:"answers"`
	FeedbackReleased bool              `json:"feedback_released"`
	Feedback         *FeedbackView     `json:"feedback,omitempty"`
}

// TeacherAttemptResponse is the unreleased, full view for the owning teacher.
type TeacherAttemptResponse struct {
	AttemptResponse
	MarkedAt       *time.Time         `json:"marked_at"`
	Score          *float64           `json:"score"`
	MaxScore       float64            `json:"max_score"`
	QuestionScores map[string]float64 `json:"question_scores"`
	Strengths      string             `json:"strengths"`
	NextSteps      string             `json:"next_steps"`
	Summary        string             `json:"summary"`
	Confidence     *float64           `json:"confidence"`
	NeedsReview    bool               `json:"needs_review"`
	ReviewReasons  []string           `json:"review_reasons"`
	GradingError   string             `json:"grading_error,omitempty"`
	ArtifactURL    string             `json:"artifact_url,omitempty"`
	SecurityEvents json.RawMessage    `json:"security_events,omitempty"`
}

// ReleaseAllResponse reports a bulk feedback release.
type ReleaseAllResponse struct {
	AssessmentID uint  `json:"assessment_id"`
	Released     int64 `json:"released"`
}

// SweepResponse reports one expiry sweep run.
type SweepResponse struct {
	Finalized int `json:"finalized"`
}

// NewAttemptResponse converts an Attempt into its student-facing DTO.
func NewAttemptResponse(model models.Attempt) AttemptResponse {
	response := AttemptResponse{
		ID:               model.ID,
		AssessmentID:     model.AssessmentID,
		StudentName:      model.StudentName,
		Status:           model.Status,
		JoinedAt:         model.JoinedAt,
		LastSavedAt:      model.LastSavedAt,
		SubmittedAt:      model.SubmittedAt,
		FinalizeReason:   model.FinalizeReason,
		Autosubmitted:    model.Autosubmitted,
		Answers:          answersToStrings(model),
		FeedbackReleased: model.FeedbackReleased,
	}

	if model.FeedbackReleased {
		response.Feedback = &FeedbackView{
			Score:          model.Score,
			MaxScore:       model.MaxScore,
			QuestionScores: questionScores(model),
			Strengths:      model.Strengths,
			NextSteps:      model.NextSteps,
			Summary:        model.Summary,
			ArtifactURL:    model.ArtifactURL,
			ReleasedAt:     model.ReleasedAt,
		}
	}

	return response
}

// NewTeacherAttemptResponse converts an Attempt into the teacher DTO.
func NewTeacherAttemptResponse(model models.Attempt) TeacherAttemptResponse {
	var reviewReasons []string
	if len(model.ReviewReasons) > 0 {
		_ = json.Unmarshal(model.ReviewReasons, &reviewReasons)
	}

	return TeacherAttemptResponse{
		AttemptResponse: NewAttemptResponse(model),
		MarkedAt:        model.MarkedAt,
		Score:           model.Score,
		MaxScore:        model.MaxScore,
		QuestionScores:  questionScores(model),
		Strengths:       model.Strengths,
		NextSteps:       model.NextSteps,
		Summary:         model.Summary,
		Confidence:      model.Confidence,
		NeedsReview:     model.NeedsReview,
		ReviewReasons:   reviewReasons,
		GradingError:    model.GradingError,
		ArtifactURL:     model.ArtifactURL,
		SecurityEvents:  json.RawMessage(model.SecurityEvents),
	}
}

// NewTeacherAttemptResponses maps a list of attempts for roster views.
func NewTeacherAttemptResponses(attempts []models.Attempt) []TeacherAttemptResponse {
	responses := make([]TeacherAttemptResponse, 0, len(attempts))
	for _, attempt := range attempts {
		responses = append(responses, NewTeacherAttemptResponse(attempt))
	}
	return responses
}

func answersToStrings(model models.Attempt) map[string]string {
	answers := make(map[string]string, len(model.Answers))
	for key, value := range model.Answers {
		if text, ok := value.(string); ok {
			answers[key] = text
		}
	}
	return answers
}

func questionScores(model models.Attempt) map[string]float64 {
	scores := make(map[string]float64, len(model.QuestionScores))
	for key, value := range model.QuestionScores {
		if score, ok := value.(float64); ok {
			scores[key] = score
		}
	}
	return scores
}
