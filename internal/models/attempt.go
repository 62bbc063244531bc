package models

import (
	"time"

	"gorm.io/datatypes"
)

// Attempt is one student's working copy of an assessment. Its status only
// ever moves forward: in_progress -> submitted -> marked or error.
type Attempt struct {
	ID           string  `gorm:"primaryKey;size:64" json:"attempt_id"`
	AssessmentID uint    `gorm:"not null;index" json:"assessment_id"`
	StudentName  string  `gorm:"size:255;not null" json:"student_name"`
	StudentID    *string `gorm:"size:64" json:"student_id"`

	Status string `gorm:"size:32;not null;index" json:"status"`

	JoinedAt    time.Time  `json:"joined_at"`
	LastSavedAt *time.Time `json:"last_saved_at"`
	SubmittedAt *time.Time `json:"submitted_at"`
	MarkedAt    *time.Time `json:"marked_at"`

	// Answers is keyed by question number ("1", "2", ...) or part key ("3-a").
	Answers        datatypes.JSONMap `json:"answers"`
	Autosubmitted  bool              `json:"autosubmitted"`
	FinalizeReason string            `gorm:"size:32" json:"finalize_reason"`

	Score          *float64          `json:"score"`
	MaxScore       float64           `json:"max_score"`
	QuestionScores datatypes.JSONMap `json:"question_scores"`
	Strengths      string            `gorm:"type:text" json:"strengths"`
	NextSteps      string            `gorm:"type:text" json:"next_steps"`
	Summary        string            `gorm:"type:text" json:"summary"`
	Confidence     *float64          `json:"confidence"`
	NeedsReview    bool              `json:"needs_review"`
	ReviewReasons  datatypes.JSON    `json:"review_reasons"`
	GradingError   string            `gorm:"type:text" json:"grading_error,omitempty"`

	ArtifactURL         string     `gorm:"size:512" json:"artifact_url"`
	ArtifactGeneratedAt *time.Time `json:"artifact_generated_at"`

	FeedbackReleased bool       `json:"feedback_released"`
	ReleasedAt       *time.Time `json:"released_at"`

	// SecurityEvents is an append-only audit trail (focus loss, tab switches).
	SecurityEvents datatypes.JSON `json:"security_events"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Assessment Assessment `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

const (
	// AttemptStatusInProgress means the student can still edit answers.
	AttemptStatusInProgress = "in_progress"
	// AttemptStatusSubmitted means the attempt has been finalized and awaits grading.
	AttemptStatusSubmitted = "submitted"
	// AttemptStatusMarked means grading completed and feedback is stored.
	AttemptStatusMarked = "marked"
	// AttemptStatusError means grading failed and needs teacher intervention.
	AttemptStatusError = "error"
)

// Finalize reasons, fixed at first finalization.
const (
	FinalizeReasonManual           = "manual"
	FinalizeReasonTimeout          = "timeout"
	FinalizeReasonOfflineReconnect = "offline_reconnect"
)

// IsFinalized reports whether the attempt can no longer accept edits.
func (a Attempt) IsFinalized() bool {
	return a.Status != AttemptStatusInProgress || a.SubmittedAt != nil
}

// IsMarked reports whether grading has completed for the attempt.
func (a Attempt) IsMarked() bool {
	return a.Status == AttemptStatusMarked
}

// ValidFinalizeReason reports whether reason is one of the accepted values.
func ValidFinalizeReason(reason string) bool {
	switch reason {
	case FinalizeReasonManual, FinalizeReasonTimeout, FinalizeReasonOfflineReconnect:
		return true
	}
	return false
}
