package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Assessment is the timed paper students attempt. This service treats it as
// read-only: its lifecycle (draft -> started -> closed) is owned elsewhere.
type Assessment struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	Title            string         `gorm:"size:255;not null" json:"title"`
	Subject          string         `gorm:"size:128" json:"subject"`
	JoinCode         string         `gorm:"size:16;uniqueIndex" json:"join_code"`
	Status           string         `gorm:"size:32;not null" json:"status"`
	StartedAt        *time.Time     `json:"started_at"`
	DurationMinutes  int            `json:"duration_minutes"`
	OwnerTeacherID   uint           `gorm:"not null" json:"owner_teacher_id"`
	OwnerDisplayName string         `gorm:"size:255" json:"owner_display_name"`
	OwnerSchool      string         `gorm:"size:255" json:"owner_school"`
	Questions        datatypes.JSON `json:"questions"`
	TotalMarks       float64        `json:"total_marks"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

const (
	// AssessmentStatusDraft means the paper is still being authored.
	AssessmentStatusDraft = "draft"
	// AssessmentStatusStarted means students may join and the timer may be running.
	AssessmentStatusStarted = "started"
	// AssessmentStatusClosed means no further joins are accepted.
	AssessmentStatusClosed = "closed"
)

// QuestionPart is one lettered sub-part of a structured question.
type QuestionPart struct {
	Label      string  `json:"label"`
	Prompt     string  `json:"prompt"`
	MaxMarks   float64 `json:"max_marks"`
	MarkScheme string  `json:"mark_scheme,omitempty"`
}

// QuestionSpec describes a single question and its mark scheme.
type QuestionSpec struct {
	Number      int            `json:"number"`
	Body        string         `json:"body"`
	MaxMarks    float64        `json:"max_marks"`
	MarkScheme  string         `json:"mark_scheme,omitempty"`
	ModelAnswer string         `json:"model_answer,omitempty"`
	Parts       []QuestionPart `json:"parts,omitempty"`
}

// QuestionSpecs decodes the stored question list.
func (a Assessment) QuestionSpecs() ([]QuestionSpec, error) {
	if len(a.Questions) == 0 {
		return nil, nil
	}

	var specs []QuestionSpec
	if err := json.Unmarshal(a.Questions, &specs); err != nil {
		return nil, err
	}

	return specs, nil
}

// WindowElapsed reports whether the assessment's time window has run out at
// the given instant. Untimed assessments (no duration or never started) never
// expire via this path. The caller must pass server time, never a
// client-supplied clock.
func (a Assessment) WindowElapsed(now time.Time) bool {
	if a.DurationMinutes <= 0 || a.StartedAt == nil {
		return false
	}

	return now.Sub(*a.StartedAt) >= time.Duration(a.DurationMinutes)*time.Minute
}
