package ai

import "context"

// Question carries the specification and mark scheme for one question.
type Question struct {
	Number      int
	Body        string
	MaxMarks    float64
	MarkScheme  string
	ModelAnswer string
	Parts       []QuestionPart
}

// QuestionPart is a lettered sub-part of a structured question.
type QuestionPart struct {
	Label      string
	Prompt     string
	MaxMarks   float64
	MarkScheme string
}

// GradingInput contains everything needed to mark one finalized attempt.
// Answers is keyed by question number ("1") or part key ("3-a").
type GradingInput struct {
	StudentName     string
	AssessmentTitle string
	Subject         string
	Questions       []Question
	Answers         map[string]string
}

// Feedback is the structured student-facing commentary.
type Feedback struct {
	Strengths string `json:"strengths"`
	NextSteps string `json:"next_steps"`
	Summary   string `json:"summary"`
}

// GradingResult is the marker's verdict on a whole submission. Confidence and
// the review flag are part of this output contract: callers persist them as
// given and apply no further threshold policy.
type GradingResult struct {
	Score          float64                `json:"score"`
	MaxScore       float64                `json:"max_score"`
	QuestionScores map[string]float64     `json:"question_scores"`
	Feedback       Feedback               `json:"feedback"`
	Confidence     float64                `json:"confidence"`
	NeedsReview    bool                   `json:"needs_review"`
	ReviewReasons  []string               `json:"review_reasons,omitempty"`
	Raw            map[string]interface{} `json:"raw,omitempty"`
}

// Grader describes an AI model capable of marking a finalized attempt.
type Grader interface {
	Grade(ctx context.Context, input GradingInput) (GradingResult, error)
}
