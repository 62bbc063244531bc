package artifact

import "context"

// Input is the marked attempt plus owner display metadata the renderer needs.
type Input struct {
	StudentName     string
	AssessmentTitle string
	Subject         string
	TeacherDisplay  string
	School          string
	Score           float64
	MaxScore        float64
	QuestionScores  map[string]float64
	Strengths       string
	NextSteps       string
	Summary         string
	SubmittedAt     string
	MarkedAt        string
}

// Renderer produces a feedback document for a marked attempt. The returned
// name is a suggested file name for storage.
type Renderer interface {
	Render(ctx context.Context, input Input) (data []byte, name string, err error)
}
