package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	gradingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "quillmark",
		Subsystem: "ai",
		Name:      "grading_duration_seconds",
		Help:      "Duration of AI grading requests",
	}, []string{"model"})

	gradingFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quillmark",
		Subsystem: "ai",
		Name:      "grading_failures_total",
		Help:      "Number of AI grading failures",
	}, []string{"model"})
)

// Confidence below this flags the submission for teacher review.
const lowConfidenceThreshold = 0.7

// gradingSchema validates the model's JSON output. A response that parses but
// does not conform is a grading failure, never a partial result. Out-of-range
// scores are left to the clamp in parseGradingResponse rather than rejected.
const gradingSchema = `{
  "type": "object",
  "required": ["total_score", "question_scores", "confidence", "needs_review", "strengths", "next_steps", "summary"],
  "properties": {
    "total_score": {"type": "number", "minimum": 0},
    "question_scores": {
      "type": "object",
      "additionalProperties": {"type": "number"}
    },
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "needs_review": {"type": "boolean"},
    "review_reasons": {"type": "array", "items": {"type": "string"}},
    "strengths": {"type": "string"},
    "next_steps": {"type": "string"},
    "summary": {"type": "string"}
  }
}`

var compiledGradingSchema = mustCompileGradingSchema()

func mustCompileGradingSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("grading.schema.json", strings.NewReader(gradingSchema)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("grading.schema.json")
}

// OpenAIConfig defines configuration options for the OpenAI grader.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAIGrader implements Grader against the OpenAI chat completion API.
type OpenAIGrader struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIGrader builds a grader using the provided configuration.
func NewOpenAIGrader(cfg OpenAIConfig) (*OpenAIGrader, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}

	tracer := otel.Tracer("github.com/quillmark/quillmark-api/pkg/ai/openai")
	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	client := openai.NewClientWithConfig(config)

	return &OpenAIGrader{
		client: client,
		cfg:    cfg,
		tracer: tracer,
		logger: logger,
	}, nil
}

// Grade sends the marking request to OpenAI and parses the response.
func (g *OpenAIGrader) Grade(parent context.Context, input GradingInput) (GradingResult, error) {
	ctx, span := g.tracer.Start(parent, "openai.grade", trace.WithAttributes(
		attribute.String("model", g.cfg.Model),
		attribute.Int("questions", len(input.Questions)),
	))
	defer span.End()

	start := time.Now()
	request := openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: examinerSystemPrompt(),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildMarkingPrompt(input),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	resp, err := g.client.CreateChatCompletion(ctx, request)
	gradingDuration.WithLabelValues(g.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		gradingFailures.WithLabelValues(g.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return GradingResult{}, fmt.Errorf("openai grade: %w", err)
	}

	if len(resp.Choices) == 0 {
		err := fmt.Errorf("no choices returned from openai")
		gradingFailures.WithLabelValues(g.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return GradingResult{}, err
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	result, err := parseGradingResponse(content, input)
	if err != nil {
		gradingFailures.WithLabelValues(g.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return GradingResult{}, err
	}

	result.Raw = map[string]interface{}{
		"usage": resp.Usage,
	}

	return result, nil
}

func examinerSystemPrompt() string {
	return "You are a meticulous examiner who provides detailed, fair marking with clear justifications. " +
		"Respond only with a valid JSON object."
}

func buildMarkingPrompt(input GradingInput) string {
	builder := strings.Builder{}
	builder.WriteString("=== ASSESSMENT ===\n")
	builder.WriteString("Title: ")
	builder.WriteString(input.AssessmentTitle)
	builder.WriteString("\nSubject: ")
	builder.WriteString(input.Subject)
	builder.WriteString("\nStudent: ")
	builder.WriteString(input.StudentName)
	builder.WriteString("\n")

	for _, question := range input.Questions {
		fmt.Fprintf(&builder, "\n=== QUESTION %d (max %.0f marks) ===\n", question.Number, question.MaxMarks)
		builder.WriteString(question.Body)
		if question.MarkScheme != "" {
			builder.WriteString("\nMark scheme: ")
			builder.WriteString(question.MarkScheme)
		}
		if question.ModelAnswer != "" {
			builder.WriteString("\nModel answer: ")
			builder.WriteString(question.ModelAnswer)
		}

		if len(question.Parts) > 0 {
			for _, part := range question.Parts {
				key := fmt.Sprintf("%d-%s", question.Number, part.Label)
				fmt.Fprintf(&builder, "\nPart (%s), max %.0f marks: %s", part.Label, part.MaxMarks, part.Prompt)
				if part.MarkScheme != "" {
					builder.WriteString("\nMark scheme: ")
					builder.WriteString(part.MarkScheme)
				}
				fmt.Fprintf(&builder, "\nStudent answer [%s]: %s", key, answerOrNone(input.Answers, key))
			}
		} else {
			key := fmt.Sprintf("%d", question.Number)
			fmt.Fprintf(&builder, "\nStudent answer [%s]: %s", key, answerOrNone(input.Answers, key))
		}
		builder.WriteString("\n")
	}

	builder.WriteString("\n=== YOUR TASK ===\n")
	builder.WriteString("Mark every answer against its mark scheme. Use the student's name in the feedback and be specific.\n")
	builder.WriteString("Lower your confidence when an answer is ambiguous, borderline, or uses an unconventional approach.\n")
	builder.WriteString("Set needs_review true (with review_reasons) when the marking should be checked by a teacher.\n")
	builder.WriteString("Respond with ONLY a JSON object of this shape:\n")
	builder.WriteString(`{"total_score": n, "question_scores": {"<answer key>": n, ...}, "confidence": 0.0-1.0, ` +
		`"needs_review": bool, "review_reasons": [..], "strengths": "...", "next_steps": "...", "summary": "..."}`)

	return builder.String()
}

func answerOrNone(answers map[string]string, key string) string {
	if answer, ok := answers[key]; ok && strings.TrimSpace(answer) != "" {
		return answer
	}
	return "(no answer provided)"
}

func parseGradingResponse(content string, input GradingInput) (GradingResult, error) {
	var raw interface{}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return GradingResult{}, fmt.Errorf("parse grading json: %w", err)
	}

	if err := compiledGradingSchema.Validate(raw); err != nil {
		return GradingResult{}, fmt.Errorf("grading response does not match schema: %w", err)
	}

	type payload struct {
		TotalScore     float64            `json:"total_score"`
		QuestionScores map[string]float64 `json:"question_scores"`
		Confidence     float64            `json:"confidence"`
		NeedsReview    bool               `json:"needs_review"`
		ReviewReasons  []string           `json:"review_reasons"`
		Strengths      string             `json:"strengths"`
		NextSteps      string             `json:"next_steps"`
		Summary        string             `json:"summary"`
	}

	var data payload
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return GradingResult{}, fmt.Errorf("parse grading json: %w", err)
	}

	maxByKey, maxScore := answerKeyBudgets(input.Questions)

	scores := make(map[string]float64, len(data.QuestionScores))
	var total float64
	for _, key := range sortedKeys(maxByKey) {
		score := data.QuestionScores[key]
		if score < 0 {
			score = 0
		}
		if score > maxByKey[key] {
			score = maxByKey[key]
		}
		scores[key] = score
		total += score
	}

	result := GradingResult{
		Score:          total,
		MaxScore:       maxScore,
		QuestionScores: scores,
		Feedback: Feedback{
			Strengths: data.Strengths,
			NextSteps: data.NextSteps,
			Summary:   data.Summary,
		},
		Confidence:    clamp01(data.Confidence),
		NeedsReview:   data.NeedsReview,
		ReviewReasons: data.ReviewReasons,
	}

	if result.Confidence < lowConfidenceThreshold && !result.NeedsReview {
		result.NeedsReview = true
		result.ReviewReasons = append(result.ReviewReasons, fmt.Sprintf("low marking confidence: %.2f", result.Confidence))
	}

	return result, nil
}

func answerKeyBudgets(questions []Question) (map[string]float64, float64) {
	budgets := make(map[string]float64)
	var total float64
	for _, question := range questions {
		if len(question.Parts) > 0 {
			for _, part := range question.Parts {
				key := fmt.Sprintf("%d-%s", question.Number, part.Label)
				budgets[key] = part.MaxMarks
				total += part.MaxMarks
			}
			continue
		}
		budgets[fmt.Sprintf("%d", question.Number)] = question.MaxMarks
		total += question.MaxMarks
	}

	return budgets, total
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
