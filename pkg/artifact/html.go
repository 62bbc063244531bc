package artifact

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sort"
	"strings"
)

// HTMLRenderer renders the feedback document as a self-contained HTML page.
type HTMLRenderer struct {
	tmpl *template.Template
}

// NewHTMLRenderer constructs the renderer, compiling its template once.
func NewHTMLRenderer() (*HTMLRenderer, error) {
	tmpl, err := template.New("feedback").Parse(feedbackTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse feedback template: %w", err)
	}

	return &HTMLRenderer{tmpl: tmpl}, nil
}

type questionRow struct {
	Key   string
	Score float64
}

type templateData struct {
	Input
	Questions []questionRow
}

// Render produces the document bytes and a suggested file name.
func (r *HTMLRenderer) Render(_ context.Context, input Input) ([]byte, string, error) {
	rows := make([]questionRow, 0, len(input.QuestionScores))
	for key, score := range input.QuestionScores {
		rows = append(rows, questionRow{Key: key, Score: score})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, templateData{Input: input, Questions: rows}); err != nil {
		return nil, "", fmt.Errorf("render feedback document: %w", err)
	}

	name := fmt.Sprintf("feedback-%s", slugify(input.StudentName))

	return buf.Bytes(), name + ".html", nil
}

func slugify(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	value = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, value)
	value = strings.Trim(value, "-")
	if value == "" {
		value = "student"
	}
	return value
}

const feedbackTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.AssessmentTitle}} — Feedback for {{.StudentName}}</title>
<style>
body { font-family: Georgia, serif; max-width: 680px; margin: 2rem auto; color: #1a1a2e; }
h1 { font-size: 1.4rem; border-bottom: 2px solid #1a1a2e; padding-bottom: .5rem; }
.score { font-size: 1.8rem; font-weight: bold; }
.section { margin-top: 1.5rem; }
.section h2 { font-size: 1rem; text-transform: uppercase; letter-spacing: .05em; color: #4a4a68; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: .3rem .8rem; text-align: left; }
footer { margin-top: 2.5rem; font-size: .8rem; color: #777; }
</style>
</head>
<body>
<h1>{{.AssessmentTitle}}{{if .Subject}} — {{.Subject}}{{end}}</h1>
<p>Feedback for <strong>{{.StudentName}}</strong></p>
<p class="score">{{printf "%.1f" .Score}} / {{printf "%.1f" .MaxScore}}</p>
{{if .Questions}}
<div class="section">
<h2>Marks by question</h2>
<table>
<tr><th>Question</th><th>Marks</th></tr>
{{range .Questions}}<tr><td>{{.Key}}</td><td>{{printf "%.1f" .Score}}</td></tr>
{{end}}</table>
</div>
{{end}}
{{if .Strengths}}
<div class="section"><h2>What went well</h2><p>{{.Strengths}}</p></div>
{{end}}
{{if .NextSteps}}
<div class="section"><h2>Next steps</h2><p>{{.NextSteps}}</p></div>
{{end}}
{{if .Summary}}
<div class="section"><h2>Overall</h2><p>{{.Summary}}</p></div>
{{end}}
<footer>
{{if .TeacherDisplay}}Marked for {{.TeacherDisplay}}{{if .School}}, {{.School}}{{end}}.{{end}}
{{if .MarkedAt}} Marked at {{.MarkedAt}}.{{end}}
</footer>
</body>
</html>
`
