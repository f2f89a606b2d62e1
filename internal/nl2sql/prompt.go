package nl2sql

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/violationsqa/violationsqa/internal/query"
)

// OutputInstruction closes every SQL prompt.
const OutputInstruction = "Output either a single SQL statement beginning with SELECT or WITH, or exactly no_answer, with no other text or formatting."

var sqlPromptTemplate = template.Must(template.New("sql").Funcs(template.FuncMap{"join": strings.Join}).Parse(`You are an expert SQL assistant.
Your task: generate a PostgreSQL query that answers the latest USER question,
considering the full multi-turn conversation below.

Conversation so far (oldest first):
{{- range .History}}
Role: {{.Role}} | Content: {{.Content}}
{{- else}}
(no previous turns)
{{- end}}

Latest user question: {{.Question}}

Database schema:
---
{{.Schema}}
---
{{- if .SampleRows}}

Sample rows:
---
{{.SampleRows}}
---
{{- end}}
{{- if .Categorical}}

Known values of categorical columns:
{{- range $column, $values := .Categorical}}
- {{$column}}: {{join $values ", "}}
{{- end}}
{{- end}}

Retrieved knowledge base context:
---
{{- range .Documents}}
{{.Content}}
{{- else}}
(none)
{{- end}}
---

Rules:
- If the answer cannot be obtained from the given table/columns, output exactly: no_answer
- Return ONLY a valid SQL query (or no_answer). No narration.
- Start the query with SELECT or WITH.
- Prefer explicit column names, avoid SELECT * unless necessary.
- Use table name violations.

{{.Instruction}}`))

var explainPromptTemplate = template.Must(template.New("explain").Parse(`You are an assistant specialized in explaining SQL results in a natural way.
Task:
- Read the user's question and the returned SQL result.
- Provide a concise, easy-to-understand answer, as a human would respond directly.
- Do not repeat the question, do not restate the raw result, only give the natural answer.

User question: {{.Question}}
SQL Result: {{.Result}}
{{- if .Summary}}
({{.Summary}})
{{- end}}

Please answer:`))

// ComposeSQLPrompt renders the SQL generation prompt. Categorical columns render
// in name order, so identical inputs always produce identical prompts.
func ComposeSQLPrompt(bundle ContextBundle, question string) (string, error) {
	var buf bytes.Buffer
	err := sqlPromptTemplate.Execute(&buf, struct {
		ContextBundle
		Question    string
		Instruction string
	}{
		ContextBundle: bundle,
		Question:      strings.TrimSpace(question),
		Instruction:   OutputInstruction,
	})
	if err != nil {
		return "", fmt.Errorf("render sql prompt: %w", err)
	}
	return buf.String(), nil
}

// ComposeExplainPrompt renders the explanation prompt from the first row of
// a rows result, or from the summary text of an affected result.
func ComposeExplainPrompt(question string, result query.Result) (string, error) {
	data := struct {
		Question string
		Result   string
		Summary  string
	}{
		Question: strings.TrimSpace(question),
		Result:   result.FirstRow(),
	}
	if result.Kind == query.KindRows {
		data.Summary = rowSummary(result)
	}

	var buf bytes.Buffer
	if err := explainPromptTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render explain prompt: %w", err)
	}
	return buf.String(), nil
}

func rowSummary(result query.Result) string {
	switch n := len(result.Rows); {
	case result.Truncated:
		return fmt.Sprintf("first of at least %d rows", n)
	case n == 1:
		return "1 row returned"
	default:
		return fmt.Sprintf("%d rows returned", n)
	}
}
