package vqactl

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/violationsqa/violationsqa/internal/query"
)

type askResponse struct {
	SessionID string        `json:"session_id"`
	Kind      string        `json:"kind"`
	Answer    string        `json:"answer"`
	SQL       string        `json:"sql"`
	Result    *query.Result `json:"result"`
	Warnings  []string      `json:"warnings"`
}

type historyResponse struct {
	SessionID string    `json:"session_id"`
	StartTime time.Time `json:"start_time"`
	Turns     []struct {
		Role      string    `json:"role"`
		Content   string    `json:"content"`
		Timestamp time.Time `json:"timestamp"`
	} `json:"turns"`
}

type sessionsResponse struct {
	Sessions []struct {
		SessionID string    `json:"session_id"`
		StartTime time.Time `json:"start_time"`
		TurnCount int       `json:"turn_count"`
	} `json:"sessions"`
}

type schemaResponse struct {
	Text        string              `json:"text"`
	SampleRows  string              `json:"sample_rows"`
	Categorical map[string][]string `json:"categorical"`
}

// answerRenderer prints the answer on w. Session and warnings go to diag so
// the answer can be piped on its own.
func answerRenderer(showSQL bool, diag io.Writer) func(io.Writer, []byte) error {
	return func(w io.Writer, body []byte) error {
		var resp askResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return err
		}
		if resp.SessionID != "" {
			_, _ = fmt.Fprintf(diag, "session: %s\n", resp.SessionID)
		}
		for _, warning := range resp.Warnings {
			_, _ = fmt.Fprintf(diag, "warning: %s\n", warning)
		}
		_, _ = fmt.Fprintln(w, resp.Answer)
		if showSQL && resp.SQL != "" {
			_, _ = fmt.Fprintf(w, "\nSQL: %s\n", resp.SQL)
			if resp.Result != nil {
				_, _ = fmt.Fprintln(w, resp.Result.Text())
			}
		}
		return nil
	}
}

func renderSessions(w io.Writer, body []byte) error {
	var resp sessionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return err
	}
	if len(resp.Sessions) == 0 {
		_, _ = fmt.Fprintln(w, "no sessions")
		return nil
	}
	rows := make([][]any, 0, len(resp.Sessions))
	for _, s := range resp.Sessions {
		rows = append(rows, []any{s.SessionID, s.StartTime.UTC().Format(time.RFC3339), int64(s.TurnCount)})
	}
	_, _ = fmt.Fprintln(w, query.FormatTable([]string{"session_id", "start_time", "turns"}, rows))
	return nil
}

func renderHistory(w io.Writer, body []byte) error {
	var resp historyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "session %s started %s\n", resp.SessionID, resp.StartTime.UTC().Format(time.RFC3339))
	for _, turn := range resp.Turns {
		_, _ = fmt.Fprintf(w, "[%s] %s: %s\n", turn.Timestamp.UTC().Format(time.RFC3339), turn.Role, turn.Content)
	}
	return nil
}

func renderSchema(w io.Writer, body []byte) error {
	var resp schemaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, strings.TrimRight(resp.Text, "\n"))
	if resp.SampleRows != "" {
		_, _ = fmt.Fprintf(w, "\nSample rows:\n%s\n", strings.TrimRight(resp.SampleRows, "\n"))
	}
	if len(resp.Categorical) > 0 {
		columns := make([]string, 0, len(resp.Categorical))
		for column := range resp.Categorical {
			columns = append(columns, column)
		}
		sort.Strings(columns)
		_, _ = fmt.Fprintln(w, "\nCategorical values:")
		for _, column := range columns {
			_, _ = fmt.Fprintf(w, "- %s: %s\n", column, strings.Join(resp.Categorical[column], ", "))
		}
	}
	return nil
}
