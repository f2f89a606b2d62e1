// Package audit writes one JSON line per pipeline run and archives rotated
// log files to object storage as parquet.
package audit

import "time"

// Record is the audit line of one pipeline run.
type Record struct {
	Time              time.Time        `json:"time"`
	TraceID           string           `json:"trace_id,omitempty"`
	SessionID         string           `json:"session_id,omitempty"`
	Question          string           `json:"question"`
	Outcome           string           `json:"outcome"`
	Route             string           `json:"route,omitempty"`
	SQL               string           `json:"sql,omitempty"`
	Result            string           `json:"result,omitempty"`
	Explanation       string           `json:"explanation,omitempty"`
	Answer            string           `json:"answer"`
	Error             string           `json:"error,omitempty"`
	Warnings          []string         `json:"warnings,omitempty"`
	RetrievedIDs      []string         `json:"retrieved_ids,omitempty"`
	RetrievalDegraded bool             `json:"retrieval_degraded,omitempty"`
	Model             string           `json:"model,omitempty"`
	PromptTokens      int              `json:"prompt_tokens,omitempty"`
	OutputTokens      int              `json:"output_tokens,omitempty"`
	ExecutionTimeMS   int64            `json:"execution_time_ms"`
	StagesMS          map[string]int64 `json:"stages_ms,omitempty"`
}
