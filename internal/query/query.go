// Package query runs generated SQL against the relational store and classifies
// the outcome as rows, an affected-row count, or an execution error.
package query

import (
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	KindRows     Kind = "rows"
	KindAffected Kind = "affected"
	KindError    Kind = "error"
)

// Result is a tagged union. Exactly one of Columns/Rows, Affected or Message is
// meaningful, selected by Kind.
type Result struct {
	Kind      Kind          `json:"kind"`
	Columns   []string      `json:"columns,omitempty"`
	Rows      [][]any       `json:"rows,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Affected  int64         `json:"affected,omitempty"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"-"`
}

func RowsResult(columns []string, rows [][]any) Result {
	if rows == nil {
		rows = [][]any{}
	}
	return Result{Kind: KindRows, Columns: columns, Rows: rows}
}

func AffectedResult(count int64) Result {
	return Result{Kind: KindAffected, Affected: count}
}

func ErrorResult(err error) Result {
	return Result{Kind: KindError, Message: err.Error()}
}

func (r Result) Failed() bool {
	return r.Kind == KindError
}

// Text renders the result the way it is shown to users and written to the audit log.
func (r Result) Text() string {
	switch r.Kind {
	case KindRows:
		return FormatTable(r.Columns, r.Rows)
	case KindAffected:
		return fmt.Sprintf("Query executed successfully, %d rows affected.", r.Affected)
	case KindError:
		return "SQL Error: " + r.Message
	default:
		return ""
	}
}

// FirstRow renders the first row as "column: value" pairs. Non-row results
// render their Text instead.
func (r Result) FirstRow() string {
	if r.Kind != KindRows {
		return r.Text()
	}
	if len(r.Rows) == 0 {
		return "(no rows)"
	}
	row := r.Rows[0]
	pairs := make([]string, len(r.Columns))
	for i, column := range r.Columns {
		var value any
		if i < len(row) {
			value = row[i]
		}
		pairs[i] = column + ": " + FormatValue(value)
	}
	return strings.Join(pairs, ", ")
}
