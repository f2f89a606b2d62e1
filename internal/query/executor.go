package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/violationsqa/violationsqa/internal/store"
)

const defaultMaxRows = 1000

// Executor runs one statement per call on a connection it acquires and
// releases within that call. Statements run inside a transaction that is
// always rolled back, so mutating SQL reports its row count without persisting.
type Executor struct {
	provider store.Provider
	maxRows  int
}

type ExecutorOption func(*Executor)

// WithMaxRows caps the number of rows read from a result set. n <= 0 disables the cap.
func WithMaxRows(n int) ExecutorOption {
	return func(e *Executor) { e.maxRows = n }
}

func NewExecutor(provider store.Provider, opts ...ExecutorOption) *Executor {
	e := &Executor{provider: provider, maxRows: defaultMaxRows}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute never returns a Go error: every failure becomes an error Result
// carrying the driver's message.
func (e *Executor) Execute(ctx context.Context, sqlText string) Result {
	start := time.Now()
	result := e.execute(ctx, stripTrailingSemicolons(sqlText))
	result.Duration = time.Since(start)
	return result
}

func (e *Executor) execute(ctx context.Context, sqlText string) Result {
	if sqlText == "" {
		return ErrorResult(fmt.Errorf("sql is required"))
	}
	if e.provider == nil {
		return ErrorResult(fmt.Errorf("connection provider is required"))
	}

	conn, err := e.provider.Conn(ctx)
	if err != nil {
		return ErrorResult(err)
	}
	defer func() { _ = conn.Close() }()

	if returnsRows(sqlText) {
		result, hasColumns := e.query(ctx, conn, sqlText)
		if hasColumns || result.Failed() {
			return result
		}
		// No result columns: run it again on a fresh transaction for the row count.
	}
	return e.exec(ctx, conn, sqlText)
}

func (e *Executor) query(ctx context.Context, conn *sql.Conn, sqlText string) (Result, bool) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return ErrorResult(err), false
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, sqlText)
	if err != nil {
		return ErrorResult(err), false
	}
	defer func() { _ = rows.Close() }()

	columns, values, truncated, err := ScanRows(rows, e.maxRows)
	if err != nil {
		return ErrorResult(err), false
	}
	if len(columns) == 0 {
		return Result{}, false
	}
	result := RowsResult(columns, values)
	result.Truncated = truncated
	return result, true
}

func (e *Executor) exec(ctx context.Context, conn *sql.Conn, sqlText string) Result {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return ErrorResult(err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, sqlText)
	if err != nil {
		return ErrorResult(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	return AffectedResult(affected)
}

var rowKeywords = map[string]struct{}{
	"SELECT":    {},
	"WITH":      {},
	"VALUES":    {},
	"TABLE":     {},
	"SHOW":      {},
	"EXPLAIN":   {},
	"DESCRIBE":  {},
	"PRAGMA":    {},
	"SUMMARIZE": {},
	"FROM":      {},
}

var mutatingKeywords = map[string]struct{}{
	"INSERT": {},
	"UPDATE": {},
	"DELETE": {},
	"MERGE":  {},
}

// returnsRows reports whether the statement produces a result set. A leading
// WITH is resolved to the verb of the main statement, and a top-level
// RETURNING clause makes a mutation return rows.
func returnsRows(sqlText string) bool {
	keyword := strings.ToUpper(leadingKeyword(sqlText))
	words := topLevelWords(sqlText)
	for _, word := range words {
		if word == "RETURNING" {
			return true
		}
	}
	if keyword == "WITH" {
		keyword = mainVerb(words)
	}
	if _, ok := mutatingKeywords[keyword]; ok {
		return false
	}
	_, ok := rowKeywords[keyword]
	return ok
}

// mainVerb returns the first top-level verb after a WITH clause. CTE bodies
// sit inside parentheses and never reach it.
func mainVerb(words []string) string {
	for _, word := range words {
		if word == "WITH" {
			continue
		}
		if _, ok := mutatingKeywords[word]; ok {
			return word
		}
		if _, ok := rowKeywords[word]; ok {
			return word
		}
	}
	return "WITH"
}

// topLevelWords returns the upper-cased bare words of the statement that sit
// outside parentheses, comments, string literals and quoted identifiers.
func topLevelWords(sqlText string) []string {
	var words []string
	depth := 0
	s := sqlText
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case strings.HasPrefix(s[i:], "--"):
			end := strings.IndexByte(s[i:], '\n')
			if end < 0 {
				return words
			}
			i += end + 1
		case strings.HasPrefix(s[i:], "/*"):
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				return words
			}
			i += end + 4
		case c == '\'' || c == '"':
			end := strings.IndexByte(s[i+1:], c)
			if end < 0 {
				return words
			}
			i += end + 2
		case c == '(':
			depth++
			i++
		case c == ')':
			if depth > 0 {
				depth--
			}
			i++
		case isWordByte(c) && !(c >= '0' && c <= '9'):
			j := i
			for j < len(s) && isWordByte(s[j]) {
				j++
			}
			if depth == 0 {
				words = append(words, strings.ToUpper(s[i:j]))
			}
			i = j
		default:
			i++
		}
	}
	return words
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

func leadingKeyword(sqlText string) string {
	s := sqlText
	for {
		s = strings.TrimLeft(s, " \t\r\n(")
		switch {
		case strings.HasPrefix(s, "--"):
			idx := strings.IndexByte(s, '\n')
			if idx < 0 {
				return ""
			}
			s = s[idx+1:]
		case strings.HasPrefix(s, "/*"):
			idx := strings.Index(s, "*/")
			if idx < 0 {
				return ""
			}
			s = s[idx+2:]
		default:
			end := strings.IndexFunc(s, func(r rune) bool {
				return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
			})
			if end < 0 {
				return s
			}
			return s[:end]
		}
	}
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
