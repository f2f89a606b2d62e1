package query

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/violationsqa/violationsqa/internal/store/duckdb"
)

func TestExecuteReturnsRows(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT department, COUNT(*) AS total FROM violations GROUP BY department`)).
		WillReturnRows(sqlmock.NewRows([]string{"department", "total"}).
			AddRow([]byte("Production"), int64(11)).
			AddRow("Logistics", int64(6)))
	mock.ExpectRollback()

	result := NewExecutor(db).Execute(context.Background(), "SELECT department, COUNT(*) AS total FROM violations GROUP BY department;")
	if result.Kind != KindRows {
		t.Fatalf("Kind = %q, message = %q", result.Kind, result.Message)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("rows = %d", len(result.Rows))
	}
	if result.Rows[0][0] != "Production" {
		t.Fatalf("bytes should be normalised to string, got %#v", result.Rows[0][0])
	}
	if got := result.FirstRow(); got != "department: Production, total: 11" {
		t.Fatalf("FirstRow() = %q", got)
	}
	assertSQLMock(t, mock)
}

func TestExecuteReturnsAffectedForMutations(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE violations SET status = 'Resolved'`)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectRollback()

	result := NewExecutor(db).Execute(context.Background(), "UPDATE violations SET status = 'Resolved'")
	if result.Kind != KindAffected || result.Affected != 3 {
		t.Fatalf("result = %+v", result)
	}
	if got := result.Text(); got != "Query executed successfully, 3 rows affected." {
		t.Fatalf("Text() = %q", got)
	}
	assertSQLMock(t, mock)
}

func TestExecuteReturnsDriverErrorText(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT nope FROM violations`)).
		WillReturnError(errors.New(`column "nope" does not exist`))
	mock.ExpectRollback()

	result := NewExecutor(db).Execute(context.Background(), "SELECT nope FROM violations")
	if !result.Failed() {
		t.Fatalf("expected error result, got %+v", result)
	}
	if result.Message != `column "nope" does not exist` {
		t.Fatalf("Message = %q", result.Message)
	}
	assertSQLMock(t, mock)
}

func TestExecuteCapsRows(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM violations`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).AddRow(3))
	mock.ExpectRollback()

	result := NewExecutor(db, WithMaxRows(2)).Execute(context.Background(), "SELECT id FROM violations")
	if len(result.Rows) != 2 || !result.Truncated {
		t.Fatalf("result = %+v", result)
	}
	assertSQLMock(t, mock)
}

func TestExecuteReportsConnectionFailure(t *testing.T) {
	result := NewExecutor(failingProvider{}).Execute(context.Background(), "SELECT 1")
	if !result.Failed() || !strings.Contains(result.Message, "connection refused") {
		t.Fatalf("result = %+v", result)
	}
}

func TestExecuteRejectsEmptySQL(t *testing.T) {
	result := NewExecutor(failingProvider{}).Execute(context.Background(), " ; ")
	if !result.Failed() || result.Message != "sql is required" {
		t.Fatalf("result = %+v", result)
	}
}

func TestExecuteAgainstDuckDB(t *testing.T) {
	ctx := context.Background()
	db, err := duckdb.Open(ctx, "")
	if err != nil {
		t.Fatalf("duckdb.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := duckdb.Bootstrap(ctx, db); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	executor := NewExecutor(db)

	count := executor.Execute(ctx, "SELECT COUNT(*) AS total_violations FROM violations")
	if count.Kind != KindRows {
		t.Fatalf("count result = %+v", count)
	}
	if count.Rows[0][0] != int64(24) {
		t.Fatalf("count = %#v", count.Rows[0][0])
	}

	malformed := executor.Execute(ctx, "SELEC * FROM violations")
	if !malformed.Failed() || malformed.Message == "" {
		t.Fatalf("malformed result = %+v", malformed)
	}

	deleted := executor.Execute(ctx, "DELETE FROM violations WHERE status = 'Resolved'")
	if deleted.Kind != KindAffected || deleted.Affected == 0 {
		t.Fatalf("delete result = %+v", deleted)
	}
	after := executor.Execute(ctx, "SELECT COUNT(*) FROM violations")
	if after.Rows[0][0] != int64(24) {
		t.Fatalf("mutation should be rolled back, count = %#v", after.Rows[0][0])
	}

	returned := executor.Execute(ctx, "UPDATE violations SET status = 'Closed' WHERE id <= 3 RETURNING id")
	if returned.Kind != KindRows || len(returned.Rows) != 3 {
		t.Fatalf("update returning result = %+v", returned)
	}
	if len(returned.Columns) != 1 || returned.Columns[0] != "id" {
		t.Fatalf("update returning columns = %v", returned.Columns)
	}

	resolved := executor.Execute(ctx, "SELECT COUNT(*) FROM violations WHERE status = 'Resolved'")
	wantDeleted, ok := resolved.Rows[0][0].(int64)
	if !ok || wantDeleted == 0 {
		t.Fatalf("resolved count = %#v", resolved.Rows[0][0])
	}
	cteDelete := executor.Execute(ctx, `WITH resolved AS (SELECT id FROM violations WHERE status = 'Resolved')
DELETE FROM violations WHERE id IN (SELECT id FROM resolved)`)
	if cteDelete.Kind != KindAffected || cteDelete.Affected != wantDeleted {
		t.Fatalf("cte delete result = %+v, want %d affected", cteDelete, wantDeleted)
	}
}

func TestExecuteQueriesReturningClause(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE violations SET status = 'Closed' WHERE id <= 2 RETURNING id`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)))
	mock.ExpectRollback()

	result := NewExecutor(db).Execute(context.Background(), "UPDATE violations SET status = 'Closed' WHERE id <= 2 RETURNING id")
	if result.Kind != KindRows || len(result.Rows) != 2 {
		t.Fatalf("result = %+v", result)
	}
	assertSQLMock(t, mock)
}

func TestExecuteCountsDataModifyingCTE(t *testing.T) {
	statement := `WITH stale AS (SELECT id FROM violations WHERE status = 'Resolved') DELETE FROM violations WHERE id IN (SELECT id FROM stale)`
	db, mock := newSQLMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(statement)).WillReturnResult(sqlmock.NewResult(0, 7))
	mock.ExpectRollback()

	result := NewExecutor(db).Execute(context.Background(), statement)
	if result.Kind != KindAffected || result.Affected != 7 {
		t.Fatalf("result = %+v", result)
	}
	assertSQLMock(t, mock)
}

func TestExecuteRecountsStatementsWithoutColumns(t *testing.T) {
	statement := `SELECT FROM violations WHERE status = 'Open'`
	db, mock := newSQLMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(statement)).WillReturnRows(sqlmock.NewRows([]string{}))
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(statement)).WillReturnResult(sqlmock.NewResult(0, 5))
	mock.ExpectRollback()

	result := NewExecutor(db).Execute(context.Background(), statement)
	if result.Kind != KindAffected || result.Affected != 5 {
		t.Fatalf("result = %+v", result)
	}
	assertSQLMock(t, mock)
}

func TestReturnsRows(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{input: "SELECT 1", want: true},
		{input: "  with x as (select 1) select * from x", want: true},
		{input: "-- count\nSELECT COUNT(*) FROM violations", want: true},
		{input: "/* hint */ (SELECT 1)", want: true},
		{input: "UPDATE violations SET status = 'x'", want: false},
		{input: "UPDATE violations SET status = 'x' RETURNING id", want: true},
		{input: "delete from violations returning *", want: true},
		{input: "WITH d AS (DELETE FROM violations RETURNING id) SELECT COUNT(*) FROM d", want: true},
		{input: "WITH r AS (SELECT id FROM violations) DELETE FROM violations WHERE id IN (SELECT id FROM r)", want: false},
		{input: "WITH RECURSIVE n(i) AS (SELECT 1 UNION ALL SELECT i + 1 FROM n WHERE i < 3) SELECT i FROM n", want: true},
		{input: "UPDATE violations SET area = 'returning dock'", want: false},
		{input: "SELEC * FROM violations", want: false},
		{input: "", want: false},
	}
	for _, tt := range tests {
		if got := returnsRows(tt.input); got != tt.want {
			t.Fatalf("returnsRows(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestFormatTableAlignsWideRunes(t *testing.T) {
	got := FormatTable([]string{"employee_name", "total"}, [][]any{
		{"Nguyễn Văn A", int64(4)},
		{"Le Van C", int64(3)},
		{nil, 1.5},
	})
	want := strings.Join([]string{
		"employee_name  total",
		"Nguyễn Văn A   4",
		"Le Van C       3",
		"NULL           1.5",
	}, "\n")
	if got != want {
		t.Fatalf("FormatTable() =\n%s\nwant\n%s", got, want)
	}
}

func TestFormatValueTimes(t *testing.T) {
	day := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)
	if got := FormatValue(day); got != "2025-03-04" {
		t.Fatalf("FormatValue(date) = %q", got)
	}
	if got := FormatValue(day.Add(90 * time.Minute)); got != "2025-03-04 01:30:00" {
		t.Fatalf("FormatValue(timestamp) = %q", got)
	}
}

type failingProvider struct{}

func (failingProvider) Conn(context.Context) (*sql.Conn, error) {
	return nil, errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
