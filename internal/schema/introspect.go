package schema

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/violationsqa/violationsqa/internal/query"
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadTable(ctx context.Context, q queryer, schemaName, tableName string) (Table, error) {
	statement := `
SELECT column_name, data_type, character_maximum_length, is_nullable
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`
	rows, err := q.QueryContext(ctx, statement, schemaName, tableName)
	if err != nil {
		return Table{}, fmt.Errorf("query columns of %s: %w", tableName, err)
	}
	defer func() { _ = rows.Close() }()

	table := Table{Name: tableName}
	for rows.Next() {
		var (
			column    Column
			maxLength sql.NullInt64
			nullable  string
		)
		if err := rows.Scan(&column.Name, &column.DataType, &maxLength, &nullable); err != nil {
			return Table{}, fmt.Errorf("scan column of %s: %w", tableName, err)
		}
		if maxLength.Valid {
			value := maxLength.Int64
			column.MaxLength = &value
		}
		column.Nullable = nullable == "YES"
		table.Columns = append(table.Columns, column)
	}
	if err := rows.Err(); err != nil {
		return Table{}, fmt.Errorf("iterate columns of %s: %w", tableName, err)
	}
	if len(table.Columns) == 0 {
		return Table{}, fmt.Errorf("table %s not found in schema %s", tableName, schemaName)
	}
	return table, nil
}

func loadSample(ctx context.Context, q queryer, tableName string, limit int) (string, error) {
	statement := fmt.Sprintf(`SELECT * FROM %s ORDER BY 1 LIMIT %d`, quoteIdent(tableName), limit)
	rows, err := q.QueryContext(ctx, statement)
	if err != nil {
		return "", fmt.Errorf("query sample rows of %s: %w", tableName, err)
	}
	defer func() { _ = rows.Close() }()

	columns, values, _, err := query.ScanRows(rows, limit)
	if err != nil {
		return "", fmt.Errorf("read sample rows of %s: %w", tableName, err)
	}
	return query.FormatTable(columns, values), nil
}

// loadDistinct returns the sorted distinct values of a column. ok is false when
// the column has more than maxDistinct values.
func loadDistinct(ctx context.Context, q queryer, tableName, columnName string, maxDistinct int) ([]string, bool, error) {
	statement := fmt.Sprintf(
		`SELECT DISTINCT %[1]s FROM %[2]s WHERE %[1]s IS NOT NULL ORDER BY %[1]s LIMIT %[3]d`,
		quoteIdent(columnName), quoteIdent(tableName), maxDistinct+1,
	)
	rows, err := q.QueryContext(ctx, statement)
	if err != nil {
		return nil, false, fmt.Errorf("query distinct %s.%s: %w", tableName, columnName, err)
	}
	defer func() { _ = rows.Close() }()

	var values []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, false, fmt.Errorf("scan distinct %s.%s: %w", tableName, columnName, err)
		}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate distinct %s.%s: %w", tableName, columnName, err)
	}
	if len(values) > maxDistinct {
		return nil, false, nil
	}
	return values, true, nil
}
