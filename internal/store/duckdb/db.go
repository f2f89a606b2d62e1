// Package duckdb serves the violations dataset from an embedded DuckDB database.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/violationsqa/violationsqa/internal/migrations"
)

var schemaStatements = []string{
	`CREATE SEQUENCE IF NOT EXISTS violations_id_seq START 1`,
	`CREATE TABLE IF NOT EXISTS departments (
	department_name VARCHAR PRIMARY KEY
)`,
	`CREATE TABLE IF NOT EXISTS violations (
	id INTEGER PRIMARY KEY DEFAULT nextval('violations_id_seq'),
	employee_name VARCHAR NOT NULL,
	department VARCHAR REFERENCES departments (department_name),
	violation_type VARCHAR NOT NULL,
	area VARCHAR,
	violation_time TIMESTAMP NOT NULL DEFAULT current_timestamp,
	status VARCHAR NOT NULL DEFAULT 'In Progress'
)`,
}

// Open opens a DuckDB database at path. An empty path opens an in-memory database
// shared by every connection of the returned pool.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return db, nil
}

// Bootstrap creates the dataset tables and loads the sample rows when the
// violations table is empty. It is safe to call on every start.
func Bootstrap(ctx context.Context, db *sql.DB) (bool, error) {
	for _, statement := range schemaStatements {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return false, fmt.Errorf("create duckdb schema: %w", err)
		}
	}

	var count int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM violations`).Scan(&count); err != nil {
		return false, fmt.Errorf("count violations: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	seed, err := migrations.SeedScript()
	if err != nil {
		return false, err
	}
	for _, statement := range splitStatements(seed) {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return false, fmt.Errorf("seed duckdb: %w", err)
		}
	}
	return true, nil
}

// splitStatements splits a script on semicolons that end a line.
func splitStatements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";\n") {
		part = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(part), ";"))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
