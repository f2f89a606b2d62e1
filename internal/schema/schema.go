// Package schema discovers the queried tables at runtime and renders them for prompts.
package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/violationsqa/violationsqa/internal/store"
)

type Column struct {
	Name      string `json:"name"`
	DataType  string `json:"data_type"`
	MaxLength *int64 `json:"max_length,omitempty"`
	Nullable  bool   `json:"nullable"`
}

type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Description is the read-only snapshot used to ground one prompt.
type Description struct {
	Tables      []Table             `json:"tables"`
	Text        string              `json:"text"`
	SampleRows  string              `json:"sample_rows"`
	Categorical map[string][]string `json:"categorical"`
}

type Config struct {
	// SchemaName is "public" for Postgres and "main" for DuckDB.
	SchemaName string
	Tables     []string
	SampleRows int
	// MaxDistinct bounds categorical summaries. Text columns with more distinct
	// values are treated as free text and left out.
	MaxDistinct int
}

type Describer struct {
	provider store.Provider
	cfg      Config
}

func NewDescriber(provider store.Provider, cfg Config) *Describer {
	if cfg.SchemaName == "" {
		cfg.SchemaName = "public"
	}
	if len(cfg.Tables) == 0 {
		cfg.Tables = []string{"violations"}
	}
	if cfg.MaxDistinct <= 0 {
		cfg.MaxDistinct = 20
	}
	return &Describer{provider: provider, cfg: cfg}
}

// Describe introspects every configured table on one connection that is
// released before returning. Nothing is cached between calls.
func (d *Describer) Describe(ctx context.Context) (Description, error) {
	if d.provider == nil {
		return Description{}, fmt.Errorf("connection provider is required")
	}
	conn, err := d.provider.Conn(ctx)
	if err != nil {
		return Description{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	out := Description{Categorical: map[string][]string{}}
	var text strings.Builder
	var samples []string
	for _, tableName := range d.cfg.Tables {
		table, err := loadTable(ctx, conn, d.cfg.SchemaName, tableName)
		if err != nil {
			return Description{}, err
		}
		out.Tables = append(out.Tables, table)
		text.WriteString(RenderTable(table))

		if d.cfg.SampleRows > 0 {
			sample, err := loadSample(ctx, conn, tableName, d.cfg.SampleRows)
			if err != nil {
				return Description{}, err
			}
			samples = append(samples, sample)
		}

		for _, column := range table.Columns {
			if !isTextType(column.DataType) {
				continue
			}
			values, ok, err := loadDistinct(ctx, conn, tableName, column.Name, d.cfg.MaxDistinct)
			if err != nil {
				return Description{}, err
			}
			if ok {
				out.Categorical[tableName+"."+column.Name] = values
			}
		}
	}
	out.Text = text.String()
	out.SampleRows = strings.Join(samples, "\n\n")
	return out, nil
}

// RenderTable formats a table the way prompts expect it.
func RenderTable(table Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table %q has the following columns:\n", table.Name)
	for _, column := range table.Columns {
		fmt.Fprintf(&b, "- %s (%s)\n", column.Name, column.TypeString())
	}
	return b.String()
}

func (c Column) TypeString() string {
	dataType := strings.ToUpper(c.DataType)
	if c.MaxLength != nil && *c.MaxLength > 0 {
		return fmt.Sprintf("%s(%d)", dataType, *c.MaxLength)
	}
	return dataType
}

func isTextType(dataType string) bool {
	switch strings.ToLower(dataType) {
	case "text", "character varying", "varchar", "character", "char", "string":
		return true
	default:
		return false
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
