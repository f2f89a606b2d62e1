// Package store defines how components obtain scoped database connections.
package store

import (
	"context"
	"database/sql"
)

// Provider hands out a dedicated connection for the duration of one call.
// Callers must Close the returned connection. *sql.DB satisfies Provider.
type Provider interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

// TxBeginner starts a transaction. *sql.DB satisfies TxBeginner.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
