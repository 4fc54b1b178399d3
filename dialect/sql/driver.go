package sql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/syssam/quarry/dialect"
)

// ExecQuerier wraps the standard Exec and Query methods. It is implemented
// by *sql.DB, *sql.Conn, *sql.Tx and pooled connections.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Preparer is implemented by ExecQueriers that can prepare statements.
type Preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Conn runs rendered statements on an ExecQuerier speaking one dialect.
type Conn struct {
	eq      ExecQuerier
	dialect string
}

// NewConn wraps eq. The dialect name is normalized, so driver names such as
// "pgx" or "sqlite3" are accepted.
func NewConn(name string, eq ExecQuerier) Conn {
	return Conn{eq: eq, dialect: dialect.Normalize(name)}
}

// Dialect returns the dialect of the connection.
func (c Conn) Dialect() string { return c.dialect }

// Exec executes a statement that returns no rows.
func (c Conn) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	res, err := c.eq.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: exec: %w", err)
	}
	return res, nil
}

// Query executes a statement that returns rows. The caller closes them.
func (c Conn) Query(ctx context.Context, query string, args ...any) (ColumnScanner, error) {
	rows, err := c.eq.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: query: %w", err)
	}
	return rows, nil
}

// Prepare prepares a statement on the underlying ExecQuerier.
func (c Conn) Prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	p, ok := c.eq.(Preparer)
	if !ok {
		return nil, fmt.Errorf("dialect/sql: %T does not support prepared statements", c.eq)
	}
	stmt, err := p.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: prepare: %w", err)
	}
	return stmt, nil
}

// Statement is a rendered builder: Selector, InsertBuilder, UpdateBuilder
// and DeleteBuilder.
type Statement interface {
	Query() (string, []any)
	Err() error
}

// ExecStatement renders st and executes it. Rendering errors are returned
// before anything reaches the database.
func (c Conn) ExecStatement(ctx context.Context, st Statement) (Result, error) {
	if err := st.Err(); err != nil {
		return nil, err
	}
	query, args := st.Query()
	return c.Exec(ctx, query, args...)
}

type (
	// Result is an alias to sql.Result.
	Result = sql.Result
	// TxOptions holds the transaction options to be used in BeginTx.
	TxOptions = sql.TxOptions
)

// ColumnScanner is the interface that wraps the standard
// sql.Rows methods used for scanning database rows.
type ColumnScanner interface {
	Close() error
	ColumnTypes() ([]*sql.ColumnType, error)
	Columns() ([]string, error)
	Err() error
	Next() bool
	NextResultSet() bool
	Scan(dest ...any) error
}
