package pool

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/quarry/dialect/sql/sqlerr"
)

// Conn is a physical database connection. *sql.Conn satisfies it.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	PingContext(ctx context.Context) error
	Close() error
}

// Connector opens physical connections.
type Connector interface {
	Connect(ctx context.Context) (Conn, error)
}

// ConnectorFunc adapts a function to a Connector.
type ConnectorFunc func(ctx context.Context) (Conn, error)

// Connect implements Connector.
func (f ConnectorFunc) Connect(ctx context.Context) (Conn, error) { return f(ctx) }

// FromDB returns a Connector dedicating one connection of src per Connect
// call. Use it with a *sql.DB whose own idle pool is disabled, see Open.
func FromDB(src interface {
	Conn(context.Context) (*sql.Conn, error)
}) Connector {
	return ConnectorFunc(func(ctx context.Context) (Conn, error) {
		return src.Conn(ctx)
	})
}

// State is the lifecycle state of a pooled connection.
type State int

// Connection states.
const (
	StateIdle State = iota
	StateAllocated
	StateReturning
	StateEvictionTest
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAllocated:
		return "allocated"
	case StateReturning:
		return "returning"
	case StateEvictionTest:
		return "eviction_test"
	case StateInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// PooledConn wraps a physical connection owned by a Pool. It is handed to
// one borrower at a time and must go back through Pool.Return or
// Pool.Invalidate.
type PooledConn struct {
	id      uuid.UUID
	conn    Conn
	pool    *Pool
	created time.Time

	// guarded by pool.mu
	state      State
	lastBorrow time.Time
	lastReturn time.Time
	useCount   int64

	mu      sync.Mutex
	lastUse time.Time
	broken  bool
	tx      *sql.Tx
}

// ID returns the unique identifier of the connection.
func (pc *PooledConn) ID() uuid.UUID { return pc.id }

// Raw returns the physical connection.
func (pc *PooledConn) Raw() Conn { return pc.conn }

// Created returns the time the physical connection was opened.
func (pc *PooledConn) Created() time.Time { return pc.created }

// State returns the current lifecycle state.
func (pc *PooledConn) State() State {
	pc.pool.mu.Lock()
	defer pc.pool.mu.Unlock()
	return pc.state
}

// UseCount returns how many times the connection was borrowed.
func (pc *PooledConn) UseCount() int64 {
	pc.pool.mu.Lock()
	defer pc.pool.mu.Unlock()
	return pc.useCount
}

// LastUsed returns the time of the last statement or borrow.
func (pc *PooledConn) LastUsed() time.Time {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.lastUse
}

// MarkBroken flags the connection so that it is destroyed instead of being
// reused.
func (pc *PooledConn) MarkBroken() {
	pc.mu.Lock()
	pc.broken = true
	pc.mu.Unlock()
}

// Broken reports whether the connection saw a disconnection error.
func (pc *PooledConn) Broken() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.broken
}

// ExecContext executes a statement on the connection.
func (pc *PooledConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	pc.touch()
	res, err := pc.conn.ExecContext(ctx, query, args...)
	return res, pc.check(err)
}

// QueryContext runs a query on the connection.
func (pc *PooledConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	pc.touch()
	rows, err := pc.conn.QueryContext(ctx, query, args...)
	return rows, pc.check(err)
}

// PrepareContext prepares a statement on the connection.
func (pc *PooledConn) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	pc.touch()
	stmt, err := pc.conn.PrepareContext(ctx, query)
	return stmt, pc.check(err)
}

// BeginTx starts a transaction. A nil opts applies the pool defaults. The
// transaction is tracked so that it can be rolled back if the borrower
// returns the connection without finishing it.
func (pc *PooledConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if opts == nil {
		opts = pc.pool.config().txOptions()
	}
	pc.touch()
	tx, err := pc.conn.BeginTx(ctx, opts)
	if err != nil {
		return nil, pc.check(err)
	}
	pc.mu.Lock()
	pc.tx = tx
	pc.mu.Unlock()
	return tx, nil
}

// Tx returns the transaction started with BeginTx, if still tracked.
func (pc *PooledConn) Tx() *sql.Tx {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.tx
}

// ClearTx stops tracking the current transaction. Call it after commit or
// rollback.
func (pc *PooledConn) ClearTx() {
	pc.mu.Lock()
	pc.tx = nil
	pc.mu.Unlock()
}

func (pc *PooledConn) touch() {
	pc.mu.Lock()
	pc.lastUse = time.Now()
	pc.mu.Unlock()
}

// check marks the connection broken on disconnection errors.
func (pc *PooledConn) check(err error) error {
	if err != nil && sqlerr.IsDisconnect(err, pc.pool.config().DisconnectionCodes...) {
		pc.MarkBroken()
	}
	return err
}

// rollback rolls back a dangling transaction, if any.
func (pc *PooledConn) rollback() error {
	pc.mu.Lock()
	tx := pc.tx
	pc.tx = nil
	pc.mu.Unlock()
	if tx == nil {
		return nil
	}
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return pc.check(err)
	}
	return nil
}
