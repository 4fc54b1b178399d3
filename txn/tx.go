// Package txn carries the current transaction of a unit of work.
//
// A Tx is either begun on a connection borrowed from a pool, in which case
// Commit and Rollback return the connection, or adopted from a *sql.Tx the
// caller manages. The query and writer packages never begin a transaction
// themselves; they look it up in the context:
//
//	tx, err := txn.Begin(ctx, p, nil)
//	if err != nil {
//		return err
//	}
//	defer tx.Rollback()
//	ctx = txn.NewContext(ctx, tx)
package txn

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/syssam/quarry/dialect/sql"
	"github.com/syssam/quarry/dialect/sql/pool"
	"github.com/syssam/quarry/dialect/sql/sqlerr"
)

var (
	// ErrNoTransaction is returned when the context carries no transaction.
	ErrNoTransaction = errors.New("txn: no active transaction")
	// ErrTxDone is returned by operations on a finished transaction.
	ErrTxDone = errors.New("txn: transaction already committed or rolled back")
	// ErrManaged is returned when committing or rolling back an adopted
	// transaction.
	ErrManaged = errors.New("txn: transaction is managed externally")
)

// Tx is an active transaction. It is safe for concurrent use, but the
// statements of a transaction run one at a time on its connection.
type Tx struct {
	dialect string
	tx      *stdsql.Tx
	pool    *pool.Pool
	pc      *pool.PooledConn
	codes   []string
	managed bool
	log     *slog.Logger

	mu     sync.Mutex
	leases int
	done   bool
}

// Option configures a Tx.
type Option func(*Tx)

// WithLogger sets the logger of the transaction.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tx) { t.log = l }
}

// Begin borrows a connection from p and starts a transaction on it. A nil
// opts applies the pool's default isolation level and read-only mode.
func Begin(ctx context.Context, p *pool.Pool, opts *sql.TxOptions, o ...Option) (*Tx, error) {
	pc, err := p.Borrow(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := pc.BeginTx(ctx, opts)
	if err != nil {
		if pc.Broken() {
			_ = p.Invalidate(pc)
		} else {
			_ = p.Return(pc)
		}
		return nil, fmt.Errorf("txn: begin: %w", err)
	}
	t := &Tx{
		dialect: p.Dialect(),
		tx:      tx,
		pool:    p,
		pc:      pc,
		codes:   p.Config().DisconnectionCodes,
		log:     slog.Default(),
	}
	for _, opt := range o {
		opt(t)
	}
	t.log.Debug("txn: begin", "conn", pc.ID())
	return t, nil
}

// Adopt wraps a transaction managed by the caller. Commit and Rollback of
// the returned Tx fail with ErrManaged.
func Adopt(dialect string, tx *stdsql.Tx, o ...Option) *Tx {
	t := &Tx{
		dialect: sql.NewConn(dialect, tx).Dialect(),
		tx:      tx,
		managed: true,
		log:     slog.Default(),
	}
	for _, opt := range o {
		opt(t)
	}
	return t
}

// Dialect returns the dialect of the underlying connection.
func (t *Tx) Dialect() string { return t.dialect }

// Managed reports whether the transaction is managed by the caller.
func (t *Tx) Managed() bool { return t.managed }

// Raw returns the underlying transaction.
func (t *Tx) Raw() *stdsql.Tx { return t.tx }

// Conn returns a dialect/sql.Conn executing on the transaction.
func (t *Tx) Conn() sql.Conn { return sql.NewConn(t.dialect, t.tx) }

// PooledConn returns the pooled connection of a begun transaction, or nil
// for an adopted one.
func (t *Tx) PooledConn() *pool.PooledConn { return t.pc }

// Check marks the pooled connection broken when err is a disconnection
// error. It returns err unchanged.
func (t *Tx) Check(err error) error {
	if err != nil && t.pc != nil && sqlerr.IsDisconnect(err, t.codes...) {
		t.log.Warn("txn: connection lost", "conn", t.pc.ID(), "error", err)
		t.pc.MarkBroken()
	}
	return err
}

// Lease registers a user of the transaction, such as an open cursor. The
// returned release function is safe to call more than once.
func (t *Tx) Lease() (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, ErrTxDone
	}
	t.leases++
	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			t.leases--
			t.mu.Unlock()
		})
	}, nil
}

// Leases returns the number of outstanding leases.
func (t *Tx) Leases() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leases
}

// Done reports whether the transaction was committed or rolled back.
func (t *Tx) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Commit commits the transaction and returns the connection to the pool.
// Committing while leases are outstanding fails without ending the
// transaction.
func (t *Tx) Commit() error {
	if err := t.finish("commit"); err != nil {
		return err
	}
	err := t.Check(t.tx.Commit())
	t.release()
	if err != nil {
		return fmt.Errorf("txn: commit: %w", err)
	}
	return nil
}

// Rollback aborts the transaction and returns the connection to the pool.
// Rolling back a finished transaction returns ErrTxDone.
func (t *Tx) Rollback() error {
	if t.managed {
		return ErrManaged
	}
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return ErrTxDone
	}
	t.done = true
	t.mu.Unlock()
	err := t.tx.Rollback()
	if errors.Is(err, stdsql.ErrTxDone) {
		err = nil
	}
	err = t.Check(err)
	t.release()
	if err != nil {
		return fmt.Errorf("txn: rollback: %w", err)
	}
	return nil
}

func (t *Tx) finish(op string) error {
	if t.managed {
		return ErrManaged
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.done:
		return ErrTxDone
	case t.leases > 0:
		return fmt.Errorf("txn: %s with %d open leases", op, t.leases)
	}
	t.done = true
	return nil
}

// release hands the connection back to its pool.
func (t *Tx) release() {
	t.pc.ClearTx()
	var err error
	if t.pc.Broken() {
		err = t.pool.Invalidate(t.pc)
	} else {
		err = t.pool.Return(t.pc)
	}
	if err != nil {
		t.log.Warn("txn: release connection", "conn", t.pc.ID(), "error", err)
	}
}

type ctxKey struct{}

// NewContext returns a new context carrying tx.
func NewContext(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, ctxKey{}, tx)
}

// FromContext returns the transaction stored in ctx, if any.
func FromContext(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(ctxKey{}).(*Tx)
	return tx, ok && tx != nil
}

// Must returns the active transaction of ctx, or ErrNoTransaction when
// there is none or it has finished.
func Must(ctx context.Context) (*Tx, error) {
	tx, ok := FromContext(ctx)
	if !ok || tx.Done() {
		return nil, ErrNoTransaction
	}
	return tx, nil
}
