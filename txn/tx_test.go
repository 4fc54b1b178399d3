package txn_test

import (
	"context"
	stdsql "database/sql"
	"database/sql/driver"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/syssam/quarry/dialect/sql"
	"github.com/syssam/quarry/dialect/sql/pool"
	"github.com/syssam/quarry/txn"
)

func newPool(t *testing.T) *pool.Pool {
	t.Helper()
	db, err := stdsql.Open("sqlite", "file:"+t.TempDir()+"/txn.db")
	require.NoError(t, err)
	cfg := pool.DefaultConfig()
	cfg.MaxSize = 1
	cfg.MaxWait = time.Second
	cfg.EvictionInterval = 0
	p, err := pool.OpenDB(db, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func count(t *testing.T, p *pool.Pool) int {
	t.Helper()
	ctx := context.Background()
	pc, err := p.Borrow(ctx)
	require.NoError(t, err)
	defer func() { require.NoError(t, p.Return(pc)) }()
	rows, err := pc.QueryContext(ctx, "SELECT COUNT(*) FROM t")
	require.NoError(t, err)
	defer rows.Close()
	var n int
	require.True(t, rows.Next())
	require.NoError(t, rows.Scan(&n))
	return n
}

// exec drops the result of a statement.
func exec(_ sql.Result, err error) error { return err }

func TestCommitRollback(t *testing.T) {
	p := newPool(t)
	ctx := context.Background()
	tx, err := txn.Begin(ctx, p, nil)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", tx.Dialect())
	assert.False(t, tx.Managed())
	assert.NotNil(t, tx.PooledConn())
	require.NoError(t, exec(tx.Conn().Exec(ctx, "CREATE TABLE t (x INTEGER)")))
	require.NoError(t, exec(tx.Conn().Exec(ctx, "INSERT INTO t VALUES (?)", 1)))
	require.NoError(t, tx.Commit())
	assert.True(t, tx.Done())
	assert.ErrorIs(t, tx.Commit(), txn.ErrTxDone)
	assert.ErrorIs(t, tx.Rollback(), txn.ErrTxDone)
	assert.Equal(t, 1, p.Stats().Idle, "connection returned on commit")

	tx, err = txn.Begin(ctx, p, nil)
	require.NoError(t, err)
	require.NoError(t, exec(tx.Conn().Exec(ctx, "INSERT INTO t VALUES (?)", 2)))
	require.NoError(t, tx.Rollback())
	assert.Equal(t, 1, count(t, p))
}

func TestLease(t *testing.T) {
	p := newPool(t)
	tx, err := txn.Begin(context.Background(), p, nil)
	require.NoError(t, err)
	release, err := tx.Lease()
	require.NoError(t, err)
	assert.Equal(t, 1, tx.Leases())
	assert.Error(t, tx.Commit(), "open lease blocks commit")
	assert.False(t, tx.Done())
	release()
	release()
	assert.Zero(t, tx.Leases())
	require.NoError(t, tx.Commit())
	_, err = tx.Lease()
	assert.ErrorIs(t, err, txn.ErrTxDone)
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	_, err := txn.Must(ctx)
	assert.ErrorIs(t, err, txn.ErrNoTransaction)
	_, ok := txn.FromContext(txn.NewContext(ctx, nil))
	assert.False(t, ok)

	p := newPool(t)
	tx, err := txn.Begin(ctx, p, nil)
	require.NoError(t, err)
	ctx = txn.NewContext(ctx, tx)
	got, err := txn.Must(ctx)
	require.NoError(t, err)
	assert.Same(t, tx, got)
	require.NoError(t, tx.Rollback())
	_, err = txn.Must(ctx)
	assert.ErrorIs(t, err, txn.ErrNoTransaction, "finished transactions are not active")
}

func TestAdopt(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	raw, err := db.Begin()
	require.NoError(t, err)
	tx := txn.Adopt("pgx", raw)
	assert.True(t, tx.Managed())
	assert.Equal(t, "postgres", tx.Dialect())
	assert.Nil(t, tx.PooledConn())
	require.NoError(t, exec(tx.Conn().Exec(context.Background(), "UPDATE t SET x = 1")))
	assert.ErrorIs(t, tx.Commit(), txn.ErrManaged)
	assert.ErrorIs(t, tx.Rollback(), txn.ErrManaged)
	require.NoError(t, raw.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckMarksBroken(t *testing.T) {
	p := newPool(t)
	tx, err := txn.Begin(context.Background(), p, nil)
	require.NoError(t, err)
	pc := tx.PooledConn()
	assert.NoError(t, tx.Check(nil))
	assert.Error(t, tx.Check(stdsql.ErrNoRows))
	assert.False(t, pc.Broken())
	assert.Error(t, tx.Check(sql.ErrNotEvaluable))
	assert.False(t, pc.Broken())

	err = tx.Check(fmt.Errorf("exec: %w", driver.ErrBadConn))
	assert.Error(t, err)
	assert.True(t, pc.Broken())
	require.NoError(t, tx.Rollback())
	s := p.Stats()
	assert.Zero(t, s.Total, "broken connection destroyed on release")
}
