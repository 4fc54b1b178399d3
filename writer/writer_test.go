package writer_test

import (
	"context"
	stdsql "database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	_ "modernc.org/sqlite"

	"github.com/syssam/quarry"
	"github.com/syssam/quarry/dialect/sql"
	"github.com/syssam/quarry/dialect/sql/pool"
	"github.com/syssam/quarry/entity"
	"github.com/syssam/quarry/schema"
	"github.com/syssam/quarry/schema/field"
	"github.com/syssam/quarry/txn"
	"github.com/syssam/quarry/writer"
)

var (
	users = schema.Entity("User").
		Fields(field.Int64("id"), field.String("name").NotEmpty(), field.Int("age")).
		Identity().
		MustBuild()
	pets = schema.Entity("Pet").
		Fields(field.Int64("id"), field.String("name")).
		Identity().
		MustBuild()
	orders = schema.Entity("Order").
		Fields(field.Int64("id"), field.Float64("total")).
		Sequence("orders_id_seq").
		MustBuild()
)

// mockTx begins a transaction on a sqlmock database, matching statements
// exactly.
func mockTx(t *testing.T) (*stdsql.Tx, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)
	return tx, mock
}

func TestInsertSequenceReturning(t *testing.T) {
	raw, mock := mockTx(t)
	prep := mock.ExpectPrepare(`INSERT INTO "orders" ("id", "total") VALUES (nextval('orders_id_seq'), $1) RETURNING "id"`)
	prep.ExpectQuery().WithArgs(9.5).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	w, err := writer.New(txn.Adopt("postgres", raw))
	require.NoError(t, err)
	rec := entity.New(orders).MustSet("total", 9.5)
	require.NoError(t, w.Write(context.Background(), rec))
	assert.Equal(t, 1, w.Pending())
	require.NoError(t, w.Close(context.Background()))

	assert.Equal(t, int64(7), rec.Value(0))
	assert.Equal(t, entity.StatePersisted, rec.State())
	require.NoError(t, raw.Commit(), "adopted transaction stays open")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSkipPersisted(t *testing.T) {
	raw, mock := mockTx(t)
	w, err := writer.New(txn.Adopt("postgres", raw))
	require.NoError(t, err)
	rec := entity.Load(users, []any{int64(1), "a8m", 30})
	init := entity.New(users)
	init.SetState(entity.StateInitializing)
	require.NoError(t, w.Write(context.Background(), rec, init))
	assert.Zero(t, w.Pending())
	assert.Zero(t, w.Statements())
	require.NoError(t, w.Close(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateArgOrder(t *testing.T) {
	raw, mock := mockTx(t)
	prep := mock.ExpectPrepare(`UPDATE "users" SET "name" = $1, "age" = $2 WHERE "id" = $3`)
	prep.ExpectExec().WithArgs("bob", int64(31), int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))

	w, err := writer.New(txn.Adopt("postgres", raw))
	require.NoError(t, err)
	rec := entity.Load(users, []any{int64(7), "alice", 30})
	rec.MustSet("name", "bob").MustSet("age", 31)
	assert.Equal(t, entity.StateModified, rec.State())
	require.NoError(t, w.Write(context.Background(), rec))
	require.NoError(t, w.Close(context.Background()))
	assert.Equal(t, entity.StatePersisted, rec.State())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateNotFound(t *testing.T) {
	raw, mock := mockTx(t)
	prep := mock.ExpectPrepare(`UPDATE "users" SET "name" = $1, "age" = $2 WHERE "id" = $3`)
	prep.ExpectExec().WithArgs("bob", int64(30), int64(9)).WillReturnResult(sqlmock.NewResult(0, 0))

	w, err := writer.New(txn.Adopt("postgres", raw))
	require.NoError(t, err)
	rec := entity.Load(users, []any{int64(9), "alice", 30}).MustSet("name", "bob")
	require.NoError(t, w.Write(context.Background(), rec))
	err = w.Close(context.Background())
	require.Error(t, err)
	assert.True(t, quarry.IsWriteError(err))
	assert.True(t, quarry.IsNotFound(err))
	var werr *quarry.WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "update", werr.Op)
	assert.Equal(t, "users#9", werr.Record)
	assert.Equal(t, entity.StateModified, rec.State())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteValidation(t *testing.T) {
	raw, _ := mockTx(t)
	w, err := writer.New(txn.Adopt("postgres", raw))
	require.NoError(t, err)
	ctx := context.Background()

	noID := entity.New(users).MustSet("name", "a8m")
	noID.SetState(entity.StateModified)
	err = w.Write(ctx, noID)
	assert.True(t, quarry.IsValidationError(err))

	noID.SetState(entity.StateDeleted)
	assert.True(t, quarry.IsValidationError(w.Write(ctx, noID)))
	assert.Zero(t, w.Pending())
}

func TestOpOf(t *testing.T) {
	rowids := schema.Entity("Log").Fields(field.String("line")).RowID().MustBuild()
	tests := []struct {
		name string
		rec  func() *entity.Record
		op   writer.Op
		ok   bool
	}{
		{"identity", func() *entity.Record { return entity.New(users) }, writer.OpInsertIdentity, true},
		{"identity_with_id", func() *entity.Record { return entity.New(users).MustSet("id", int64(1)) }, writer.OpInsert, true},
		{"sequence", func() *entity.Record { return entity.New(orders) }, writer.OpInsertSequence, true},
		{"rowid", func() *entity.Record { return entity.New(rowids) }, writer.OpInsertRowID, true},
		{"modified", func() *entity.Record { return entity.Load(pets, []any{int64(1), "x"}).MustSet("name", "y") }, writer.OpUpdate, true},
		{"deleted", func() *entity.Record {
			r := entity.Load(pets, []any{int64(1), "x"})
			r.Delete()
			return r
		}, writer.OpDelete, true},
		{"persisted", func() *entity.Record { return entity.Load(pets, []any{int64(1), "x"}) }, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, ok := writer.OpOf(tt.rec())
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.op, op)
		})
	}
}

func newPool(t *testing.T, ddl ...string) *pool.Pool {
	t.Helper()
	db, err := stdsql.Open("sqlite", "file:"+t.TempDir()+"/writer.db")
	require.NoError(t, err)
	for _, stmt := range ddl {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	cfg := pool.DefaultConfig()
	cfg.MaxSize = 1
	cfg.MaxWait = time.Second
	cfg.EvictionInterval = 0
	p, err := pool.OpenDB(db, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

const (
	usersDDL = "CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL UNIQUE, age INTEGER)"
	petsDDL  = "CREATE TABLE pets (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT)"
)

func count(t *testing.T, p *pool.Pool, table string) int {
	t.Helper()
	ctx := context.Background()
	pc, err := p.Borrow(ctx)
	require.NoError(t, err)
	defer func() { require.NoError(t, p.Return(pc)) }()
	rows, err := pc.QueryContext(ctx, "SELECT COUNT(*) FROM "+table)
	require.NoError(t, err)
	defer rows.Close()
	var n int
	require.True(t, rows.Next())
	require.NoError(t, rows.Scan(&n))
	return n
}

func TestBatchesPerType(t *testing.T) {
	p := newPool(t, usersDDL, petsDDL)
	ctx := context.Background()
	rec := sql.NewStatsRecorder()
	w, err := writer.Begin(ctx, p, writer.WithStats(rec))
	require.NoError(t, err)

	u1 := entity.New(users).MustSet("name", "a8m").MustSet("age", 30)
	p1 := entity.New(pets).MustSet("name", "pedro")
	u2 := entity.New(users).MustSet("name", "nati").MustSet("age", 28)
	require.NoError(t, w.Write(ctx, u1, p1, u2))
	assert.Equal(t, 2, w.Statements())
	assert.Equal(t, 3, w.Pending())
	assert.Zero(t, rec.QueryStats().Stats().TotalExecs, "nothing runs before flush")
	require.NoError(t, w.Close(ctx))

	assert.Equal(t, int64(2), rec.QueryStats().Stats().TotalExecs)
	assert.Equal(t, int64(1), u1.Value(0))
	assert.Equal(t, int64(2), u2.Value(0))
	assert.Equal(t, int64(1), p1.Value(0))
	assert.Equal(t, "users#2", u2.String())
	for _, r := range []*entity.Record{u1, p1, u2} {
		assert.Equal(t, entity.StatePersisted, r.State())
	}
	assert.Equal(t, 2, count(t, p, "users"))
	assert.Equal(t, 1, count(t, p, "pets"))
	assert.Equal(t, 1, p.Stats().Idle, "connection returned on close")
}

func TestFlushBetweenTypes(t *testing.T) {
	p := newPool(t, usersDDL, petsDDL)
	ctx := context.Background()
	rec := sql.NewStatsRecorder()
	w, err := writer.Begin(ctx, p, writer.WithStats(rec), writer.FlushBetweenTypes())
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx,
		entity.New(users).MustSet("name", "a8m"),
		entity.New(pets).MustSet("name", "pedro"),
	))
	assert.Equal(t, int64(1), rec.QueryStats().Stats().TotalExecs, "users flushed before pets")
	require.NoError(t, w.Write(ctx, entity.New(users).MustSet("name", "nati")))
	require.NoError(t, w.Close(ctx))
	assert.Equal(t, int64(3), rec.QueryStats().Stats().TotalExecs)
}

func TestBatchSize(t *testing.T) {
	p := newPool(t, usersDDL)
	ctx := context.Background()
	rec := sql.NewStatsRecorder()
	w, err := writer.Begin(ctx, p, writer.WithStats(rec), writer.WithBatchSize(2))
	require.NoError(t, err)
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, w.Write(ctx, entity.New(users).MustSet("name", name)))
	}
	assert.Equal(t, 1, w.Pending())
	assert.Equal(t, int64(1), rec.QueryStats().Stats().TotalExecs)
	require.NoError(t, w.Close(ctx))
	assert.Equal(t, 3, count(t, p, "users"))
}

func TestBatchErrorCauses(t *testing.T) {
	p := newPool(t, usersDDL)
	ctx := context.Background()
	rec := sql.NewStatsRecorder()
	w, err := writer.Begin(ctx, p, writer.WithStats(rec))
	require.NoError(t, err)
	for _, name := range []string{"a", "a", "b", "b"} {
		require.NoError(t, w.Write(ctx, entity.New(users).MustSet("name", name)))
	}
	err = w.Close(ctx)
	require.Error(t, err)
	var werr *quarry.WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "User", werr.Entity)
	assert.Equal(t, "insert", werr.Op)
	assert.Len(t, werr.Causes, 2, "every failing row is reported")
	assert.True(t, quarry.IsConstraintError(err), "unique violations are classified")
	assert.Contains(t, werr.SQL, "INSERT INTO `users`")
	assert.Equal(t, int64(1), rec.QueryStats().Stats().Errors)
	assert.Equal(t, 2, count(t, p, "users"), "close still commits the rows that succeeded")
	assert.Equal(t, 1, p.Stats().Idle, "connection returned after a failed flush")
	var rerr *quarry.RollbackError
	assert.False(t, errors.As(err, &rerr), "cleanup does not mask the flush error")
	assert.ErrorIs(t, w.Write(ctx, entity.New(users)), writer.ErrClosed)
}

func TestDelete(t *testing.T) {
	p := newPool(t, usersDDL, "INSERT INTO users (name) VALUES ('a8m'), ('nati')")
	ctx := context.Background()
	w, err := writer.Begin(ctx, p)
	require.NoError(t, err)
	rec := entity.Load(users, []any{int64(1), "a8m", nil})
	rec.Delete()
	require.NoError(t, w.Write(ctx, rec))
	require.NoError(t, w.Close(ctx))
	assert.Equal(t, entity.StateDeleted, rec.State())
	assert.Equal(t, 1, count(t, p, "users"))
}

func TestDefaultExpr(t *testing.T) {
	p := newPool(t, "CREATE TABLE tasks (id INTEGER PRIMARY KEY, status TEXT NOT NULL)")
	tasks := schema.Entity("Task").
		Fields(field.Int64("id"), field.String("status").DefaultExpr("'open'")).
		MustBuild()
	ctx := context.Background()
	w, err := writer.Begin(ctx, p)
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx,
		entity.New(tasks).MustSet("id", int64(1)),
		entity.New(tasks).MustSet("id", int64(2)).MustSet("status", "done"),
	))
	require.NoError(t, w.Close(ctx))
	assert.Equal(t, []string{"open", "done"}, texts(t, p, "SELECT status FROM tasks ORDER BY id"))
}

// texts runs query and returns its single text column.
func texts(t *testing.T, p *pool.Pool, query string) []string {
	t.Helper()
	ctx := context.Background()
	pc, err := p.Borrow(ctx)
	require.NoError(t, err)
	defer func() { require.NoError(t, p.Return(pc)) }()
	rows, err := pc.QueryContext(ctx, query)
	require.NoError(t, err)
	defer rows.Close()
	var got []string
	for rows.Next() {
		var s string
		require.NoError(t, rows.Scan(&s))
		got = append(got, s)
	}
	require.NoError(t, rows.Err())
	return got
}

func TestSameTableDefinitions(t *testing.T) {
	p := newPool(t, "CREATE TABLE audit (id INTEGER PRIMARY KEY AUTOINCREMENT, note TEXT, stamp TEXT NOT NULL DEFAULT 'db')")
	stamped := schema.Entity("AuditStamped").Table("audit").
		Fields(field.Int64("id"), field.String("note"), field.String("stamp").Generated()).
		Identity().
		MustBuild()
	plain := schema.Entity("AuditPlain").Table("audit").
		Fields(field.Int64("id"), field.String("note"), field.String("stamp")).
		Identity().
		MustBuild()
	require.NotEqual(t, stamped.Handle(), plain.Handle())

	ctx := context.Background()
	rec := sql.NewStatsRecorder()
	w, err := writer.Begin(ctx, p, writer.WithStats(rec), writer.FlushBetweenTypes())
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, entity.New(stamped).MustSet("note", "x")))
	require.NoError(t, w.Write(ctx, entity.New(plain).MustSet("note", "y").MustSet("stamp", "s")))
	assert.Equal(t, 2, w.Statements(), "definitions sharing a table keep their own statements")
	assert.Equal(t, int64(1), rec.QueryStats().Stats().TotalExecs, "switching definitions flushes")
	require.NoError(t, w.Close(ctx))

	assert.Equal(t, []string{"db", "s"}, texts(t, p, "SELECT stamp FROM audit ORDER BY id"))
}

func TestRowID(t *testing.T) {
	p := newPool(t, "CREATE TABLE logs (line TEXT)")
	logs := schema.Entity("Log").Fields(field.String("line")).RowID().MustBuild()
	ctx := context.Background()
	w, err := writer.Begin(ctx, p)
	require.NoError(t, err)
	a, b := entity.New(logs).MustSet("line", "a"), entity.New(logs).MustSet("line", "b")
	require.NoError(t, w.Write(ctx, a, b))
	require.NoError(t, w.Close(ctx))
	assert.Equal(t, int64(1), a.RowID())
	assert.Equal(t, int64(2), b.RowID())
	assert.Equal(t, "logs#rowid=2", b.String())
}

func TestFieldValidation(t *testing.T) {
	p := newPool(t, usersDDL)
	ctx := context.Background()
	w, err := writer.Begin(ctx, p)
	require.NoError(t, err)
	err = w.Write(ctx, entity.New(users).MustSet("name", ""))
	assert.True(t, quarry.IsValidationError(err))
	assert.Zero(t, w.Pending())
	require.NoError(t, w.Abort(ctx))
	require.NoError(t, w.Abort(ctx), "abort is idempotent")
	assert.Equal(t, 1, p.Stats().Idle)
}

func TestAbort(t *testing.T) {
	p := newPool(t, usersDDL)
	ctx := context.Background()
	w, err := writer.Begin(ctx, p, writer.WithBatchSize(1))
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, entity.New(users).MustSet("name", "a8m")))
	require.NoError(t, w.Abort(ctx))
	assert.Zero(t, count(t, p, "users"))
	assert.NoError(t, w.Close(ctx), "close after abort is a no-op")
}

func TestFromContext(t *testing.T) {
	_, err := writer.FromContext(context.Background())
	assert.ErrorIs(t, err, txn.ErrNoTransaction)

	p := newPool(t, usersDDL)
	ctx := context.Background()
	tx, err := txn.Begin(ctx, p, nil)
	require.NoError(t, err)
	w, err := writer.FromContext(txn.NewContext(ctx, tx))
	require.NoError(t, err)
	assert.Same(t, tx, w.Tx())
	assert.Equal(t, 1, tx.Leases())
	assert.Error(t, tx.Commit(), "writer lease blocks commit")
	require.NoError(t, w.Write(ctx, entity.New(users).MustSet("name", "a8m")))
	require.NoError(t, w.Close(ctx))
	assert.Zero(t, tx.Leases())
	assert.True(t, tx.Done(), "begun transaction committed by close")
	assert.Equal(t, 1, count(t, p, "users"))
}

func TestFlushSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	p := newPool(t, usersDDL)
	ctx := context.Background()
	w, err := writer.Begin(ctx, p, writer.WithTracerProvider(tp))
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, entity.New(users).MustSet("name", "a8m")))
	require.NoError(t, w.Close(ctx))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "quarry.flush", spans[0].Name())
	var rows int64
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "quarry.rows" {
			rows = kv.Value.AsInt64()
		}
	}
	assert.Equal(t, int64(1), rows)
}

func TestClosedTx(t *testing.T) {
	p := newPool(t, usersDDL)
	tx, err := txn.Begin(context.Background(), p, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	_, err = writer.New(tx)
	assert.True(t, errors.Is(err, txn.ErrTxDone))
}
