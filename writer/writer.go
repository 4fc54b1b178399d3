package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/syssam/quarry"
	"github.com/syssam/quarry/dialect/sql"
	"github.com/syssam/quarry/dialect/sql/pool"
	"github.com/syssam/quarry/dialect/sql/sqlerr"
	"github.com/syssam/quarry/entity"
	"github.com/syssam/quarry/query"
	"github.com/syssam/quarry/schema"
	"github.com/syssam/quarry/txn"
)

const tracerName = "github.com/syssam/quarry/writer"

// ErrClosed is returned by writes on a closed Writer.
var ErrClosed = errors.New("writer: closed")

// Writer batches record writes per entity definition and operation. It is
// bound to one transaction and is not safe for concurrent use.
type Writer struct {
	tx      *txn.Tx
	release func()
	log     *slog.Logger
	stats   *sql.StatsRecorder
	tracer  trace.Tracer
	between bool
	size    int
	exec    *query.Executor

	buckets map[key]*bucket
	order   []*bucket
	last    schema.Handle
	closed  bool
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) { w.log = l }
}

// WithStats records every executed batch in rec.
func WithStats(rec *sql.StatsRecorder) Option {
	return func(w *Writer) { w.stats = rec }
}

// WithTracerProvider sets the provider of the flush spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(w *Writer) { w.tracer = tp.Tracer(tracerName) }
}

// FlushBetweenTypes flushes pending rows whenever a record of another
// entity definition is written, so that rows reach the database in the
// order they were written across types.
func FlushBetweenTypes() Option {
	return func(w *Writer) { w.between = true }
}

// WithBatchSize flushes a batch as soon as it holds n rows.
func WithBatchSize(n int) Option {
	return func(w *Writer) { w.size = n }
}

// WithInvalidation drops the cached query results of every flushed table
// from the cache of e.
func WithInvalidation(e *query.Executor) Option {
	return func(w *Writer) { w.exec = e }
}

// New returns a Writer on tx. The writer holds a lease on tx until Close.
func New(tx *txn.Tx, opts ...Option) (*Writer, error) {
	release, err := tx.Lease()
	if err != nil {
		return nil, fmt.Errorf("writer: %w", err)
	}
	w := &Writer{
		tx:      tx,
		release: release,
		log:     slog.Default(),
		tracer:  otel.Tracer(tracerName),
		buckets: make(map[key]*bucket),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// FromContext returns a Writer on the transaction carried by ctx.
func FromContext(ctx context.Context, opts ...Option) (*Writer, error) {
	tx, err := txn.Must(ctx)
	if err != nil {
		return nil, err
	}
	return New(tx, opts...)
}

// Begin starts a transaction on a connection of p and returns a Writer on
// it. Close commits the transaction.
func Begin(ctx context.Context, p *pool.Pool, opts ...Option) (*Writer, error) {
	tx, err := txn.Begin(ctx, p, nil)
	if err != nil {
		return nil, err
	}
	w, err := New(tx, opts...)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	return w, nil
}

// Tx returns the transaction of the writer.
func (w *Writer) Tx() *txn.Tx { return w.tx }

// Pending returns the number of queued rows.
func (w *Writer) Pending() int {
	n := 0
	for _, b := range w.order {
		n += len(b.pending)
	}
	return n
}

// Statements returns the number of prepared statements held.
func (w *Writer) Statements() int { return len(w.order) }

// OpOf returns the operation rec is written with, and false when rec needs
// no write.
func OpOf(rec *entity.Record) (Op, bool) {
	def := rec.Definition()
	switch rec.State() {
	case entity.StateNew:
		ids := rec.HasIDs()
		switch {
		case def.RowID():
			return OpInsertRowID, true
		case !ids && def.Strategy() == schema.StrategyIdentity:
			return OpInsertIdentity, true
		case !ids && def.Strategy() == schema.StrategySequence:
			return OpInsertSequence, true
		}
		return OpInsert, true
	case entity.StateModified:
		return OpUpdate, true
	case entity.StateDeleted:
		return OpDelete, true
	}
	return 0, false
}

// Write queues recs. Persisted and initializing records are skipped.
// Invalid records fail before anything is queued for them.
func (w *Writer) Write(ctx context.Context, recs ...*entity.Record) error {
	if w.closed {
		return ErrClosed
	}
	for _, rec := range recs {
		op, ok := OpOf(rec)
		if !ok {
			continue
		}
		def := rec.Definition()
		if (op == OpUpdate || op == OpDelete) && !rec.HasIDs() {
			return quarry.NewValidationError(def.String(), fmt.Errorf("%s of %s without id values", op, rec))
		}
		if w.between && w.last != 0 && w.last != def.Handle() && w.Pending() > 0 {
			if err := w.Flush(ctx); err != nil {
				return err
			}
		}
		b, err := w.bucket(ctx, def, op)
		if err != nil {
			return err
		}
		args, err := b.args(rec)
		if err != nil {
			return err
		}
		b.pending = append(b.pending, row{rec: rec, args: args})
		w.last = def.Handle()
		if w.size > 0 && len(b.pending) >= w.size {
			if err := w.flush(ctx, b); err != nil {
				return err
			}
		}
	}
	return nil
}

// bucket returns the bucket of (def, op), rendering and preparing its
// statement on first use.
func (w *Writer) bucket(ctx context.Context, def *schema.Definition, op Op) (*bucket, error) {
	k := key{handle: def.Handle(), op: op}
	if b, ok := w.buckets[k]; ok {
		return b, nil
	}
	b, err := newBucket(def, op, w.tx.Dialect())
	if err != nil {
		return nil, err
	}
	stmt, err := w.tx.Raw().PrepareContext(ctx, b.sql)
	if err != nil {
		return nil, fmt.Errorf("writer: prepare %s %s: %w", op, def, w.tx.Check(err))
	}
	b.stmt = stmt
	w.buckets[k] = b
	w.order = append(w.order, b)
	w.log.DebugContext(ctx, "writer: prepared statement", "entity", def.String(), "op", op.String(), "sql", b.sql)
	return b, nil
}

// Flush executes every pending batch, in the order the batches were first
// used. It stops at the first failing batch.
func (w *Writer) Flush(ctx context.Context) error {
	for _, b := range w.order {
		if len(b.pending) == 0 {
			continue
		}
		if err := w.flush(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) flush(ctx context.Context, b *bucket) error {
	ctx, span := w.tracer.Start(ctx, "quarry.flush",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", w.tx.Dialect()),
			attribute.String("db.statement", b.sql),
			attribute.String("quarry.entity", b.def.String()),
			attribute.String("quarry.op", b.key.op.String()),
			attribute.Int("quarry.rows", len(b.pending)),
		),
	)
	defer span.End()
	start := time.Now()
	first, causes := b.exec(ctx, w.tx)
	rows := len(b.pending)
	b.pending = b.pending[:0]
	var err error
	if len(causes) > 0 {
		err = w.batchError(ctx, b, first, causes)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	w.stats.Record(ctx, b.sql, nil, start, err, false)
	w.log.DebugContext(ctx, "writer: flushed batch", "entity", b.def.String(), "op", b.key.op.String(), "rows", rows, "duration", time.Since(start))
	if w.exec != nil {
		if ierr := w.exec.Invalidate(ctx, b.def.Table()); ierr != nil {
			w.log.WarnContext(ctx, "writer: invalidate cached results", "table", b.def.Table(), "error", ierr)
		}
	}
	return err
}

// batchError logs every per-row cause with its unwrap chain and returns
// them as one WriteError.
func (w *Writer) batchError(ctx context.Context, b *bucket, first *entity.Record, causes []error) error {
	for i, cause := range causes {
		cause = classify(cause)
		causes[i] = cause
		w.log.ErrorContext(ctx, "writer: row failed",
			"entity", b.def.String(),
			"op", b.key.op.String(),
			"row", i+1,
			"error", cause,
			"chain", chain(cause),
		)
	}
	return &quarry.WriteError{
		Entity: b.def.String(),
		Op:     b.key.op.verb(),
		Record: first.String(),
		SQL:    b.sql,
		Causes: causes,
	}
}

// classify marks constraint violations, so callers can test a batch error
// with quarry.IsConstraintError whatever the driver.
func classify(err error) error {
	switch {
	case quarry.IsConstraintError(err):
		return err
	case sqlerr.IsUniqueConstraintError(err):
		return quarry.NewConstraintError("unique", err)
	case sqlerr.IsForeignKeyConstraintError(err):
		return quarry.NewConstraintError("foreign key", err)
	case sqlerr.IsCheckConstraintError(err):
		return quarry.NewConstraintError("check", err)
	}
	return err
}

// chain lists the messages of err and of every error it wraps.
func chain(err error) []string {
	var msgs []string
	for err != nil {
		msgs = append(msgs, err.Error())
		if j, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range j.Unwrap() {
				msgs = append(msgs, chain(e)...)
			}
			break
		}
		err = errors.Unwrap(err)
	}
	return msgs
}

// Abort drops pending rows and releases every prepared statement. Unless the
// transaction is managed by the caller, it is rolled back.
func (w *Writer) Abort(ctx context.Context) error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.closeStatements(ctx)
	w.release()
	if w.tx.Managed() {
		return nil
	}
	return w.tx.Rollback()
}

func (w *Writer) closeStatements(ctx context.Context) {
	for _, b := range w.order {
		if err := b.close(); err != nil {
			w.log.WarnContext(ctx, "writer: close statement", "entity", b.def.String(), "op", b.key.op.String(), "error", err)
		}
	}
	w.buckets, w.order = nil, nil
}

// Close flushes pending rows and releases every prepared statement. Unless
// the transaction is managed by the caller, it is then committed and its
// connection returns to the pool. After a failed flush the commit is still
// attempted, falling back to a rollback, and only the flush error is
// returned; cleanup failures are logged.
func (w *Writer) Close(ctx context.Context) error {
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.Flush(ctx)
	w.closeStatements(ctx)
	w.release()
	if w.tx.Managed() {
		return err
	}
	if err == nil {
		return w.tx.Commit()
	}
	w.cleanup(ctx)
	return err
}

// cleanup ends the transaction after a failed flush without masking the
// flush error.
func (w *Writer) cleanup(ctx context.Context) {
	cerr := w.tx.Commit()
	if cerr == nil {
		return
	}
	w.log.WarnContext(ctx, "writer: commit after failed flush", "error", cerr)
	if w.tx.Done() {
		return
	}
	if rerr := w.tx.Rollback(); rerr != nil {
		w.log.WarnContext(ctx, "writer: cleanup", "error", &quarry.RollbackError{Err: rerr})
	}
}
