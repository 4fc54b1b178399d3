package query

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/syssam/quarry"
	"github.com/syssam/quarry/dialect/sql"
	"github.com/syssam/quarry/entity"
	"github.com/syssam/quarry/schema"
	"github.com/syssam/quarry/txn"
)

const tracerName = "github.com/syssam/quarry/query"

// Executor runs queries on the transaction carried by the context.
// An Executor is safe for concurrent use.
type Executor struct {
	log    *slog.Logger
	stats  *sql.StatsRecorder
	tracer trace.Tracer
	cache  quarry.Cache
	ttl    time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// WithStats records every statement in rec.
func WithStats(rec *sql.StatsRecorder) Option {
	return func(e *Executor) { e.stats = rec }
}

// WithTracerProvider sets the provider of the query spans. The global
// provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Executor) { e.tracer = tp.Tracer(tracerName) }
}

// WithCache caches query results for ttl. Cached queries read their whole
// result before the cursor is returned.
func WithCache(c quarry.Cache, ttl time.Duration) Option {
	return func(e *Executor) { e.cache, e.ttl = c, ttl }
}

// NewExecutor returns an Executor configured with opts.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{log: slog.Default(), tracer: otel.Tracer(tracerName)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Query executes q and returns a cursor over its rows. The context must
// carry an active transaction; Query never begins one.
func (e *Executor) Query(ctx context.Context, q *Query) (*Cursor, error) {
	return e.query(ctx, q, "select")
}

func (e *Executor) query(ctx context.Context, q *Query, op string) (*Cursor, error) {
	tx, err := txn.Must(ctx)
	if err != nil {
		return nil, err
	}
	name := q.def.String()
	sel, text, args, err := q.statement(tx.Dialect())
	if err != nil {
		return nil, quarry.NewQueryError(name, op, "", err)
	}
	ctx, span := e.start(ctx, tx, name, op, text)
	var key string
	if e.cache != nil {
		key = quarry.CacheKey{Table: q.def.Table(), Operation: op, Predicates: sel.String()}.String()
		if res, ok := e.cached(ctx, key); ok {
			span.SetAttributes(attribute.Bool("quarry.cache_hit", true))
			return e.cursor(ctx, q, text, res.Columns, &memSource{rows: res.Rows}, nil, nil, span), nil
		}
	}
	release, err := tx.Lease()
	if err != nil {
		return nil, e.fail(span, quarry.NewQueryError(name, op, text, err))
	}
	rows, cols, err := e.exec(ctx, tx, text, args)
	if err != nil {
		release()
		return nil, e.fail(span, quarry.NewQueryError(name, op, text, err))
	}
	src := &rowsSource{rows: rows, n: len(cols)}
	if e.cache == nil {
		return e.cursor(ctx, q, text, cols, src, tx, release, span), nil
	}
	data, err := drain(src)
	release()
	if err != nil {
		tx.Check(err)
		return nil, e.fail(span, quarry.NewQueryError(name, op, text, err))
	}
	e.store(ctx, key, cachedResult{Columns: cols, Rows: data})
	return e.cursor(ctx, q, text, cols, &memSource{rows: data}, nil, nil, span), nil
}

func (e *Executor) start(ctx context.Context, tx *txn.Tx, name, op, text string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "quarry."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", tx.Dialect()),
			attribute.String("db.statement", text),
			attribute.String("quarry.entity", name),
		),
	)
}

func (e *Executor) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
	return err
}

// exec runs a query on the transaction and reads the result metadata.
func (e *Executor) exec(ctx context.Context, tx *txn.Tx, text string, args []any) (sql.ColumnScanner, []schema.Column, error) {
	start := time.Now()
	rows, err := tx.Conn().Query(ctx, text, args...)
	e.stats.Record(ctx, text, args, start, err, true)
	if err != nil {
		return nil, nil, tx.Check(err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		_ = rows.Close()
		return nil, nil, err
	}
	e.log.Debug("query: executed", "sql", text, "duration", time.Since(start))
	return rows, schema.ColumnsOf(types), nil
}

// cursor decides the row shape and wraps src. Joins, grouping, a custom
// select list or a target other than the source synthesize a definition
// from the result metadata.
func (e *Executor) cursor(ctx context.Context, q *Query, text string, cols []schema.Column, src source, tx *txn.Tx, release func(), span trace.Span) *Cursor {
	def := q.target
	if q.adhoc() || len(cols) != def.Len() {
		def = schema.FromColumns(q.def.Table(), cols...)
	}
	return &Cursor{
		ctx:     ctx,
		src:     src,
		def:     def,
		entity:  q.def.String(),
		sql:     text,
		tx:      tx,
		release: release,
		span:    span,
		log:     e.log,
	}
}

// First returns the first row of q, or a NotFoundError.
func (e *Executor) First(ctx context.Context, q *Query) (*entity.Record, error) {
	c, err := e.query(ctx, q.Clone().Limit(1), "first")
	if err != nil {
		return nil, err
	}
	defer c.Close()
	if !c.Next() {
		if err := c.Err(); err != nil {
			return nil, err
		}
		return nil, quarry.NewNotFoundError(q.def.String())
	}
	return c.Record(), nil
}

// Only returns the single row of q. It fails with a NotFoundError when
// there is none and a NotSingularError when there is more than one.
func (e *Executor) Only(ctx context.Context, q *Query) (*entity.Record, error) {
	c, err := e.query(ctx, q.Clone().Limit(2), "only")
	if err != nil {
		return nil, err
	}
	recs, err := c.All()
	switch {
	case err != nil:
		return nil, err
	case len(recs) == 0:
		return nil, quarry.NewNotFoundError(q.def.String())
	case len(recs) > 1:
		return nil, quarry.NewNotSingularError(q.def.String())
	}
	return recs[0], nil
}

// Count returns the number of rows of q.
func (e *Executor) Count(ctx context.Context, q *Query) (int, error) {
	sel := q.sel
	if sel.IsRaw() || sel.IsAggregate() || sel.HasLimit() {
		c, err := e.query(ctx, q, "count")
		if err != nil {
			return 0, err
		}
		for c.Next() {
		}
		return c.Rows(), c.Err()
	}
	cq := q.Clone()
	cq.sel.ClearOrder().Select(sql.Count(nil))
	var n int
	err := e.scalar(ctx, cq, "count", &n)
	return n, err
}

// Exist reports whether q has at least one row.
func (e *Executor) Exist(ctx context.Context, q *Query) (bool, error) {
	if q.sel.IsRaw() {
		_, err := e.First(ctx, q)
		if quarry.IsNotFound(err) {
			return false, nil
		}
		return err == nil, err
	}
	eq := q.Clone()
	eq.sel.ClearOrder().Select(sql.Raw("1")).Limit(1)
	var one int
	err := e.scalar(ctx, eq, "exist", &one)
	if quarry.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// scalar reads the single value of the first row of q into v.
func (e *Executor) scalar(ctx context.Context, q *Query, op string, v any) error {
	tx, err := txn.Must(ctx)
	if err != nil {
		return err
	}
	name := q.def.String()
	_, text, args, err := q.statement(tx.Dialect())
	if err != nil {
		return quarry.NewQueryError(name, op, "", err)
	}
	ctx, span := e.start(ctx, tx, name, op, text)
	release, err := tx.Lease()
	if err != nil {
		return e.fail(span, quarry.NewQueryError(name, op, text, err))
	}
	defer release()
	rows, _, err := e.exec(ctx, tx, text, args)
	if err != nil {
		return e.fail(span, quarry.NewQueryError(name, op, text, err))
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return e.fail(span, quarry.NewQueryError(name, op, text, tx.Check(err)))
		}
		span.End()
		return quarry.NewNotFoundError(name)
	}
	if err := rows.Scan(v); err != nil {
		return e.fail(span, quarry.NewQueryError(name, op, text, err))
	}
	span.End()
	return nil
}

// Invalidate drops the cached results of the given tables.
func (e *Executor) Invalidate(ctx context.Context, tables ...string) error {
	if e.cache == nil {
		return nil
	}
	for _, t := range tables {
		if err := e.cache.DeletePrefix(ctx, t+":"); err != nil {
			return err
		}
	}
	return nil
}

// cachedResult is the msgpack encoded form of a cached query result.
type cachedResult struct {
	Columns []schema.Column `msgpack:"c"`
	Rows    [][]any         `msgpack:"r"`
}

func (e *Executor) cached(ctx context.Context, key string) (cachedResult, bool) {
	var res cachedResult
	data, err := e.cache.Get(ctx, key)
	if err != nil {
		e.log.Warn("query: cache get", "key", key, "error", err)
		return res, false
	}
	if data == nil {
		return res, false
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(&res); err != nil {
		e.log.Warn("query: cache decode", "key", key, "error", err)
		return res, false
	}
	return res, true
}

func (e *Executor) store(ctx context.Context, key string, res cachedResult) {
	data, err := msgpack.Marshal(res)
	if err == nil {
		err = e.cache.Set(ctx, key, data, e.ttl)
	}
	if err != nil {
		e.log.Warn("query: cache set", "key", key, "error", err)
	}
}

// drain reads every remaining row of src and closes it.
func drain(src source) ([][]any, error) {
	defer src.close()
	var data [][]any
	for {
		row, err := src.next()
		if err != nil {
			return nil, err
		}
		if row == nil {
			return data, nil
		}
		data = append(data, row)
	}
}
