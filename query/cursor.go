package query

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/syssam/quarry"
	"github.com/syssam/quarry/dialect/sql"
	"github.com/syssam/quarry/entity"
	"github.com/syssam/quarry/schema"
	"github.com/syssam/quarry/txn"
)

// source yields the wire values of consecutive rows.
type source interface {
	next() ([]any, error) // nil, nil at the end
	close() error
}

// rowsSource reads from an open result set.
type rowsSource struct {
	rows sql.ColumnScanner
	n    int
}

func (s *rowsSource) next() ([]any, error) {
	if !s.rows.Next() {
		return nil, s.rows.Err()
	}
	values := make([]any, s.n)
	dest := make([]any, s.n)
	for i := range values {
		dest[i] = &values[i]
	}
	if err := s.rows.Scan(dest...); err != nil {
		return nil, err
	}
	return values, nil
}

func (s *rowsSource) close() error { return s.rows.Close() }

// memSource replays rows held in memory, such as cached results.
type memSource struct {
	rows [][]any
}

func (s *memSource) next() ([]any, error) {
	if len(s.rows) == 0 {
		return nil, nil
	}
	row := s.rows[0]
	s.rows = s.rows[1:]
	return row, nil
}

func (s *memSource) close() error {
	s.rows = nil
	return nil
}

// Cursor iterates lazily over the rows of a query. Each row is read on
// Next and mapped into a persisted record of the cursor's definition.
//
//	c, err := exec.Query(ctx, q)
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//	for c.Next() {
//		rec := c.Record()
//	}
//	return c.Err()
//
// The cursor closes itself on exhaustion, on error and on cancellation;
// Close releases the result set and the transaction lease exactly once.
type Cursor struct {
	ctx     context.Context
	src     source
	def     *schema.Definition
	entity  string
	sql     string
	tx      *txn.Tx
	release func()
	span    trace.Span
	log     *slog.Logger

	cancel   atomic.Bool
	canceled bool
	rec      *entity.Record
	err      error
	rows     int
	done     bool
	once     sync.Once
	closeErr error
}

// Definition returns the definition rows are mapped into.
func (c *Cursor) Definition() *schema.Definition { return c.def }

// SQL returns the executed statement.
func (c *Cursor) SQL() string { return c.sql }

// Next advances to the next row. It returns false at the end of the
// result, on error and after cancellation.
func (c *Cursor) Next() bool {
	c.rec = nil
	if c.err != nil || c.canceled || c.done {
		return false
	}
	if c.cancel.Load() || c.ctx.Err() != nil {
		c.canceled = true
		c.Close()
		return false
	}
	values, err := c.src.next()
	if err != nil {
		if c.ctx.Err() != nil || errors.Is(err, context.Canceled) {
			c.canceled = true
		} else {
			c.fail(err)
		}
		c.Close()
		return false
	}
	if values == nil {
		c.Close()
		return false
	}
	for i, f := range c.def.Fields() {
		if values[i], err = f.FromWire(values[i]); err != nil {
			c.fail(err)
			c.Close()
			return false
		}
	}
	c.rows++
	c.rec = entity.Load(c.def, values)
	return true
}

func (c *Cursor) fail(err error) {
	if c.tx != nil {
		c.tx.Check(err)
	}
	c.err = quarry.NewQueryError(c.entity, "select", c.sql, err)
}

// Record returns the current row.
func (c *Cursor) Record() *entity.Record { return c.rec }

// Err returns the error that ended iteration, if any. Cancellation is not
// an error.
func (c *Cursor) Err() error { return c.err }

// Cancel stops the iteration before the next row is read. It is safe to
// call from another goroutine.
func (c *Cursor) Cancel() { c.cancel.Store(true) }

// Canceled reports whether iteration ended because of Cancel or context
// cancellation.
func (c *Cursor) Canceled() bool { return c.canceled }

// Rows returns the number of rows read so far.
func (c *Cursor) Rows() int { return c.rows }

// Close releases the result set, the transaction lease and the trace span.
// It is idempotent.
func (c *Cursor) Close() error {
	c.once.Do(func() {
		c.done = true
		c.closeErr = c.src.close()
		if c.release != nil {
			c.release()
		}
		if c.span != nil {
			c.span.SetAttributes(attribute.Int("quarry.rows", c.rows))
			switch {
			case c.err != nil:
				c.span.RecordError(c.err)
				c.span.SetStatus(codes.Error, c.err.Error())
			case c.canceled:
				c.span.AddEvent("canceled")
			}
			c.span.End()
		}
		if c.closeErr != nil {
			c.log.Warn("query: close rows", "sql", c.sql, "error", c.closeErr)
		}
	})
	return c.closeErr
}

// All reads the remaining rows and closes the cursor.
func (c *Cursor) All() ([]*entity.Record, error) {
	defer c.Close()
	var recs []*entity.Record
	for c.Next() {
		recs = append(recs, c.Record())
	}
	return recs, c.Err()
}

// Records returns an iterator over the remaining rows. Iteration stops at
// the first error, which is yielded with a nil record. Breaking out of the
// loop closes the cursor.
//
//	for rec, err := range c.Records() {
//		if err != nil {
//			return err
//		}
//	}
func (c *Cursor) Records() iter.Seq2[*entity.Record, error] {
	return func(yield func(*entity.Record, error) bool) {
		defer c.Close()
		for c.Next() {
			if !yield(c.Record(), nil) {
				return
			}
		}
		if err := c.Err(); err != nil {
			yield(nil, err)
		}
	}
}
