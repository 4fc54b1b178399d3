package writer

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"

	"github.com/syssam/quarry"
	"github.com/syssam/quarry/dialect"
	"github.com/syssam/quarry/dialect/sql"
	"github.com/syssam/quarry/entity"
	"github.com/syssam/quarry/schema"
	"github.com/syssam/quarry/txn"
)

// Op is the kind of statement a record is written with.
type Op uint8

// Write operations, in dispatch priority order for new records.
const (
	OpInsert Op = iota + 1
	OpInsertRowID
	OpInsertIdentity
	OpInsertSequence
	OpUpdate
	OpDelete
)

var opNames = [...]string{
	OpInsert:         "insert",
	OpInsertRowID:    "insert_rowid",
	OpInsertIdentity: "insert_identity",
	OpInsertSequence: "insert_sequence",
	OpUpdate:         "update",
	OpDelete:         "delete",
}

func (o Op) String() string {
	if int(o) < len(opNames) && opNames[o] != "" {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", o)
}

// verb returns the SQL verb of the operation, used in errors.
func (o Op) verb() string {
	switch o {
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "insert"
}

// key identifies a bucket. Each definition has its own handle, so a bucket
// only ever renders rows of the definition that created it.
type key struct {
	handle schema.Handle
	op     Op
}

// keyMode is how a generated key is read back after an insert.
type keyMode uint8

const (
	keyNone      keyMode = iota
	keyReturning         // RETURNING clause, read with QueryRow
	keyLastID            // sql.Result.LastInsertId
	keyPrefetch          // SELECT <sequence> before the insert
)

// row is a record queued in a bucket with its bound arguments.
type row struct {
	rec  *entity.Record
	args []any
}

// bucket caches the prepared statement of one (definition, operation) pair
// and the rows queued for it.
type bucket struct {
	key     key
	def     *schema.Definition
	dialect string
	sql     string
	stmt    *stdsql.Stmt
	// bind lists the field positions bound for every row, in placeholder
	// order.
	bind []int
	// keyField is the position of the field receiving the generated key, or
	// -1 for row ids.
	keyField int
	keys     keyMode
	seq      string // prefetch query of keyPrefetch buckets
	pending  []row
}

// newBucket renders the statement of op for def. The statement is prepared
// separately so that rendering stays free of I/O.
func newBucket(def *schema.Definition, op Op, d string) (*bucket, error) {
	b := &bucket{key: key{handle: def.Handle(), op: op}, def: def, dialect: d, keyField: -1}
	var (
		q   sql.Querier
		err error
	)
	switch op {
	case OpUpdate:
		q, err = b.update()
	case OpDelete:
		q, err = b.delete()
	default:
		q, err = b.insert(op)
	}
	if err != nil {
		return nil, err
	}
	b.sql, _ = q.Query()
	return b, nil
}

// writable reports whether the i'th field is written by inserts.
func (b *bucket) writable(i int) bool {
	return !b.def.Field(i).Generated
}

func (b *bucket) insert(op Op) (sql.Querier, error) {
	def := b.def
	ins := sql.Dialect(b.dialect).Insert(def.TableRef())
	var (
		columns []string
		values  []any
	)
	id := -1
	if ids := def.IDs(); len(ids) == 1 {
		id = ids[0]
	}
	for i, f := range def.Fields() {
		if !b.writable(i) {
			continue
		}
		switch {
		case i == id && op == OpInsertIdentity:
			b.keyField = id
			continue
		case i == id && op == OpInsertSequence:
			b.keyField = id
			if !dialect.SupportsReturning(b.dialect) {
				// Draw the id first and bind it like any other value.
				b.seq = "SELECT " + def.SequenceExpr(b.dialect)
				break
			}
			columns = append(columns, f.ColumnName())
			values = append(values, sql.Raw(def.SequenceExpr(b.dialect)))
			continue
		}
		columns = append(columns, f.ColumnName())
		b.bind = append(b.bind, i)
		if f.DefaultExpr != "" {
			values = append(values, sql.Coalesce(sql.Param(), sql.Raw(f.DefaultExpr)))
		} else {
			values = append(values, sql.Param())
		}
	}
	ins.Columns(columns...)
	if len(columns) > 0 {
		ins.Values(values...)
	}
	switch {
	case op == OpInsertRowID:
		if col := rowIDColumn(b.dialect); col != "" {
			ins.Returning(col)
			b.keys = keyReturning
		} else {
			b.keys = keyLastID
		}
	case b.seq != "":
		b.keys = keyPrefetch
	case b.keyField >= 0 && dialect.SupportsReturning(b.dialect):
		ins.Returning(def.Field(b.keyField).ColumnName())
		b.keys = keyReturning
	case b.keyField >= 0:
		b.keys = keyLastID
	}
	return ins, ins.Err()
}

// rowIDColumn returns the pseudo column holding the row id, or "" when the
// driver reports it through LastInsertId.
func rowIDColumn(d string) string {
	switch d {
	case dialect.SQLite:
		return "rowid"
	case dialect.Postgres:
		return "ctid"
	}
	return ""
}

func (b *bucket) whereIDs() (*sql.Expr, error) {
	ids := b.def.IDs()
	if len(ids) == 0 {
		return nil, quarry.NewValidationError(b.def.String(), errors.New("definition has no id fields"))
	}
	preds := make([]*sql.Expr, len(ids))
	for i, j := range ids {
		preds[i] = sql.EQ(sql.C(b.def.Field(j).ColumnName()), sql.Param())
		b.bind = append(b.bind, j)
	}
	return sql.And(preds...), nil
}

func (b *bucket) update() (sql.Querier, error) {
	upd := sql.Dialect(b.dialect).Update(b.def.TableRef())
	for i, f := range b.def.Fields() {
		if b.def.IsID(i) || f.Generated {
			continue
		}
		upd.Set(f.ColumnName(), sql.Param())
		b.bind = append(b.bind, i)
	}
	if len(b.bind) == 0 {
		return nil, quarry.NewValidationError(b.def.String(), errors.New("no updatable fields"))
	}
	where, err := b.whereIDs()
	if err != nil {
		return nil, err
	}
	upd.Where(where)
	return upd, upd.Err()
}

func (b *bucket) delete() (sql.Querier, error) {
	where, err := b.whereIDs()
	if err != nil {
		return nil, err
	}
	return sql.Dialect(b.dialect).Delete(b.def.TableRef()).Where(where), nil
}

// args converts the bound values of rec to their wire representation.
func (b *bucket) args(rec *entity.Record) ([]any, error) {
	args := make([]any, len(b.bind))
	for n, i := range b.bind {
		f := b.def.Field(i)
		v := rec.Value(i)
		if b.key.op != OpDelete {
			if err := f.Validate(v); err != nil {
				return nil, quarry.NewValidationError(f.Name, err)
			}
		}
		w, err := f.ToWire(v)
		if err != nil {
			return nil, quarry.NewValidationError(f.Name, err)
		}
		args[n] = w
	}
	return args, nil
}

// exec runs the statement once per pending row. Every failing row adds a
// cause; execution stops early only when the transaction cannot continue.
// Rows that succeeded are marked persisted. first is the first failing
// record, if any.
func (b *bucket) exec(ctx context.Context, tx *txn.Tx) (first *entity.Record, causes []error) {
	for _, r := range b.pending {
		err := b.execRow(ctx, tx, r)
		if err == nil {
			if r.rec.State() != entity.StateDeleted {
				r.rec.SetState(entity.StatePersisted)
			}
			continue
		}
		if first == nil {
			first = r.rec
		}
		causes = append(causes, fmt.Errorf("%s: %w", r.rec, tx.Check(err)))
		// Postgres aborts the transaction on the first error; the
		// remaining rows would only report that.
		if b.dialect == dialect.Postgres || errors.Is(err, context.Canceled) {
			break
		}
	}
	return first, causes
}

func (b *bucket) execRow(ctx context.Context, tx *txn.Tx, r row) error {
	switch b.keys {
	case keyReturning:
		var v any
		if err := b.stmt.QueryRowContext(ctx, r.args...).Scan(&v); err != nil {
			return err
		}
		return b.setKey(r.rec, v)
	case keyPrefetch:
		var v any
		if err := tx.Raw().QueryRowContext(ctx, b.seq).Scan(&v); err != nil {
			return fmt.Errorf("draw sequence value: %w", err)
		}
		if err := b.setKey(r.rec, v); err != nil {
			return err
		}
		// The id is bound in field order; rebind with the drawn value.
		args, err := b.args(r.rec)
		if err != nil {
			return err
		}
		_, err = b.stmt.ExecContext(ctx, args...)
		return err
	}
	res, err := b.stmt.ExecContext(ctx, r.args...)
	if err != nil {
		return err
	}
	switch b.keys {
	case keyLastID:
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read generated key: %w", err)
		}
		return b.setKey(r.rec, id)
	case keyNone:
		// MySQL reports changed rather than matched rows by default.
		if (b.key.op == OpUpdate || b.key.op == OpDelete) && b.dialect != dialect.MySQL {
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return quarry.NewNotFoundErrorWithID(b.def.String(), r.rec.IDs())
			}
		}
	}
	return nil
}

// setKey copies a generated key onto the record. Row ids also fill a single
// unset identity field, as SQLite and MySQL report the identity as row id.
func (b *bucket) setKey(rec *entity.Record, v any) error {
	if b.key.op == OpInsertRowID {
		rec.SetRowID(v)
		if ids := b.def.IDs(); len(ids) == 1 && b.def.Strategy() == schema.StrategyIdentity && rec.Value(ids[0]) == nil && b.dialect != dialect.Postgres {
			return b.setField(rec, ids[0], v)
		}
		return nil
	}
	return b.setField(rec, b.keyField, v)
}

func (b *bucket) setField(rec *entity.Record, i int, v any) error {
	f := b.def.Field(i)
	v, err := f.FromWire(v)
	if err != nil {
		return err
	}
	rec.SetValue(i, v)
	return nil
}

// close releases the prepared statement.
func (b *bucket) close() error {
	b.pending = nil
	if b.stmt == nil {
		return nil
	}
	err := b.stmt.Close()
	b.stmt = nil
	return err
}
