package query

import (
	"github.com/syssam/quarry/dialect/sql"
	"github.com/syssam/quarry/schema"
)

// Query is a select over the table of an entity definition. Rows are mapped
// into the target definition, which defaults to the source.
//
// Query methods mutate and return the receiver; use Clone to fork a query.
type Query struct {
	def    *schema.Definition
	target *schema.Definition
	sel    *sql.Selector
}

// From returns a query over the table of def.
func From(def *schema.Definition) *Query {
	return &Query{def: def, target: def, sel: sql.Select().From(def.TableRef())}
}

// Definition returns the source definition.
func (q *Query) Definition() *schema.Definition { return q.def }

// Target returns the definition rows are mapped into.
func (q *Query) Target() *schema.Definition { return q.target }

// Into maps result rows into def instead of the source definition.
func (q *Query) Into(def *schema.Definition) *Query {
	q.target = def
	return q
}

// Table returns the source table reference.
func (q *Query) Table() *sql.TableRef { return q.sel.Table() }

// C returns a column of the source table.
func (q *Query) C(column string) *sql.Expr { return q.sel.C(column) }

// Selector returns the underlying query descriptor, for joins, grouping
// and the other clauses Query does not wrap.
func (q *Query) Selector() *sql.Selector { return q.sel }

// Select sets an explicit select list.
func (q *Query) Select(columns ...any) *Query {
	q.sel.Select(columns...)
	return q
}

// Where adds a condition, joined with AND to the existing ones.
func (q *Query) Where(p *sql.Expr) *Query {
	q.sel.Where(p)
	return q
}

// OrderBy appends order terms.
func (q *Query) OrderBy(terms ...sql.Order) *Query {
	q.sel.OrderBy(terms...)
	return q
}

// Limit limits the number of rows.
func (q *Query) Limit(n int) *Query {
	q.sel.Limit(n)
	return q
}

// Offset skips the first n rows.
func (q *Query) Offset(n int) *Query {
	q.sel.Offset(n)
	return q
}

// ForUpdate locks the selected rows.
func (q *Query) ForUpdate(action ...sql.LockAction) *Query {
	q.sel.ForUpdate(action...)
	return q
}

// Raw overrides the statement text. A "SELECT * FROM ..." override has its
// star replaced by the select list of the target definition.
func (q *Query) Raw(text string, args ...any) *Query {
	q.sel.Raw(text, args...)
	return q
}

// As returns a copy of the query in which the source table is aliased.
// Conditions and joins written against the bare table follow the alias.
func (q *Query) As(alias string) *Query {
	old := q.sel.Table()
	return &Query{def: q.def, target: q.target, sel: q.sel.CloneRebind(old, old.As(alias))}
}

// Clone returns a deep copy of the query.
func (q *Query) Clone() *Query {
	return &Query{def: q.def, target: q.target, sel: q.sel.Clone()}
}

// adhoc reports whether result rows need a definition synthesized from
// the result metadata.
func (q *Query) adhoc() bool {
	return q.sel.HasJoins() ||
		q.sel.IsAggregate() ||
		len(q.sel.SelectedColumns()) > 0 ||
		q.target.Handle() != q.def.Handle()
}

// statement renders the query for dialect d. Without an explicit select
// list every target column of the source table is selected.
func (q *Query) statement(d string) (*sql.Selector, string, []any, error) {
	sel := q.sel.Clone().SetDialect(d)
	if len(sel.SelectedColumns()) == 0 {
		for _, c := range q.target.Columns() {
			sel.AppendSelect(sel.C(c))
		}
	}
	if err := sel.Err(); err != nil {
		return nil, "", nil, err
	}
	text, args := sel.Query()
	return sel, text, args, nil
}
