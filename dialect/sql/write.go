package sql

import (
	"fmt"

	"github.com/syssam/quarry/dialect"
)

// DialectBuilder prefixes all root builders with a dialect.
type DialectBuilder struct {
	dialect string
}

// Dialect creates a new DialectBuilder with the given dialect name.
func Dialect(name string) *DialectBuilder {
	return &DialectBuilder{dialect: dialect.Normalize(name)}
}

// Select returns a Selector for the dialect.
func (d *DialectBuilder) Select(columns ...any) *Selector {
	return Select(columns...).SetDialect(d.dialect)
}

// Insert returns an InsertBuilder for the dialect.
func (d *DialectBuilder) Insert(t *TableRef) *InsertBuilder {
	return &InsertBuilder{dialect: d.dialect, table: t}
}

// Update returns an UpdateBuilder for the dialect.
func (d *DialectBuilder) Update(t *TableRef) *UpdateBuilder {
	return &UpdateBuilder{dialect: d.dialect, table: t}
}

// Delete returns a DeleteBuilder for the dialect.
func (d *DialectBuilder) Delete(t *TableRef) *DeleteBuilder {
	return &DeleteBuilder{dialect: d.dialect, table: t}
}

// InsertBuilder builds INSERT statements.
type InsertBuilder struct {
	dialect   string
	table     *TableRef
	columns   []string
	values    [][]*Expr
	returning []string
}

// Insert returns an InsertBuilder without a dialect.
func Insert(t *TableRef) *InsertBuilder { return &InsertBuilder{table: t} }

// Columns sets the inserted columns.
func (i *InsertBuilder) Columns(columns ...string) *InsertBuilder {
	i.columns = append(i.columns, columns...)
	return i
}

// Values appends a row of values. Expressions are rendered as is; other
// values are bound.
func (i *InsertBuilder) Values(values ...any) *InsertBuilder {
	row := make([]*Expr, len(values))
	for j, v := range values {
		row[j] = valueOperand(v)
	}
	i.values = append(i.values, row)
	return i
}

// Returning sets the RETURNING column list.
func (i *InsertBuilder) Returning(columns ...string) *InsertBuilder {
	i.returning = columns
	return i
}

// Render implements the Renderer interface.
func (i *InsertBuilder) Render(b *Builder) {
	b.WriteString("INSERT INTO ")
	i.table.Render(b)
	if len(i.columns) == 0 {
		if b.dialect == dialect.MySQL {
			b.WriteString(" () VALUES ()")
		} else {
			b.WriteString(" DEFAULT VALUES")
		}
	} else {
		b.WriteString(" (").IdentComma(i.columns...).WriteString(") VALUES ")
		for j, row := range i.values {
			if j > 0 {
				b.WriteString(", ")
			}
			if len(row) != len(i.columns) {
				b.AddError(fmt.Errorf("dialect/sql: insert into %q: %d values for %d columns", i.table.name, len(row), len(i.columns)))
			}
			b.WriteByte('(')
			for k, v := range row {
				if k > 0 {
					b.WriteString(", ")
				}
				v.Render(b)
			}
			b.WriteByte(')')
		}
	}
	if len(i.returning) > 0 && dialect.SupportsReturning(b.dialect) {
		b.WriteString(" RETURNING ").IdentComma(i.returning...)
	}
}

// Query implements the Querier interface.
func (i *InsertBuilder) Query() (string, []any) {
	b := NewBuilder(i.dialect)
	i.Render(b)
	return b.Query()
}

// Err returns the first error found while rendering the statement.
func (i *InsertBuilder) Err() error {
	b := NewBuilder(i.dialect)
	b.discard = true
	i.Render(b)
	return b.Err()
}

type assignment struct {
	column string
	value  *Expr
}

// UpdateBuilder builds UPDATE statements.
type UpdateBuilder struct {
	dialect string
	table   *TableRef
	set     []assignment
	where   *Expr
}

// Update returns an UpdateBuilder without a dialect.
func Update(t *TableRef) *UpdateBuilder { return &UpdateBuilder{table: t} }

// Set appends column = v to the SET clause.
func (u *UpdateBuilder) Set(column string, v any) *UpdateBuilder {
	u.set = append(u.set, assignment{column: column, value: valueOperand(v)})
	return u
}

// Where ANDs p into the WHERE clause.
func (u *UpdateBuilder) Where(p *Expr) *UpdateBuilder {
	if u.where == nil {
		u.where = p
	} else {
		u.where = And(u.where, p)
	}
	return u
}

// Render implements the Renderer interface.
func (u *UpdateBuilder) Render(b *Builder) {
	b.WriteString("UPDATE ")
	u.table.Render(b)
	b.WriteString(" SET ")
	if len(u.set) == 0 {
		b.AddError(fmt.Errorf("dialect/sql: update %q: empty SET clause", u.table.name))
	}
	for i, a := range u.set {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Ident(a.column).WriteString(" = ")
		a.value.Render(b)
	}
	if u.where != nil {
		b.WriteString(" WHERE ")
		u.where.Render(b)
	}
}

// Query implements the Querier interface.
func (u *UpdateBuilder) Query() (string, []any) {
	b := NewBuilder(u.dialect)
	u.Render(b)
	return b.Query()
}

// Err returns the first error found while rendering the statement.
func (u *UpdateBuilder) Err() error {
	b := NewBuilder(u.dialect)
	b.discard = true
	u.Render(b)
	return b.Err()
}

// DeleteBuilder builds DELETE statements.
type DeleteBuilder struct {
	dialect string
	table   *TableRef
	where   *Expr
}

// Delete returns a DeleteBuilder without a dialect.
func Delete(t *TableRef) *DeleteBuilder { return &DeleteBuilder{table: t} }

// Where ANDs p into the WHERE clause.
func (d *DeleteBuilder) Where(p *Expr) *DeleteBuilder {
	if d.where == nil {
		d.where = p
	} else {
		d.where = And(d.where, p)
	}
	return d
}

// Render implements the Renderer interface.
func (d *DeleteBuilder) Render(b *Builder) {
	b.WriteString("DELETE FROM ")
	d.table.Render(b)
	if d.where != nil {
		b.WriteString(" WHERE ")
		d.where.Render(b)
	}
}

// Query implements the Querier interface.
func (d *DeleteBuilder) Query() (string, []any) {
	b := NewBuilder(d.dialect)
	d.Render(b)
	return b.Query()
}
