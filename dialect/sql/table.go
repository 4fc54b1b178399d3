package sql

// TableRef is a table reference in a statement: a name with an optional
// schema and alias. TableRef values are immutable; As and Schema return
// copies.
type TableRef struct {
	name   string
	schema string
	alias  string
}

// Table returns a reference to the named table.
func Table(name string) *TableRef {
	return &TableRef{name: name}
}

// As returns a copy of t with the given alias.
func (t *TableRef) As(alias string) *TableRef {
	c := *t
	c.alias = alias
	return &c
}

// Schema returns a copy of t qualified by the given schema.
func (t *TableRef) Schema(name string) *TableRef {
	c := *t
	c.schema = name
	return &c
}

// Name returns the table name.
func (t *TableRef) Name() string { return t.name }

// Alias returns the table alias, if any.
func (t *TableRef) Alias() string { return t.alias }

// SchemaName returns the schema qualifier, if any.
func (t *TableRef) SchemaName() string { return t.schema }

// ref returns the name columns are qualified with.
func (t *TableRef) ref() string {
	switch {
	case t.alias != "":
		return t.alias
	case t.schema != "":
		return t.schema + "." + t.name
	default:
		return t.name
	}
}

// C returns an expression for the named column of t.
func (t *TableRef) C(column string) *Expr {
	return &Expr{kind: KindColumn, col: &Column{table: t, name: column}}
}

// Columns returns column expressions for the given names.
func (t *TableRef) Columns(columns ...string) []*Expr {
	exprs := make([]*Expr, len(columns))
	for i := range columns {
		exprs[i] = t.C(columns[i])
	}
	return exprs
}

// Same reports whether t and o denote the same table context: same name,
// schema and alias.
func (t *TableRef) Same(o *TableRef) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.name == o.name && t.schema == o.schema && t.alias == o.alias
}

// Render writes the table reference as it appears in a FROM or JOIN clause.
func (t *TableRef) Render(b *Builder) {
	if t.schema != "" {
		b.Ident(t.schema).WriteByte('.')
	}
	b.Ident(t.name)
	if t.alias != "" {
		b.WriteString(" AS ").Ident(t.alias)
	}
}

// Column is a column leaf. A nil table means an unqualified column.
type Column struct {
	table *TableRef
	name  string
}

// Name returns the column name.
func (c *Column) Name() string { return c.name }

// Table returns the table the column belongs to, or nil.
func (c *Column) Table() *TableRef { return c.table }

// C returns an expression for an unqualified column. A dotted name is
// split into table and column.
func C(name string) *Expr {
	for i := len(name) - 1; i > 0; i-- {
		if name[i] == '.' {
			return Table(name[:i]).C(name[i+1:])
		}
	}
	return &Expr{kind: KindColumn, col: &Column{name: name}}
}
