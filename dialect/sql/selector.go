package sql

import (
	"regexp"
	"strconv"

	"github.com/syssam/quarry/dialect"
)

// JoinKind is the kind of a JOIN clause.
type JoinKind string

// Join kinds.
const (
	InnerJoin JoinKind = "JOIN"
	LeftJoin  JoinKind = "LEFT JOIN"
	RightJoin JoinKind = "RIGHT JOIN"
	CrossJoin JoinKind = "CROSS JOIN"
)

type join struct {
	kind  JoinKind
	table *TableRef
	on    *Expr
}

// Order is an ORDER BY term.
type Order struct {
	Expr *Expr
	Desc bool
}

// Asc returns an ascending order term.
func Asc(x any) Order { return Order{Expr: operand(x)} }

// Desc returns a descending order term.
func Desc(x any) Order { return Order{Expr: operand(x), Desc: true} }

// LockStrength is the row lock requested by a SELECT.
type LockStrength string

// Lock strengths.
const (
	LockNone   LockStrength = ""
	LockUpdate LockStrength = "UPDATE"
	LockShare  LockStrength = "SHARE"
)

// LockAction controls how a locking read behaves on contention.
type LockAction string

// Lock actions.
const (
	LockWait       LockAction = ""
	LockNoWait     LockAction = "NOWAIT"
	LockSkipLocked LockAction = "SKIP LOCKED"
)

type cte struct {
	name    string
	columns []string
	sel     *Selector
}

type union struct {
	all bool
	sel *Selector
}

// Selector is the query descriptor of a SELECT statement. It is a builder
// value: methods mutate and return the receiver. Use Clone to fork it.
type Selector struct {
	dialect  string
	ctes     []cte
	distinct bool
	columns  []*Expr
	from     *TableRef
	joins    []join
	where    *Expr
	group    []*Expr
	having   *Expr
	order    []Order
	limit    *int
	offset   *int
	lock     LockStrength
	action   LockAction
	raw      string
	rawArgs  []any
	unions   []union
}

// Select returns a new Selector with the given select list. Strings name
// columns.
func Select(columns ...any) *Selector {
	return (&Selector{}).Select(columns...)
}

// SetDialect sets the dialect of the selector.
func (s *Selector) SetDialect(d string) *Selector {
	s.dialect = dialect.Normalize(d)
	return s
}

// Dialect returns the selector dialect.
func (s *Selector) Dialect() string { return s.dialect }

// Select replaces the select list.
func (s *Selector) Select(columns ...any) *Selector {
	s.columns = s.columns[:0]
	return s.AppendSelect(columns...)
}

// AppendSelect appends to the select list.
func (s *Selector) AppendSelect(columns ...any) *Selector {
	for _, c := range columns {
		s.columns = append(s.columns, operand(c))
	}
	return s
}

// SelectedColumns returns the select list.
func (s *Selector) SelectedColumns() []*Expr { return s.columns }

// Distinct marks the select as SELECT DISTINCT.
func (s *Selector) Distinct() *Selector {
	s.distinct = true
	return s
}

// From sets the source table.
func (s *Selector) From(t *TableRef) *Selector {
	s.from = t
	return s
}

// Table returns the source table.
func (s *Selector) Table() *TableRef { return s.from }

// C returns a column of the source table.
func (s *Selector) C(column string) *Expr {
	if s.from == nil {
		return C(column)
	}
	return s.from.C(column)
}

// Join appends an inner join.
func (s *Selector) Join(t *TableRef, on *Expr) *Selector {
	return s.join(InnerJoin, t, on)
}

// LeftJoin appends a left outer join.
func (s *Selector) LeftJoin(t *TableRef, on *Expr) *Selector {
	return s.join(LeftJoin, t, on)
}

// RightJoin appends a right outer join.
func (s *Selector) RightJoin(t *TableRef, on *Expr) *Selector {
	return s.join(RightJoin, t, on)
}

func (s *Selector) join(k JoinKind, t *TableRef, on *Expr) *Selector {
	s.joins = append(s.joins, join{kind: k, table: t, on: on})
	return s
}

// HasJoins reports whether the selector has join clauses.
func (s *Selector) HasJoins() bool { return len(s.joins) > 0 }

// Where ANDs p into the WHERE clause.
func (s *Selector) Where(p *Expr) *Selector {
	if p == nil {
		return s
	}
	if s.where == nil {
		s.where = p
	} else {
		s.where = And(s.where, p)
	}
	return s
}

// P returns the WHERE condition.
func (s *Selector) P() *Expr { return s.where }

// GroupBy sets the GROUP BY list.
func (s *Selector) GroupBy(columns ...any) *Selector {
	for _, c := range columns {
		s.group = append(s.group, operand(c))
	}
	return s
}

// HasGroupBy reports whether the selector groups rows.
func (s *Selector) HasGroupBy() bool { return len(s.group) > 0 }

// Having ANDs p into the HAVING clause.
func (s *Selector) Having(p *Expr) *Selector {
	if s.having == nil {
		s.having = p
	} else {
		s.having = And(s.having, p)
	}
	return s
}

// OrderBy appends order terms.
func (s *Selector) OrderBy(terms ...Order) *Selector {
	s.order = append(s.order, terms...)
	return s
}

// ClearOrder removes the order terms.
func (s *Selector) ClearOrder() *Selector {
	s.order = nil
	return s
}

// Limit sets the LIMIT clause.
func (s *Selector) Limit(n int) *Selector {
	s.limit = &n
	return s
}

// Offset sets the OFFSET clause.
func (s *Selector) Offset(n int) *Selector {
	s.offset = &n
	return s
}

// HasLimit reports whether a LIMIT or OFFSET clause is set.
func (s *Selector) HasLimit() bool { return s.limit != nil || s.offset != nil }

// ForUpdate requests an exclusive row lock.
func (s *Selector) ForUpdate(action ...LockAction) *Selector {
	return s.setLock(LockUpdate, action)
}

// ForShare requests a shared row lock.
func (s *Selector) ForShare(action ...LockAction) *Selector {
	return s.setLock(LockShare, action)
}

func (s *Selector) setLock(l LockStrength, action []LockAction) *Selector {
	s.lock, s.action = l, LockWait
	if len(action) > 0 {
		s.action = action[0]
	}
	return s
}

// Raw overrides the rendered statement with sql and its arguments.
func (s *Selector) Raw(sql string, args ...any) *Selector {
	s.raw, s.rawArgs = sql, args
	return s
}

// IsRaw reports whether the statement text is overridden.
func (s *Selector) IsRaw() bool { return s.raw != "" }

// With prepends a common table expression.
func (s *Selector) With(name string, sel *Selector, columns ...string) *Selector {
	s.ctes = append(s.ctes, cte{name: name, columns: columns, sel: sel})
	return s
}

// IsAggregate reports whether the rows of the statement do not map one to
// one onto the rows of its source table: it is grouped, distinct or has
// union branches.
func (s *Selector) IsAggregate() bool {
	return len(s.group) > 0 || s.distinct || len(s.unions) > 0
}

// Union appends a UNION branch.
func (s *Selector) Union(o *Selector) *Selector {
	s.unions = append(s.unions, union{sel: o})
	return s
}

// UnionAll appends a UNION ALL branch.
func (s *Selector) UnionAll(o *Selector) *Selector {
	s.unions = append(s.unions, union{all: true, sel: o})
	return s
}

// Clone returns a deep copy of the selector.
func (s *Selector) Clone() *Selector {
	return s.clone(func(e *Expr) *Expr { return e.Clone() }, func(t *TableRef) *TableRef { return t }, func(o *Selector) *Selector { return o.Clone() })
}

// CloneRebind returns a deep copy of the selector in which every column
// reference of old, and old itself as a source or join table, is replaced
// by nw.
func (s *Selector) CloneRebind(old, nw *TableRef) *Selector {
	return s.clone(
		func(e *Expr) *Expr { return e.Rebind(old, nw) },
		func(t *TableRef) *TableRef {
			if t.Same(old) {
				return nw
			}
			return t
		},
		func(o *Selector) *Selector { return o.CloneRebind(old, nw) },
	)
}

func (s *Selector) clone(expr func(*Expr) *Expr, table func(*TableRef) *TableRef, sel func(*Selector) *Selector) *Selector {
	if s == nil {
		return nil
	}
	c := &Selector{
		dialect:  s.dialect,
		distinct: s.distinct,
		lock:     s.lock,
		action:   s.action,
		raw:      s.raw,
	}
	if s.rawArgs != nil {
		c.rawArgs = append([]any(nil), s.rawArgs...)
	}
	for _, t := range s.ctes {
		c.ctes = append(c.ctes, cte{name: t.name, columns: append([]string(nil), t.columns...), sel: sel(t.sel)})
	}
	for _, e := range s.columns {
		c.columns = append(c.columns, expr(e))
	}
	if s.from != nil {
		c.from = table(s.from)
	}
	for _, j := range s.joins {
		var on *Expr
		if j.on != nil {
			on = expr(j.on)
		}
		c.joins = append(c.joins, join{kind: j.kind, table: table(j.table), on: on})
	}
	if s.where != nil {
		c.where = expr(s.where)
	}
	for _, e := range s.group {
		c.group = append(c.group, expr(e))
	}
	if s.having != nil {
		c.having = expr(s.having)
	}
	for _, o := range s.order {
		c.order = append(c.order, Order{Expr: expr(o.Expr), Desc: o.Desc})
	}
	if s.limit != nil {
		n := *s.limit
		c.limit = &n
	}
	if s.offset != nil {
		n := *s.offset
		c.offset = &n
	}
	for _, u := range s.unions {
		c.unions = append(c.unions, union{all: u.all, sel: sel(u.sel)})
	}
	return c
}

// starRe matches a raw "SELECT * FROM ..." override whose star is expanded
// to the effective select list.
var starRe = regexp.MustCompile(`(?is)^\s*select\s+\*\s+from\s+(.+?)\s*;?\s*$`)

// Render writes the statement into b. Parameters are bound in the order
// CTEs, select list, joins, WHERE, GROUP BY, HAVING, ORDER BY and UNION
// branches, which is the textual order of the clauses.
func (s *Selector) Render(b *Builder) {
	if s.raw != "" {
		s.renderRaw(b)
		return
	}
	if len(s.ctes) > 0 {
		b.WriteString("WITH ")
		for i, t := range s.ctes {
			if i > 0 {
				b.WriteString(", ")
			}
			b.Ident(t.name)
			if len(t.columns) > 0 {
				b.WriteByte('(').IdentComma(t.columns...).WriteByte(')')
			}
			b.WriteString(" AS ")
			b.Wrap(t.sel.Render)
		}
		b.Pad()
	}
	b.WriteString("SELECT ")
	if s.distinct {
		b.WriteString("DISTINCT ")
	}
	s.renderColumns(b)
	if s.from != nil {
		b.WriteString(" FROM ")
		s.from.Render(b)
	}
	for _, j := range s.joins {
		b.Pad().WriteString(string(j.kind)).Pad()
		j.table.Render(b)
		if j.on != nil {
			b.WriteString(" ON ")
			j.on.Render(b)
		}
	}
	if s.where != nil {
		b.WriteString(" WHERE ")
		s.where.Render(b)
	}
	if len(s.group) > 0 {
		b.WriteString(" GROUP BY ")
		for i, g := range s.group {
			if i > 0 {
				b.WriteString(", ")
			}
			g.Render(b)
		}
	}
	if s.having != nil {
		b.WriteString(" HAVING ")
		s.having.Render(b)
	}
	s.renderOrder(b)
	if s.limit != nil {
		b.WriteString(" LIMIT ").WriteString(strconv.Itoa(*s.limit))
	}
	if s.offset != nil {
		if s.limit == nil && b.dialect != dialect.Postgres {
			// MySQL and SQLite require a LIMIT before OFFSET.
			b.WriteString(" LIMIT ").WriteString(noLimit(b.dialect))
		}
		b.WriteString(" OFFSET ").WriteString(strconv.Itoa(*s.offset))
	}
	if s.lock != LockNone && dialect.SupportsLocking(b.dialect) {
		lock := s.lock
		if lock == LockShare && b.dialect == dialect.MySQL && s.action == LockWait {
			b.WriteString(" LOCK IN SHARE MODE")
		} else {
			b.WriteString(" FOR ").WriteString(string(lock))
			if s.action != LockWait {
				b.Pad().WriteString(string(s.action))
			}
		}
	}
	for _, u := range s.unions {
		b.WriteString(" UNION ")
		if u.all {
			b.WriteString("ALL ")
		}
		u.sel.Render(b)
	}
}

func noLimit(d string) string {
	if d == dialect.MySQL {
		return "18446744073709551615"
	}
	return "-1"
}

func (s *Selector) renderColumns(b *Builder) {
	if len(s.columns) == 0 {
		b.WriteByte('*')
		return
	}
	for i, c := range s.columns {
		if i > 0 {
			b.WriteString(", ")
		}
		c.Render(b)
	}
}

func (s *Selector) renderOrder(b *Builder) {
	if len(s.order) == 0 {
		return
	}
	b.WriteString(" ORDER BY ")
	for i, o := range s.order {
		if i > 0 {
			b.WriteString(", ")
		}
		o.Expr.Render(b)
		if o.Desc {
			b.WriteString(" DESC")
		}
	}
}

// renderRaw writes the raw override. A bare "SELECT * FROM ..." override has
// its star replaced by the select list and the ORDER BY appended.
func (s *Selector) renderRaw(b *Builder) {
	m := starRe.FindStringSubmatch(s.raw)
	if m == nil || len(s.columns) == 0 {
		b.Join(Raw(s.raw, s.rawArgs...))
		return
	}
	b.WriteString("SELECT ")
	s.renderColumns(b)
	b.WriteString(" FROM ")
	b.Join(Raw(m[1], s.rawArgs...))
	s.renderOrder(b)
}

// Query returns the statement text and its arguments.
func (s *Selector) Query() (string, []any) {
	b := NewBuilder(s.dialect)
	s.Render(b)
	return b.Query()
}

// Err returns the first error found while rendering the statement.
func (s *Selector) Err() error {
	b := NewBuilder(s.dialect)
	b.discard = true
	s.Render(b)
	return b.Err()
}

// String renders the statement in literal mode.
func (s *Selector) String() string {
	b := NewBuilder(s.dialect).Literal()
	s.Render(b)
	return b.String()
}
