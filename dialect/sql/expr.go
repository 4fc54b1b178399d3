package sql

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/lib/pq"

	"github.com/syssam/quarry/dialect"
)

// Kind tags an expression node. Every node is interpreted by the same
// switch for rendering and for in-memory evaluation.
type Kind uint8

// Node kinds.
const (
	KindColumn Kind = iota + 1
	KindValue
	KindParam
	KindRaw
	KindNull
	KindAlias
	KindFunc
	KindAdd
	KindSub
	KindMul
	KindDiv
	KindAnd
	KindOr
	KindNot
	KindEQ
	KindNEQ
	KindLT
	KindLTE
	KindGT
	KindGTE
	KindIsNull
	KindNotNull
	KindIn
	KindNotIn
	KindBetween
	KindLike
	KindDistinct
	KindNotDistinct
	KindAny
	KindAll
	KindTrue
	KindFalse
)

var kindNames = [...]string{
	KindColumn:      "column",
	KindValue:       "value",
	KindParam:       "param",
	KindRaw:         "raw",
	KindNull:        "null",
	KindAlias:       "alias",
	KindFunc:        "func",
	KindAdd:         "+",
	KindSub:         "-",
	KindMul:         "*",
	KindDiv:         "/",
	KindAnd:         "AND",
	KindOr:          "OR",
	KindNot:         "NOT",
	KindEQ:          "=",
	KindNEQ:         "<>",
	KindLT:          "<",
	KindLTE:         "<=",
	KindGT:          ">",
	KindGTE:         ">=",
	KindIsNull:      "IS NULL",
	KindNotNull:     "IS NOT NULL",
	KindIn:          "IN",
	KindNotIn:       "NOT IN",
	KindBetween:     "BETWEEN",
	KindLike:        "LIKE",
	KindDistinct:    "IS DISTINCT FROM",
	KindNotDistinct: "IS NOT DISTINCT FROM",
	KindAny:         "ANY",
	KindAll:         "ALL",
	KindTrue:        "TRUE",
	KindFalse:       "FALSE",
}

// String returns the SQL operator or the name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Expr is a node of the expression tree. Nodes are immutable once built:
// combinators and Rebind allocate new nodes and share unchanged leaves.
type Expr struct {
	kind  Kind
	cmp   Kind // comparison used by KindAny and KindAll
	col   *Column
	value any
	raw   string // raw SQL, function name or alias
	args  []*Expr
	sub   *Selector
}

// Kind returns the node kind.
func (e *Expr) Kind() Kind { return e.kind }

// Operands returns the node operands.
func (e *Expr) Operands() []*Expr { return e.args }

// Column returns the column of a column leaf, or nil.
func (e *Expr) Column() *Column { return e.col }

// Value returns the bound value of a value leaf.
func (e *Expr) Value() any { return e.value }

// IsCondition reports whether the node is boolean-valued.
func (e *Expr) IsCondition() bool {
	switch e.kind {
	case KindAnd, KindOr, KindNot, KindEQ, KindNEQ, KindLT, KindLTE, KindGT, KindGTE,
		KindIsNull, KindNotNull, KindIn, KindNotIn, KindBetween, KindLike,
		KindDistinct, KindNotDistinct, KindAny, KindAll, KindTrue, KindFalse:
		return true
	}
	return false
}

// operand converts x to an expression. Strings name columns.
func operand(x any) *Expr {
	switch x := x.(type) {
	case *Expr:
		if x == nil {
			return Null()
		}
		return x
	case string:
		return C(x)
	case *Column:
		return &Expr{kind: KindColumn, col: x}
	default:
		return Value(x)
	}
}

// valueOperand converts v to an expression. Plain values become bound values.
func valueOperand(v any) *Expr {
	switch v := v.(type) {
	case *Expr:
		if v == nil {
			return Null()
		}
		return v
	case *Column:
		return &Expr{kind: KindColumn, col: v}
	case nil:
		return Null()
	default:
		if isNilValue(v) {
			return Null()
		}
		return Value(v)
	}
}

func isNilValue(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil() && rv.Kind() != reflect.Slice
	}
	return false
}

// Value returns a bound-parameter leaf.
func Value(v any) *Expr { return &Expr{kind: KindValue, value: v} }

// Param returns a placeholder leaf whose value is supplied at execution time.
func Param() *Expr { return &Expr{kind: KindParam} }

// Null returns the NULL literal.
func Null() *Expr { return &Expr{kind: KindNull} }

// True returns an always-true condition.
func True() *Expr { return &Expr{kind: KindTrue} }

// False returns an always-false condition.
func False() *Expr { return &Expr{kind: KindFalse} }

// Raw returns a raw SQL fragment. Each '?' in s is replaced by a placeholder
// bound to the next element of args.
func Raw(s string, args ...any) *Expr {
	e := &Expr{kind: KindRaw, raw: s}
	for _, a := range args {
		e.args = append(e.args, Value(a))
	}
	return e
}

// As returns x aliased in a select list.
func As(x any, alias string) *Expr {
	return &Expr{kind: KindAlias, raw: alias, args: []*Expr{operand(x)}}
}

// Func returns a function call.
func Func(name string, args ...any) *Expr {
	e := &Expr{kind: KindFunc, raw: strings.ToUpper(name)}
	for _, a := range args {
		e.args = append(e.args, operand(a))
	}
	return e
}

// Lower returns LOWER(x).
func Lower(x any) *Expr { return Func("LOWER", x) }

// Upper returns UPPER(x).
func Upper(x any) *Expr { return Func("UPPER", x) }

// Coalesce returns COALESCE(xs...). Plain values are bound.
func Coalesce(xs ...any) *Expr {
	e := &Expr{kind: KindFunc, raw: "COALESCE"}
	for i, x := range xs {
		if i == 0 {
			e.args = append(e.args, operand(x))
			continue
		}
		e.args = append(e.args, valueOperand(x))
	}
	return e
}

// Count returns COUNT(x), or COUNT(*) when x is nil.
func Count(x any) *Expr {
	if x == nil {
		return &Expr{kind: KindFunc, raw: "COUNT", args: []*Expr{{kind: KindRaw, raw: "*"}}}
	}
	return Func("COUNT", x)
}

func arith(k Kind, x, y any) *Expr {
	return &Expr{kind: k, args: []*Expr{operand(x), valueOperand(y)}}
}

// Add returns x + y.
func Add(x, y any) *Expr { return arith(KindAdd, x, y) }

// Sub returns x - y.
func Sub(x, y any) *Expr { return arith(KindSub, x, y) }

// Mul returns x * y.
func Mul(x, y any) *Expr { return arith(KindMul, x, y) }

// Div returns x / y.
func Div(x, y any) *Expr { return arith(KindDiv, x, y) }

func compare(k Kind, col, v any) *Expr {
	return &Expr{kind: k, args: []*Expr{operand(col), valueOperand(v)}}
}

// EQ returns col = v. A nil v renders as IS NULL.
func EQ(col, v any) *Expr { return compare(KindEQ, col, v) }

// NEQ returns col <> v. A nil v renders as IS NOT NULL.
func NEQ(col, v any) *Expr { return compare(KindNEQ, col, v) }

// LT returns col < v.
func LT(col, v any) *Expr { return compare(KindLT, col, v) }

// LTE returns col <= v.
func LTE(col, v any) *Expr { return compare(KindLTE, col, v) }

// GT returns col > v.
func GT(col, v any) *Expr { return compare(KindGT, col, v) }

// GTE returns col >= v.
func GTE(col, v any) *Expr { return compare(KindGTE, col, v) }

// ColumnsEQ returns x = y for two columns.
func ColumnsEQ(x, y any) *Expr {
	return &Expr{kind: KindEQ, args: []*Expr{operand(x), operand(y)}}
}

// IsNull returns col IS NULL.
func IsNull(col any) *Expr { return &Expr{kind: KindIsNull, args: []*Expr{operand(col)}} }

// NotNull returns col IS NOT NULL.
func NotNull(col any) *Expr { return &Expr{kind: KindNotNull, args: []*Expr{operand(col)}} }

// IsDistinctFrom returns the null-safe inequality of col and v.
func IsDistinctFrom(col, v any) *Expr { return compare(KindDistinct, col, v) }

// IsNotDistinctFrom returns the null-safe equality of col and v.
func IsNotDistinctFrom(col, v any) *Expr { return compare(KindNotDistinct, col, v) }

// Between returns col BETWEEN lo AND hi.
func Between(col, lo, hi any) *Expr {
	return &Expr{kind: KindBetween, args: []*Expr{operand(col), valueOperand(lo), valueOperand(hi)}}
}

// Like returns col LIKE pattern.
func Like(col any, pattern string) *Expr {
	return &Expr{kind: KindLike, args: []*Expr{operand(col), Value(pattern)}}
}

// Contains returns col LIKE '%sub%'.
func Contains(col any, sub string) *Expr { return Like(col, "%"+escapeLike(sub)+"%") }

// HasPrefix returns col LIKE 'prefix%'.
func HasPrefix(col any, prefix string) *Expr { return Like(col, escapeLike(prefix)+"%") }

// HasSuffix returns col LIKE '%suffix'.
func HasSuffix(col any, suffix string) *Expr { return Like(col, "%"+escapeLike(suffix)) }

// EqualFold returns LOWER(col) = LOWER(v).
func EqualFold(col any, v string) *Expr {
	return &Expr{kind: KindEQ, args: []*Expr{Lower(col), Lower(Value(v))}}
}

// ContainsFold returns LOWER(col) LIKE LOWER('%sub%').
func ContainsFold(col any, sub string) *Expr {
	return &Expr{kind: KindLike, args: []*Expr{Lower(col), Lower(Value("%" + escapeLike(sub) + "%"))}}
}

func escapeLike(s string) string {
	if !strings.ContainsAny(s, `%_\`) {
		return s
	}
	var sb strings.Builder
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func valueList(vs []any) []*Expr {
	exprs := make([]*Expr, len(vs))
	for i := range vs {
		exprs[i] = valueOperand(vs[i])
	}
	return exprs
}

// In returns col IN (vs...). An empty list is always false.
func In(col any, vs ...any) *Expr {
	return &Expr{kind: KindIn, args: append([]*Expr{operand(col)}, valueList(vs)...)}
}

// NotIn returns col NOT IN (vs...). An empty list is always true.
func NotIn(col any, vs ...any) *Expr {
	return &Expr{kind: KindNotIn, args: append([]*Expr{operand(col)}, valueList(vs)...)}
}

// InValues is In for a typed slice.
func InValues[T any](col any, vs ...T) *Expr {
	args := make([]any, len(vs))
	for i := range vs {
		args[i] = vs[i]
	}
	return In(col, args...)
}

// NotInValues is NotIn for a typed slice.
func NotInValues[T any](col any, vs ...T) *Expr {
	args := make([]any, len(vs))
	for i := range vs {
		args[i] = vs[i]
	}
	return NotIn(col, args...)
}

// InSelect returns col IN (SELECT ...).
func InSelect(col any, s *Selector) *Expr {
	return &Expr{kind: KindIn, args: []*Expr{operand(col)}, sub: s}
}

// Any returns col <op> ANY(vs). op must be a comparison kind.
func Any(col any, op Kind, vs ...any) *Expr {
	return &Expr{kind: KindAny, cmp: op, args: append([]*Expr{operand(col)}, valueList(vs)...)}
}

// All returns col <op> ALL(vs). op must be a comparison kind.
func All(col any, op Kind, vs ...any) *Expr {
	return &Expr{kind: KindAll, cmp: op, args: append([]*Expr{operand(col)}, valueList(vs)...)}
}

func junction(k Kind, preds []*Expr) *Expr {
	e := &Expr{kind: k}
	for _, p := range preds {
		if p == nil {
			continue
		}
		// Flatten nested junctions of the same kind.
		if p.kind == k {
			e.args = append(e.args, p.args...)
			continue
		}
		e.args = append(e.args, p)
	}
	if len(e.args) == 1 {
		return e.args[0]
	}
	return e
}

// And returns the conjunction of preds. An empty conjunction is true.
func And(preds ...*Expr) *Expr { return junction(KindAnd, preds) }

// Or returns the disjunction of preds. An empty disjunction is false.
func Or(preds ...*Expr) *Expr { return junction(KindOr, preds) }

// Not returns NOT (p).
func Not(p *Expr) *Expr { return &Expr{kind: KindNot, args: []*Expr{p}} }

// Render writes the node into b. Values are written as placeholders and
// appended to b's arguments in the order they appear in the text.
func (e *Expr) Render(b *Builder) {
	switch e.kind {
	case KindColumn:
		if t := e.col.table; t != nil {
			b.Ident(t.ref() + "." + e.col.name)
		} else {
			b.Ident(e.col.name)
		}
	case KindValue:
		b.Arg(e.value)
	case KindParam:
		b.Param()
	case KindNull:
		b.WriteString("NULL")
	case KindTrue:
		b.WriteString("1 = 1")
	case KindFalse:
		b.WriteString("1 = 0")
	case KindRaw:
		e.renderRaw(b)
	case KindAlias:
		e.args[0].Render(b)
		b.WriteString(" AS ").Ident(e.raw)
	case KindFunc:
		b.WriteString(e.raw).WriteByte('(')
		for i, a := range e.args {
			if i > 0 {
				b.WriteString(", ")
			}
			a.Render(b)
		}
		b.WriteByte(')')
	case KindAdd, KindSub, KindMul, KindDiv:
		e.renderOperand(b, e.args[0])
		b.Pad().WriteString(e.kind.String()).Pad()
		e.renderOperand(b, e.args[1])
	case KindAnd, KindOr:
		if len(e.args) == 0 {
			if e.kind == KindAnd {
				b.WriteString("1 = 1")
			} else {
				b.WriteString("1 = 0")
			}
			return
		}
		for i, a := range e.args {
			if i > 0 {
				b.Pad().WriteString(e.kind.String()).Pad()
			}
			if a.kind == KindAnd || a.kind == KindOr {
				b.Wrap(a.Render)
				continue
			}
			a.Render(b)
		}
	case KindNot:
		b.WriteString("NOT ")
		b.Wrap(e.args[0].Render)
	case KindEQ, KindNEQ:
		if e.args[1].kind == KindNull {
			e.args[0].Render(b)
			if e.kind == KindEQ {
				b.WriteString(" IS NULL")
			} else {
				b.WriteString(" IS NOT NULL")
			}
			return
		}
		e.renderBinary(b, e.kind.String())
	case KindLT, KindLTE, KindGT, KindGTE:
		e.renderBinary(b, e.kind.String())
	case KindLike:
		e.renderBinary(b, e.kind.String())
		if b.dialect == dialect.SQLite {
			b.WriteString(` ESCAPE '\'`)
		}
	case KindIsNull, KindNotNull:
		e.args[0].Render(b)
		b.Pad().WriteString(e.kind.String())
	case KindDistinct, KindNotDistinct:
		e.renderDistinct(b)
	case KindBetween:
		e.args[0].Render(b)
		b.WriteString(" BETWEEN ")
		e.args[1].Render(b)
		b.WriteString(" AND ")
		e.args[2].Render(b)
	case KindIn, KindNotIn:
		e.renderIn(b)
	case KindAny, KindAll:
		e.renderQuantified(b)
	default:
		b.AddError(fmt.Errorf("dialect/sql: cannot render expression of kind %s", e.kind))
	}
}

func (e *Expr) renderRaw(b *Builder) {
	if len(e.args) == 0 {
		b.WriteString(e.raw)
		return
	}
	s, n := e.raw, 0
	for {
		i := strings.IndexByte(s, '?')
		if i < 0 || n == len(e.args) {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:i])
		e.args[n].Render(b)
		s, n = s[i+1:], n+1
	}
	if n < len(e.args) {
		b.AddError(fmt.Errorf("dialect/sql: raw expression %q has %d placeholders for %d arguments", e.raw, n, len(e.args)))
	}
}

func (e *Expr) renderOperand(b *Builder, x *Expr) {
	switch x.kind {
	case KindAdd, KindSub, KindMul, KindDiv:
		b.Wrap(x.Render)
	default:
		x.Render(b)
	}
}

func (e *Expr) renderBinary(b *Builder, op string) {
	e.renderOperand(b, e.args[0])
	b.Pad().WriteString(op).Pad()
	e.renderOperand(b, e.args[1])
}

func (e *Expr) renderDistinct(b *Builder) {
	switch b.dialect {
	case dialect.MySQL:
		if e.kind == KindDistinct {
			b.WriteString("NOT ")
			b.Wrap(func(b *Builder) { e.renderBinary(b, "<=>") })
			return
		}
		e.renderBinary(b, "<=>")
	case dialect.SQLite:
		if e.kind == KindDistinct {
			e.renderBinary(b, "IS NOT")
			return
		}
		e.renderBinary(b, "IS")
	default:
		e.renderBinary(b, e.kind.String())
	}
}

func (e *Expr) renderIn(b *Builder) {
	if e.sub != nil {
		e.args[0].Render(b)
		b.Pad().WriteString(e.kind.String()).Pad()
		b.Wrap(e.sub.Render)
		return
	}
	if len(e.args) == 1 {
		if e.kind == KindIn {
			b.WriteString("1 = 0")
		} else {
			b.WriteString("1 = 1")
		}
		return
	}
	e.args[0].Render(b)
	b.Pad().WriteString(e.kind.String()).WriteString(" (")
	for i, a := range e.args[1:] {
		if i > 0 {
			b.WriteString(", ")
		}
		a.Render(b)
	}
	b.WriteByte(')')
}

func (e *Expr) renderQuantified(b *Builder) {
	vals := e.args[1:]
	if len(vals) == 0 {
		// x op ANY(empty) is false and x op ALL(empty) is true.
		if e.kind == KindAny {
			b.WriteString("1 = 0")
		} else {
			b.WriteString("1 = 1")
		}
		return
	}
	op := e.cmp.String()
	if dialect.SupportsArrays(b.dialect) && allValues(vals) {
		e.args[0].Render(b)
		b.Pad().WriteString(op).Pad().WriteString(e.kind.String())
		if b.literal {
			b.WriteString("(ARRAY[")
			for i, v := range vals {
				if i > 0 {
					b.WriteString(", ")
				}
				v.Render(b)
			}
			b.WriteString("])")
			return
		}
		arr := make([]any, len(vals))
		for i, v := range vals {
			arr[i] = bindValue(v.value)
		}
		b.WriteByte('(').Arg(pq.Array(arr)).WriteByte(')')
		return
	}
	join := " OR "
	if e.kind == KindAll {
		join = " AND "
	}
	b.Wrap(func(b *Builder) {
		for i, v := range vals {
			if i > 0 {
				b.WriteString(join)
			}
			e.renderOperand(b, e.args[0])
			b.Pad().WriteString(op).Pad()
			v.Render(b)
		}
	})
}

func allValues(xs []*Expr) bool {
	for _, x := range xs {
		if x.kind != KindValue {
			return false
		}
	}
	return true
}

// Query renders the expression on its own, without a dialect.
func (e *Expr) Query() (string, []any) {
	b := NewBuilder("")
	e.Render(b)
	return b.Query()
}

// Args appends the values bound by the node to dst, in the order their
// placeholders appear in the rendered text of dialect d.
func (e *Expr) Args(d string, dst []any) []any {
	b := NewBuilder(d)
	b.discard = true
	b.args = dst
	e.Render(b)
	return b.args
}

// String renders the expression in literal mode.
func (e *Expr) String() string {
	b := NewBuilder("").Literal()
	e.Render(b)
	return b.String()
}

// Rebind returns a copy of the tree in which every column belonging to old
// refers to the same-named column of nw. The receiver is not modified.
func (e *Expr) Rebind(old, nw *TableRef) *Expr {
	if e == nil {
		return nil
	}
	switch e.kind {
	case KindColumn:
		if e.col.table != nil && e.col.table.Same(old) {
			return nw.C(e.col.name)
		}
		return e
	case KindValue, KindParam, KindNull, KindTrue, KindFalse:
		return e
	}
	c := *e
	if len(e.args) > 0 {
		c.args = make([]*Expr, len(e.args))
		for i, a := range e.args {
			c.args[i] = a.Rebind(old, nw)
		}
	}
	if e.sub != nil {
		c.sub = e.sub.CloneRebind(old, nw)
	}
	return &c
}

// Clone returns a deep copy of the tree.
func (e *Expr) Clone() *Expr {
	if e == nil {
		return nil
	}
	c := *e
	if e.col != nil {
		col := *e.col
		c.col = &col
	}
	if len(e.args) > 0 {
		c.args = make([]*Expr, len(e.args))
		for i, a := range e.args {
			c.args[i] = a.Clone()
		}
	}
	if e.sub != nil {
		c.sub = e.sub.Clone()
	}
	return &c
}
