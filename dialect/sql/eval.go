package sql

import (
	"bytes"
	"database/sql/driver"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// ErrNotEvaluable is returned when a node has no in-memory meaning, such as
// raw SQL, unbound parameters or sub-selects.
var ErrNotEvaluable = errors.New("dialect/sql: expression cannot be evaluated in memory")

// Row is an in-memory row an expression is evaluated against. Column looks
// up a value by column name; a missing column is treated as NULL.
type Row interface {
	Column(name string) (any, bool)
}

// MapRow is a Row backed by a map of column names to values.
type MapRow map[string]any

// Column implements the Row interface.
func (r MapRow) Column(name string) (any, bool) {
	v, ok := r[name]
	return v, ok
}

// tri is a three-valued logic truth value.
type tri uint8

const (
	triFalse tri = iota
	triTrue
	triUnknown
)

func triOf(b bool) tri {
	if b {
		return triTrue
	}
	return triFalse
}

func (t tri) not() tri {
	switch t {
	case triTrue:
		return triFalse
	case triFalse:
		return triTrue
	}
	return triUnknown
}

var folder = cases.Fold()

// Test evaluates the condition against row. Unknown results, as produced by
// comparisons with NULL, count as false, matching a SQL WHERE clause.
func (e *Expr) Test(row Row) bool {
	t, err := e.evalCond(row)
	return err == nil && t == triTrue
}

// Match is like Test but reports evaluation errors.
func (e *Expr) Match(row Row) (bool, error) {
	t, err := e.evalCond(row)
	if err != nil {
		return false, err
	}
	return t == triTrue, nil
}

// Eval evaluates the node against row. Conditions evaluate to a bool, or to
// nil when their truth value is unknown.
func (e *Expr) Eval(row Row) (any, error) {
	if e.IsCondition() {
		t, err := e.evalCond(row)
		if err != nil || t == triUnknown {
			return nil, err
		}
		return t == triTrue, nil
	}
	switch e.kind {
	case KindColumn:
		if row == nil {
			return nil, nil
		}
		v, _ := row.Column(e.col.name)
		return normalize(v), nil
	case KindValue:
		return normalize(e.value), nil
	case KindNull:
		return nil, nil
	case KindAlias:
		return e.args[0].Eval(row)
	case KindAdd, KindSub, KindMul, KindDiv:
		x, err := e.args[0].Eval(row)
		if err != nil {
			return nil, err
		}
		y, err := e.args[1].Eval(row)
		if err != nil {
			return nil, err
		}
		return arithmetic(e.kind, x, y)
	case KindFunc:
		return e.evalFunc(row)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotEvaluable, e.kind)
}

func (e *Expr) evalCond(row Row) (tri, error) {
	switch e.kind {
	case KindTrue:
		return triTrue, nil
	case KindFalse:
		return triFalse, nil
	case KindAnd:
		res := triTrue
		for _, a := range e.args {
			t, err := a.evalCond(row)
			if err != nil {
				return triFalse, err
			}
			if t == triFalse {
				return triFalse, nil
			}
			if t == triUnknown {
				res = triUnknown
			}
		}
		return res, nil
	case KindOr:
		res := triFalse
		for _, a := range e.args {
			t, err := a.evalCond(row)
			if err != nil {
				return triFalse, err
			}
			if t == triTrue {
				return triTrue, nil
			}
			if t == triUnknown {
				res = triUnknown
			}
		}
		return res, nil
	case KindNot:
		t, err := e.args[0].evalCond(row)
		return t.not(), err
	case KindIsNull, KindNotNull:
		x, err := e.args[0].Eval(row)
		if err != nil {
			return triFalse, err
		}
		return triOf((x == nil) == (e.kind == KindIsNull)), nil
	case KindEQ, KindNEQ, KindLT, KindLTE, KindGT, KindGTE, KindDistinct, KindNotDistinct, KindLike:
		x, err := e.args[0].Eval(row)
		if err != nil {
			return triFalse, err
		}
		if e.kind == KindEQ || e.kind == KindNEQ {
			if e.args[1].kind == KindNull {
				return triOf((x == nil) == (e.kind == KindEQ)), nil
			}
		}
		y, err := e.args[1].Eval(row)
		if err != nil {
			return triFalse, err
		}
		return compareOp(e.kind, x, y)
	case KindBetween:
		x, err := e.args[0].Eval(row)
		if err != nil {
			return triFalse, err
		}
		lo, err := e.args[1].Eval(row)
		if err != nil {
			return triFalse, err
		}
		hi, err := e.args[2].Eval(row)
		if err != nil {
			return triFalse, err
		}
		t1, err := compareOp(KindGTE, x, lo)
		if err != nil {
			return triFalse, err
		}
		t2, err := compareOp(KindLTE, x, hi)
		if err != nil {
			return triFalse, err
		}
		return and(t1, t2), nil
	case KindIn, KindNotIn, KindAny, KindAll:
		return e.evalQuantified(row)
	}
	return triFalse, fmt.Errorf("%w: %s", ErrNotEvaluable, e.kind)
}

func and(x, y tri) tri {
	switch {
	case x == triFalse || y == triFalse:
		return triFalse
	case x == triUnknown || y == triUnknown:
		return triUnknown
	}
	return triTrue
}

// evalQuantified evaluates IN, NOT IN, ANY and ALL over the value list with
// the same structural equality used for EQ.
func (e *Expr) evalQuantified(row Row) (tri, error) {
	if e.sub != nil {
		return triFalse, fmt.Errorf("%w: sub-select", ErrNotEvaluable)
	}
	x, err := e.args[0].Eval(row)
	if err != nil {
		return triFalse, err
	}
	op, some := KindEQ, true
	switch e.kind {
	case KindNotIn:
		op, some = KindNEQ, false
	case KindAny:
		op = e.cmp
	case KindAll:
		op, some = e.cmp, false
	}
	res := triOf(!some)
	for _, a := range e.args[1:] {
		y, err := a.Eval(row)
		if err != nil {
			return triFalse, err
		}
		t, err := compareOp(op, x, y)
		if err != nil {
			return triFalse, err
		}
		switch {
		case some && t == triTrue:
			return triTrue, nil
		case !some && t == triFalse:
			return triFalse, nil
		case t == triUnknown:
			res = triUnknown
		}
	}
	return res, nil
}

func compareOp(op Kind, x, y any) (tri, error) {
	switch op {
	case KindDistinct:
		return triOf(!nullSafeEqual(x, y)), nil
	case KindNotDistinct:
		return triOf(nullSafeEqual(x, y)), nil
	}
	if x == nil || y == nil {
		return triUnknown, nil
	}
	switch op {
	case KindEQ:
		return triOf(Equal(x, y)), nil
	case KindNEQ:
		return triOf(!Equal(x, y)), nil
	case KindLike:
		s, ok1 := x.(string)
		p, ok2 := y.(string)
		if !ok1 || !ok2 {
			return triFalse, fmt.Errorf("dialect/sql: LIKE on %T and %T", x, y)
		}
		return triOf(like(s, p)), nil
	}
	c, err := order(x, y)
	if err != nil {
		return triFalse, err
	}
	switch op {
	case KindLT:
		return triOf(c < 0), nil
	case KindLTE:
		return triOf(c <= 0), nil
	case KindGT:
		return triOf(c > 0), nil
	case KindGTE:
		return triOf(c >= 0), nil
	}
	return triFalse, fmt.Errorf("dialect/sql: %s is not a comparison", op)
}

func nullSafeEqual(x, y any) bool {
	if x == nil || y == nil {
		return x == nil && y == nil
	}
	return Equal(x, y)
}

// Equal reports whether two values are structurally equal: identifiers and
// driver.Valuer wrappers (such as code-table values) are unwrapped, numbers
// compare by value across kinds, times by instant and byte slices by
// content. NULL is not equal to anything, including NULL.
func Equal(x, y any) bool {
	x, y = normalize(x), normalize(y)
	if x == nil || y == nil {
		return false
	}
	switch xv := x.(type) {
	case []byte:
		yv, ok := y.([]byte)
		return ok && bytes.Equal(xv, yv)
	case time.Time:
		yv, ok := y.(time.Time)
		return ok && xv.Equal(yv)
	}
	if c, err := order(x, y); err == nil {
		return c == 0
	}
	return reflect.DeepEqual(x, y)
}

// normalize unwraps identifiers, valuers and pointers and widens numbers to
// int64 or float64.
func normalize(v any) any {
unwrap:
	for i := 0; i < 8; i++ {
		switch w := v.(type) {
		case nil:
			return nil
		case Identifier:
			v = w.Identity()
		case time.Time, []byte:
			return v
		case driver.Valuer:
			dv, err := w.Value()
			if err != nil {
				return v
			}
			v = dv
		default:
			break unwrap
		}
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return float64(u)
		}
		return int64(u)
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Invalid:
		return nil
	}
	return rv.Interface()
}

// order compares two normalized, non-NULL values.
func order(x, y any) (int, error) {
	switch xv := x.(type) {
	case int64:
		switch yv := y.(type) {
		case int64:
			return cmp3(xv < yv, xv > yv), nil
		case float64:
			return cmp3(float64(xv) < yv, float64(xv) > yv), nil
		}
	case float64:
		switch yv := y.(type) {
		case int64:
			return cmp3(xv < float64(yv), xv > float64(yv)), nil
		case float64:
			return cmp3(xv < yv, xv > yv), nil
		}
	case string:
		if yv, ok := y.(string); ok {
			return strings.Compare(xv, yv), nil
		}
	case bool:
		if yv, ok := y.(bool); ok {
			return cmp3(!xv && yv, xv && !yv), nil
		}
	case time.Time:
		if yv, ok := y.(time.Time); ok {
			return xv.Compare(yv), nil
		}
	case []byte:
		if yv, ok := y.([]byte); ok {
			return bytes.Compare(xv, yv), nil
		}
	}
	return 0, fmt.Errorf("dialect/sql: cannot compare %T with %T", x, y)
}

func cmp3(less, greater bool) int {
	switch {
	case less:
		return -1
	case greater:
		return 1
	}
	return 0
}

func arithmetic(k Kind, x, y any) (any, error) {
	if x == nil || y == nil {
		return nil, nil
	}
	xi, xInt := x.(int64)
	yi, yInt := y.(int64)
	if xInt && yInt {
		switch k {
		case KindAdd:
			return xi + yi, nil
		case KindSub:
			return xi - yi, nil
		case KindMul:
			return xi * yi, nil
		case KindDiv:
			if yi == 0 {
				return nil, errors.New("dialect/sql: division by zero")
			}
			return xi / yi, nil
		}
	}
	xf, ok1 := toFloat(x)
	yf, ok2 := toFloat(y)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("dialect/sql: %s on %T and %T", k, x, y)
	}
	switch k {
	case KindAdd:
		return xf + yf, nil
	case KindSub:
		return xf - yf, nil
	case KindMul:
		return xf * yf, nil
	case KindDiv:
		if yf == 0 {
			return nil, errors.New("dialect/sql: division by zero")
		}
		return xf / yf, nil
	}
	return nil, fmt.Errorf("dialect/sql: %s is not arithmetic", k)
}

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func (e *Expr) evalFunc(row Row) (any, error) {
	args := make([]any, len(e.args))
	for i, a := range e.args {
		v, err := a.Eval(row)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	switch e.raw {
	case "LOWER", "UPPER":
		if len(args) != 1 {
			break
		}
		s, ok := args[0].(string)
		if !ok {
			return args[0], nil
		}
		if e.raw == "UPPER" {
			return strings.ToUpper(s), nil
		}
		// Case folding makes LOWER(a) = LOWER(b) agree with database
		// collations for non-ASCII input.
		return folder.String(s), nil
	case "COALESCE":
		for _, a := range args {
			if a != nil {
				return a, nil
			}
		}
		return nil, nil
	case "LENGTH":
		if len(args) == 1 {
			if s, ok := args[0].(string); ok {
				return int64(len([]rune(s))), nil
			}
			return nil, nil
		}
	}
	return nil, fmt.Errorf("%w: function %s", ErrNotEvaluable, e.raw)
}

// like matches s against a LIKE pattern with '%', '_' and '\' escapes.
// Matching is case-sensitive, as LIKE is on Postgres; ContainsFold and
// EqualFold cover case-insensitive matching. A '%' backtracks only to the
// last one seen, so the cost is bounded by len(s)*len(p).
func like(s, p string) bool {
	pat := likePattern(p)
	sr := []rune(s)
	i, j := 0, 0
	star, mark := -1, 0
	for i < len(sr) {
		switch {
		case j < len(pat) && pat[j].kind == likeOne:
			i, j = i+1, j+1
		case j < len(pat) && pat[j].kind == likeLit && pat[j].r == sr[i]:
			i, j = i+1, j+1
		case j < len(pat) && pat[j].kind == likeAny:
			star, mark = j, i
			j++
		case star >= 0:
			mark++
			i, j = mark, star+1
		default:
			return false
		}
	}
	for j < len(pat) && pat[j].kind == likeAny {
		j++
	}
	return j == len(pat)
}

const (
	likeLit = iota
	likeOne
	likeAny
)

type likeToken struct {
	kind int
	r    rune
}

// likePattern tokenizes a LIKE pattern, collapsing runs of '%'.
func likePattern(p string) []likeToken {
	pr := []rune(p)
	toks := make([]likeToken, 0, len(pr))
	for j := 0; j < len(pr); j++ {
		switch c := pr[j]; c {
		case '%':
			if n := len(toks); n > 0 && toks[n-1].kind == likeAny {
				continue
			}
			toks = append(toks, likeToken{kind: likeAny})
		case '_':
			toks = append(toks, likeToken{kind: likeOne})
		case '\\':
			if j+1 < len(pr) {
				j++
				c = pr[j]
			}
			toks = append(toks, likeToken{kind: likeLit, r: c})
		default:
			toks = append(toks, likeToken{kind: likeLit, r: c})
		}
	}
	return toks
}
