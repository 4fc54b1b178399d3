package sql

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/syssam/quarry/dialect"
)

// Querier wraps the basic Query method that is implemented
// by the different builders in this package.
type Querier interface {
	// Query returns the query representation of the element
	// and its arguments (if any).
	Query() (string, []any)
}

// Renderer is implemented by every node that can write itself into a Builder.
type Renderer interface {
	Render(b *Builder)
}

// Builder is the low-level SQL writer shared by all nodes of a statement.
// It tracks the dialect, the arguments collected so far and the number of
// placeholders emitted, so that nested nodes number Postgres parameters
// consistently.
//
// In literal mode no placeholders are emitted; values are written inline
// using type-correct literal syntax. Literal output is meant for logs only.
type Builder struct {
	sb      strings.Builder
	dialect string
	args    []any
	total   int
	literal bool
	discard bool
	errs    []error
}

// NewBuilder returns a Builder for the given dialect.
func NewBuilder(d string) *Builder {
	return &Builder{dialect: dialect.Normalize(d)}
}

// Literal switches the builder into literal mode.
func (b *Builder) Literal() *Builder {
	b.literal = true
	return b
}

// Dialect returns the builder dialect.
func (b *Builder) Dialect() string { return b.dialect }

// IsLiteral reports whether the builder renders values inline.
func (b *Builder) IsLiteral() bool { return b.literal }

// WriteString appends s to the statement text.
func (b *Builder) WriteString(s string) *Builder {
	if !b.discard {
		b.sb.WriteString(s)
	}
	return b
}

// WriteByte appends c to the statement text.
func (b *Builder) WriteByte(c byte) *Builder {
	if !b.discard {
		b.sb.WriteByte(c)
	}
	return b
}

// Pad appends a single space.
func (b *Builder) Pad() *Builder { return b.WriteByte(' ') }

// Ident writes a quoted identifier. Dotted names are quoted per part, and
// names that already look like expressions are written as is.
func (b *Builder) Ident(name string) *Builder {
	switch {
	case name == "" || name == "*":
		return b.WriteString(name)
	case strings.ContainsAny(name, "(`\" "):
		return b.WriteString(name)
	}
	q := dialect.QuoteChar(b.dialect)
	for i, part := range strings.Split(name, ".") {
		if i > 0 {
			b.WriteByte('.')
		}
		if part == "*" {
			b.WriteByte('*')
			continue
		}
		b.WriteByte(q).WriteString(part).WriteByte(q)
	}
	return b
}

// IdentComma writes the quoted identifiers separated by commas.
func (b *Builder) IdentComma(names ...string) *Builder {
	for i, n := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Ident(n)
	}
	return b
}

// Arg writes a placeholder for v and records v as the next argument. In
// literal mode v is written inline instead.
func (b *Builder) Arg(v any) *Builder {
	if b.literal {
		return b.WriteString(literal(b.dialect, v))
	}
	b.total++
	b.args = append(b.args, bindValue(v))
	return b.WriteString(dialect.Placeholder(b.dialect, b.total))
}

// Param writes a placeholder that is bound later, at execution time of a
// prepared statement. No argument is recorded.
func (b *Builder) Param() *Builder {
	if b.literal {
		return b.WriteByte('?')
	}
	b.total++
	return b.WriteString(dialect.Placeholder(b.dialect, b.total))
}

// Join renders r into the builder.
func (b *Builder) Join(r Renderer) *Builder {
	if r != nil {
		r.Render(b)
	}
	return b
}

// Wrap writes f's output in parentheses.
func (b *Builder) Wrap(f func(*Builder)) *Builder {
	b.WriteByte('(')
	f(b)
	return b.WriteByte(')')
}

// AddError records a rendering error. Query results are still produced;
// callers inspect Err.
func (b *Builder) AddError(err error) *Builder {
	if err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

// Err returns the first rendering error, if any.
func (b *Builder) Err() error {
	if len(b.errs) == 0 {
		return nil
	}
	return b.errs[0]
}

// String returns the statement text written so far.
func (b *Builder) String() string { return b.sb.String() }

// Args returns the arguments collected so far, in placeholder order.
func (b *Builder) Args() []any { return b.args }

// Total returns the number of placeholders written so far.
func (b *Builder) Total() int { return b.total }

// Query implements the Querier interface.
func (b *Builder) Query() (string, []any) { return b.String(), b.args }

// Literal formats v as an SQL literal. Strings are quoted and escaped,
// timestamps use the bracketed escape syntax and nil becomes NULL. Strings
// are escaped as MySQL reads them; builders in literal mode escape for their
// own dialect.
func Literal(v any) string { return literal("", v) }

func literal(d string, v any) string {
	v = bindValue(v)
	if vr, ok := v.(driver.Valuer); ok {
		dv, err := vr.Value()
		if err != nil {
			return fmt.Sprintf("<%v>", err)
		}
		v = dv
	}
	switch v := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + escapeStringValue(d, v) + "'"
	case []byte:
		return "X'" + strings.ToUpper(hex.EncodeToString(v)) + "'"
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case time.Time:
		return "{ts '" + v.Format("2006-01-02 15:04:05.000") + "'}"
	case float32:
		return formatFloat(float64(v))
	case float64:
		return formatFloat(v)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(v)
	case fmt.Stringer:
		return "'" + escapeStringValue(d, v.String()) + "'"
	default:
		return "'" + escapeStringValue(d, fmt.Sprint(v)) + "'"
	}
}

// escapeStringValue doubles single quotes. Backslashes are escape
// characters in MySQL string literals only; Postgres (with
// standard_conforming_strings) and SQLite read them literally.
func escapeStringValue(d, s string) string {
	if d != dialect.Postgres && d != dialect.SQLite {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}
	return strings.ReplaceAll(s, "'", "''")
}

func formatFloat(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return "'" + strconv.FormatFloat(f, 'g', -1, 64) + "'"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Identifier is implemented by values that stand in for a key, such as a
// loaded entity used as a foreign-key value. They are unwrapped before
// binding and before in-memory comparison.
type Identifier interface {
	Identity() any
}

// bindValue unwraps identifiers so that drivers receive the key itself.
func bindValue(v any) any {
	for i := 0; i < 8; i++ {
		id, ok := v.(Identifier)
		if !ok {
			return v
		}
		v = id.Identity()
	}
	return v
}
