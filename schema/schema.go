package schema

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/go-openapi/inflect"

	"github.com/syssam/quarry/dialect"
	"github.com/syssam/quarry/dialect/sql"
	"github.com/syssam/quarry/schema/field"
)

// Field is implemented by the field builders of the field package.
type Field interface {
	Descriptor() *field.Descriptor
}

// Mixin contributes a reusable set of fields to an entity.
type Mixin interface {
	Fields() []Field
}

// Strategy describes how the id fields of new rows are populated.
type Strategy uint8

// Id strategies.
const (
	// StrategyNone means ids are assigned by the application.
	StrategyNone Strategy = iota
	// StrategyIdentity means the database assigns the id on insert
	// (SERIAL, AUTO_INCREMENT, INTEGER PRIMARY KEY).
	StrategyIdentity
	// StrategySequence means the id is drawn from a named sequence.
	StrategySequence
)

func (s Strategy) String() string {
	switch s {
	case StrategyIdentity:
		return "identity"
	case StrategySequence:
		return "sequence"
	default:
		return "none"
	}
}

// Handle is a small integer that identifies a definition. Every built
// definition gets its own handle, so two definitions of the same table never
// alias each other.
type Handle uint32

var (
	lastHandle atomic.Uint32
	rules      = inflect.NewDefaultRuleset()
)

func nextHandle() Handle { return Handle(lastHandle.Add(1)) }

// Definition describes an entity: its table, its ordered fields, the id
// fields and the way new ids are generated. A Definition is immutable once
// built and safe for concurrent use.
type Definition struct {
	name     string
	table    string
	schema   string
	comment  string
	fields   []*field.Descriptor
	index    map[string]int
	ids      []int
	strategy Strategy
	sequence string
	seqExpr  string
	rowid    bool
	handle   Handle
}

// Name returns the entity name.
func (d *Definition) Name() string { return d.name }

// Table returns the table name.
func (d *Definition) Table() string { return d.table }

// SchemaName returns the database schema of the table, if any.
func (d *Definition) SchemaName() string { return d.schema }

// Comment returns the entity comment.
func (d *Definition) Comment() string { return d.comment }

// TableRef returns a new table reference for the definition.
func (d *Definition) TableRef() *sql.TableRef {
	t := sql.Table(d.table)
	if d.schema != "" {
		t = t.Schema(d.schema)
	}
	return t
}

// Len returns the number of fields.
func (d *Definition) Len() int { return len(d.fields) }

// Fields returns the field descriptors in column order.
func (d *Definition) Fields() []*field.Descriptor { return d.fields }

// Field returns the i'th field.
func (d *Definition) Field(i int) *field.Descriptor { return d.fields[i] }

// FieldIndex returns the position of the named field, or -1.
func (d *Definition) FieldIndex(name string) int {
	if i, ok := d.index[name]; ok {
		return i
	}
	return -1
}

// Columns returns the column names in field order.
func (d *Definition) Columns() []string {
	cols := make([]string, len(d.fields))
	for i, f := range d.fields {
		cols[i] = f.ColumnName()
	}
	return cols
}

// IDs returns the positions of the id fields.
func (d *Definition) IDs() []int { return d.ids }

// IDFields returns the id field descriptors.
func (d *Definition) IDFields() []*field.Descriptor {
	fs := make([]*field.Descriptor, len(d.ids))
	for i, j := range d.ids {
		fs[i] = d.fields[j]
	}
	return fs
}

// IsID reports whether the i'th field is an id field.
func (d *Definition) IsID(i int) bool {
	for _, j := range d.ids {
		if i == j {
			return true
		}
	}
	return false
}

// Strategy returns the id strategy.
func (d *Definition) Strategy() Strategy { return d.strategy }

// Sequence returns the sequence name of a StrategySequence definition.
func (d *Definition) Sequence() string { return d.sequence }

// SequenceExpr returns the SQL expression that draws the next id for the
// given dialect.
func (d *Definition) SequenceExpr(name string) string {
	if d.seqExpr != "" {
		return d.seqExpr
	}
	if d.sequence == "" {
		return ""
	}
	if dialect.Normalize(name) == dialect.Postgres {
		return "nextval('" + d.sequence + "')"
	}
	return "NEXT VALUE FOR " + d.sequence
}

// RowID reports whether the table exposes a database assigned row id that
// is read back after insert.
func (d *Definition) RowID() bool { return d.rowid }

// Handle returns the handle of the definition.
func (d *Definition) Handle() Handle { return d.handle }

func (d *Definition) String() string {
	if d.name != "" {
		return d.name
	}
	return d.table
}

// EntityBuilder is a fluent builder of definitions.
type EntityBuilder struct {
	def    Definition
	fields []Field
	mixins []Mixin
	ids    []string
}

// Entity returns a builder for the named entity. The table name defaults
// to the snake_case plural of the name.
//
//	schema.Entity("User").
//		Fields(
//			field.Int64("id"),
//			field.String("name"),
//		).
//		Identity().
//		MustBuild()
func Entity(name string) *EntityBuilder {
	return &EntityBuilder{def: Definition{name: name}}
}

// Table sets the table name.
func (b *EntityBuilder) Table(name string) *EntityBuilder {
	b.def.table = name
	return b
}

// Schema sets the database schema of the table.
func (b *EntityBuilder) Schema(name string) *EntityBuilder {
	b.def.schema = name
	return b
}

// Comment sets the entity comment.
func (b *EntityBuilder) Comment(c string) *EntityBuilder {
	b.def.comment = c
	return b
}

// Mixin adds the fields of the given mixins before the entity's own fields.
func (b *EntityBuilder) Mixin(ms ...Mixin) *EntityBuilder {
	b.mixins = append(b.mixins, ms...)
	return b
}

// Fields appends fields.
func (b *EntityBuilder) Fields(fs ...Field) *EntityBuilder {
	b.fields = append(b.fields, fs...)
	return b
}

// IDs sets the id fields. It defaults to "id" when such a field exists.
func (b *EntityBuilder) IDs(names ...string) *EntityBuilder {
	b.ids = append(b.ids, names...)
	return b
}

// Identity marks the id as assigned by the database on insert.
func (b *EntityBuilder) Identity() *EntityBuilder {
	b.def.strategy = StrategyIdentity
	return b
}

// Sequence draws new ids from the named sequence.
func (b *EntityBuilder) Sequence(name string) *EntityBuilder {
	b.def.strategy = StrategySequence
	b.def.sequence = name
	return b
}

// SequenceExpr draws new ids from an arbitrary SQL expression, for
// databases without sequence support.
func (b *EntityBuilder) SequenceExpr(expr string) *EntityBuilder {
	b.def.strategy = StrategySequence
	b.def.seqExpr = expr
	return b
}

// RowID marks the table as exposing a database assigned row id.
func (b *EntityBuilder) RowID() *EntityBuilder {
	b.def.rowid = true
	return b
}

// Build validates and returns the definition.
func (b *EntityBuilder) Build() (*Definition, error) {
	d := b.def
	if d.table == "" {
		if d.name == "" {
			return nil, errors.New("schema: entity without name or table")
		}
		d.table = inflect.Underscore(rules.Pluralize(d.name))
	}
	var fs []Field
	for _, m := range b.mixins {
		fs = append(fs, m.Fields()...)
	}
	fs = append(fs, b.fields...)
	if len(fs) == 0 {
		return nil, fmt.Errorf("schema: entity %q has no fields", d.String())
	}
	var err error
	d.fields = make([]*field.Descriptor, 0, len(fs))
	d.index = make(map[string]int, len(fs))
	for _, f := range fs {
		fd := f.Descriptor()
		if fd.Err != nil {
			err = errors.Join(err, fd.Err)
			continue
		}
		if _, ok := d.index[fd.Name]; ok {
			err = errors.Join(err, fmt.Errorf("schema: entity %q: duplicate field %q", d.String(), fd.Name))
			continue
		}
		d.index[fd.Name] = len(d.fields)
		d.fields = append(d.fields, fd)
	}
	ids := b.ids
	if len(ids) == 0 {
		if _, ok := d.index["id"]; ok {
			ids = []string{"id"}
		}
	}
	for _, name := range ids {
		i, ok := d.index[name]
		if !ok {
			err = errors.Join(err, fmt.Errorf("schema: entity %q: unknown id field %q", d.String(), name))
			continue
		}
		d.ids = append(d.ids, i)
	}
	if d.strategy != StrategyNone && len(d.ids) != 1 {
		err = errors.Join(err, fmt.Errorf("schema: entity %q: %s ids require exactly one id field", d.String(), d.strategy))
	}
	if err != nil {
		return nil, err
	}
	d.handle = nextHandle()
	return &d, nil
}

// MustBuild is like Build but panics on error.
func (b *EntityBuilder) MustBuild() *Definition {
	d, err := b.Build()
	if err != nil {
		panic(err)
	}
	return d
}
