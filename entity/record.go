// Package entity holds the in-memory rows read by the query package and
// written by the writer package.
package entity

import (
	"fmt"
	"strings"

	"github.com/syssam/quarry/schema"
)

// State is the lifecycle state of a record.
type State uint8

// Record states.
const (
	// StateNew is a record that does not exist in the database yet.
	StateNew State = iota
	// StateInitializing is a record being populated; it is never written.
	StateInitializing
	// StateModified is a persisted record with pending changes.
	StateModified
	// StatePersisted is a record in sync with the database.
	StatePersisted
	// StateDeleted is a record scheduled for, or after, deletion.
	StateDeleted
)

var stateNames = [...]string{
	StateNew:          "new",
	StateInitializing: "initializing",
	StateModified:     "modified",
	StatePersisted:    "persisted",
	StateDeleted:      "deleted",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// Record is a row of an entity. Values are kept in field order of the
// definition. A Record is not safe for concurrent mutation.
type Record struct {
	def    *schema.Definition
	values []any
	state  State
	rowID  any
}

// New returns an empty record in StateNew.
func New(def *schema.Definition) *Record {
	return &Record{def: def, values: make([]any, def.Len())}
}

// Load returns a persisted record holding values. The slice is retained.
func Load(def *schema.Definition, values []any) *Record {
	if len(values) != def.Len() {
		panic(fmt.Sprintf("entity: %d values for %d fields of %s", len(values), def.Len(), def))
	}
	return &Record{def: def, values: values, state: StatePersisted}
}

// Definition returns the definition of the record.
func (r *Record) Definition() *schema.Definition { return r.def }

// State returns the lifecycle state.
func (r *Record) State() State { return r.state }

// SetState sets the lifecycle state.
func (r *Record) SetState(s State) { r.state = s }

// Delete marks the record for deletion.
func (r *Record) Delete() { r.state = StateDeleted }

// Len returns the number of values.
func (r *Record) Len() int { return len(r.values) }

// Value returns the i'th value.
func (r *Record) Value(i int) any { return r.values[i] }

// SetValue sets the i'th value. A persisted record becomes modified.
func (r *Record) SetValue(i int, v any) {
	r.values[i] = v
	r.touch()
}

// Get returns the value of the named field.
func (r *Record) Get(name string) (any, bool) {
	i := r.def.FieldIndex(name)
	if i < 0 {
		return nil, false
	}
	return r.values[i], true
}

// Set sets the value of the named field. A persisted record becomes
// modified.
func (r *Record) Set(name string, v any) error {
	i := r.def.FieldIndex(name)
	if i < 0 {
		return fmt.Errorf("entity: %s has no field %q", r.def, name)
	}
	if r.state == StateDeleted {
		return fmt.Errorf("entity: set %q on deleted record %s", name, r)
	}
	r.SetValue(i, v)
	return nil
}

// MustSet is like Set but panics on error.
func (r *Record) MustSet(name string, v any) *Record {
	if err := r.Set(name, v); err != nil {
		panic(err)
	}
	return r
}

func (r *Record) touch() {
	if r.state == StatePersisted {
		r.state = StateModified
	}
}

// Values returns a copy of the values.
func (r *Record) Values() []any {
	return append([]any(nil), r.values...)
}

// IDs returns the id values.
func (r *Record) IDs() []any {
	ids := make([]any, 0, len(r.def.IDs()))
	for _, i := range r.def.IDs() {
		ids = append(ids, r.values[i])
	}
	return ids
}

// HasIDs reports whether every id field holds a value.
func (r *Record) HasIDs() bool {
	if len(r.def.IDs()) == 0 {
		return false
	}
	for _, i := range r.def.IDs() {
		if r.values[i] == nil {
			return false
		}
	}
	return true
}

// RowID returns the database assigned row id, if read back.
func (r *Record) RowID() any { return r.rowID }

// SetRowID sets the row id.
func (r *Record) SetRowID(v any) { r.rowID = v }

// Column implements sql.Row for in-memory filtering. Both field and column
// names are accepted.
func (r *Record) Column(name string) (any, bool) {
	if v, ok := r.Get(name); ok {
		return v, true
	}
	for i, f := range r.def.Fields() {
		if f.ColumnName() == name {
			return r.values[i], true
		}
	}
	return nil, false
}

// Map returns the values keyed by field name.
func (r *Record) Map() map[string]any {
	m := make(map[string]any, len(r.values))
	for i, f := range r.def.Fields() {
		m[f.Name] = r.values[i]
	}
	return m
}

// String identifies the record as table#id.
func (r *Record) String() string {
	var b strings.Builder
	b.WriteString(r.def.Table())
	b.WriteByte('#')
	switch {
	case r.HasIDs():
		for i, id := range r.IDs() {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprint(&b, id)
		}
	case r.rowID != nil:
		fmt.Fprintf(&b, "rowid=%v", r.rowID)
	default:
		b.WriteString(r.state.String())
	}
	return b.String()
}
