package schema

import (
	stdsql "database/sql"
	"strconv"
	"strings"
	"sync"

	"github.com/syssam/quarry/schema/field"
)

// Column describes one column of a result set.
type Column struct {
	Name         string
	DatabaseType string
	Nullable     bool
}

// ColumnsOf converts the column metadata reported by a driver.
func ColumnsOf(types []*stdsql.ColumnType) []Column {
	cols := make([]Column, len(types))
	for i, ct := range types {
		cols[i] = Column{Name: ct.Name(), DatabaseType: ct.DatabaseTypeName()}
		if nullable, ok := ct.Nullable(); ok {
			cols[i].Nullable = nullable
		} else {
			cols[i].Nullable = true
		}
	}
	return cols
}

// adhoc caches the definitions synthesized from result metadata.
var adhoc sync.Map // signature => *Definition

// FromColumns returns a definition describing a result set with the given
// columns. Definitions are cached by layout; the same layout always yields
// the same definition. Duplicate column names, as produced by
// joins, are disambiguated by a numeric suffix on the field name.
func FromColumns(table string, cols ...Column) *Definition {
	var sig strings.Builder
	sig.WriteString("adhoc:")
	sig.WriteString(table)
	for _, c := range cols {
		sig.WriteByte('|')
		sig.WriteString(c.Name)
		sig.WriteByte(' ')
		sig.WriteString(c.DatabaseType)
		if c.Nullable {
			sig.WriteString(" NULL")
		}
	}
	key := sig.String()
	if d, ok := adhoc.Load(key); ok {
		return d.(*Definition)
	}
	d := &Definition{
		table:  table,
		fields: make([]*field.Descriptor, len(cols)),
		index:  make(map[string]int, len(cols)),
	}
	for i, c := range cols {
		name := c.Name
		for n := 2; ; n++ {
			if _, ok := d.index[name]; !ok {
				break
			}
			name = c.Name + "_" + strconv.Itoa(n)
		}
		d.index[name] = i
		d.fields[i] = &field.Descriptor{
			Name:     name,
			Column:   c.Name,
			Info:     &field.TypeInfo{Type: TypeOf(c.DatabaseType)},
			Nillable: c.Nullable,
		}
	}
	d.handle = nextHandle()
	v, _ := adhoc.LoadOrStore(key, d)
	return v.(*Definition)
}

// TypeOf maps a database type name, as reported by the driver, to a field
// type. Unknown types map to field.TypeOther and pass through unconverted.
func TypeOf(name string) field.Type {
	name = strings.ToUpper(strings.TrimSpace(name))
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	name = strings.TrimPrefix(name, "UNSIGNED ")
	name = strings.TrimSuffix(name, " UNSIGNED")
	switch name {
	case "BOOL", "BOOLEAN":
		return field.TypeBool
	case "INT", "INT2", "INT4", "INT8", "INTEGER", "BIGINT", "SMALLINT",
		"TINYINT", "MEDIUMINT", "SERIAL", "BIGSERIAL", "YEAR":
		return field.TypeInt64
	case "FLOAT", "FLOAT4", "FLOAT8", "DOUBLE", "DOUBLE PRECISION", "REAL":
		return field.TypeFloat64
	case "CHAR", "VARCHAR", "NCHAR", "NVARCHAR", "BPCHAR", "TEXT", "TINYTEXT",
		"MEDIUMTEXT", "LONGTEXT", "CLOB", "NAME", "CITEXT", "ENUM", "SET",
		"DECIMAL", "NUMERIC", "TIME", "INTERVAL":
		return field.TypeString
	case "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BYTEA", "BINARY", "VARBINARY":
		return field.TypeBytes
	case "DATE", "DATETIME", "TIMESTAMP", "TIMESTAMPTZ":
		return field.TypeTime
	case "UUID":
		return field.TypeUUID
	case "JSON", "JSONB":
		return field.TypeJSON
	}
	return field.TypeOther
}
