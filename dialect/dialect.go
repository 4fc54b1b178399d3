package dialect

import (
	"strconv"
	"strings"
)

// Dialect names.
const (
	MySQL    = "mysql"
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// Normalize maps a database/sql driver name to the dialect it speaks.
// Unknown names are returned unchanged.
func Normalize(name string) string {
	switch name = strings.ToLower(name); {
	case strings.HasPrefix(name, Postgres), name == "pgx", name == "pq":
		return Postgres
	case strings.HasPrefix(name, SQLite):
		return SQLite
	case strings.HasPrefix(name, MySQL), name == "mariadb":
		return MySQL
	}
	return name
}

// Placeholder returns the positional parameter marker for the i'th (1-based)
// argument of a statement.
func Placeholder(d string, i int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}

// QuoteChar returns the character used to quote identifiers.
func QuoteChar(d string) byte {
	if d == Postgres {
		return '"'
	}
	return '`'
}

// SupportsReturning reports whether INSERT statements may carry a RETURNING
// clause to read back generated keys.
func SupportsReturning(d string) bool {
	return d == Postgres || d == SQLite
}

// SupportsLocking reports whether SELECT ... FOR UPDATE/SHARE is accepted.
func SupportsLocking(d string) bool {
	return d != SQLite
}

// SupportsArrays reports whether a single array parameter may be compared with
// ANY/ALL.
func SupportsArrays(d string) bool {
	return d == Postgres
}
