// Package dialect names the database dialects supported by quarry and the
// per-dialect capabilities the renderer and the write path depend on.
//
// # Supported Dialects
//
// The following dialects are supported:
//
//   - Postgres: PostgreSQL database
//   - MySQL: MySQL/MariaDB database
//   - SQLite: SQLite database
//
// # Dialect Constants
//
// Each dialect is identified by a constant string:
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//
// Driver names that carry a dialect prefix (for example "pgx" or
// "sqlite3") are normalized with Normalize.
//
// # Capabilities
//
// The renderer asks a dialect how to quote identifiers and how to spell a
// positional placeholder:
//
//	dialect.Postgres: "users"  $1, $2, ...
//	dialect.MySQL:    `users`  ?, ?, ...
//	dialect.SQLite:   `users`  ?, ?, ...
//
// The batched writer asks whether generated keys can be read back with a
// RETURNING clause or must come from sql.Result.LastInsertId.
//
// # Sub-packages
//
//   - dialect/sql: expression tree, statement renderer and connection wrappers
//   - dialect/sql/pool: pooled physical connections
//   - dialect/sql/sqlerr: driver error classification
package dialect
