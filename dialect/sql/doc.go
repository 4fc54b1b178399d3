// Package sql provides the SQL expression tree, the statement renderer and
// thin wrappers over database/sql connections.
//
// # Expressions
//
// Every node of a statement is an immutable *Expr: column references, bound
// values, raw fragments, function calls, arithmetic and conditions. The
// same node renders SQL text, reports its bound arguments in placeholder
// order and evaluates against an in-memory row with SQL three-valued logic:
//
//	p := sql.And(sql.EQ("status", "active"), sql.GT("age", 18))
//	p.Args(dialect.Postgres, nil)                       // ["active" 18]
//	p.Test(sql.MapRow{"status": "active", "age": 21}) // true
//	p.String()                                       // `status` = 'active' AND `age` > 18
//
// Comparisons with nil render as IS NULL and IS NOT NULL. An empty IN list
// is always false and an empty NOT IN list is always true.
//
// # Builder Types
//
//   - Builder: low-level writer with identifier quoting and placeholder numbering
//   - Selector: SELECT descriptor with joins, grouping, ordering, paging and locking
//   - InsertBuilder: INSERT statement builder with RETURNING support
//   - UpdateBuilder: UPDATE statement builder with SET and WHERE clauses
//   - DeleteBuilder: DELETE statement builder with WHERE conditions
//
// # Dialect Support
//
//	users := sql.Table("users")
//	sql.Dialect(dialect.Postgres).
//	    Select(users.C("id"), users.C("name")).
//	    From(users).
//	    Where(sql.EQ(users.C("status"), "active")).
//	    Query()
//	// SELECT "users"."id", "users"."name" FROM "users" WHERE "users"."status" = $1
//
// # Rebinding
//
// A descriptor built against one table context can be re-targeted to
// another with Selector.CloneRebind, for example to run the same query
// against an alias inside a join. Expr.Rebind does the same for a single
// tree.
//
// # Connections
//
// Conn runs rendered statements on a *sql.Tx, *sql.Conn or pooled
// connection and records the dialect they speak. StatsRecorder counts
// queries, write batches and slow statements.
package sql
