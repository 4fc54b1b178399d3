// Package schema describes the entities read and written by the query and
// writer packages.
//
// A Definition lists the fields of an entity in column order, names its id
// fields and records how the ids of new rows are produced:
//
//	var Users = schema.Entity("User").
//		Mixin(mixin.ID{}, mixin.Time{}).
//		Fields(
//			field.String("email").ValidateTag("email"),
//			field.Enum("status").Values("active", "suspended"),
//		).
//		Identity().
//		MustBuild()
//
// The table name defaults to the snake_case plural of the entity name
// ("users" above). An entity whose ids come from a sequence uses Sequence
// instead of Identity; tables with a database assigned row id use RowID.
//
// # Handles
//
// Every built definition carries its own Handle, a small integer. Writers key
// their statement caches by handle, so two definitions describing the same
// table with different fields, defaults or converters never share a
// statement.
//
// # Ad-hoc definitions
//
// Queries whose result rows do not match an entity (joins, grouping, custom
// select lists) are mapped through a definition synthesized from the result
// column metadata with FromColumns.
package schema
