// Package mixin provides reusable field sets for entity definitions.
//
// Mixins are applied with EntityBuilder.Mixin. Their fields come first, in
// the order the mixins are listed, followed by the entity's own fields:
//
//	schema.Entity("User").
//		Mixin(mixin.ID{}, mixin.Time{}).
//		Fields(field.String("name")).
//		Identity().
//		MustBuild()
//
// The resulting User entity has the columns id, created_at, updated_at and
// name.
//
// # Built-in Mixins
//
//	mixin.ID{}             // id int64
//	mixin.Time{}           // created_at, updated_at with CURRENT_TIMESTAMP defaults
//	mixin.CreateTime{}     // created_at only
//	mixin.UpdateTime{}     // updated_at only
//	mixin.SoftDelete{}     // deleted_at, nillable
//	mixin.TimeSoftDelete{} // Time and SoftDelete
//	mixin.Revision{}       // revision, generated by the database
//
// # Creating Custom Mixins
//
// Embed Schema and override Fields:
//
//	type Tenant struct{ mixin.Schema }
//
//	func (Tenant) Fields() []schema.Field {
//	    return []schema.Field{field.String("tenant_id").NotEmpty()}
//	}
package mixin
