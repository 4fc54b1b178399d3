package mixin

import (
	"github.com/syssam/quarry/schema"
	"github.com/syssam/quarry/schema/field"
)

// Schema is the default implementation for the schema.Mixin interface.
// It should be embedded in all custom mixin definitions.
//
//	type Audit struct {
//	    mixin.Schema
//	}
//
//	func (Audit) Fields() []schema.Field {
//	    return []schema.Field{
//	        field.String("created_by"),
//	    }
//	}
type Schema struct{}

// Fields returns the fields of the mixin.
func (Schema) Fields() []schema.Field { return nil }

var _ schema.Mixin = (*Schema)(nil)

// ID adds an int64 "id" field. Combine it with EntityBuilder.Identity or
// EntityBuilder.Sequence to let the database assign it.
type ID struct {
	Schema
}

// Fields returns the id field.
func (ID) Fields() []schema.Field {
	return []schema.Field{
		field.Int64("id").
			Comment("Primary key"),
	}
}

// Time adds created_at and updated_at timestamp fields to a schema.
// Both fall back to the database clock when left nil.
type Time struct {
	Schema
}

// Fields returns the time tracking fields.
func (Time) Fields() []schema.Field {
	return append(CreateTime{}.Fields(), UpdateTime{}.Fields()...)
}

// CreateTime adds only the created_at timestamp field.
type CreateTime struct {
	Schema
}

// Fields returns the created_at field.
func (CreateTime) Fields() []schema.Field {
	return []schema.Field{
		field.Time("created_at").
			DefaultExpr("CURRENT_TIMESTAMP").
			Comment("Timestamp when the entity was created"),
	}
}

// UpdateTime adds only the updated_at timestamp field.
type UpdateTime struct {
	Schema
}

// Fields returns the updated_at field.
func (UpdateTime) Fields() []schema.Field {
	return []schema.Field{
		field.Time("updated_at").
			DefaultExpr("CURRENT_TIMESTAMP").
			Comment("Timestamp when the entity was last updated"),
	}
}

// SoftDelete adds a deleted_at field for soft deletion support.
type SoftDelete struct {
	Schema
}

// Fields returns the soft delete field.
func (SoftDelete) Fields() []schema.Field {
	return []schema.Field{
		field.Time("deleted_at").
			Nillable().
			Comment("Timestamp when the entity was soft deleted (nil means not deleted)"),
	}
}

// TimeSoftDelete combines Time and SoftDelete.
type TimeSoftDelete struct {
	Schema
}

// Fields returns all timestamp and soft delete fields.
func (TimeSoftDelete) Fields() []schema.Field {
	return append(Time{}.Fields(), SoftDelete{}.Fields()...)
}

// Revision adds a "revision" column maintained by a database trigger. It is
// read with every row but never written.
type Revision struct {
	Schema
}

// Fields returns the revision field.
func (Revision) Fields() []schema.Field {
	return []schema.Field{
		field.Int64("revision").
			Generated().
			Comment("Row revision maintained by the database"),
	}
}

// CommentFields wraps a mixin and prefixes the comments of all its fields.
//
//	mixin.CommentFields(mixin.Time{}, "audit")
func CommentFields(m schema.Mixin, prefix string) schema.Mixin {
	return fieldCommenter{Mixin: m, prefix: prefix}
}

type fieldCommenter struct {
	schema.Mixin
	prefix string
}

func (c fieldCommenter) Fields() []schema.Field {
	fields := c.Mixin.Fields()
	for i := range fields {
		desc := fields[i].Descriptor()
		if desc.Comment == "" {
			desc.Comment = c.prefix
		} else {
			desc.Comment = c.prefix + ": " + desc.Comment
		}
	}
	return fields
}
