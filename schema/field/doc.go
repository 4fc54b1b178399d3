// Package field provides fluent builders for the fields of an entity
// definition.
//
// Field names follow database conventions (snake_case); the column defaults
// to the field name:
//
//	field.Int64("id")
//	field.String("email").ValidateTag("email").MaxLen(255)
//	field.Enum("status").Values("active", "suspended")
//	field.Time("created_at").DefaultExpr("CURRENT_TIMESTAMP")
//	field.Int64("revision").Generated()
//	field.JSON("labels", map[string]string{}).Nillable()
//
// # Conversion
//
// Every Descriptor converts values between their application form and the
// form handed to or scanned from the driver. The defaults cover the common
// driver quirks: integers returned for booleans, text returned for times,
// 16-byte or textual UUIDs, and JSON stored as text. A custom Converter
// replaces the default conversion entirely:
//
//	field.Other("amount", decimal.Decimal{}).
//		Convert(field.ConvertFuncs{From: parseDecimal})
//
// # Generated and default columns
//
// Generated fields are read but never written. Fields with a DefaultExpr are
// written as COALESCE(?, <expr>) so that a nil value falls back to the
// database default.
package field
