package sql

import "time"

// Field is a typed column name that builds conditions with values of type T.
// It is meant to be declared once per entity field:
//
//	var Age = sql.IntField("age")
//	q.Where(Age.GTE(18))
type Field[T any] string

// Name returns the field name.
func (f Field[T]) Name() string { return string(f) }

// C returns the column expression of the field, qualified by t when t is
// not nil.
func (f Field[T]) C(t *TableRef) *Expr {
	if t == nil {
		return C(string(f))
	}
	return t.C(string(f))
}

// EQ returns a condition that checks if the field equals the given value.
func (f Field[T]) EQ(v T) *Expr { return EQ(string(f), v) }

// NEQ returns a condition that checks if the field does not equal the given value.
func (f Field[T]) NEQ(v T) *Expr { return NEQ(string(f), v) }

// In returns a condition that checks if the field value is in the given list.
func (f Field[T]) In(vs ...T) *Expr { return InValues(string(f), vs...) }

// NotIn returns a condition that checks if the field value is not in the given list.
func (f Field[T]) NotIn(vs ...T) *Expr { return NotInValues(string(f), vs...) }

// GT returns a condition that checks if the field is greater than the given value.
func (f Field[T]) GT(v T) *Expr { return GT(string(f), v) }

// GTE returns a condition that checks if the field is greater than or equal to the given value.
func (f Field[T]) GTE(v T) *Expr { return GTE(string(f), v) }

// LT returns a condition that checks if the field is less than the given value.
func (f Field[T]) LT(v T) *Expr { return LT(string(f), v) }

// LTE returns a condition that checks if the field is less than or equal to the given value.
func (f Field[T]) LTE(v T) *Expr { return LTE(string(f), v) }

// Between returns a condition that checks if the field lies in [lo, hi].
func (f Field[T]) Between(lo, hi T) *Expr { return Between(string(f), lo, hi) }

// IsNull returns a condition that checks if the field is NULL.
func (f Field[T]) IsNull() *Expr { return IsNull(string(f)) }

// NotNull returns a condition that checks if the field is not NULL.
func (f Field[T]) NotNull() *Expr { return NotNull(string(f)) }

type (
	// IntField is a typed int column.
	IntField = Field[int]
	// Int64Field is a typed int64 column.
	Int64Field = Field[int64]
	// Float64Field is a typed float64 column.
	Float64Field = Field[float64]
	// BoolField is a typed bool column.
	BoolField = Field[bool]
	// TimeField is a typed time column.
	TimeField = Field[time.Time]
)

// StringField is a typed string column with the string matching helpers.
type StringField string

// Name returns the field name.
func (f StringField) Name() string { return string(f) }

func (f StringField) typed() Field[string] { return Field[string](f) }

// C returns the column expression of the field, qualified by t when t is
// not nil.
func (f StringField) C(t *TableRef) *Expr { return f.typed().C(t) }

// EQ returns a condition that checks if the field equals the given value.
func (f StringField) EQ(v string) *Expr { return f.typed().EQ(v) }

// NEQ returns a condition that checks if the field does not equal the given value.
func (f StringField) NEQ(v string) *Expr { return f.typed().NEQ(v) }

// In returns a condition that checks if the field value is in the given list.
func (f StringField) In(vs ...string) *Expr { return f.typed().In(vs...) }

// NotIn returns a condition that checks if the field value is not in the given list.
func (f StringField) NotIn(vs ...string) *Expr { return f.typed().NotIn(vs...) }

// GT returns a condition that checks if the field is greater than the given value.
func (f StringField) GT(v string) *Expr { return f.typed().GT(v) }

// LT returns a condition that checks if the field is less than the given value.
func (f StringField) LT(v string) *Expr { return f.typed().LT(v) }

// Contains returns a condition that checks if the field contains the given substring.
func (f StringField) Contains(v string) *Expr { return Contains(string(f), v) }

// ContainsFold returns a condition that checks if the field contains the given substring (case-insensitive).
func (f StringField) ContainsFold(v string) *Expr { return ContainsFold(string(f), v) }

// HasPrefix returns a condition that checks if the field has the given prefix.
func (f StringField) HasPrefix(v string) *Expr { return HasPrefix(string(f), v) }

// HasSuffix returns a condition that checks if the field has the given suffix.
func (f StringField) HasSuffix(v string) *Expr { return HasSuffix(string(f), v) }

// EqualFold returns a condition that checks if the field equals the given value (case-insensitive).
func (f StringField) EqualFold(v string) *Expr { return EqualFold(string(f), v) }

// IsNull returns a condition that checks if the field is NULL.
func (f StringField) IsNull() *Expr { return IsNull(string(f)) }

// NotNull returns a condition that checks if the field is not NULL.
func (f StringField) NotNull() *Expr { return NotNull(string(f)) }

// EnumField is a typed enum column. T is the enum type.
type EnumField[T ~string] string

// Name returns the field name.
func (f EnumField[T]) Name() string { return string(f) }

// EQ returns a condition that checks if the field equals the given value.
func (f EnumField[T]) EQ(v T) *Expr { return EQ(string(f), v) }

// NEQ returns a condition that checks if the field does not equal the given value.
func (f EnumField[T]) NEQ(v T) *Expr { return NEQ(string(f), v) }

// In returns a condition that checks if the field value is in the given list.
func (f EnumField[T]) In(vs ...T) *Expr { return InValues(string(f), vs...) }

// IsNull returns a condition that checks if the field is NULL.
func (f EnumField[T]) IsNull() *Expr { return IsNull(string(f)) }
