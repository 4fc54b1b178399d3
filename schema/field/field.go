package field

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// A Type represents a field type.
type Type uint8

// List of field types.
const (
	TypeInvalid Type = iota
	TypeBool
	TypeTime
	TypeJSON
	TypeUUID
	TypeBytes
	TypeEnum
	TypeString
	TypeOther
	TypeInt
	TypeInt64
	TypeFloat64
	endTypes
)

var typeNames = [...]string{
	TypeInvalid: "invalid",
	TypeBool:    "bool",
	TypeTime:    "time.Time",
	TypeJSON:    "json.RawMessage",
	TypeUUID:    "uuid.UUID",
	TypeBytes:   "[]byte",
	TypeEnum:    "string",
	TypeString:  "string",
	TypeOther:   "other",
	TypeInt:     "int",
	TypeInt64:   "int64",
	TypeFloat64: "float64",
}

// String returns the string representation of a type.
func (t Type) String() string {
	if t < endTypes {
		return typeNames[t]
	}
	return typeNames[TypeInvalid]
}

// Numeric reports if the given type is a numeric type.
func (t Type) Numeric() bool {
	return t >= TypeInt && t < endTypes
}

// Valid reports if the given type is a known type.
func (t Type) Valid() bool {
	return t > TypeInvalid && t < endTypes
}

// TypeInfo holds the information regarding field type.
type TypeInfo struct {
	Type Type
	// RType is the Go type values decode into, for JSON and Other fields.
	RType reflect.Type
}

// String returns the Go type name of the field.
func (t TypeInfo) String() string {
	if t.RType != nil {
		return t.RType.String()
	}
	return t.Type.String()
}

// Converter maps values between their application and wire representation.
type Converter interface {
	// ToWire converts an application value to a value the driver accepts.
	ToWire(v any) (any, error)
	// FromWire converts a scanned value to its application representation.
	FromWire(v any) (any, error)
}

// ConvertFuncs adapts a pair of functions to a Converter. A nil function
// passes values through.
type ConvertFuncs struct {
	To   func(any) (any, error)
	From func(any) (any, error)
}

// ToWire implements Converter.
func (c ConvertFuncs) ToWire(v any) (any, error) {
	if c.To == nil {
		return v, nil
	}
	return c.To(v)
}

// FromWire implements Converter.
func (c ConvertFuncs) FromWire(v any) (any, error) {
	if c.From == nil {
		return v, nil
	}
	return c.From(v)
}

// A Descriptor for field configuration.
type Descriptor struct {
	Name        string            // field name.
	Column      string            // column name, defaults to Name.
	Info        *TypeInfo         // field type info.
	Nillable    bool              // nillable field.
	Generated   bool              // computed by the database, never written.
	DefaultExpr string            // SQL default applied when the value is nil.
	Enums       []string          // enum values.
	Converter   Converter         // custom value conversion.
	Validators  []func(any) error // validator functions.
	Tag         string            // go-playground/validator tag.
	Comment     string            // field comment.
	Err         error
}

// ColumnName returns the column the field maps to.
func (d *Descriptor) ColumnName() string {
	if d.Column != "" {
		return d.Column
	}
	return d.Name
}

var validate = validator.New()

// Validate runs the field validators on v. Nil values are left to the
// database constraints.
func (d *Descriptor) Validate(v any) error {
	if v == nil {
		return nil
	}
	if d.Info.Type == TypeEnum {
		if err := d.checkEnum(v); err != nil {
			return err
		}
	}
	for _, fn := range d.Validators {
		if err := fn(v); err != nil {
			return err
		}
	}
	if d.Tag != "" {
		if err := validate.Var(v, d.Tag); err != nil {
			return err
		}
	}
	return nil
}

func (d *Descriptor) checkEnum(v any) error {
	s, ok := v.(string)
	if !ok {
		if sv, ok := v.(fmt.Stringer); ok {
			s = sv.String()
		} else {
			return fmt.Errorf("field %q: enum value must be a string, got %T", d.Name, v)
		}
	}
	if !slices.Contains(d.Enums, s) {
		return fmt.Errorf("field %q: invalid enum value %q", d.Name, s)
	}
	return nil
}

// Builder is a fluent builder of field descriptors.
type Builder struct {
	desc    *Descriptor
	checked bool
}

func newBuilder(name string, t Type) *Builder {
	return &Builder{desc: &Descriptor{Name: name, Info: &TypeInfo{Type: t}}}
}

// Bool returns a new Field with type bool.
func Bool(name string) *Builder { return newBuilder(name, TypeBool) }

// Int returns a new Field with type int.
func Int(name string) *Builder { return newBuilder(name, TypeInt) }

// Int64 returns a new Field with type int64.
func Int64(name string) *Builder { return newBuilder(name, TypeInt64) }

// Float64 returns a new Field with type float64.
func Float64(name string) *Builder { return newBuilder(name, TypeFloat64) }

// String returns a new Field with type string.
func String(name string) *Builder { return newBuilder(name, TypeString) }

// Text is an alias of String.
func Text(name string) *Builder { return newBuilder(name, TypeString) }

// Bytes returns a new Field with type bytes/buffer.
func Bytes(name string) *Builder { return newBuilder(name, TypeBytes) }

// Time returns a new Field with type timestamp.
func Time(name string) *Builder { return newBuilder(name, TypeTime) }

// UUID returns a new Field with type uuid.UUID.
func UUID(name string) *Builder { return newBuilder(name, TypeUUID) }

// Enum returns a new Field with type enum. Use Values to set the allowed
// values.
func Enum(name string) *Builder { return newBuilder(name, TypeEnum) }

// JSON returns a new Field stored as JSON. Scanned values are decoded into a
// new value of typ's type.
//
//	field.JSON("labels", map[string]string{})
func JSON(name string, typ any) *Builder {
	b := newBuilder(name, TypeJSON)
	if typ != nil {
		b.desc.Info.RType = reflect.TypeOf(typ)
	}
	return b
}

// Other returns a new Field of a driver-supported type the package does not
// know about. Values pass through unless a Converter is set.
func Other(name string, typ any) *Builder {
	b := newBuilder(name, TypeOther)
	if typ != nil {
		b.desc.Info.RType = reflect.TypeOf(typ)
	}
	return b
}

// Column sets the column name of the field.
func (b *Builder) Column(name string) *Builder {
	b.desc.Column = name
	return b
}

// Nillable indicates that the column accepts NULL.
func (b *Builder) Nillable() *Builder {
	b.desc.Nillable = true
	return b
}

// Generated marks a column computed by the database. It is read but never
// written.
func (b *Builder) Generated() *Builder {
	b.desc.Generated = true
	return b
}

// DefaultExpr sets an SQL expression used when the written value is nil.
//
//	field.Time("created_at").DefaultExpr("CURRENT_TIMESTAMP")
func (b *Builder) DefaultExpr(expr string) *Builder {
	b.desc.DefaultExpr = expr
	return b
}

// Values sets the allowed values of an enum field.
func (b *Builder) Values(values ...string) *Builder {
	if b.desc.Info.Type != TypeEnum {
		b.desc.Err = errors.Join(b.desc.Err, fmt.Errorf("field %q: Values is only valid for enum fields", b.desc.Name))
		return b
	}
	b.desc.Enums = append(b.desc.Enums, values...)
	return b
}

// Convert sets a custom value converter.
func (b *Builder) Convert(c Converter) *Builder {
	b.desc.Converter = c
	return b
}

// Comment sets the comment of the field.
func (b *Builder) Comment(c string) *Builder {
	b.desc.Comment = c
	return b
}

// Validate adds a validator for the field values.
func (b *Builder) Validate(fn func(any) error) *Builder {
	b.desc.Validators = append(b.desc.Validators, fn)
	return b
}

// ValidateTag validates values with a go-playground/validator tag.
//
//	field.String("email").ValidateTag("email")
func (b *Builder) ValidateTag(tag string) *Builder {
	b.desc.Tag = tag
	return b
}

// Min adds a minimum value validator for numeric fields.
func (b *Builder) Min(i float64) *Builder {
	return b.numeric("Min", func(f float64) error {
		if f < i {
			return errors.New("value out of range")
		}
		return nil
	})
}

// Max adds a maximum value validator for numeric fields.
func (b *Builder) Max(i float64) *Builder {
	return b.numeric("Max", func(f float64) error {
		if f > i {
			return errors.New("value out of range")
		}
		return nil
	})
}

// Range adds a range validator for numeric fields.
func (b *Builder) Range(lo, hi float64) *Builder {
	return b.numeric("Range", func(f float64) error {
		if f < lo || f > hi {
			return errors.New("value out of range")
		}
		return nil
	})
}

// Positive adds a minimum value validator with the value of 1.
func (b *Builder) Positive() *Builder { return b.Min(1) }

// NonNegative adds a minimum value validator with the value of 0.
func (b *Builder) NonNegative() *Builder { return b.Min(0) }

func (b *Builder) numeric(name string, fn func(float64) error) *Builder {
	if !b.desc.Info.Type.Numeric() {
		b.desc.Err = errors.Join(b.desc.Err, fmt.Errorf("field %q: %s is only valid for numeric fields", b.desc.Name, name))
		return b
	}
	return b.Validate(func(v any) error {
		f, err := toFloat64(v)
		if err != nil {
			return err
		}
		return fn(f)
	})
}

// NotEmpty adds a length validator for string and bytes fields.
func (b *Builder) NotEmpty() *Builder {
	return b.length("NotEmpty", func(n int) error {
		if n == 0 {
			return errors.New("value is less than the required length")
		}
		return nil
	})
}

// MaxLen adds a length validator for string and bytes fields. Strings are
// measured in runes.
func (b *Builder) MaxLen(i int) *Builder {
	return b.length("MaxLen", func(n int) error {
		if n > i {
			return errors.New("value is greater than the required length")
		}
		return nil
	})
}

// Match adds a regex matcher validator for string fields.
func (b *Builder) Match(re *regexp.Regexp) *Builder {
	if t := b.desc.Info.Type; t != TypeString && t != TypeEnum {
		b.desc.Err = errors.Join(b.desc.Err, fmt.Errorf("field %q: Match is only valid for string fields", b.desc.Name))
		return b
	}
	return b.Validate(func(v any) error {
		if s, ok := v.(string); ok && !re.MatchString(s) {
			return errors.New("value does not match validation")
		}
		return nil
	})
}

func (b *Builder) length(name string, fn func(int) error) *Builder {
	if t := b.desc.Info.Type; t != TypeString && t != TypeBytes {
		b.desc.Err = errors.Join(b.desc.Err, fmt.Errorf("field %q: %s is only valid for string and bytes fields", b.desc.Name, name))
		return b
	}
	return b.Validate(func(v any) error {
		switch v := v.(type) {
		case string:
			return fn(utf8.RuneCountInString(v))
		case []byte:
			return fn(len(v))
		}
		return nil
	})
}

// Descriptor implements the schema.Field interface by returning its
// descriptor.
func (b *Builder) Descriptor() *Descriptor {
	if b.checked {
		return b.desc
	}
	b.checked = true
	if b.desc.Name == "" {
		b.desc.Err = errors.Join(b.desc.Err, errors.New("field: empty field name"))
	}
	if b.desc.Info.Type == TypeEnum && len(b.desc.Enums) == 0 {
		b.desc.Err = errors.Join(b.desc.Err, fmt.Errorf("field %q: missing enum values", b.desc.Name))
	}
	return b.desc
}
