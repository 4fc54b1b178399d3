package field_test

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/quarry/schema/field"
)

func TestInt(t *testing.T) {
	fd := field.Int("age").
		Positive().
		Comment("comment").
		Descriptor()
	assert.Equal(t, "age", fd.Name)
	assert.Equal(t, "age", fd.ColumnName())
	assert.Equal(t, field.TypeInt, fd.Info.Type)
	assert.Len(t, fd.Validators, 1)
	assert.Equal(t, "comment", fd.Comment)
	assert.NoError(t, fd.Err)
	assert.NoError(t, fd.Validate(1))
	assert.Error(t, fd.Validate(0))

	fd = field.Int64("age").Range(20, 40).Nillable().Column("user_age").Descriptor()
	assert.True(t, fd.Nillable)
	assert.Equal(t, "user_age", fd.ColumnName())
	assert.NoError(t, fd.Validate(int64(30)))
	assert.Error(t, fd.Validate(int64(41)))
	assert.NoError(t, fd.Validate(nil))

	fd = field.String("name").Min(1).Descriptor()
	assert.Error(t, fd.Err, "numeric validator on a string field")
}

func TestString(t *testing.T) {
	fd := field.String("name").
		NotEmpty().
		MaxLen(3).
		Match(regexp.MustCompile("^[a-zé]+$")).
		Descriptor()
	require.NoError(t, fd.Err)
	assert.Len(t, fd.Validators, 3)
	assert.NoError(t, fd.Validate("abé"), "length is counted in runes")
	assert.Error(t, fd.Validate(""))
	assert.Error(t, fd.Validate("abcd"))
	assert.Error(t, fd.Validate("AB"))

	fd = field.String("email").ValidateTag("email").Descriptor()
	assert.NoError(t, fd.Validate("a8m@example.com"))
	assert.Error(t, fd.Validate("a8m"))

	fd = field.Int("n").MaxLen(1).Descriptor()
	assert.Error(t, fd.Err)
}

func TestEnum(t *testing.T) {
	fd := field.Enum("status").Values("active", "suspended").Descriptor()
	require.NoError(t, fd.Err)
	assert.Equal(t, []string{"active", "suspended"}, fd.Enums)
	assert.NoError(t, fd.Validate("active"))
	assert.Error(t, fd.Validate("deleted"))

	v, err := fd.ToWire("suspended")
	require.NoError(t, err)
	assert.Equal(t, "suspended", v)
	_, err = fd.ToWire("deleted")
	assert.Error(t, err)

	v, err = fd.FromWire([]byte("active"))
	require.NoError(t, err)
	assert.Equal(t, "active", v)

	assert.Error(t, field.Enum("status").Descriptor().Err, "missing values")
	assert.Error(t, field.String("s").Values("a").Descriptor().Err)
}

func TestDescriptorIdempotent(t *testing.T) {
	b := field.Enum("status")
	err1 := b.Descriptor().Err
	err2 := b.Descriptor().Err
	assert.Equal(t, err1.Error(), err2.Error())
}

func TestMarkers(t *testing.T) {
	fd := field.Time("created_at").DefaultExpr("CURRENT_TIMESTAMP").Descriptor()
	assert.Equal(t, "CURRENT_TIMESTAMP", fd.DefaultExpr)
	assert.False(t, fd.Generated)
	fd = field.Int64("revision").Generated().Descriptor()
	assert.True(t, fd.Generated)
}

func TestFromWire(t *testing.T) {
	id := uuid.New()
	ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		fd   *field.Descriptor
		in   any
		want any
	}{
		{"bool_int", field.Bool("b").Descriptor(), int64(1), true},
		{"bool_bytes", field.Bool("b").Descriptor(), []byte("false"), false},
		{"int_bytes", field.Int("i").Descriptor(), []byte("42"), 42},
		{"int_int64", field.Int("i").Descriptor(), int64(7), 7},
		{"int64_float", field.Int64("i").Descriptor(), float64(3), int64(3)},
		{"float_int", field.Float64("f").Descriptor(), int64(2), float64(2)},
		{"float_bytes", field.Float64("f").Descriptor(), []byte("1.5"), 1.5},
		{"string_bytes", field.String("s").Descriptor(), []byte("hi"), "hi"},
		{"bytes", field.Bytes("b").Descriptor(), []byte{1, 2}, []byte{1, 2}},
		{"time", field.Time("t").Descriptor(), ts, ts},
		{"time_text", field.Time("t").Descriptor(), "2024-03-01 10:30:00", ts},
		{"time_rfc3339", field.Time("t").Descriptor(), []byte("2024-03-01T10:30:00Z"), ts},
		{"uuid_text", field.UUID("u").Descriptor(), id.String(), id},
		{"uuid_bytes", field.UUID("u").Descriptor(), id[:], id},
		{"json_map", field.JSON("j", map[string]int{}).Descriptor(), []byte(`{"a":1}`), map[string]int{"a": 1}},
		{"json_any", field.JSON("j", nil).Descriptor(), `[1]`, []any{float64(1)}},
		{"nil", field.Int("i").Descriptor(), nil, nil},
		{"other", field.Other("o", nil).Descriptor(), struct{}{}, struct{}{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fd.FromWire(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := field.Int("i").Descriptor().FromWire([]byte("x"))
	assert.ErrorContains(t, err, `field "i"`)
	_, err = field.Int64("i").Descriptor().FromWire(1.5)
	assert.Error(t, err)
	_, err = field.UUID("u").Descriptor().FromWire(3.2)
	assert.Error(t, err)
}

func TestToWire(t *testing.T) {
	id := uuid.New()
	v, err := field.UUID("u").Descriptor().ToWire(id)
	require.NoError(t, err)
	assert.Equal(t, id.String(), v)

	v, err = field.JSON("j", map[string]int{}).Descriptor().ToWire(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, v.(string))

	v, err = field.Int("i").Descriptor().ToWire(3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	v, err = field.String("s").Descriptor().ToWire(nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestConverter(t *testing.T) {
	type cents int64
	fd := field.Other("price", cents(0)).Convert(field.ConvertFuncs{
		To: func(v any) (any, error) { return int64(v.(cents)), nil },
		From: func(v any) (any, error) {
			i, ok := v.(int64)
			if !ok {
				return nil, errors.New("not an integer")
			}
			return cents(i), nil
		},
	}).Descriptor()
	assert.Equal(t, "field_test.cents", fd.Info.String())
	v, err := fd.ToWire(cents(250))
	require.NoError(t, err)
	assert.Equal(t, int64(250), v)
	v, err = fd.FromWire(int64(99))
	require.NoError(t, err)
	assert.Equal(t, cents(99), v)
	_, err = fd.FromWire("x")
	assert.ErrorContains(t, err, "not an integer")

	v, err = field.ConvertFuncs{}.FromWire(1)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestType(t *testing.T) {
	assert.Equal(t, "int64", field.TypeInt64.String())
	assert.Equal(t, "invalid", field.Type(200).String())
	assert.True(t, field.TypeFloat64.Numeric())
	assert.False(t, field.TypeString.Numeric())
	assert.True(t, field.TypeUUID.Valid())
	assert.False(t, field.TypeInvalid.Valid())
}
