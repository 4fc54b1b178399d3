package field

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// timeLayouts are tried in order when a driver returns times as text.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ToWire converts an application value to its wire representation. Nil
// stays nil.
func (d *Descriptor) ToWire(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if d.Converter != nil {
		return d.wrap(d.Converter.ToWire(v))
	}
	switch d.Info.Type {
	case TypeJSON:
		if raw, ok := v.(json.RawMessage); ok {
			return string(raw), nil
		}
		buf, err := json.Marshal(v)
		if err != nil {
			return nil, d.wrapErr(err)
		}
		return string(buf), nil
	case TypeUUID:
		switch u := v.(type) {
		case uuid.UUID:
			return u.String(), nil
		case [16]byte:
			return uuid.UUID(u).String(), nil
		}
	case TypeEnum:
		if err := d.checkEnum(v); err != nil {
			return nil, err
		}
		if s, ok := v.(fmt.Stringer); ok {
			return s.String(), nil
		}
	case TypeInt:
		if i, ok := v.(int); ok {
			return int64(i), nil
		}
	}
	return v, nil
}

// FromWire converts a scanned value to the field's application type. Nil
// stays nil.
func (d *Descriptor) FromWire(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if d.Converter != nil {
		return d.wrap(d.Converter.FromWire(v))
	}
	var (
		out any
		err error
	)
	switch d.Info.Type {
	case TypeBool:
		out, err = toBool(v)
	case TypeInt:
		var i int64
		i, err = toInt64(v)
		out = int(i)
	case TypeInt64:
		out, err = toInt64(v)
	case TypeFloat64:
		out, err = toFloat64(v)
	case TypeString, TypeEnum:
		out, err = toString(v)
	case TypeBytes:
		out, err = toBytes(v)
	case TypeTime:
		out, err = toTime(v)
	case TypeUUID:
		out, err = toUUID(v)
	case TypeJSON:
		out, err = d.decodeJSON(v)
	default:
		out = v
	}
	if err != nil {
		return nil, d.wrapErr(err)
	}
	return out, nil
}

func (d *Descriptor) wrap(v any, err error) (any, error) {
	if err != nil {
		return nil, d.wrapErr(err)
	}
	return v, nil
}

func (d *Descriptor) wrapErr(err error) error {
	return fmt.Errorf("field %q: %w", d.Name, err)
}

func (d *Descriptor) decodeJSON(v any) (any, error) {
	var data []byte
	switch v := v.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return nil, fmt.Errorf("unexpected JSON value %T", v)
	}
	if d.Info.RType == nil {
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	ptr := reflect.New(d.Info.RType)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}

func toBool(v any) (bool, error) {
	switch v := v.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case []byte:
		return strconv.ParseBool(string(v))
	case string:
		return strconv.ParseBool(v)
	}
	return false, fmt.Errorf("cannot convert %T to bool", v)
}

func toInt64(v any) (int64, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", v)
		}
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("value %v is not integral", v)
		}
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case string:
		return strconv.ParseInt(v, 10, 64)
	}
	return 0, fmt.Errorf("cannot convert %T to int64", v)
}

func toFloat64(v any) (float64, error) {
	switch v := v.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case []byte:
		return strconv.ParseFloat(string(v), 64)
	case string:
		return strconv.ParseFloat(v, 64)
	}
	i, err := toInt64(v)
	if err != nil {
		return 0, fmt.Errorf("cannot convert %T to float64", v)
	}
	return float64(i), nil
}

func toString(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	case int64, float64, bool:
		return fmt.Sprint(v), nil
	}
	return "", fmt.Errorf("cannot convert %T to string", v)
}

func toBytes(v any) ([]byte, error) {
	switch v := v.(type) {
	case []byte:
		return append([]byte(nil), v...), nil
	case string:
		return []byte(v), nil
	}
	return nil, fmt.Errorf("cannot convert %T to []byte", v)
}

func toTime(v any) (time.Time, error) {
	var s string
	switch v := v.(type) {
	case time.Time:
		return v, nil
	case []byte:
		s = string(v)
	case string:
		s = v
	case int64:
		return time.Unix(v, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to time.Time", v)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as time", s)
}

func toUUID(v any) (uuid.UUID, error) {
	switch v := v.(type) {
	case uuid.UUID:
		return v, nil
	case [16]byte:
		return uuid.UUID(v), nil
	case []byte:
		if len(v) == 16 {
			return uuid.FromBytes(v)
		}
		return uuid.ParseBytes(v)
	case string:
		return uuid.Parse(v)
	}
	return uuid.UUID{}, fmt.Errorf("cannot convert %T to uuid.UUID", v)
}
