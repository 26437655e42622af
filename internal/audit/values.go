package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind tags the variant stored in a FieldValue.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
)

// FieldValue is a small tagged scalar: string, number, bool or null.
// Numbers are carried as json.Number so snapshots round-trip bit-exact
// without committing to a fixed row schema.
type FieldValue struct {
	Kind Kind
	Str  string
	Num  json.Number
	Bool bool
}

// Values is a row snapshot: field name to scalar value.
type Values map[string]FieldValue

// String builds a string FieldValue.
func String(s string) FieldValue { return FieldValue{Kind: KindString, Str: s} }

// Number builds a numeric FieldValue from its literal representation.
func Number(n json.Number) FieldValue { return FieldValue{Kind: KindNumber, Num: n} }

// Bool builds a boolean FieldValue.
func Bool(b bool) FieldValue { return FieldValue{Kind: KindBool, Bool: b} }

// Null builds a null FieldValue.
func Null() FieldValue { return FieldValue{Kind: KindNull} }

// ValuesFrom converts a plain map into a snapshot. Unsupported value types
// are stringified rather than dropped, so a sloppy caller still leaves a
// usable trail.
func ValuesFrom(m map[string]any) Values {
	if m == nil {
		return nil
	}
	v := make(Values, len(m))
	for key, raw := range m {
		switch t := raw.(type) {
		case nil:
			v[key] = Null()
		case string:
			v[key] = String(t)
		case bool:
			v[key] = Bool(t)
		case json.Number:
			v[key] = Number(t)
		case int:
			v[key] = Number(json.Number(strconv.FormatInt(int64(t), 10)))
		case int64:
			v[key] = Number(json.Number(strconv.FormatInt(t, 10)))
		case float64:
			v[key] = Number(json.Number(strconv.FormatFloat(t, 'g', -1, 64)))
		default:
			v[key] = String(fmt.Sprint(t))
		}
	}
	return v
}

// MarshalJSON renders the scalar in its native JSON form.
func (f FieldValue) MarshalJSON() ([]byte, error) {
	switch f.Kind {
	case KindString:
		return json.Marshal(f.Str)
	case KindNumber:
		if f.Num == "" {
			return []byte("0"), nil
		}
		return []byte(f.Num), nil
	case KindBool:
		return json.Marshal(f.Bool)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts any JSON scalar. Objects and arrays are rejected:
// snapshots are flat by contract.
func (f *FieldValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case nil:
		*f = Null()
	case string:
		*f = String(t)
	case bool:
		*f = Bool(t)
	case json.Number:
		*f = Number(t)
	default:
		return fmt.Errorf("audit: snapshot field must be a scalar, got %T", raw)
	}
	return nil
}

// Equal compares two snapshots field by field.
func (v Values) Equal(other Values) bool {
	if len(v) != len(other) {
		return false
	}
	for key, val := range v {
		if other[key] != val {
			return false
		}
	}
	return true
}
