package wizard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Value is a single draft field value. The zero Value is "unset".
type Value struct {
	Kind FieldType
	Str  string
	Num  float64
	List []string
}

// String builds a string (or enum) value.
func String(s string) Value { return Value{Kind: FieldString, Str: s} }

// Number builds a numeric value.
func Number(n float64) Value { return Value{Kind: FieldNumber, Num: n} }

// List builds a list value.
func List(items ...string) Value {
	out := make([]string, len(items))
	copy(out, items)
	return Value{Kind: FieldList, List: out}
}

// IsSet reports whether a value has been assigned.
func (v Value) IsSet() bool { return v.Kind != "" }

// Text renders the value for messages and flat storage.
func (v Value) Text() string {
	switch v.Kind {
	case FieldString, FieldEnum:
		return v.Str
	case FieldNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case FieldList:
		return strings.Join(v.List, ", ")
	}
	return ""
}

func (v Value) clone() Value {
	if v.List != nil {
		v.List = append([]string(nil), v.List...)
	}
	return v
}

// MarshalJSON encodes unset as null, strings, numbers and lists natively.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case FieldString, FieldEnum:
		return json.Marshal(v.Str)
	case FieldNumber:
		return json.Marshal(v.Num)
	case FieldList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts null, a string, a number or an array of strings.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case '[':
		var items []string
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("list values must be strings: %w", err)
		}
		*v = List(items...)
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("unsupported value %s", string(data))
		}
		*v = Number(n)
	}
	return nil
}

// Section maps field names to values.
type Section map[string]Value

func (s Section) clone() Section {
	out := make(Section, len(s))
	for k, v := range s {
		out[k] = v.clone()
	}
	return out
}
