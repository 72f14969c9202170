package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Value is a sealed interface representing the payload of a field.
// Only Absent, Int, and String implement this.
// NO Float - floats are forbidden (they break cross-peer determinism).
type Value interface {
	irValue() // Sealed - only these types implement it
}

// Absent is the tombstone marker: a write of Absent means "unset this field".
// It encodes as JSON null on the wire.
type Absent struct{}

func (Absent) irValue() {}

// MarshalJSON implements json.Marshaler for Absent.
func (Absent) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// Int is a numeric field value. Edge counters are always Int.
type Int int64

func (Int) irValue() {}

// String is a textual field value, used for attributes such as names.
type String string

func (String) irValue() {}

// IsAbsent reports whether v is the tombstone. A nil Value is treated as Absent.
func IsAbsent(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Absent)
	return ok
}

// Normalize maps a nil Value to Absent so callers never have to nil-check.
func Normalize(v Value) Value {
	if v == nil {
		return Absent{}
	}
	return v
}

// Equal reports whether two values are identical. nil and Absent are equal.
func Equal(a, b Value) bool {
	a, b = Normalize(a), Normalize(b)
	switch av := a.(type) {
	case Absent:
		_, ok := b.(Absent)
		return ok
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	default:
		return false
	}
}

// Compare orders values totally: Absent < Int < String, then by natural
// order within a kind. Used only to break exact (timestamp, peer) ties.
func Compare(a, b Value) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch av := Normalize(a).(type) {
	case Int:
		bv := b.(Int)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	case String:
		bv := b.(String)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	}
	return 0
}

func rank(v Value) int {
	switch Normalize(v).(type) {
	case Int:
		return 1
	case String:
		return 2
	default:
		return 0
	}
}

// FormatValue renders a value for logs and text output.
func FormatValue(v Value) string {
	switch val := Normalize(v).(type) {
	case Int:
		return strconv.FormatInt(int64(val), 10)
	case String:
		return strconv.Quote(string(val))
	default:
		return "null"
	}
}

// MarshalValue marshals a Value to JSON bytes.
// Uses type-switch dispatch to handle all Value types correctly. Strings are
// not HTML-escaped, matching what JSON.stringify peers emit.
func MarshalValue(v Value) ([]byte, error) {
	switch val := Normalize(v).(type) {
	case Absent:
		return []byte("null"), nil
	case Int:
		return []byte(strconv.FormatInt(int64(val), 10)), nil
	case String:
		return marshalJSON(string(val))
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}

// UnmarshalValue decodes a JSON value into the appropriate Value type.
// null becomes Absent. Floats, booleans, arrays and objects are rejected.
func UnmarshalValue(data []byte) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case 'n':
		if string(data) != "null" {
			return nil, fmt.Errorf("invalid JSON value: %s", data)
		}
		return Absent{}, nil

	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return String(s), nil

	case 't', 'f':
		return nil, fmt.Errorf("booleans are not valid field values: %s", data)

	case '[', '{':
		return nil, fmt.Errorf("composite values are not valid field values: %.32s", data)

	default:
		// Must be a number - int64 only
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var n json.Number
		if err := dec.Decode(&n); err != nil {
			return nil, err
		}
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("floats not allowed as field values: %s", data)
		}
		return Int(i), nil
	}
}

// marshalJSON is json.Marshal without HTML escaping.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
