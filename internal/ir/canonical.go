package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// NormalizeOp NFC-normalizes every string in op.
// Two peers typing the same id with different Unicode compositions must agree
// on byte-wise ordering, which drives every tie-break in the tree.
func NormalizeOp(op Op) Op {
	op.ID = norm.NFC.String(op.ID)
	op.Key = norm.NFC.String(op.Key)
	op.Peer = norm.NFC.String(op.Peer)
	if s, ok := op.Value.(String); ok {
		op.Value = String(norm.NFC.String(string(s)))
	}
	op.Value = Normalize(op.Value)
	return op
}

// MarshalCanonical produces canonical JSON for an op.
// CRITICAL: This is the ONLY serialization that should be used for
// content-addressed identity computation.
//
// Key differences from the wire encoding:
//  1. Object keys in fixed sorted order (id, key, peer, timestamp, value)
//  2. No HTML escaping (< > & are NOT escaped)
//  3. Strings are NFC normalized
func MarshalCanonical(op Op) ([]byte, error) {
	op = NormalizeOp(op)

	var buf bytes.Buffer
	buf.WriteByte('{')

	fields := []struct {
		name  string
		value func() ([]byte, error)
	}{
		{"id", func() ([]byte, error) { return marshalCanonicalString(op.ID) }},
		{"key", func() ([]byte, error) { return marshalCanonicalString(op.Key) }},
		{"peer", func() ([]byte, error) { return marshalCanonicalString(op.Peer) }},
		{"timestamp", func() ([]byte, error) { return []byte(strconv.FormatInt(op.Timestamp, 10)), nil }},
		{"value", func() ([]byte, error) { return MarshalCanonicalValue(op.Value) }},
	}
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(f.name)
		buf.WriteString(`":`)
		b, err := f.value()
		if err != nil {
			return nil, fmt.Errorf("canonical %s: %w", f.name, err)
		}
		buf.Write(b)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalCanonicalValue produces canonical JSON for a single value.
func MarshalCanonicalValue(v Value) ([]byte, error) {
	switch val := Normalize(v).(type) {
	case Absent:
		return []byte("null"), nil
	case Int:
		return []byte(strconv.FormatInt(int64(val), 10)), nil
	case String:
		return marshalCanonicalString(string(val))
	default:
		return nil, fmt.Errorf("unsupported value type for canonical JSON: %T", v)
	}
}

// marshalCanonicalString produces a canonical JSON string with NFC normalization.
// Only control characters, backslash and quote are escaped; U+2028 and U+2029
// stay literal.
func marshalCanonicalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	result := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	return unescapeLineSeparators(result), nil
}

// unescapeLineSeparators turns the encoder's \u2028 and \u2029 escapes back into
// literal characters, leaving \\u2028 (an escaped backslash followed by text) alone.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] != '\\' || i+1 >= len(data) {
			out = append(out, data[i])
			continue
		}
		// Every backslash starts an escape pair; copy the pair unless it is a line separator escape.
		if data[i+1] == 'u' && i+6 <= len(data) && string(data[i+2:i+5]) == "202" &&
			(data[i+5] == '8' || data[i+5] == '9') {
			if data[i+5] == '8' {
				out = append(out, "\u2028"...)
			} else {
				out = append(out, "\u2029"...)
			}
			i += 5
			continue
		}
		out = append(out, data[i], data[i+1])
		i++
	}
	return out
}
