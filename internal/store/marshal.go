package store

import (
	"fmt"

	"github.com/roach88/canopy/internal/ir"
)

// marshalValue converts a field value to canonical JSON TEXT for storage.
// Tombstones are stored as the literal null.
func marshalValue(v ir.Value) (string, error) {
	data, err := ir.MarshalCanonicalValue(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

// unmarshalValue parses stored canonical JSON TEXT back into a field value.
// Integers go through json.Number, so counters above 2^53 survive.
func unmarshalValue(data string) (ir.Value, error) {
	v, err := ir.UnmarshalValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}
