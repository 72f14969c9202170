package ir

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Provenance tags where an applied operation came from.
type Provenance string

const (
	// ProvenanceLocal marks writes produced by this peer.
	ProvenanceLocal Provenance = "local"
	// ProvenanceRemote marks writes received from another peer (or echoed back).
	ProvenanceRemote Provenance = "remote"
)

// AttrPrefix marks field keys that hold node attributes rather than parent
// candidates. Keys without this prefix are parent ids.
const AttrPrefix = "@"

// NameKey holds a node's display name.
const NameKey = AttrPrefix + "name"

// IsAttrKey reports whether key names an attribute field.
func IsAttrKey(key string) bool {
	return strings.HasPrefix(key, AttrPrefix)
}

// Op is an intended write to one field of one entity.
//
// Wire format (one JSON object per op):
//
//	{"id": "n1", "key": "root", "value": 3, "peer": "a", "timestamp": 1700000000000}
//
// A null value is the tombstone.
type Op struct {
	ID        string
	Key       string
	Value     Value
	Peer      string
	Timestamp int64
}

// Field is the currently-winning write for one (entity, key) pair.
type Field struct {
	Peer      string
	Timestamp int64
	Value     Value
}

// FieldOf returns the Field an op would install.
func FieldOf(op Op) Field {
	return Field{Peer: op.Peer, Timestamp: op.Timestamp, Value: Normalize(op.Value)}
}

// String renders an op for logs.
func (op Op) String() string {
	return fmt.Sprintf("%s.%s=%s@%d/%s", op.ID, op.Key, FormatValue(op.Value), op.Timestamp, op.Peer)
}

type wireOp struct {
	ID        string          `json:"id"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Peer      string          `json:"peer"`
	Timestamp json.Number     `json:"timestamp"`
}

// MarshalJSON implements json.Marshaler using the wire format.
func (op Op) MarshalJSON() ([]byte, error) {
	val, err := MarshalValue(op.Value)
	if err != nil {
		return nil, fmt.Errorf("marshal op value: %w", err)
	}
	return marshalJSON(wireOp{
		ID:        op.ID,
		Key:       op.Key,
		Value:     val,
		Peer:      op.Peer,
		Timestamp: json.Number(fmt.Sprintf("%d", op.Timestamp)),
	})
}

// UnmarshalJSON implements json.Unmarshaler for the wire format.
// A missing value decodes as the tombstone. Timestamps must be integers.
func (op *Op) UnmarshalJSON(data []byte) error {
	var w wireOp
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	var val Value = Absent{}
	if len(w.Value) > 0 {
		v, err := UnmarshalValue(w.Value)
		if err != nil {
			return fmt.Errorf("op %q key %q: %w", w.ID, w.Key, err)
		}
		val = v
	}

	var ts int64
	if w.Timestamp != "" {
		n, err := w.Timestamp.Int64()
		if err != nil {
			return fmt.Errorf("op %q key %q: timestamp must be an integer: %s", w.ID, w.Key, w.Timestamp)
		}
		ts = n
	}

	*op = Op{
		ID:        w.ID,
		Key:       w.Key,
		Value:     val,
		Peer:      w.Peer,
		Timestamp: ts,
	}
	return nil
}

// DecodeOp parses one wire message and NFC-normalizes its strings.
func DecodeOp(data []byte) (Op, error) {
	var op Op
	if err := json.Unmarshal(data, &op); err != nil {
		return Op{}, fmt.Errorf("decode op: %w", err)
	}
	return NormalizeOp(op), nil
}

// EncodeOp produces the wire message for op.
func EncodeOp(op Op) ([]byte, error) {
	data, err := marshalJSON(op)
	if err != nil {
		return nil, fmt.Errorf("encode op: %w", err)
	}
	return data, nil
}
