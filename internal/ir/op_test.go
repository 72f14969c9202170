package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOp_MarshalWireFormat(t *testing.T) {
	op := Op{ID: "n1", Key: "root", Value: Int(3), Peer: "a", Timestamp: 1700000000000}

	data, err := json.Marshal(op)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"n1","key":"root","value":3,"peer":"a","timestamp":1700000000000}`, string(data))
}

func TestOp_MarshalTombstone(t *testing.T) {
	op := Op{ID: "n1", Key: "root", Peer: "a", Timestamp: 5}

	data, err := json.Marshal(op)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"n1","key":"root","value":null,"peer":"a","timestamp":5}`, string(data))
}

func TestEncodeOp_DoesNotEscapeHTML(t *testing.T) {
	op := Op{ID: "n1", Key: NameKey, Value: String("<b> & co"), Peer: "a", Timestamp: 9}

	data, err := EncodeOp(op)
	require.NoError(t, err)
	assert.Equal(t, `{"id":"n1","key":"@name","value":"<b> & co","peer":"a","timestamp":9}`, string(data))

	back, err := DecodeOp(data)
	require.NoError(t, err)
	assert.Equal(t, op, back)
}

func TestOp_Unmarshal(t *testing.T) {
	var op Op
	err := json.Unmarshal([]byte(`{"id":"n1","key":"@name","value":"Docs","peer":"b","timestamp":42}`), &op)
	require.NoError(t, err)

	assert.Equal(t, Op{ID: "n1", Key: "@name", Value: String("Docs"), Peer: "b", Timestamp: 42}, op)
}

func TestOp_UnmarshalMissingValueIsTombstone(t *testing.T) {
	var op Op
	err := json.Unmarshal([]byte(`{"id":"n1","key":"p","peer":"b","timestamp":1}`), &op)
	require.NoError(t, err)
	assert.True(t, IsAbsent(op.Value))
}

func TestOp_UnmarshalRejectsFloatValue(t *testing.T) {
	var op Op
	err := json.Unmarshal([]byte(`{"id":"n1","key":"p","value":1.5,"peer":"b","timestamp":1}`), &op)
	assert.Error(t, err)
}

func TestOp_UnmarshalRejectsFloatTimestamp(t *testing.T) {
	var op Op
	err := json.Unmarshal([]byte(`{"id":"n1","key":"p","value":1,"peer":"b","timestamp":1.25}`), &op)
	assert.Error(t, err)
}

func TestDecodeOp_NormalizesNFC(t *testing.T) {
	// "e" + combining acute accent (NFD) must decode to the precomposed form.
	op, err := DecodeOp([]byte(`{"id":"cafe\u0301","key":"root","value":0,"peer":"a","timestamp":1}`))
	require.NoError(t, err)
	assert.Equal(t, "caf\u00e9", op.ID)
}

func TestDecodeOp_Malformed(t *testing.T) {
	_, err := DecodeOp([]byte(`not json`))
	assert.Error(t, err)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	ops := []Op{
		{ID: "x", Key: "y", Value: Int(0), Peer: "p", Timestamp: 1},
		{ID: "x", Key: NameKey, Value: String("hello"), Peer: "p", Timestamp: 2},
		{ID: "x", Key: "y", Value: Absent{}, Peer: "p", Timestamp: 3},
	}
	for _, op := range ops {
		data, err := EncodeOp(op)
		require.NoError(t, err)
		got, err := DecodeOp(data)
		require.NoError(t, err)
		assert.Equal(t, op, got)
	}
}

func TestIsAttrKey(t *testing.T) {
	assert.True(t, IsAttrKey(NameKey))
	assert.True(t, IsAttrKey("@color"))
	assert.False(t, IsAttrKey("root"))
	assert.False(t, IsAttrKey(""))
}

func TestFieldOf(t *testing.T) {
	f := FieldOf(Op{ID: "a", Key: "b", Peer: "p", Timestamp: 9})
	assert.Equal(t, Field{Peer: "p", Timestamp: 9, Value: Absent{}}, f)
}
