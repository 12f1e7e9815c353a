package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTripsRegisterNode(t *testing.T) {
	env, err := Encode(TagRegisterNode, RegisterNode{NodeID: "node-1"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteEnvelope(&buf, env))

	got, err := ReadEnvelope(&buf)
	require.NoError(t, err)
	assert.Equal(t, TagRegisterNode, got.Tag)

	decoded, err := Decode(got)
	require.NoError(t, err)
	reg, ok := decoded.(*RegisterNode)
	require.True(t, ok)
	assert.Equal(t, "node-1", reg.NodeID)
}

func TestReadEnvelopeRejectsUnknownTag(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(99)
	buf.Write([]byte{0, 0, 0, 0})

	_, err := ReadEnvelope(&buf)
	assert.Error(t, err)
}

func TestReadEnvelopeRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(TagAck))
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})

	_, err := ReadEnvelope(&buf)
	assert.Error(t, err)
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	_, err := Decode(Envelope{Tag: Tag(0), Payload: []byte("{}")})
	assert.Error(t, err)
}

func TestNewRequestIDIsUnique(t *testing.T) {
	a := NewRequestID()
	b := NewRequestID()
	assert.NotEqual(t, a, b)
}
