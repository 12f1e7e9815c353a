package transport

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/arken-sh/arken/pkg/errkind"
)

// Tag identifies which variant of the closed message union an envelope
// carries. The union is closed: a tag this package does not know is a
// protocol error, not an extension point.
type Tag uint8

const (
	TagRegisterNode Tag = iota + 1
	TagUserRequest
	TagCreatePod
	TagDeletePod
	TagGetNodeCount
	TagAck
	TagNodeCount
)

// RegisterNode is a worker's first message on a new connection.
type RegisterNode struct {
	NodeID string `json:"node_id"`
}

// UserRequest is a user's first message on a new connection.
type UserRequest struct {
	RequestID string          `json:"request_id"`
	Operation string          `json:"operation"`
	Body      json.RawMessage `json:"body"`
}

// CreatePod asks the scheduler to admit a new pod.
type CreatePod struct {
	RequestID string          `json:"request_id"`
	Pod       json.RawMessage `json:"pod"`
}

// DeletePod asks the scheduler to remove a pod by name.
type DeletePod struct {
	RequestID string `json:"request_id"`
	PodName   string `json:"pod_name"`
}

// GetNodeCount asks the server how many nodes are currently registered.
type GetNodeCount struct {
	RequestID string `json:"request_id"`
}

// Ack acknowledges a request that produces no other payload.
type Ack struct {
	RequestID string `json:"request_id"`
}

// NodeCount answers GetNodeCount.
type NodeCount struct {
	RequestID string `json:"request_id"`
	Count     int    `json:"count"`
}

// Envelope is one length-prefixed, tagged message on the wire:
// [1-byte tag][4-byte big-endian length][length bytes of JSON payload].
// JSON (not a binary codec) is used for the payload per the teacher's own
// preference for JSON over the wire elsewhere in this module's ambient
// stack (clientaccess's token format, the subnet registry's LeaseAttrs);
// only the envelope framing itself is binary, matching spec.md §6's
// "length-prefixed, binary-serialized envelopes" requirement at the framing
// layer.
type Envelope struct {
	Tag     Tag
	Payload []byte
}

// maxPayloadSize bounds a single envelope's payload, guarding the reader
// against a corrupt or hostile length prefix turning into an unbounded
// allocation.
const maxPayloadSize = 16 << 20

// Encode renders v (one of the closed union's payload types) as an Envelope
// ready for WriteEnvelope.
func Encode(tag Tag, v interface{}) (Envelope, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, errors.Wrap(err, "marshaling transport payload")
	}
	return Envelope{Tag: tag, Payload: b}, nil
}

// WriteEnvelope writes one framed message to w.
func WriteEnvelope(w io.Writer, env Envelope) error {
	var header [5]byte
	header[0] = byte(env.Tag)
	binary.BigEndian.PutUint32(header[1:], uint32(len(env.Payload)))
	if _, err := w.Write(header[:]); err != nil {
		return errors.Wrap(err, "writing envelope header")
	}
	if _, err := w.Write(env.Payload); err != nil {
		return errors.Wrap(err, "writing envelope payload")
	}
	return nil
}

// ReadEnvelope reads one framed message from r.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Envelope{}, err
	}
	tag := Tag(header[0])
	if !tag.valid() {
		return Envelope{}, errkind.Newf(errkind.InvalidInput, "unknown envelope tag %d", tag)
	}
	length := binary.BigEndian.Uint32(header[1:])
	if length > maxPayloadSize {
		return Envelope{}, errkind.Newf(errkind.InvalidInput, "envelope payload %d exceeds maximum %d", length, maxPayloadSize)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Envelope{}, errors.Wrap(err, "reading envelope payload")
	}
	return Envelope{Tag: tag, Payload: payload}, nil
}

func (t Tag) valid() bool {
	return t >= TagRegisterNode && t <= TagNodeCount
}

// NewRequestID mints a random UUID string as a correlation ID for a request.
func NewRequestID() string {
	return uuid.NewString()
}
