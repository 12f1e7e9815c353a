package transport

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/arken-sh/arken/pkg/errkind"
)

// Decode unmarshals an envelope's payload into the Go type its tag
// declares, returning an InvalidInput error for any tag this package does
// not recognize — the closed union has no "unknown variant, ignore it"
// path.
func Decode(env Envelope) (interface{}, error) {
	var v interface{}
	switch env.Tag {
	case TagRegisterNode:
		v = &RegisterNode{}
	case TagUserRequest:
		v = &UserRequest{}
	case TagCreatePod:
		v = &CreatePod{}
	case TagDeletePod:
		v = &DeletePod{}
	case TagGetNodeCount:
		v = &GetNodeCount{}
	case TagAck:
		v = &Ack{}
	case TagNodeCount:
		v = &NodeCount{}
	default:
		return nil, errkind.Newf(errkind.InvalidInput, "unknown envelope tag %d", env.Tag)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return nil, errors.Wrapf(err, "decoding tag %d payload", env.Tag)
	}
	return v, nil
}
