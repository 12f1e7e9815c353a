package transport

import (
	"context"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
)

// Client is a thin dial wrapper a worker or user uses to open the
// connection and send its identifying first message.
type Client struct {
	Addr              string
	PinnedFingerprint string
}

// Dial opens a QUIC connection to the server.
func (c *Client) Dial(ctx context.Context) (quic.Connection, error) {
	conn, err := quic.DialAddr(ctx, c.Addr, ClientTLSConfig(c.PinnedFingerprint), &quic.Config{})
	if err != nil {
		return nil, errors.Wrapf(err, "dialing transport server at %s", c.Addr)
	}
	return conn, nil
}

// OpenRequestStream opens a new bidirectional stream on conn and writes env
// as its first message, the pattern every request (RegisterNode,
// UserRequest, and the per-request operations that follow) uses.
func OpenRequestStream(ctx context.Context, conn quic.Connection, env Envelope) (quic.Stream, error) {
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "opening QUIC stream")
	}
	if err := WriteEnvelope(stream, env); err != nil {
		return nil, err
	}
	return stream, nil
}
