package transport

import (
	"context"
	"crypto/tls"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
)

// Handler processes one peer's first message (RegisterNode for a worker,
// UserRequest for a user) and then drives that connection's subsequent
// bidirectional streams until the peer disconnects.
type Handler interface {
	HandleConnection(ctx context.Context, conn quic.Connection) error
}

// Server accepts QUIC connections and dispatches each to Handler on its own
// goroutine, matching the one-cycle-per-pod / one-goroutine-per-connection
// concurrency shape the rest of this module uses for independent units of
// work.
type Server struct {
	Addr    string
	Cert    tls.Certificate
	Handler Handler
}

// ListenAndServe blocks until ctx is canceled, accepting connections and
// handing each to the Handler. A connection whose handler returns an error
// is logged and dropped; one bad peer does not stop the server.
func (s *Server) ListenAndServe(ctx context.Context) error {
	tlsConf := ServerTLSConfig(s.Cert)
	listener, err := quic.ListenAddr(s.Addr, tlsConf, &quic.Config{})
	if err != nil {
		return errors.Wrapf(err, "listening for QUIC connections on %s", s.Addr)
	}
	defer listener.Close()

	logrus.WithField("addr", s.Addr).Info("transport server listening")

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logrus.WithError(err).Warn("accepting QUIC connection")
			continue
		}
		go s.serve(ctx, conn)
	}
}

func (s *Server) serve(ctx context.Context, conn quic.Connection) {
	if err := s.Handler.HandleConnection(ctx, conn); err != nil {
		logrus.WithError(err).WithField("remote", conn.RemoteAddr()).Warn("transport connection ended with error")
	}
}

// AcceptStreamEnvelope opens (accepts) the next bidirectional stream on
// conn and reads its first envelope, the pattern both RegisterNode and
// UserRequest use to identify themselves as a connection's first message.
func AcceptStreamEnvelope(ctx context.Context, conn quic.Connection) (quic.Stream, Envelope, error) {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return nil, Envelope{}, errors.Wrap(err, "accepting QUIC stream")
	}
	env, err := ReadEnvelope(stream)
	if err != nil {
		return stream, Envelope{}, errors.Wrap(err, "reading first envelope on stream")
	}
	return stream, env, nil
}
