package server

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/cyberinferno/primewire/logger"
	"github.com/cyberinferno/primewire/protocol"
)

// Session serves one accepted connection: it reads integer frames and
// answers each non-zero value with a verdict string frame until the client
// sends 0, the connection fails, or the server stops.
type Session struct {
	id     uint32
	conn   *protocol.Conn
	server *Server
	log    logger.Logger

	closeOnce sync.Once
	closeErr  error
}

func newSession(id uint32, conn net.Conn, s *Server) *Session {
	return &Session{
		id:     id,
		conn:   protocol.NewConn(conn, s.cfg.connOptions()),
		server: s,
		log: s.log.With(
			logger.F("session", id),
			logger.F("remote", conn.RemoteAddr().String()),
		),
	}
}

// ID returns the session's identifier.
func (ss *Session) ID() uint32 {
	return ss.id
}

// RemoteAddr returns the client's address.
func (ss *Session) RemoteAddr() net.Addr {
	return ss.conn.RemoteAddr()
}

// Close closes the connection. Safe to call more than once; a blocked
// Handle returns once the connection is closed.
func (ss *Session) Close() error {
	ss.closeOnce.Do(func() {
		ss.closeErr = ss.conn.Close()
	})

	return ss.closeErr
}

// Handle runs the request loop. It returns when the session ends and
// always closes the connection.
func (ss *Session) Handle(ctx context.Context) {
	defer func() {
		_ = ss.Close()
	}()

	ss.log.Info("session opened")
	for {
		n, err := ss.conn.RecvInt()
		if err != nil {
			ss.ioFailure("recv int", err)
			return
		}

		if n == 0 {
			ss.log.Info("session closed by sentinel")
			return
		}

		verdict, err := ss.server.oracle.Verdict(ctx, n)
		if err != nil {
			if ctx.Err() == nil {
				ss.log.Error("verdict failed", logger.F("number", n), logger.F("error", err))
			}

			return
		}

		ss.log.Debug(verdict, logger.F("number", n))
		ss.server.metrics.requestsTotal.WithLabelValues(verdictLabel(verdict)).Inc()

		if err := ss.conn.SendString(verdict); err != nil {
			ss.ioFailure("send string", err)
			return
		}
	}
}

// ioFailure logs why the session ended. A peer that hangs up between
// frames, or a connection closed by Stop, is not an error.
func (ss *Session) ioFailure(op string, err error) {
	switch {
	case !ss.server.running.Load() && errors.Is(err, net.ErrClosed):
		ss.log.Info("session closed by server shutdown")
	case op == "recv int" && errors.Is(err, io.EOF):
		ss.log.Info("session closed by peer without sentinel")
	default:
		ss.server.metrics.frameErrors.WithLabelValues(op).Inc()
		ss.log.Error("session terminated by i/o error", logger.F("op", op), logger.F("error", err))
	}
}

func verdictLabel(verdict string) string {
	if strings.HasSuffix(verdict, " is not prime") {
		return labelNotPrime
	}

	return labelPrime
}
