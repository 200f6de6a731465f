package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/dragonflyoss/vortex/pkg/domain/interfaces"
	"github.com/dragonflyoss/vortex/pkg/utils/async"
	"github.com/dragonflyoss/vortex/pkg/vortex"
	"github.com/dragonflyoss/vortex/pkg/vortex/tlv"
	"github.com/google/uuid"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
)

// config holds internal TCP server configuration
type config struct {
	addr         string
	idleTimeout  time.Duration
	writeTimeout time.Duration
}

// Option is a functional option for Server configuration
type Option func(*config)

// WithAddr sets the listen address
func WithAddr(addr string) Option {
	return func(c *config) {
		c.addr = addr
	}
}

// WithIdleTimeout sets how long a connection may wait for the next request.
// Zero disables the timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *config) {
		c.idleTimeout = d
	}
}

// WithWriteTimeout sets the deadline for writing one response
func WithWriteTimeout(d time.Duration) Option {
	return func(c *config) {
		c.writeTimeout = d
	}
}

// Server accepts Vortex connections and answers requests through PieceUseCase
type Server struct {
	cfg     *config
	pieceUC interfaces.PieceUseCase

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	group    *async.Group
	cancel   context.CancelFunc
	closed   bool
}

// NewServer creates a new Vortex TCP server
func NewServer(pieceUC interfaces.PieceUseCase, opts ...Option) *Server {
	cfg := &config{
		addr:         "localhost:4000",
		idleTimeout:  5 * time.Minute,
		writeTimeout: 30 * time.Second,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return &Server{
		cfg:     cfg,
		pieceUC: pieceUC,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Listen binds the TCP listener. It is separated from Serve so callers can
// learn the bound address before serving.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return goerr.New("server already listening", goerr.V("addr", s.listener.Addr().String()))
	}

	listener, err := net.Listen("tcp", s.cfg.addr)
	if err != nil {
		return goerr.Wrap(err, "failed to listen", goerr.V("addr", s.cfg.addr))
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address, or empty string before Listen
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve accepts connections until Shutdown is called. It returns nil after
// a requested shutdown.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.listener == nil {
		s.mu.Unlock()
		return goerr.New("server is not listening")
	}
	listener := s.listener
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.group = async.NewGroup(ctx)
	group := s.group
	s.mu.Unlock()
	defer cancel()

	logger := ctxlog.From(ctx)
	logger.Info("Vortex server accepting connections", "addr", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				logger.Warn("Temporary accept error", "error", err)
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return goerr.Wrap(err, "failed to accept connection")
		}

		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}

		group.Go(func(ctx context.Context) error {
			defer s.untrack(conn)
			return s.handleConn(ctx, conn)
		})
	}
}

// Shutdown stops accepting, closes open connections and waits for their
// handlers until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	group := s.group
	s.mu.Unlock()

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return goerr.Wrap(err, "failed to close listener")
	}

	if group != nil && !group.Wait(ctx) {
		return goerr.Wrap(ctx.Err(), "connections did not finish before deadline")
	}
	return nil
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
	_ = conn.Close()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) error {
	logger := ctxlog.From(ctx).With(
		"conn_id", uuid.NewString(),
		"remote_addr", conn.RemoteAddr().String(),
	)
	ctx = ctxlog.With(ctx, logger)

	logger.Debug("Connection opened")
	defer logger.Debug("Connection closed")

	for {
		if s.cfg.idleTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.cfg.idleTimeout)); err != nil {
				return goerr.Wrap(err, "failed to set read deadline")
			}
		}

		req, err := vortex.Read(conn)
		if err != nil {
			return s.handleReadError(ctx, conn, err)
		}

		resp, err := s.pieceUC.HandlePacket(ctx, req)
		if err != nil {
			return goerr.Wrap(err, "failed to handle packet",
				goerr.V("packet_id", req.ID()), goerr.V("tag", req.Tag().String()))
		}

		if err := s.write(conn, resp); err != nil {
			return err
		}
	}
}

func (s *Server) handleReadError(ctx context.Context, conn net.Conn, err error) error {
	logger := ctxlog.From(ctx)

	var ne net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return nil

	case errors.As(err, &ne) && ne.Timeout():
		logger.Debug("Connection idle timeout")
		return nil

	case errors.Is(err, vortex.ErrInvalidPacket),
		errors.Is(err, vortex.ErrValueTooLarge),
		errors.Is(err, tlv.ErrInvalidValue):
		// The stream can not be trusted to be aligned after a bad frame, so
		// reply once and drop the connection.
		logger.Warn("Malformed packet received", "error", err)
		reply, buildErr := vortex.NewPacketWithID(0, tlv.NewError(tlv.CodeInvalidArgument, "malformed packet"))
		if buildErr != nil {
			return buildErr
		}
		if writeErr := s.write(conn, reply); writeErr != nil {
			logger.Debug("Failed to send malformed packet reply", "error", writeErr)
		}
		return nil

	default:
		return goerr.Wrap(err, "failed to read packet")
	}
}

func (s *Server) write(conn net.Conn, p *vortex.Packet) error {
	if s.cfg.writeTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.writeTimeout)); err != nil {
			return goerr.Wrap(err, "failed to set write deadline")
		}
	}
	return vortex.Write(conn, p)
}
