// Package client downloads pieces from a Vortex peer.
package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/dragonflyoss/vortex/pkg/vortex"
	"github.com/dragonflyoss/vortex/pkg/vortex/tlv"
	"github.com/m-mizutani/goerr/v2"
)

// ErrUnexpectedResponse is returned when the peer answers with a packet that
// does not match the request
var ErrUnexpectedResponse = goerr.New("unexpected response")

// ErrConnectionBroken is returned by every call after a request failed while
// on the wire. The stream may hold a late reply, so the connection is closed
// and the client must be replaced.
var ErrConnectionBroken = goerr.New("connection broken")

// RemoteError is an Error packet returned by the peer
type RemoteError struct {
	Code    tlv.Code
	Message string
}

func (e *RemoteError) Error() string {
	return "vortex peer error (" + e.Code.String() + "): " + e.Message
}

type config struct {
	dialTimeout time.Duration
	dialer      func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Option is a functional option for Client configuration
type Option func(*config)

// WithDialTimeout bounds the time to establish the connection
func WithDialTimeout(d time.Duration) Option {
	return func(c *config) {
		c.dialTimeout = d
	}
}

// WithDialer replaces the function used to open the connection
func WithDialer(dial func(ctx context.Context, network, addr string) (net.Conn, error)) Option {
	return func(c *config) {
		c.dialer = dial
	}
}

// Client is a connection to one Vortex peer. Requests are sent one at a time.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	broken error
}

// Dial connects to a Vortex peer
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	cfg := &config{
		dialTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.dialer == nil {
		d := &net.Dialer{Timeout: cfg.dialTimeout}
		cfg.dialer = d.DialContext
	}

	conn, err := cfg.dialer(ctx, "tcp", addr)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to connect to peer", goerr.V("addr", addr))
	}

	return New(conn), nil
}

// New wraps an established connection
func New(conn net.Conn) *Client {
	return &Client{conn: conn}
}

// DownloadPiece requests one piece and returns its content
func (c *Client) DownloadPiece(ctx context.Context, taskID string, number uint32) ([]byte, error) {
	req, err := vortex.Request(tlv.NewDownloadPiece(taskID, number))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build request",
			goerr.V("task_id", taskID), goerr.V("piece_number", number))
	}

	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to download piece",
			goerr.V("task_id", taskID), goerr.V("piece_number", number))
	}

	switch v := resp.Value().(type) {
	case *tlv.PieceContent:
		return v.Content(), nil
	case *tlv.Error:
		return nil, &RemoteError{Code: v.Code(), Message: v.Message()}
	default:
		return nil, goerr.Wrap(ErrUnexpectedResponse, "response is not piece content",
			goerr.V("tag", resp.Tag().String()))
	}
}

func (c *Client) roundTrip(ctx context.Context, req *vortex.Packet) (*vortex.Packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return nil, goerr.Wrap(ErrConnectionBroken, "client is no longer usable",
			goerr.V("cause", c.broken.Error()))
	}

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, c.breakConn(goerr.Wrap(err, "failed to set deadline"))
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := vortex.Write(c.conn, req); err != nil {
		return nil, c.breakConn(c.ctxErr(ctx, err))
	}

	resp, err := vortex.Read(c.conn)
	if err != nil {
		return nil, c.breakConn(c.ctxErr(ctx, err))
	}

	if resp.ID() != req.ID() {
		// Replies to malformed frames carry packet ID 0 and the peer closes
		// the connection after sending one
		if _, ok := resp.Value().(*tlv.Error); ok && resp.ID() == 0 {
			_ = c.breakConn(ErrUnexpectedResponse)
			return resp, nil
		}
		return nil, c.breakConn(goerr.Wrap(ErrUnexpectedResponse, "packet id mismatch",
			goerr.V("request_id", req.ID()), goerr.V("response_id", resp.ID())))
	}

	return resp, nil
}

// breakConn records err as the reason the client is unusable and closes the
// connection. It returns err unchanged.
func (c *Client) breakConn(err error) error {
	c.broken = err
	_ = c.conn.Close()
	return err
}

func (c *Client) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return goerr.Wrap(ctxErr, "request aborted", goerr.V("cause", err.Error()))
	}
	// The connection deadline may fire just before ctx is marked done
	var ne net.Error
	if _, ok := ctx.Deadline(); ok && errors.As(err, &ne) && ne.Timeout() {
		return goerr.Wrap(context.DeadlineExceeded, "request aborted", goerr.V("cause", err.Error()))
	}
	return err
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}
