package tcp_test

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dragonflyoss/vortex/pkg/client"
	"github.com/dragonflyoss/vortex/pkg/controller/tcp"
	"github.com/dragonflyoss/vortex/pkg/infra/fs"
	"github.com/dragonflyoss/vortex/pkg/usecase"
	"github.com/dragonflyoss/vortex/pkg/vortex"
	"github.com/dragonflyoss/vortex/pkg/vortex/tlv"
	"github.com/m-mizutani/gt"
)

func startServer(t *testing.T, opts ...tcp.Option) *tcp.Server {
	t.Helper()

	root := t.TempDir()
	gt.NoError(t, os.MkdirAll(filepath.Join(root, "task-a"), 0o755))
	gt.NoError(t, os.WriteFile(filepath.Join(root, "task-a", "0"), []byte("piece zero"), 0o644))
	gt.NoError(t, os.WriteFile(filepath.Join(root, "task-a", "1"), []byte("piece one"), 0o644))

	store, err := fs.New(root)
	gt.NoError(t, err)

	opts = append([]tcp.Option{tcp.WithAddr("127.0.0.1:0")}, opts...)
	server := tcp.NewServer(usecase.NewPiece(store), opts...)
	gt.NoError(t, server.Listen())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(context.Background())
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		gt.NoError(t, server.Shutdown(ctx))
		gt.NoError(t, <-errCh)
	})

	return server
}

func TestServer_DownloadPiece(t *testing.T) {
	server := startServer(t)
	ctx := context.Background()

	c, err := client.Dial(ctx, server.Addr())
	gt.NoError(t, err)
	defer c.Close()

	data, err := c.DownloadPiece(ctx, "task-a", 0)
	gt.NoError(t, err)
	gt.Value(t, string(data)).Equal("piece zero")

	data, err = c.DownloadPiece(ctx, "task-a", 1)
	gt.NoError(t, err)
	gt.Value(t, string(data)).Equal("piece one")

	_, err = c.DownloadPiece(ctx, "task-a", 2)
	var remoteErr *client.RemoteError
	gt.True(t, errors.As(err, &remoteErr))
	gt.Value(t, remoteErr.Code).Equal(tlv.CodeNotFound)

	_, err = c.DownloadPiece(ctx, "..", 0)
	gt.True(t, errors.As(err, &remoteErr))
	gt.Value(t, remoteErr.Code).Equal(tlv.CodeInvalidArgument)
}

func TestServer_ConcurrentClients(t *testing.T) {
	server := startServer(t)
	ctx := context.Background()

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			c, err := client.Dial(ctx, server.Addr())
			if err != nil {
				errs <- err
				return
			}
			defer c.Close()
			data, err := c.DownloadPiece(ctx, "task-a", 1)
			if err == nil && string(data) != "piece one" {
				err = errors.New("unexpected content: " + string(data))
			}
			errs <- err
		}()
	}

	for i := 0; i < n; i++ {
		gt.NoError(t, <-errs)
	}
}

func TestServer_MalformedPacket(t *testing.T) {
	server := startServer(t)

	conn, err := net.Dial("tcp", server.Addr())
	gt.NoError(t, err)
	defer conn.Close()

	// Error tag with a value that is not "{code}:{message}"
	frame := make([]byte, vortex.HeaderSize)
	frame[0] = 7
	frame[1] = byte(tlv.TagError)
	binary.BigEndian.PutUint32(frame[2:], 3)
	frame = append(frame, "bad"...)
	_, err = conn.Write(frame)
	gt.NoError(t, err)

	gt.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	resp, err := vortex.Read(conn)
	gt.NoError(t, err)
	gt.Value(t, resp.ID()).Equal(uint8(0))
	e, ok := resp.Value().(*tlv.Error)
	gt.True(t, ok)
	gt.Value(t, e.Code()).Equal(tlv.CodeInvalidArgument)

	// Connection is closed after the reply
	_, err = vortex.Read(conn)
	gt.Error(t, err)
}

func TestServer_UnsupportedRequest(t *testing.T) {
	server := startServer(t)

	conn, err := net.Dial("tcp", server.Addr())
	gt.NoError(t, err)
	defer conn.Close()

	req, err := vortex.Request(tlv.NewPieceContent([]byte("unsolicited")))
	gt.NoError(t, err)
	gt.NoError(t, vortex.Write(conn, req))

	gt.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	resp, err := vortex.Read(conn)
	gt.NoError(t, err)
	gt.Value(t, resp.ID()).Equal(req.ID())
	e, ok := resp.Value().(*tlv.Error)
	gt.True(t, ok)
	gt.Value(t, e.Code()).Equal(tlv.CodeInvalidArgument)
}

func TestServer_IdleTimeout(t *testing.T) {
	server := startServer(t, tcp.WithIdleTimeout(50*time.Millisecond))

	conn, err := net.Dial("tcp", server.Addr())
	gt.NoError(t, err)
	defer conn.Close()

	gt.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	gt.Error(t, err)
	var ne net.Error
	gt.False(t, errors.As(err, &ne) && ne.Timeout())
}

func TestServer_ShutdownClosesConnections(t *testing.T) {
	root := t.TempDir()
	store, err := fs.New(root)
	gt.NoError(t, err)

	server := tcp.NewServer(usecase.NewPiece(store), tcp.WithAddr("127.0.0.1:0"))
	gt.NoError(t, server.Listen())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(context.Background())
	}()

	conn, err := net.Dial("tcp", server.Addr())
	gt.NoError(t, err)
	defer conn.Close()

	// Make sure the connection has been accepted before shutting down
	c := client.New(conn)
	_, err = c.DownloadPiece(context.Background(), "missing", 0)
	gt.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	gt.NoError(t, server.Shutdown(ctx))
	gt.NoError(t, <-errCh)

	gt.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = vortex.Read(conn)
	gt.Error(t, err)
}

func TestServer_ServeWithoutListen(t *testing.T) {
	server := tcp.NewServer(usecase.NewPiece(nil))
	gt.Error(t, server.Serve(context.Background()))
	gt.Value(t, server.Addr()).Equal("")
}
