package client_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/dragonflyoss/vortex/pkg/client"
	"github.com/dragonflyoss/vortex/pkg/vortex"
	"github.com/dragonflyoss/vortex/pkg/vortex/tlv"
	"github.com/m-mizutani/gt"
)

// fakePeer answers each request on conn with reply(req)
func fakePeer(t *testing.T, conn net.Conn, reply func(req *vortex.Packet) *vortex.Packet) {
	t.Helper()
	go func() {
		defer conn.Close()
		for {
			req, err := vortex.Read(conn)
			if err != nil {
				return
			}
			resp := reply(req)
			if resp == nil {
				continue
			}
			if err := vortex.Write(conn, resp); err != nil {
				return
			}
		}
	}()
}

func mustPacket(p *vortex.Packet, err error) *vortex.Packet {
	if err != nil {
		panic(err)
	}
	return p
}

func TestClient_DownloadPiece(t *testing.T) {
	local, remote := net.Pipe()
	fakePeer(t, remote, func(req *vortex.Packet) *vortex.Packet {
		dp := req.Value().(*tlv.DownloadPiece)
		return mustPacket(vortex.NewPacketWithID(req.ID(),
			tlv.NewPieceContent([]byte(fmt.Sprintf("%s/%d", dp.TaskID(), dp.PieceNumber())))))
	})

	c := client.New(local)
	defer c.Close()

	data, err := c.DownloadPiece(context.Background(), "task", 5)
	gt.NoError(t, err)
	gt.Value(t, string(data)).Equal("task/5")

	data, err = c.DownloadPiece(context.Background(), "other", 6)
	gt.NoError(t, err)
	gt.Value(t, string(data)).Equal("other/6")
}

func TestClient_DownloadPiece_RemoteError(t *testing.T) {
	local, remote := net.Pipe()
	fakePeer(t, remote, func(req *vortex.Packet) *vortex.Packet {
		return mustPacket(vortex.NewPacketWithID(req.ID(), tlv.NewError(tlv.CodeNotFound, "piece task-1 not found")))
	})

	c := client.New(local)
	defer c.Close()

	_, err := c.DownloadPiece(context.Background(), "task", 1)
	var remoteErr *client.RemoteError
	gt.True(t, errors.As(err, &remoteErr))
	gt.Value(t, remoteErr.Code).Equal(tlv.CodeNotFound)
	gt.Value(t, remoteErr.Message).Equal("piece task-1 not found")
}

func TestClient_DownloadPiece_UnexpectedResponse(t *testing.T) {
	tests := []struct {
		name  string
		reply func(req *vortex.Packet) *vortex.Packet
	}{
		{
			name: "Packet id mismatch",
			reply: func(req *vortex.Packet) *vortex.Packet {
				return mustPacket(vortex.NewPacketWithID(req.ID()+1, tlv.NewPieceContent([]byte("x"))))
			},
		},
		{
			name: "Download piece as response",
			reply: func(req *vortex.Packet) *vortex.Packet {
				return mustPacket(vortex.NewPacketWithID(req.ID(), tlv.NewDownloadPiece("t", 0)))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local, remote := net.Pipe()
			fakePeer(t, remote, tt.reply)

			c := client.New(local)
			defer c.Close()

			_, err := c.DownloadPiece(context.Background(), "task", 1)
			gt.True(t, errors.Is(err, client.ErrUnexpectedResponse))
		})
	}
}

func TestClient_DownloadPiece_ContextTimeout(t *testing.T) {
	local, remote := net.Pipe()
	fakePeer(t, remote, func(req *vortex.Packet) *vortex.Packet {
		return nil
	})

	c := client.New(local)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.DownloadPiece(ctx, "task", 1)
	gt.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClient_TimedOutRequestBreaksConnection(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	gt.NoError(t, err)
	defer l.Close()

	// The peer answers every request, but only after the caller gave up
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		fakePeer(t, conn, func(req *vortex.Packet) *vortex.Packet {
			time.Sleep(20 * time.Millisecond)
			return mustPacket(vortex.NewPacketWithID(req.ID(), tlv.NewPieceContent([]byte("late"))))
		})
	}()

	c, err := client.Dial(context.Background(), l.Addr().String())
	gt.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Millisecond)
	defer cancel()
	_, err = c.DownloadPiece(ctx, "task", 1)
	gt.True(t, errors.Is(err, context.DeadlineExceeded))

	// Give the late reply time to land in the socket buffer
	time.Sleep(40 * time.Millisecond)

	data, err := c.DownloadPiece(context.Background(), "task", 2)
	gt.True(t, errors.Is(err, client.ErrConnectionBroken))
	gt.Value(t, data).Nil()
}

func TestClient_MismatchedReplyBreaksConnection(t *testing.T) {
	local, remote := net.Pipe()
	fakePeer(t, remote, func(req *vortex.Packet) *vortex.Packet {
		return mustPacket(vortex.NewPacketWithID(req.ID()+1, tlv.NewPieceContent([]byte("x"))))
	})

	c := client.New(local)
	defer c.Close()

	_, err := c.DownloadPiece(context.Background(), "task", 1)
	gt.True(t, errors.Is(err, client.ErrUnexpectedResponse))

	_, err = c.DownloadPiece(context.Background(), "task", 1)
	gt.True(t, errors.Is(err, client.ErrConnectionBroken))
}

func TestClient_DownloadPiece_EmptyTaskID(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	c := client.New(local)
	defer c.Close()

	_, err := c.DownloadPiece(context.Background(), "", 1)
	gt.True(t, errors.Is(err, tlv.ErrInvalidValue))
}

func TestDial_Refused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	gt.NoError(t, err)
	addr := l.Addr().String()
	gt.NoError(t, l.Close())

	_, err = client.Dial(context.Background(), addr, client.WithDialTimeout(time.Second))
	gt.Error(t, err)
}

func TestRemoteError_Error(t *testing.T) {
	err := &client.RemoteError{Code: tlv.CodeInternal, Message: "boom"}
	gt.Value(t, err.Error()).Equal("vortex peer error (internal): boom")
}
