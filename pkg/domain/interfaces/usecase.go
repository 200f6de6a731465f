package interfaces

import (
	"context"

	"github.com/dragonflyoss/vortex/pkg/vortex"
)

// PieceUseCase answers Vortex requests
type PieceUseCase interface {
	// HandlePacket returns the response packet for a request packet
	HandlePacket(ctx context.Context, req *vortex.Packet) (*vortex.Packet, error)
}
