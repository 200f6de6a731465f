package interfaces

import (
	"context"

	"github.com/dragonflyoss/vortex/pkg/domain/model"
)

// PieceStore reads piece content from a backend
type PieceStore interface {
	// ReadPiece returns the content of a piece. A missing piece is reported
	// with an error matching types.ErrPieceNotFound.
	ReadPiece(ctx context.Context, key model.PieceKey) ([]byte, error)
}
