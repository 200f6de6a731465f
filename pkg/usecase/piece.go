package usecase

import (
	"context"
	"errors"

	"github.com/dragonflyoss/vortex/pkg/domain/interfaces"
	"github.com/dragonflyoss/vortex/pkg/domain/model"
	"github.com/dragonflyoss/vortex/pkg/domain/types"
	"github.com/dragonflyoss/vortex/pkg/vortex"
	"github.com/dragonflyoss/vortex/pkg/vortex/tlv"
	"github.com/m-mizutani/ctxlog"
)

type pieceUseCase struct {
	store interfaces.PieceStore
}

// NewPiece creates a new instance of PieceUseCase
func NewPiece(store interfaces.PieceStore) interfaces.PieceUseCase {
	return &pieceUseCase{
		store: store,
	}
}

// HandlePacket answers a request packet. Failures to serve the request are
// returned to the peer as an Error packet; the returned error is only set
// when no response packet could be built.
func (uc *pieceUseCase) HandlePacket(ctx context.Context, req *vortex.Packet) (*vortex.Packet, error) {
	logger := ctxlog.From(ctx)

	switch v := req.Value().(type) {
	case *tlv.DownloadPiece:
		return uc.downloadPiece(ctx, req.ID(), v)

	default:
		logger.Warn("Unsupported request tag",
			"packet_id", req.ID(),
			"tag", req.Tag().String(),
		)
		return vortex.NewPacketWithID(req.ID(),
			tlv.NewError(tlv.CodeInvalidArgument, "tag "+req.Tag().String()+" is not accepted as a request"))
	}
}

func (uc *pieceUseCase) downloadPiece(ctx context.Context, id uint8, req *tlv.DownloadPiece) (*vortex.Packet, error) {
	logger := ctxlog.From(ctx)

	key := model.PieceKey{
		TaskID: req.TaskID(),
		Number: req.PieceNumber(),
	}

	logger.Debug("Processing download piece request",
		"packet_id", id,
		"task_id", key.TaskID,
		"piece_number", key.Number,
	)

	data, err := uc.store.ReadPiece(ctx, key)
	if err != nil {
		code := errorCode(err)
		if code == tlv.CodeInternal {
			logger.Error("Failed to read piece",
				"error", err,
				"task_id", key.TaskID,
				"piece_number", key.Number,
			)
		} else {
			logger.Info("Piece request rejected",
				"code", code.String(),
				"task_id", key.TaskID,
				"piece_number", key.Number,
			)
		}
		return vortex.NewPacketWithID(id, tlv.NewError(code, errorMessage(code, key)))
	}

	resp, err := vortex.NewPacketWithID(id, tlv.NewPieceContent(data))
	if err != nil {
		logger.Error("Failed to build piece content packet",
			"error", err,
			"task_id", key.TaskID,
			"piece_number", key.Number,
			"size_bytes", len(data),
		)
		return vortex.NewPacketWithID(id, tlv.NewError(tlv.CodeInternal, "piece can not be sent"))
	}

	logger.Info("Served piece",
		"packet_id", id,
		"task_id", key.TaskID,
		"piece_number", key.Number,
		"size_bytes", len(data),
	)

	return resp, nil
}

func errorCode(err error) tlv.Code {
	switch {
	case errors.Is(err, types.ErrPieceNotFound):
		return tlv.CodeNotFound
	case errors.Is(err, types.ErrInvalidTaskID):
		return tlv.CodeInvalidArgument
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return tlv.CodeUnavailable
	default:
		return tlv.CodeInternal
	}
}

// errorMessage keeps backend details out of the reply
func errorMessage(code tlv.Code, key model.PieceKey) string {
	switch code {
	case tlv.CodeNotFound:
		return "piece " + pieceName(key) + " not found"
	case tlv.CodeInvalidArgument:
		return "invalid task id"
	case tlv.CodeUnavailable:
		return "request cancelled"
	default:
		return "failed to read piece " + pieceName(key)
	}
}

func pieceName(key model.PieceKey) string {
	b, err := tlv.NewDownloadPiece(key.TaskID, key.Number).MarshalBinary()
	if err != nil {
		return key.TaskID
	}
	return string(b)
}
