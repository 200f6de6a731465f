package tlv

import (
	"bytes"
	"strconv"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
)

// DownloadPiece asks the peer for one piece of a task.
// Wire form is "{task_id}-{piece_number}".
type DownloadPiece struct {
	taskID      string
	pieceNumber uint32
}

// NewDownloadPiece creates a DownloadPiece request
func NewDownloadPiece(taskID string, pieceNumber uint32) *DownloadPiece {
	return &DownloadPiece{taskID: taskID, pieceNumber: pieceNumber}
}

// ParseDownloadPiece decodes a DownloadPiece value. The task ID may itself
// contain '-', so the value is split at the last separator.
func ParseDownloadPiece(b []byte) (*DownloadPiece, error) {
	if !utf8.Valid(b) {
		return nil, goerr.Wrap(ErrInvalidValue, "value is not valid UTF-8",
			goerr.V("tag", TagDownloadPiece))
	}

	idx := bytes.LastIndexByte(b, '-')
	if idx < 0 {
		return nil, goerr.Wrap(ErrInvalidValue, "missing piece number separator",
			goerr.V("tag", TagDownloadPiece))
	}
	if idx == 0 {
		return nil, goerr.Wrap(ErrInvalidValue, "empty task id",
			goerr.V("tag", TagDownloadPiece))
	}

	number, err := strconv.ParseUint(string(b[idx+1:]), 10, 32)
	if err != nil {
		return nil, goerr.Wrap(ErrInvalidValue, "invalid piece number",
			goerr.V("tag", TagDownloadPiece),
			goerr.V("piece_number", string(b[idx+1:])),
			goerr.V("cause", err.Error()))
	}

	return &DownloadPiece{
		taskID:      string(b[:idx]),
		pieceNumber: uint32(number),
	}, nil
}

func (x *DownloadPiece) Tag() Tag { return TagDownloadPiece }

// TaskID returns the task identifier
func (x *DownloadPiece) TaskID() string { return x.taskID }

// PieceNumber returns the piece number within the task
func (x *DownloadPiece) PieceNumber() uint32 { return x.pieceNumber }

func (x *DownloadPiece) MarshalBinary() ([]byte, error) {
	if x.taskID == "" {
		return nil, goerr.Wrap(ErrInvalidValue, "empty task id", goerr.V("tag", TagDownloadPiece))
	}
	b := make([]byte, 0, len(x.taskID)+11)
	b = append(b, x.taskID...)
	b = append(b, '-')
	b = strconv.AppendUint(b, uint64(x.pieceNumber), 10)
	return b, nil
}
