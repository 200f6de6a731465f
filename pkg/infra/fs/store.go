package fs

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dragonflyoss/vortex/pkg/domain/interfaces"
	"github.com/dragonflyoss/vortex/pkg/domain/model"
	"github.com/dragonflyoss/vortex/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
)

type store struct {
	root string
}

// New creates a piece store laid out as {root}/{task_id}/{piece_number}
func New(root string) (interfaces.PieceStore, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to stat storage root", goerr.V("root", root))
	}
	if !info.IsDir() {
		return nil, goerr.New("storage root is not a directory", goerr.V("root", root))
	}

	return &store{root: root}, nil
}

// ReadPiece reads the piece file
func (s *store) ReadPiece(ctx context.Context, key model.PieceKey) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "context done before read")
	}

	path := filepath.Join(s.root, key.TaskID, strconv.FormatUint(uint64(key.Number), 10))
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, goerr.Wrap(types.ErrPieceNotFound, "piece file does not exist",
				goerr.V("task_id", key.TaskID), goerr.V("piece_number", key.Number))
		}
		return nil, goerr.Wrap(err, "failed to read piece file", goerr.V("path", path))
	}

	return data, nil
}
