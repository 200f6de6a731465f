package model

import (
	"strings"

	"github.com/dragonflyoss/vortex/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
)

// PieceKey addresses one piece of a task
type PieceKey struct {
	TaskID string // Task identifier, a single path element
	Number uint32 // Piece number within the task
}

// Validate checks that the task ID is usable as a storage key
func (k PieceKey) Validate() error {
	switch {
	case k.TaskID == "":
		return goerr.Wrap(types.ErrInvalidTaskID, "task id is empty")
	case k.TaskID == "." || k.TaskID == "..":
		return goerr.Wrap(types.ErrInvalidTaskID, "task id is a relative path element", goerr.V("task_id", k.TaskID))
	case strings.ContainsAny(k.TaskID, "/\\\x00"):
		return goerr.Wrap(types.ErrInvalidTaskID, "task id contains path separator", goerr.V("task_id", k.TaskID))
	}
	return nil
}
