package types

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrPieceNotFound is returned by piece stores when the piece does not exist
	ErrPieceNotFound = goerr.New("piece not found")

	// ErrInvalidTaskID is returned when a task ID can not be used as a storage key
	ErrInvalidTaskID = goerr.New("invalid task id")
)
