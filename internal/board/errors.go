package board

import "errors"

// Errors returned by board operations.
var (
	ErrBoardNotFound = errors.New("Board not found")
	ErrLaneNotFound  = errors.New("Lane not found")
	ErrCardNotFound  = errors.New("Card not found")

	// ErrLastBoard is returned when deleting the only remaining board.
	ErrLastBoard = errors.New("Cannot delete the last board")

	ErrEmptyTitle = errors.New("title cannot be empty")

	// ErrUnknownIDs is returned by reorder operations given ids that do not
	// belong to the target collection.
	ErrUnknownIDs = errors.New("reorder ids do not match")
)
