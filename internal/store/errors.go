package store

import (
	"errors"
	"net/http"

	"github.com/calvinalkan/mdboard/internal/board"
)

// internalMessage is the message surfaced for every failure that is not a
// known, user-facing condition.
const internalMessage = "Internal server error"

// Classify maps an error returned by the Store to an HTTP status and the
// message that is safe to show a client. Not-found errors map to 404,
// rule violations to 400, and everything else to 500 with a generic message.
func Classify(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}

	for _, known := range []error{board.ErrBoardNotFound, board.ErrLaneNotFound, board.ErrCardNotFound} {
		if errors.Is(err, known) {
			return http.StatusNotFound, known.Error()
		}
	}

	for _, known := range []error{board.ErrLastBoard, board.ErrEmptyTitle, board.ErrUnknownIDs} {
		if errors.Is(err, known) {
			return http.StatusBadRequest, known.Error()
		}
	}

	return http.StatusInternalServerError, internalMessage
}
