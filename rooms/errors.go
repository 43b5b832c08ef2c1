package rooms

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Manager wraps exactly one of these.
var (
	ErrValidation = errors.New("invalid request")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal error")
)

var (
	ErrRoomNotFound     = fmt.Errorf("%w: room", ErrNotFound)
	ErrPlayerNotFound   = fmt.Errorf("%w: player is not in this room", ErrNotFound)
	ErrRoomFull         = fmt.Errorf("%w: room is full", ErrConflict)
	ErrAlreadyJoined    = fmt.Errorf("%w: player already joined", ErrConflict)
	ErrNotYourTurn      = fmt.Errorf("%w: not your turn", ErrConflict)
	ErrGameOver         = fmt.Errorf("%w: game is already over", ErrConflict)
	ErrGameNotStarted   = fmt.Errorf("%w: game has not started", ErrConflict)
	ErrGameNotOver      = fmt.Errorf("%w: game is still in progress", ErrConflict)
	ErrColumnFull       = fmt.Errorf("%w: column is full", ErrConflict)
	ErrNotEnoughPlayers = fmt.Errorf("%w: need exactly 2 players to start", ErrConflict)
	ErrInvalidColumn    = fmt.Errorf("%w: column out of bounds", ErrValidation)
	ErrInvalidName      = fmt.Errorf("%w: player name", ErrValidation)
	ErrCodeSpace        = fmt.Errorf("%w: could not allocate a free room code", ErrInternal)
)

// Kind returns the kind sentinel err wraps, or ErrInternal for foreign errors.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrNotFound, ErrConflict, ErrInternal} {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrInternal
}
