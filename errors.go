package main

import (
	"errors"
	"fmt"
)

// Sentinel errors reported back to the originating client. None of these
// mutate room state.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrSelfMatch    = errors.New("cannot match a player with themselves")
	ErrUnknownMatch = errors.New("unknown match")
)

// RoomInvariantViolation is fatal to the owning room only: the room is
// force-finished with an aborted result and other rooms are unaffected.
type RoomInvariantViolation struct {
	MatchID string
	Detail  string
}

func (e *RoomInvariantViolation) Error() string {
	return fmt.Sprintf("room %s invariant violation: %s", e.MatchID, e.Detail)
}
