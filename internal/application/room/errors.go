package room

import (
	"errors"
	"fmt"
)

var (
	ErrBusy                = errors.New("the narrator is still responding")
	ErrEmptyMessage        = errors.New("message is empty")
	ErrNotYourTurn         = errors.New("not your turn")
	ErrRoomFull            = errors.New("room is full")
	ErrCodeExhausted       = errors.New("no free room code")
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomClosed          = errors.New("room is closed")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrNotAuthority        = errors.New("only the host can do that")
	ErrAlreadyStarted      = errors.New("game already started")
)

// NotYourTurnError names the participant whose turn it is.
type NotYourTurnError struct {
	ParticipantID string
	Name          string
}

func (e *NotYourTurnError) Error() string {
	return fmt.Sprintf("not your turn: it is %s's turn", e.Name)
}

func (e *NotYourTurnError) Is(target error) bool {
	return target == ErrNotYourTurn
}
