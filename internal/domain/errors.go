package domain

import "errors"

var (
	// ErrRoomNotFound is returned when a join targets a room that does not
	// exist or is no longer active.
	ErrRoomNotFound = errors.New("room not found")
	// ErrDuplicateRoom is returned when a create collides with an active room code.
	ErrDuplicateRoom = errors.New("room code already in use")
	// ErrPlayerNotFound is returned when a player acts before joining the roster.
	ErrPlayerNotFound = errors.New("player not found in room")
	// ErrGameNotActive is returned when an answer arrives outside the active phase.
	ErrGameNotActive = errors.New("game is not active")
	// ErrQuestionsNotFound indicates the question sequence could not be loaded.
	ErrQuestionsNotFound = errors.New("questions not found")
)
