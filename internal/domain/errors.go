package domain

import "errors"

var (
	// ErrRoomNotFound is returned when no game session exists for a room.
	ErrRoomNotFound = errors.New("room not found")
	// ErrInvalidState is returned when an operation is not valid in the room's current phase.
	ErrInvalidState = errors.New("operation not valid in current game phase")
	// ErrDuplicateAnswer is returned when a participant answers the same question twice.
	ErrDuplicateAnswer = errors.New("answer already recorded for this question")
	// ErrStaleAnswer is returned for answers to a question that is no longer open.
	ErrStaleAnswer = errors.New("question is no longer accepting answers")
	// ErrParticipantNotFound is returned when a user tries to act before joining.
	ErrParticipantNotFound = errors.New("participant not found in room")
	// ErrCapacityExceeded is returned when a room is full.
	ErrCapacityExceeded = errors.New("room is full")
	// ErrNotImplemented marks answer kinds whose validation does not exist yet.
	ErrNotImplemented = errors.New("answer validation not implemented for question kind")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a submitted option ID is invalid.
	ErrOptionNotFound = errors.New("option not found")
	// ErrResultNotFound indicates no persisted game result has the requested ID.
	ErrResultNotFound = errors.New("game result not found")
)
