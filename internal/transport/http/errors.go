package http

import (
	"errors"
	"net/http"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

type errorMapping struct {
	err    error
	code   string
	status int
}

var errorMappings = []errorMapping{
	{domain.ErrRoomNotFound, "room_not_found", http.StatusNotFound},
	{domain.ErrQuizNotFound, "quiz_not_found", http.StatusNotFound},
	{domain.ErrResultNotFound, "result_not_found", http.StatusNotFound},
	{domain.ErrParticipantNotFound, "participant_not_found", http.StatusNotFound},
	{domain.ErrQuestionNotFound, "question_not_found", http.StatusBadRequest},
	{domain.ErrOptionNotFound, "option_not_found", http.StatusBadRequest},
	{domain.ErrInvalidState, "invalid_state", http.StatusConflict},
	{domain.ErrDuplicateAnswer, "duplicate_answer", http.StatusConflict},
	{domain.ErrStaleAnswer, "stale_answer", http.StatusConflict},
	{domain.ErrCapacityExceeded, "room_full", http.StatusConflict},
	{domain.ErrNotImplemented, "not_implemented", http.StatusNotImplemented},
	{app.ErrConnectionNotFound, "connection_not_found", http.StatusBadRequest},
	{errNotHost, "forbidden", http.StatusForbidden},
}

func errorCode(err error) string {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.code
		}
	}
	return "internal"
}

func statusFor(err error) int {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}
