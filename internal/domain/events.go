package domain

import "time"

// GameStatus is one phase of the per-room state machine.
type GameStatus string

const (
	StatusWaiting             GameStatus = "waiting"
	StatusInProgress          GameStatus = "in_progress"
	StatusQuestionEnded       GameStatus = "question_ended"
	StatusShowingResults      GameStatus = "showing_results"
	StatusShowingLeaderboard  GameStatus = "showing_leaderboard"
	StatusNextQuestionPending GameStatus = "next_question_pending"
	StatusCompleted           GameStatus = "completed"
)

// EventType names a broadcast published to a room channel.
type EventType string

const (
	EventGameStart      EventType = "GAME_START"
	EventQuestionStart  EventType = "QUESTION_START"
	EventQuestionResult EventType = "QUESTION_RESULT"
	EventLeaderboard    EventType = "LEADERBOARD"
	EventGameEnd        EventType = "GAME_END"
	EventPlayerJoin     EventType = "PLAYER_JOIN"
	EventPlayerLeave    EventType = "PLAYER_LEAVE"
)

// Event is a client-safe message for every subscriber of a room.
type Event struct {
	Type    EventType `json:"type"`
	RoomID  string    `json:"roomId"`
	Seq     uint64    `json:"seq"`
	Payload any       `json:"payload"`
}

// QuestionStarted is the payload of GAME_START and QUESTION_START.
type QuestionStarted struct {
	Question    QuestionView `json:"question"`
	StartedAt   time.Time    `json:"startedAt"`
	RemainingMs int64        `json:"remainingMs"`
}

// PlayerPresence is the payload of PLAYER_JOIN and PLAYER_LEAVE.
type PlayerPresence struct {
	ParticipantID    string `json:"participantId"`
	DisplayName      string `json:"displayName"`
	Avatar           string `json:"avatar,omitempty"`
	ParticipantCount int    `json:"participantCount"`
	TimedOut         bool   `json:"timedOut,omitempty"`
}

// GameEnded is the payload of GAME_END.
type GameEnded struct {
	Rankings      []LeaderboardEntry `json:"rankings"`
	QuestionCount int                `json:"questionCount"`
	EndedAt       time.Time          `json:"endedAt"`
}

// GameState is a full snapshot that lets a client resume mid-phase.
type GameState struct {
	RoomID           string             `json:"roomId"`
	QuizID           string             `json:"quizId"`
	Status           GameStatus         `json:"status"`
	QuestionIndex    int                `json:"questionIndex"`
	QuestionCount    int                `json:"questionCount"`
	Question         *QuestionView      `json:"question,omitempty"`
	RemainingMs      int64              `json:"remainingMs"`
	Answered         bool               `json:"answered"`
	LastResult       *QuestionResult    `json:"lastResult,omitempty"`
	Leaderboard      []LeaderboardEntry `json:"leaderboard"`
	ParticipantCount int                `json:"participantCount"`
	StartTime        time.Time          `json:"startTime,omitempty"`
	EndTime          time.Time          `json:"endTime,omitempty"`
	ResultID         string             `json:"resultId,omitempty"`
}
