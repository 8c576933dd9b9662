package domain

import "time"

// QuestionKind tags how a question is validated and scored.
type QuestionKind string

const (
	KindMultipleChoice QuestionKind = "multiple_choice"
	KindTrueFalse      QuestionKind = "true_false"
	KindImage          QuestionKind = "image"
	KindAudio          QuestionKind = "audio"
	KindMultiSelect    QuestionKind = "multi_select"
	KindFreeText       QuestionKind = "free_text"
)

const (
	// DefaultTimeLimit applies to questions stored without a time limit.
	DefaultTimeLimit = 20 * time.Second
	// DefaultPoints applies to questions stored without points.
	DefaultPoints = 1
)

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question is the full server-side question including the answer key.
type Question struct {
	ID           string       `json:"id"`
	Kind         QuestionKind `json:"kind"`
	Prompt       string       `json:"prompt"`
	Options      []Option     `json:"options"`
	MediaURL     string       `json:"mediaUrl,omitempty"`
	TimeLimitSec int          `json:"timeLimitSec"`
	Points       int          `json:"points"` // defaults to 1 if zero
	Explanation  string       `json:"explanation,omitempty"`
	FunFact      string       `json:"funFact,omitempty"`
}

// TimeLimit returns the answering window for the question.
func (q Question) TimeLimit() time.Duration {
	if q.TimeLimitSec <= 0 {
		return DefaultTimeLimit
	}
	return time.Duration(q.TimeLimitSec) * time.Second
}

// BasePoints returns the points for a correct answer before any bonus.
func (q Question) BasePoints() int {
	if q.Points <= 0 {
		return DefaultPoints
	}
	return q.Points
}

// CorrectOptionIDs lists the IDs of options flagged correct, in option order.
func (q Question) CorrectOptionIDs() []string {
	ids := make([]string, 0, 1)
	for _, opt := range q.Options {
		if opt.Correct {
			ids = append(ids, opt.ID)
		}
	}
	return ids
}

// HasOption reports whether id names one of the question's options.
func (q Question) HasOption(id string) bool {
	for _, opt := range q.Options {
		if opt.ID == id {
			return true
		}
	}
	return false
}

// View returns the client-safe projection of the question.
func (q Question) View(index, total int) QuestionView {
	options := make([]OptionView, 0, len(q.Options))
	for _, opt := range q.Options {
		options = append(options, OptionView{ID: opt.ID, Text: opt.Text})
	}
	kind := q.Kind
	if kind == "" {
		kind = KindMultipleChoice
	}
	return QuestionView{
		ID:           q.ID,
		Index:        index,
		Total:        total,
		Kind:         kind,
		Prompt:       q.Prompt,
		Options:      options,
		MediaURL:     q.MediaURL,
		TimeLimitSec: int(q.TimeLimit() / time.Second),
		Points:       q.BasePoints(),
	}
}

// OptionView is an option without its correctness flag.
type OptionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// QuestionView is what players see while a question is open.
type QuestionView struct {
	ID           string       `json:"id"`
	Index        int          `json:"index"`
	Total        int          `json:"total"`
	Kind         QuestionKind `json:"kind"`
	Prompt       string       `json:"prompt"`
	Options      []OptionView `json:"options"`
	MediaURL     string       `json:"mediaUrl,omitempty"`
	TimeLimitSec int          `json:"timeLimitSec"`
	Points       int          `json:"points"`
}

// Quiz is a collection of questions.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Identity names a player: registered players carry a PlayerID, guests only a name.
type Identity struct {
	PlayerID  string `json:"playerId,omitempty"`
	GuestName string `json:"guestName,omitempty"`
}

// Key returns the room-scoped participant key for the identity.
func (i Identity) Key() string {
	if i.PlayerID != "" {
		return "user:" + i.PlayerID
	}
	return "guest:" + i.GuestName
}

// Valid reports whether the identity names anyone.
func (i Identity) Valid() bool {
	return i.PlayerID != "" || i.GuestName != ""
}

// ConnectionStatus tracks whether a participant currently has a live connection.
type ConnectionStatus string

const (
	Connected    ConnectionStatus = "connected"
	Disconnected ConnectionStatus = "disconnected"
)

// Answer is the single recorded answer of a participant for one question.
type Answer struct {
	QuestionID string        `json:"questionId"`
	OptionIDs  []string      `json:"optionIds,omitempty"`
	Text       string        `json:"text,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
	ReceivedAt time.Time     `json:"receivedAt"`
	Correct    bool          `json:"correct"`
	Awarded    int           `json:"awarded"`
	Scored     bool          `json:"scored"`
}

// Participant is one player's state within one game.
type Participant struct {
	ID             string
	Identity       Identity
	DisplayName    string
	Avatar         string
	Score          int
	Answers        map[string]*Answer
	Status         ConnectionStatus
	DisconnectedAt time.Time
	ConnectionIDs  map[string]struct{}
	Left           bool
	JoinOrder      int
	LastUpdated    time.Time
}

// NewParticipant creates a connected participant with no answers.
func NewParticipant(identity Identity, displayName, avatar string, joinOrder int, now time.Time) *Participant {
	return &Participant{
		ID:            identity.Key(),
		Identity:      identity,
		DisplayName:   displayName,
		Avatar:        avatar,
		Answers:       make(map[string]*Answer),
		Status:        Connected,
		ConnectionIDs: make(map[string]struct{}),
		JoinOrder:     joinOrder,
		LastUpdated:   now,
	}
}

// HasAnswered reports whether an answer is recorded for the question.
func (p *Participant) HasAnswered(questionID string) bool {
	_, ok := p.Answers[questionID]
	return ok
}

// CorrectAnswers counts scored answers that were correct.
func (p *Participant) CorrectAnswers() int {
	n := 0
	for _, a := range p.Answers {
		if a.Scored && a.Correct {
			n++
		}
	}
	return n
}

// LeaderboardEntry is a snapshot-friendly view of a participant.
type LeaderboardEntry struct {
	Rank           int    `json:"rank"`
	ParticipantID  string `json:"participantId"`
	PlayerID       string `json:"playerId,omitempty"`
	DisplayName    string `json:"displayName"`
	Avatar         string `json:"avatar,omitempty"`
	Score          int    `json:"score"`
	Connected      bool   `json:"connected"`
	CorrectAnswers int    `json:"correctAnswers,omitempty"`
}

// Leaderboard captures the ordered scoreboard for a room.
type Leaderboard struct {
	RoomID        string             `json:"roomId"`
	QuestionIndex int                `json:"questionIndex"`
	Entries       []LeaderboardEntry `json:"entries"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// AnswerSubmission models an answer sent by a client.
type AnswerSubmission struct {
	QuestionID      string   `json:"questionId"`
	OptionIDs       []string `json:"optionIds"`
	Text            string   `json:"text,omitempty"`
	ClientElapsedMs int64    `json:"clientElapsedMs,omitempty"` // informational; elapsed time is measured by the server
}

// AnswerAck confirms that an answer was recorded. Correctness is revealed with the question result.
type AnswerAck struct {
	QuestionID string `json:"questionId"`
	ElapsedMs  int64  `json:"elapsedMs"`
	Answered   int    `json:"answered"`
	Expected   int    `json:"expected"`
}

// OptionStat is the share of participants that selected an option.
type OptionStat struct {
	OptionID   string  `json:"optionId"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// ParticipantResult is the per-participant outcome of one question.
type ParticipantResult struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Answered      bool   `json:"answered"`
	Correct       bool   `json:"correct"`
	Awarded       int    `json:"awarded"`
	TotalScore    int    `json:"totalScore"`
	ElapsedMs     int64  `json:"elapsedMs"`
}

// QuestionResult aggregates how the room answered one question.
type QuestionResult struct {
	QuestionID       string              `json:"questionId"`
	QuestionIndex    int                 `json:"questionIndex"`
	CorrectOptionIDs []string            `json:"correctOptionIds"`
	Explanation      string              `json:"explanation,omitempty"`
	FunFact          string              `json:"funFact,omitempty"`
	OptionStats      []OptionStat        `json:"optionStats"`
	Participants     []ParticipantResult `json:"participants"`
	AnsweredCount    int                 `json:"answeredCount"`
	ParticipantCount int                 `json:"participantCount"`
}

// QuestionAggregate is the persisted summary of one question.
type QuestionAggregate struct {
	QuestionID       string       `json:"questionId"`
	AnsweredCount    int          `json:"answeredCount"`
	CorrectCount     int          `json:"correctCount"`
	ParticipantCount int          `json:"participantCount"`
	OptionStats      []OptionStat `json:"optionStats"`
}

// GameResult is the aggregate handed to the result store when a game completes.
type GameResult struct {
	ID               string              `json:"id,omitempty"`
	RoomID           string              `json:"roomId"`
	QuizID           string              `json:"quizId"`
	StartTime        time.Time           `json:"startTime"`
	EndTime          time.Time           `json:"endTime"`
	ParticipantCount int                 `json:"participantCount"`
	QuestionCount    int                 `json:"questionCount"`
	Rankings         []LeaderboardEntry  `json:"rankings"`
	Questions        []QuestionAggregate `json:"questions"`
}
