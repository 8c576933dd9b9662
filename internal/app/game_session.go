package app

import (
	"sort"
	"sync"
	"time"

	"quizroom-service/internal/domain"
)

type transitionKind int

const (
	transitionQuestionTimeout transitionKind = iota + 1
	transitionResultDisplay
	transitionLeaderboardDisplay
	transitionEvict
)

func (k transitionKind) String() string {
	switch k {
	case transitionQuestionTimeout:
		return "question-timeout"
	case transitionResultDisplay:
		return "result-display"
	case transitionLeaderboardDisplay:
		return "leaderboard-display"
	case transitionEvict:
		return "evict"
	}
	return "unknown"
}

// pendingTransition is the single scheduled phase change of a room. The
// generation is captured when scheduling and compared when the timer fires.
type pendingTransition struct {
	kind          transitionKind
	generation    uint64
	questionIndex int
	timer         Timer
}

// GameSession is the in-memory state of one room's game. Every field is
// guarded by mu; the GameService is the only writer.
type GameSession struct {
	roomID    string
	quizID    string
	hostID    string
	createdAt time.Time

	mu                sync.Mutex
	status            domain.GameStatus
	starting          bool
	currentIndex      int
	questions         []domain.Question
	questionStartedAt time.Time
	participants      map[string]*domain.Participant
	joinSeq           int
	startTime         time.Time
	endTime           time.Time
	pending           *pendingTransition
	generation        uint64
	eventSeq          uint64
	lastResult        *domain.QuestionResult
	aggregates        []domain.QuestionAggregate
	resultID          string
}

// NewGameSession is exported for infrastructure layers that need to seed sessions.
func NewGameSession(roomID, quizID, hostID string) *GameSession {
	return &GameSession{
		roomID:       roomID,
		quizID:       quizID,
		hostID:       hostID,
		createdAt:    time.Now(),
		status:       domain.StatusWaiting,
		currentIndex: -1,
		participants: make(map[string]*domain.Participant),
	}
}

func (s *GameSession) RoomID() string { return s.roomID }
func (s *GameSession) QuizID() string { return s.quizID }
func (s *GameSession) HostID() string { return s.hostID }

// Status returns the current phase.
func (s *GameSession) Status() domain.GameStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsEmpty reports whether the session has no participants.
func (s *GameSession) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants) == 0
}

// Participant returns a copy of one participant's state.
func (s *GameSession) Participant(id string) (domain.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return domain.Participant{}, false
	}
	cp := *p
	cp.Answers = make(map[string]*domain.Answer, len(p.Answers))
	for k, a := range p.Answers {
		ac := *a
		cp.Answers[k] = &ac
	}
	cp.ConnectionIDs = make(map[string]struct{}, len(p.ConnectionIDs))
	for k := range p.ConnectionIDs {
		cp.ConnectionIDs[k] = struct{}{}
	}
	return cp, true
}

func (s *GameSession) currentQuestionLocked() (domain.Question, bool) {
	if s.currentIndex < 0 || s.currentIndex >= len(s.questions) {
		return domain.Question{}, false
	}
	return s.questions[s.currentIndex], true
}

func (s *GameSession) hasQuestionLocked(questionID string) bool {
	for _, q := range s.questions {
		if q.ID == questionID {
			return true
		}
	}
	return false
}

func (s *GameSession) isLastQuestionLocked() bool {
	return s.currentIndex >= len(s.questions)-1
}

// orderedLocked returns participants in join order.
func (s *GameSession) orderedLocked() []*domain.Participant {
	out := make([]*domain.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinOrder < out[j].JoinOrder })
	return out
}

// eligibleLocked returns the participants expected to answer: everyone whose
// disconnect grace period has not expired.
func (s *GameSession) eligibleLocked() []*domain.Participant {
	out := make([]*domain.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		if !p.Left {
			out = append(out, p)
		}
	}
	return out
}

func (s *GameSession) allAnsweredLocked() bool {
	q, ok := s.currentQuestionLocked()
	if !ok {
		return false
	}
	eligible := s.eligibleLocked()
	if len(eligible) == 0 {
		return false
	}
	for _, p := range eligible {
		if !p.HasAnswered(q.ID) {
			return false
		}
	}
	return true
}

func (s *GameSession) answeredCountLocked(questionID string) (answered, expected int) {
	for _, p := range s.eligibleLocked() {
		expected++
		if p.HasAnswered(questionID) {
			answered++
		}
	}
	return answered, expected
}

func (s *GameSession) abandonedLocked() bool {
	if s.status != domain.StatusWaiting || len(s.participants) == 0 {
		return false
	}
	return len(s.eligibleLocked()) == 0
}

// cancelPendingLocked stops the outstanding transition, if any. A callback
// that already fired finds a different generation and does nothing.
func (s *GameSession) cancelPendingLocked() bool {
	if s.pending == nil {
		return false
	}
	s.pending.timer.Stop()
	s.pending = nil
	return true
}

func cloneQuestions(in []domain.Question) []domain.Question {
	out := make([]domain.Question, len(in))
	for i, q := range in {
		q.Options = append([]domain.Option(nil), q.Options...)
		out[i] = q
	}
	return out
}
