package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"quizroom-service/internal/domain"
	"quizroom-service/internal/metrics"
)

// RoomRepository abstracts the process-wide room table (in-memory, Redis, etc).
type RoomRepository interface {
	GetOrCreate(roomID, quizID, hostID string) (*GameSession, bool)
	Get(roomID string) (*GameSession, bool)
	Delete(roomID string)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// ResultStore persists the aggregate result of a finished game.
type ResultStore interface {
	SaveGameResult(ctx context.Context, result domain.GameResult) (string, error)
}

// Broadcaster publishes room events to every subscriber of the room channel.
// Publish is called under the room lock and must not block.
type Broadcaster interface {
	Publish(roomID string, event domain.Event) error
}

// Config holds the phase durations and limits of the game engine.
type Config struct {
	ResultDisplay      time.Duration
	LeaderboardDisplay time.Duration
	GracePeriod        time.Duration
	MaxParticipants    int
	PersistAttempts    int
	PersistBackoff     time.Duration
	RoomRetention      time.Duration
}

// DefaultConfig returns the durations used when none are configured.
func DefaultConfig() Config {
	return Config{
		ResultDisplay:      5 * time.Second,
		LeaderboardDisplay: 5 * time.Second,
		GracePeriod:        30 * time.Second,
		MaxParticipants:    200,
		PersistAttempts:    3,
		PersistBackoff:     500 * time.Millisecond,
		RoomRetention:      time.Minute,
	}
}

// GameService drives every room's state machine.
type GameService struct {
	rooms    RoomRepository
	quizzes  QuizRepository
	results  ResultStore
	events   Broadcaster
	registry *Registry
	sched    Scheduler
	now      func() time.Time
	cfg      Config
}

// Option customizes a GameService.
type Option func(*GameService)

// WithScheduler replaces the timer facility (tests use apptest.ManualScheduler).
func WithScheduler(s Scheduler) Option {
	return func(g *GameService) { g.sched = s }
}

// WithClock is test-only for deterministic elapsed times.
func WithClock(now func() time.Time) Option {
	return func(g *GameService) { g.now = now }
}

func NewGameService(rooms RoomRepository, quizzes QuizRepository, results ResultStore, events Broadcaster, cfg Config, opts ...Option) *GameService {
	s := &GameService{
		rooms:   rooms,
		quizzes: quizzes,
		results: results,
		events:  events,
		sched:   RealScheduler,
		now:     time.Now,
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registry = NewRegistry(cfg.GracePeriod, s.sched, s.HandleDisconnectTimeout)
	s.registry.now = s.now
	return s
}

// Registry exposes the connection registry used for grace periods.
func (s *GameService) Registry() *Registry {
	return s.registry
}

// OpenRoom creates a waiting room for a quiz. An empty roomID gets a
// generated share code.
func (s *GameService) OpenRoom(ctx context.Context, roomID, quizID, hostID string) (domain.GameState, error) {
	if _, err := s.quizzes.GetQuiz(ctx, quizID); err != nil {
		return domain.GameState{}, err
	}

	if roomID == "" {
		for {
			roomID = newRoomCode()
			if _, exists := s.rooms.Get(roomID); !exists {
				break
			}
		}
	}

	session, created := s.rooms.GetOrCreate(roomID, quizID, hostID)
	if !created && session.QuizID() != quizID {
		return domain.GameState{}, fmt.Errorf("%w: room %s already hosts quiz %s", domain.ErrInvalidState, roomID, session.QuizID())
	}
	if created {
		log.Printf("room %s: opened for quiz %s", roomID, quizID)
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	return s.stateLocked(session, ""), nil
}

// Join registers or refreshes a participant in a room.
func (s *GameService) Join(_ context.Context, roomID string, identity domain.Identity, displayName, avatar, connectionID string) (domain.GameState, error) {
	if !identity.Valid() {
		return domain.GameState{}, fmt.Errorf("%w: missing player id or guest name", domain.ErrParticipantNotFound)
	}
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.GameState{}, domain.ErrRoomNotFound
	}
	if displayName == "" {
		displayName = identity.GuestName
		if displayName == "" {
			displayName = identity.PlayerID
		}
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.status == domain.StatusCompleted {
		return domain.GameState{}, domain.ErrInvalidState
	}

	now := s.now()
	key := identity.Key()
	participant, exists := session.participants[key]
	if exists {
		participant.DisplayName = displayName
		if avatar != "" {
			participant.Avatar = avatar
		}
		participant.Status = domain.Connected
		participant.Left = false
		participant.LastUpdated = now
	} else {
		if s.cfg.MaxParticipants > 0 && len(session.participants) >= s.cfg.MaxParticipants {
			return domain.GameState{}, domain.ErrCapacityExceeded
		}
		participant = domain.NewParticipant(identity, displayName, avatar, session.joinSeq, now)
		session.joinSeq++
		session.participants[key] = participant
	}
	if connectionID != "" {
		participant.ConnectionIDs[connectionID] = struct{}{}
	}

	s.publishLocked(session, domain.EventPlayerJoin, domain.PlayerPresence{
		ParticipantID:    key,
		DisplayName:      participant.DisplayName,
		Avatar:           participant.Avatar,
		ParticipantCount: len(session.participants),
	})
	return s.stateLocked(session, key), nil
}

// StartGame loads the question snapshot and opens the first question.
func (s *GameService) StartGame(ctx context.Context, roomID string) (domain.GameState, error) {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.GameState{}, domain.ErrRoomNotFound
	}

	session.mu.Lock()
	if session.status != domain.StatusWaiting || session.starting {
		session.mu.Unlock()
		return domain.GameState{}, domain.ErrInvalidState
	}
	session.starting = true
	quizID := session.quizID
	session.mu.Unlock()

	// Loaded outside the room lock; `starting` keeps a second StartGame out.
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)

	session.mu.Lock()
	defer session.mu.Unlock()
	session.starting = false
	if err != nil {
		return domain.GameState{}, fmt.Errorf("load quiz %s: %w", quizID, err)
	}
	if len(quiz.Questions) == 0 {
		return domain.GameState{}, fmt.Errorf("%w: quiz %s has no questions", domain.ErrInvalidState, quizID)
	}

	session.questions = cloneQuestions(quiz.Questions)
	session.startTime = s.now()
	session.currentIndex = 0
	s.openQuestionLocked(session, domain.EventGameStart)
	metrics.GameStarted()
	log.Printf("room %s: game started with %d questions and %d participants", roomID, len(session.questions), len(session.participants))
	return s.stateLocked(session, ""), nil
}

// SubmitAnswer records a participant's answer for the open question. When
// every expected participant has answered, the question ends early.
func (s *GameService) SubmitAnswer(_ context.Context, roomID, participantID string, submission domain.AnswerSubmission) (domain.AnswerAck, error) {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.AnswerAck{}, domain.ErrRoomNotFound
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	ack, err := s.recordAnswerLocked(session, participantID, submission)
	if err != nil {
		metrics.RecordAnswer(answerOutcome(err))
		return domain.AnswerAck{}, err
	}
	metrics.RecordAnswer("accepted")

	if session.allAnsweredLocked() {
		s.endQuestionLocked(session)
	}
	return ack, nil
}

func (s *GameService) recordAnswerLocked(session *GameSession, participantID string, submission domain.AnswerSubmission) (domain.AnswerAck, error) {
	participant, ok := session.participants[participantID]
	if !ok {
		return domain.AnswerAck{}, domain.ErrParticipantNotFound
	}
	switch session.status {
	case domain.StatusWaiting, domain.StatusCompleted:
		return domain.AnswerAck{}, domain.ErrInvalidState
	}

	if !session.hasQuestionLocked(submission.QuestionID) {
		return domain.AnswerAck{}, domain.ErrQuestionNotFound
	}
	q, ok := session.currentQuestionLocked()
	if !ok || submission.QuestionID != q.ID || session.status != domain.StatusInProgress {
		return domain.AnswerAck{}, domain.ErrStaleAnswer
	}
	if participant.HasAnswered(q.ID) {
		return domain.AnswerAck{}, domain.ErrDuplicateAnswer
	}
	if q.Kind != domain.KindFreeText {
		for _, id := range submission.OptionIDs {
			if !q.HasOption(id) {
				return domain.AnswerAck{}, domain.ErrOptionNotFound
			}
		}
	}

	now := s.now()
	elapsed := now.Sub(session.questionStartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	if limit := q.TimeLimit(); elapsed > limit {
		elapsed = limit
	}
	participant.Answers[q.ID] = &domain.Answer{
		QuestionID: q.ID,
		OptionIDs:  append([]string(nil), submission.OptionIDs...),
		Text:       submission.Text,
		Elapsed:    elapsed,
		ReceivedAt: now,
	}
	participant.LastUpdated = now

	answered, expected := session.answeredCountLocked(q.ID)
	return domain.AnswerAck{
		QuestionID: q.ID,
		ElapsedMs:  elapsed.Milliseconds(),
		Answered:   answered,
		Expected:   expected,
	}, nil
}

// EndCurrentQuestion closes the open question and publishes its result. It
// is a no-op once the room has moved past the question.
func (s *GameService) EndCurrentQuestion(_ context.Context, roomID string) error {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.status == domain.StatusWaiting {
		return domain.ErrInvalidState
	}
	s.endQuestionLocked(session)
	return nil
}

// AdvanceAfterLeaderboard moves to the next question, or finalizes the game
// after the last one. Hosts may call it to skip the result/leaderboard display.
func (s *GameService) AdvanceAfterLeaderboard(ctx context.Context, roomID string) error {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	session.mu.Lock()
	if session.status != domain.StatusShowingResults && session.status != domain.StatusShowingLeaderboard {
		session.mu.Unlock()
		return domain.ErrInvalidState
	}
	result := s.advanceLocked(session)
	session.mu.Unlock()

	if result != nil {
		s.persistResult(ctx, session, result)
	}
	return nil
}

// FinalizeGame ends the game, publishes the final rankings and persists the
// result. Only the first call has any effect.
func (s *GameService) FinalizeGame(ctx context.Context, roomID string) error {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	session.mu.Lock()
	if session.status == domain.StatusWaiting {
		session.mu.Unlock()
		return domain.ErrInvalidState
	}
	result := s.finalizeLocked(session)
	session.mu.Unlock()

	if result != nil {
		s.persistResult(ctx, session, result)
	}
	return nil
}

// Next is the host's "next" command: an open question ends early, a result
// or leaderboard display is skipped. The phase is read and acted on under one
// room lock.
func (s *GameService) Next(ctx context.Context, roomID string) error {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	session.mu.Lock()
	var result *domain.GameResult
	switch session.status {
	case domain.StatusInProgress:
		s.endQuestionLocked(session)
	case domain.StatusShowingResults, domain.StatusShowingLeaderboard:
		result = s.advanceLocked(session)
	default:
		session.mu.Unlock()
		return domain.ErrInvalidState
	}
	session.mu.Unlock()

	if result != nil {
		s.persistResult(ctx, session, result)
	}
	return nil
}

// Reconnect restores a participant's connection and returns a snapshot that
// lets the client resume mid-phase.
func (s *GameService) Reconnect(_ context.Context, roomID, participantID, connectionID string) (domain.GameState, error) {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.GameState{}, domain.ErrRoomNotFound
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	participant, ok := session.participants[participantID]
	if !ok {
		return domain.GameState{}, domain.ErrParticipantNotFound
	}
	s.registry.CancelGrace(roomID, participantID)
	if connectionID != "" {
		participant.ConnectionIDs[connectionID] = struct{}{}
	}
	if participant.Status == domain.Disconnected {
		participant.Status = domain.Connected
		participant.Left = false
		participant.DisconnectedAt = time.Time{}
		participant.LastUpdated = s.now()
		s.publishLocked(session, domain.EventPlayerJoin, domain.PlayerPresence{
			ParticipantID:    participantID,
			DisplayName:      participant.DisplayName,
			Avatar:           participant.Avatar,
			ParticipantCount: len(session.participants),
		})
	}
	return s.stateLocked(session, participantID), nil
}

// DisconnectPlayer marks a participant disconnected once its last
// connection is gone. Score and answers are kept.
func (s *GameService) DisconnectPlayer(_ context.Context, roomID, participantID, connectionID string) error {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	participant, ok := session.participants[participantID]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	if connectionID != "" {
		delete(participant.ConnectionIDs, connectionID)
	} else {
		participant.ConnectionIDs = make(map[string]struct{})
	}
	if len(participant.ConnectionIDs) > 0 || participant.Status == domain.Disconnected {
		return nil
	}
	participant.Status = domain.Disconnected
	participant.DisconnectedAt = s.now()
	s.publishLocked(session, domain.EventPlayerLeave, domain.PlayerPresence{
		ParticipantID:    participantID,
		DisplayName:      participant.DisplayName,
		ParticipantCount: len(session.participants),
	})
	return nil
}

// Connect registers a network connection for an identity.
func (s *GameService) Connect(connectionID string, identity domain.Identity) {
	s.registry.Connect(connectionID, identity)
}

// Subscribe records that a connection follows a room.
func (s *GameService) Subscribe(connectionID, roomID string) error {
	return s.registry.Subscribe(connectionID, roomID)
}

// Disconnect handles a dropped connection: every room it followed marks the
// participant disconnected before any grace period starts.
func (s *GameService) Disconnect(ctx context.Context, connectionID string) {
	identity, ok := s.registry.Identity(connectionID)
	if !ok {
		return
	}
	participantID := identity.Key()
	for _, roomID := range s.registry.Rooms(connectionID) {
		if err := s.DisconnectPlayer(ctx, roomID, participantID, connectionID); err != nil {
			log.Printf("room %s: disconnect %s: %v", roomID, participantID, err)
		}
	}
	s.registry.Disconnect(connectionID)
}

// Logout ends a connection without a grace period. In rooms where the
// participant has no other live connection it leaves at once.
func (s *GameService) Logout(ctx context.Context, connectionID string) {
	participantID, rooms := s.registry.Logout(connectionID)
	for _, roomID := range rooms {
		if err := s.DisconnectPlayer(ctx, roomID, participantID, connectionID); err != nil {
			log.Printf("room %s: logout %s: %v", roomID, participantID, err)
			continue
		}
		s.markLeft(roomID, participantID, false)
	}
}

// HandleDisconnectTimeout runs when a participant's grace period expires.
// The participant stops counting towards the early advance but keeps its
// score and history.
func (s *GameService) HandleDisconnectTimeout(roomID, participantID string) {
	s.markLeft(roomID, participantID, true)
}

func (s *GameService) markLeft(roomID, participantID string, timedOut bool) {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return
	}

	session.mu.Lock()
	participant, ok := session.participants[participantID]
	if !ok || participant.Status != domain.Disconnected || participant.Left {
		session.mu.Unlock()
		return
	}
	participant.Left = true
	s.publishLocked(session, domain.EventPlayerLeave, domain.PlayerPresence{
		ParticipantID:    participantID,
		DisplayName:      participant.DisplayName,
		ParticipantCount: len(session.participants),
		TimedOut:         timedOut,
	})
	if session.status == domain.StatusInProgress && session.allAnsweredLocked() {
		s.endQuestionLocked(session)
	}
	abandoned := session.abandonedLocked()
	if abandoned {
		session.cancelPendingLocked()
	}
	session.mu.Unlock()

	if abandoned {
		log.Printf("room %s: abandoned before start, removing", roomID)
		s.rooms.Delete(roomID)
	}
}

// GameState returns the current phase snapshot of a room.
func (s *GameService) GameState(_ context.Context, roomID string) (domain.GameState, error) {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.GameState{}, domain.ErrRoomNotFound
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	return s.stateLocked(session, ""), nil
}

// RoomHost returns the host identity a room was opened with.
func (s *GameService) RoomHost(roomID string) (string, error) {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return "", domain.ErrRoomNotFound
	}
	return session.HostID(), nil
}

// ParticipantState is GameState from one participant's point of view.
func (s *GameService) ParticipantState(_ context.Context, roomID, participantID string) (domain.GameState, error) {
	session, ok := s.rooms.Get(roomID)
	if !ok {
		return domain.GameState{}, domain.ErrRoomNotFound
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	if _, ok := session.participants[participantID]; !ok {
		return domain.GameState{}, domain.ErrParticipantNotFound
	}
	return s.stateLocked(session, participantID), nil
}

func answerOutcome(err error) string {
	switch err {
	case domain.ErrDuplicateAnswer:
		return "duplicate"
	case domain.ErrStaleAnswer:
		return "stale"
	case domain.ErrOptionNotFound, domain.ErrQuestionNotFound:
		return "invalid"
	}
	return "rejected"
}

func newRoomCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
}
