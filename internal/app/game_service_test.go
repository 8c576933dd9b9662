package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quizroom-service/internal/app"
	"quizroom-service/internal/app/apptest"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
)

const room = "ROOM1"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBroadcaster) Publish(_ string, event domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBroadcaster) ofType(t domain.EventType) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Event
	for _, ev := range b.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (b *recordingBroadcaster) all() []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Event(nil), b.events...)
}

type harness struct {
	service *app.GameService
	sched   *apptest.ManualScheduler
	clock   *fakeClock
	events  *recordingBroadcaster
	results *memory.ResultStore
	rooms   *memory.RoomStore
}

func newHarness(t *testing.T, quiz domain.Quiz, results app.ResultStore) *harness {
	t.Helper()
	h := &harness{
		sched:   apptest.NewManualScheduler(),
		clock:   newFakeClock(),
		events:  &recordingBroadcaster{},
		results: memory.NewResultStore(),
		rooms:   memory.NewRoomStore(),
	}
	if results == nil {
		results = h.results
	}
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{quiz.ID: quiz}), time.Minute)
	cfg := app.DefaultConfig()
	cfg.PersistBackoff = time.Millisecond
	h.service = app.NewGameService(h.rooms, quizzes, results, h.events, cfg,
		app.WithScheduler(h.sched), app.WithClock(h.clock.Now))

	if _, err := h.service.OpenRoom(context.Background(), room, quiz.ID, "host-1"); err != nil {
		t.Fatalf("open room: %v", err)
	}
	return h
}

func (h *harness) join(t *testing.T, playerID, name string) string {
	t.Helper()
	identity := domain.Identity{PlayerID: playerID}
	if _, err := h.service.Join(context.Background(), room, identity, name, "", "conn-"+playerID); err != nil {
		t.Fatalf("join %s: %v", playerID, err)
	}
	return identity.Key()
}

func (h *harness) status(t *testing.T) domain.GameStatus {
	t.Helper()
	state, err := h.service.GameState(context.Background(), room)
	if err != nil {
		t.Fatalf("game state: %v", err)
	}
	return state.Status
}

func twoQuestionQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Arithmetic",
		Questions: []domain.Question{
			{
				ID:     "q1",
				Kind:   domain.KindMultipleChoice,
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3"},
					{ID: "o2", Text: "4", Correct: true},
					{ID: "o3", Text: "5"},
				},
				TimeLimitSec: 10,
				Points:       10,
			},
			{
				ID:     "q2",
				Kind:   domain.KindTrueFalse,
				Prompt: "Is 3 prime?",
				Options: []domain.Option{
					{ID: "t", Text: "true", Correct: true},
					{ID: "f", Text: "false"},
				},
				TimeLimitSec: 10,
				Points:       10,
			},
		},
	}
}

func TestQuestionScoringAcrossParticipants(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoQuestionQuiz(), nil)
	alice := h.join(t, "p1", "Alice")
	bob := h.join(t, "p2", "Bob")
	carol := h.join(t, "p3", "Carol")

	if _, err := h.service.StartGame(ctx, room); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := h.service.SubmitAnswer(ctx, room, alice, domain.AnswerSubmission{QuestionID: "q1", OptionIDs: []string{"o2"}}); err != nil {
		t.Fatalf("alice answer: %v", err)
	}
	h.clock.Advance(10 * time.Second)
	if _, err := h.service.SubmitAnswer(ctx, room, bob, domain.AnswerSubmission{QuestionID: "q1", OptionIDs: []string{"o2"}}); err != nil {
		t.Fatalf("bob answer: %v", err)
	}
	ack, err := h.service.SubmitAnswer(ctx, room, carol, domain.AnswerSubmission{QuestionID: "q1", OptionIDs: []string{"o1"}})
	if err != nil {
		t.Fatalf("carol answer: %v", err)
	}
	if ack.Answered != 3 || ack.Expected != 3 {
		t.Fatalf("unexpected ack %+v", ack)
	}

	if got := h.status(t); got != domain.StatusShowingResults {
		t.Fatalf("expected early advance to results, got %s", got)
	}
	results := h.events.ofType(domain.EventQuestionResult)
	if len(results) != 1 {
		t.Fatalf("expected one question result, got %d", len(results))
	}
	result := results[0].Payload.(domain.QuestionResult)
	awarded := map[string]int{}
	for _, p := range result.Participants {
		awarded[p.ParticipantID] = p.Awarded
	}
	if awarded[alice] != 15 || awarded[bob] != 10 || awarded[carol] != 0 {
		t.Fatalf("unexpected awards %+v", awarded)
	}
	for _, stat := range result.OptionStats {
		if stat.OptionID == "o2" && stat.Percentage != 66.67 {
			t.Fatalf("expected 66.67%% for o2, got %v", stat.Percentage)
		}
	}

	if !h.sched.FireNext() {
		t.Fatalf("expected result display timer")
	}
	boards := h.events.ofType(domain.EventLeaderboard)
	if len(boards) != 1 {
		t.Fatalf("expected one leaderboard, got %d", len(boards))
	}
	entries := boards[0].Payload.(domain.Leaderboard).Entries
	if entries[0].ParticipantID != alice || entries[0].Rank != 1 ||
		entries[1].ParticipantID != bob || entries[1].Rank != 2 ||
		entries[2].ParticipantID != carol || entries[2].Rank != 3 {
		t.Fatalf("unexpected leaderboard %+v", entries)
	}
}

func TestDuplicateAndStaleAnswers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoQuestionQuiz(), nil)
	alice := h.join(t, "p1", "Alice")
	bob := h.join(t, "p2", "Bob")

	if _, err := h.service.SubmitAnswer(ctx, room, alice, domain.AnswerSubmission{QuestionID: "q1", OptionIDs: []string{"o2"}}); err != domain.ErrInvalidState {
		t.Fatalf("expected invalid state before start, got %v", err)
	}
	if _, err := h.service.StartGame(ctx, room); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.service.SubmitAnswer(ctx, room, alice, domain.AnswerSubmission{QuestionID: "q1", OptionIDs: []string{"o2"}}); err != nil {
		t.Fatalf("first answer: %v", err)
	}
	if _, err := h.service.SubmitAnswer(ctx, room, alice, domain.AnswerSubmission{QuestionID: "q1", OptionIDs: []string{"o1"}}); err != domain.ErrDuplicateAnswer {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if _, err := h.service.SubmitAnswer(ctx, room, bob, domain.AnswerSubmission{QuestionID: "q1", OptionIDs: []string{"zz"}}); err != domain.ErrOptionNotFound {
		t.Fatalf("expected unknown option, got %v", err)
	}
	if _, err := h.service.SubmitAnswer(ctx, room, bob, domain.AnswerSubmission{QuestionID: "q9", OptionIDs: []string{"o2"}}); err != domain.ErrQuestionNotFound {
		t.Fatalf("expected unknown question, got %v", err)
	}
	if _, err := h.service.SubmitAnswer(ctx, room, "user:ghost", domain.AnswerSubmission{QuestionID: "q1"}); err != domain.ErrParticipantNotFound {
		t.Fatalf("expected participant not found, got %v", err)
	}

	if err := h.service.EndCurrentQuestion(ctx, room); err != nil {
		t.Fatalf("end question: %v", err)
	}
	if _, err := h.service.SubmitAnswer(ctx, room, bob, domain.AnswerSubmission{QuestionID: "q1", OptionIDs: []string{"o2"}}); err != domain.ErrStaleAnswer {
		t.Fatalf("expected stale answer, got %v", err)
	}

	p, _ := h.rooms.Get(room)
	alicePart, _ := p.Participant(alice)
	bobPart, _ := p.Participant(bob)
	if alicePart.Score != 15 || bobPart.Score != 0 {
		t.Fatalf("expected only first answer to count, got alice=%d bob=%d", alicePart.Score, bobPart.Score)
	}
	if err := h.service.EndCurrentQuestion(ctx, room); err != nil {
		t.Fatalf("second end should be a no-op: %v", err)
	}
	if n := len(h.events.ofType(domain.EventQuestionResult)); n != 1 {
		t.Fatalf("expected one result, got %d", n)
	}
}

func TestFullGameCompletesAndPersistsOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoQuestionQuiz(), nil)
	alice := h.join(t, "p1", "Alice")

	if _, err := h.service.StartGame(ctx, room); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.service.StartGame(ctx, room); err != domain.ErrInvalidState {
		t.Fatalf("expected second start to fail, got %v", err)
	}
	_, _ = h.service.SubmitAnswer(ctx, room, alice, domain.AnswerSubmission{QuestionID: "q1", OptionIDs: []string{"o2"}})

	// result -> leaderboard -> question 2
	h.sched.FireNext()
	h.sched.FireNext()
	state, _ := h.service.GameState(ctx, room)
	if state.Status != domain.StatusInProgress || state.QuestionIndex != 1 {
		t.Fatalf("expected second question open, got %+v", state)
	}
	if n := len(h.events.ofType(domain.EventQuestionStart)); n != 1 {
		t.Fatalf("expected one QUESTION_START, got %d", n)
	}

	// question 2 times out unanswered
	h.sched.FireNext()
	h.sched.FireNext()
	h.sched.FireNext()

	if got := h.status(t); got != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", got)
	}
	ends := h.events.ofType(domain.EventGameEnd)
	if len(ends) != 1 {
		t.Fatalf("expected one GAME_END, got %d", len(ends))
	}
	rankings := ends[0].Payload.(domain.GameEnded).Rankings
	if len(rankings) != 1 || rankings[0].Score != 15 || rankings[0].CorrectAnswers != 1 {
		t.Fatalf("unexpected rankings %+v", rankings)
	}

	saved := h.results.All()
	if len(saved) != 1 {
		t.Fatalf("expected one persisted result, got %d", len(saved))
	}
	if saved[0].QuestionCount != 2 || len(saved[0].Questions) != 2 {
		t.Fatalf("unexpected persisted result %+v", saved[0])
	}
	state, _ = h.service.GameState(ctx, room)
	if state.ResultID != saved[0].ID {
		t.Fatalf("expected result id %s in state, got %s", saved[0].ID, state.ResultID)
	}

	if err := h.service.FinalizeGame(ctx, room); err != nil {
		t.Fatalf("finalize after completion: %v", err)
	}
	if len(h.results.All()) != 1 {
		t.Fatalf("finalize after completion must not persist again")
	}

	var last uint64
	for _, ev := range h.events.all() {
		if ev.Seq <= last {
			t.Fatalf("event sequence not increasing: %d after %d", ev.Seq, last)
		}
		last = ev.Seq
	}

	// retention timer evicts the room
	if !h.sched.FireNext() {
		t.Fatalf("expected eviction timer")
	}
	if _, ok := h.rooms.Get(room); ok {
		t.Fatalf("expected room to be evicted")
	}
}

func TestConcurrentFinalizeProducesOneResult(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoQuestionQuiz(), nil)
	h.join(t, "p1", "Alice")
	if _, err := h.service.StartGame(ctx, room); err != nil {
		t.Fatalf("start: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.service.FinalizeGame(ctx, room); err != nil {
				t.Errorf("finalize: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := len(h.events.ofType(domain.EventGameEnd)); n != 1 {
		t.Fatalf("expected one GAME_END, got %d", n)
	}
	if n := len(h.results.All()); n != 1 {
		t.Fatalf("expected one persisted result, got %d", n)
	}
	// finalize during an open question scores it first
	if n := len(h.events.ofType(domain.EventQuestionResult)); n != 1 {
		t.Fatalf("expected the open question to be scored, got %d results", n)
	}
}

func TestStaleTimerIsIgnored(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoQuestionQuiz(), nil)
	alice := h.join(t, "p1", "Alice")
	if _, err := h.service.StartGame(ctx, room); err != nil {
		t.Fatalf("start: %v", err)
	}
	timeout := h.sched.Pending()[0]

	_, _ = h.service.SubmitAnswer(ctx, room, alice, domain.AnswerSubmission{QuestionID: "q1", OptionIDs: []string{"o2"}})
	if !timeout.Stopped() {
		t.Fatalf("expected question timer to be stopped on early end")
	}
	if n := len(h.sched.Pending()); n != 1 {
		t.Fatalf("expected exactly one pending transition, got %d", n)
	}

	// the stopped timeout fires anyway, as if it raced with the early end
	timeout.Fire()
	if got := h.status(t); got != domain.StatusShowingResults {
		t.Fatalf("stale timer changed status to %s", got)
	}
	if n := len(h.events.ofType(domain.EventQuestionResult)); n != 1 {
		t.Fatalf("stale timer produced %d results", n)
	}
}

func TestHostAdvanceSkipsDisplay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoQuestionQuiz(), nil)
	h.join(t, "p1", "Alice")
	if err := h.service.AdvanceAfterLeaderboard(ctx, room); err != domain.ErrInvalidState {
		t.Fatalf("expected invalid state while waiting, got %v", err)
	}
	_, _ = h.service.StartGame(ctx, room)
	if err := h.service.AdvanceAfterLeaderboard(ctx, room); err != domain.ErrInvalidState {
		t.Fatalf("expected invalid state while question open, got %v", err)
	}
	_ = h.service.EndCurrentQuestion(ctx, room)
	resultTimer := h.sched.Pending()[0]
	if err := h.service.AdvanceAfterLeaderboard(ctx, room); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !resultTimer.Stopped() {
		t.Fatalf("expected result display timer to be replaced")
	}
	state, _ := h.service.GameState(ctx, room)
	if state.Status != domain.StatusInProgress || state.QuestionIndex != 1 {
		t.Fatalf("expected second question, got %+v", state)
	}
}

func TestReconnectSnapshot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoQuestionQuiz(), nil)
	alice := h.join(t, "p1", "Alice")
	h.join(t, "p2", "Bob")
	_, _ = h.service.StartGame(ctx, room)
	_, _ = h.service.SubmitAnswer(ctx, room, alice, domain.AnswerSubmission{QuestionID: "q1", OptionIDs: []string{"o2"}})

	if err := h.service.DisconnectPlayer(ctx, room, alice, "conn-p1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if n := len(h.events.ofType(domain.EventPlayerLeave)); n != 1 {
		t.Fatalf("expected PLAYER_LEAVE, got %d", n)
	}
	h.clock.Advance(4 * time.Second)

	state, err := h.service.Reconnect(ctx, room, alice, "conn-p1b")
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if state.Status != domain.StatusInProgress || state.Question == nil || state.Question.ID != "q1" {
		t.Fatalf("unexpected snapshot %+v", state)
	}
	if !state.Answered {
		t.Fatalf("expected snapshot to report the recorded answer")
	}
	if state.RemainingMs != 6000 {
		t.Fatalf("expected 6000ms remaining, got %d", state.RemainingMs)
	}
	if state.LastResult != nil {
		t.Fatalf("answer key must not leak while the question is open")
	}
	if _, err := h.service.Reconnect(ctx, room, "user:ghost", ""); err != domain.ErrParticipantNotFound {
		t.Fatalf("expected participant not found, got %v", err)
	}
}

func TestDisconnectTimeoutAllowsEarlyAdvance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoQuestionQuiz(), nil)
	alice := h.join(t, "p1", "Alice")
	bob := h.join(t, "p2", "Bob")

	h.service.Connect("conn-p2", domain.Identity{PlayerID: "p2"})
	if err := h.service.Subscribe("conn-p2", room); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_, _ = h.service.StartGame(ctx, room)
	questionTimer := h.sched.Pending()[0]

	h.service.Disconnect(ctx, "conn-p2")
	if !h.service.Registry().PendingGrace(room, bob) {
		t.Fatalf("expected grace timer for bob")
	}
	_, _ = h.service.SubmitAnswer(ctx, room, alice, domain.AnswerSubmission{QuestionID: "q1", OptionIDs: []string{"o2"}})
	if got := h.status(t); got != domain.StatusInProgress {
		t.Fatalf("disconnected player within grace must still be waited for, got %s", got)
	}

	for _, timer := range h.sched.Pending() {
		if timer != questionTimer {
			timer.Fire()
		}
	}
	if got := h.status(t); got != domain.StatusShowingResults {
		t.Fatalf("expected early advance once grace expired, got %s", got)
	}
	leaves := h.events.ofType(domain.EventPlayerLeave)
	if len(leaves) != 2 || !leaves[1].Payload.(domain.PlayerPresence).TimedOut {
		t.Fatalf("expected timed-out PLAYER_LEAVE, got %+v", leaves)
	}
	session, _ := h.rooms.Get(room)
	if p, ok := session.Participant(bob); !ok || !p.Left {
		t.Fatalf("expected bob to keep the record and be marked left")
	}
}

func TestFreeTextScoresZero(t *testing.T) {
	ctx := context.Background()
	quiz := domain.Quiz{
		ID: "quiz-text",
		Questions: []domain.Question{{
			ID:           "q1",
			Kind:         domain.KindFreeText,
			Prompt:       "Name a prime",
			TimeLimitSec: 10,
			Points:       10,
		}},
	}
	h := newHarness(t, quiz, nil)
	alice := h.join(t, "p1", "Alice")
	_, _ = h.service.StartGame(ctx, room)
	if _, err := h.service.SubmitAnswer(ctx, room, alice, domain.AnswerSubmission{QuestionID: "q1", Text: "7"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	result := h.events.ofType(domain.EventQuestionResult)[0].Payload.(domain.QuestionResult)
	if result.Participants[0].Awarded != 0 || result.Participants[0].Correct {
		t.Fatalf("free text must score zero, got %+v", result.Participants[0])
	}
}

func TestCapacityAndUnknownRoom(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoQuestionQuiz(), nil)
	if _, err := h.service.Join(ctx, "NOPE", domain.Identity{GuestName: "x"}, "", "", ""); err != domain.ErrRoomNotFound {
		t.Fatalf("expected room not found, got %v", err)
	}
	if _, err := h.service.OpenRoom(ctx, "", "missing-quiz", "host"); err != domain.ErrQuizNotFound {
		t.Fatalf("expected quiz not found, got %v", err)
	}
	state, err := h.service.OpenRoom(ctx, "", "quiz-1", "host")
	if err != nil || len(state.RoomID) != 6 {
		t.Fatalf("expected generated room code, got %q %v", state.RoomID, err)
	}

	small := app.DefaultConfig()
	small.MaxParticipants = 1
	rooms := memory.NewRoomStore()
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": twoQuestionQuiz()}), time.Minute)
	svc := app.NewGameService(rooms, quizzes, nil, nil, small, app.WithScheduler(apptest.NewManualScheduler()))
	_, _ = svc.OpenRoom(ctx, "SMALL", "quiz-1", "host")
	if _, err := svc.Join(ctx, "SMALL", domain.Identity{GuestName: "a"}, "", "", ""); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if _, err := svc.Join(ctx, "SMALL", domain.Identity{GuestName: "a"}, "A again", "", ""); err != nil {
		t.Fatalf("rejoin must not count against capacity: %v", err)
	}
	if _, err := svc.Join(ctx, "SMALL", domain.Identity{GuestName: "b"}, "", "", ""); err != domain.ErrCapacityExceeded {
		t.Fatalf("expected capacity exceeded, got %v", err)
	}
}

type flakyStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	inner    *memory.ResultStore
}

func (s *flakyStore) SaveGameResult(ctx context.Context, result domain.GameResult) (string, error) {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()
	if fail {
		return "", errors.New("database unavailable")
	}
	return s.inner.SaveGameResult(ctx, result)
}

func TestPersistenceRetries(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{failures: 2, inner: memory.NewResultStore()}
	h := newHarness(t, twoQuestionQuiz(), store)
	h.join(t, "p1", "Alice")
	_, _ = h.service.StartGame(ctx, room)
	if err := h.service.FinalizeGame(ctx, room); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if store.calls != 3 || len(store.inner.All()) != 1 {
		t.Fatalf("expected success on third attempt, calls=%d saved=%d", store.calls, len(store.inner.All()))
	}
}

func TestPersistenceFailureKeepsGameCompleted(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{failures: 10, inner: memory.NewResultStore()}
	h := newHarness(t, twoQuestionQuiz(), store)
	h.join(t, "p1", "Alice")
	_, _ = h.service.StartGame(ctx, room)
	_ = h.service.FinalizeGame(ctx, room)

	state, _ := h.service.GameState(ctx, room)
	if state.Status != domain.StatusCompleted || state.ResultID != "" {
		t.Fatalf("unexpected state after failed persistence %+v", state)
	}
	if store.calls != app.DefaultConfig().PersistAttempts {
		t.Fatalf("expected %d attempts, got %d", app.DefaultConfig().PersistAttempts, store.calls)
	}
}

// cancelAwareStore fails its first save, then honours ctx like a database driver.
type cancelAwareStore struct {
	mu    sync.Mutex
	calls int
	inner *memory.ResultStore
}

func (s *cancelAwareStore) SaveGameResult(ctx context.Context, result domain.GameResult) (string, error) {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()
	if first {
		return "", errors.New("connection reset")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.inner.SaveGameResult(ctx, result)
}

func TestPersistenceOutlivesCancelledRequest(t *testing.T) {
	store := &cancelAwareStore{inner: memory.NewResultStore()}
	h := newHarness(t, twoQuestionQuiz(), store)
	h.join(t, "p1", "Alice")
	_, _ = h.service.StartGame(context.Background(), room)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.service.FinalizeGame(ctx, room); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if store.calls != 2 || len(store.inner.All()) != 1 {
		t.Fatalf("expected retry to succeed after the caller went away, calls=%d saved=%d", store.calls, len(store.inner.All()))
	}
	state, _ := h.service.GameState(context.Background(), room)
	if state.ResultID == "" {
		t.Fatalf("expected result id on the completed room")
	}
}

type hookScheduler struct {
	*apptest.ManualScheduler
	onSchedule func()
}

func (s *hookScheduler) AfterFunc(d time.Duration, f func()) app.Timer {
	if s.onSchedule != nil {
		s.onSchedule()
	}
	return s.ManualScheduler.AfterFunc(d, f)
}

func TestDisconnectMarksPlayerBeforeGraceStarts(t *testing.T) {
	ctx := context.Background()
	events := &recordingBroadcaster{}
	sched := &hookScheduler{ManualScheduler: apptest.NewManualScheduler()}
	rooms := memory.NewRoomStore()
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": twoQuestionQuiz()}), time.Minute)
	svc := app.NewGameService(rooms, quizzes, nil, events, app.DefaultConfig(), app.WithScheduler(sched))

	_, _ = svc.OpenRoom(ctx, room, "quiz-1", "host-1")
	alice := domain.Identity{PlayerID: "p1"}
	_, _ = svc.Join(ctx, room, alice, "Alice", "", "conn-p1")
	svc.Connect("conn-p1", alice)
	_ = svc.Subscribe("conn-p1", room)
	_, _ = svc.StartGame(ctx, room)

	leavesAtSchedule := -1
	sched.onSchedule = func() { leavesAtSchedule = len(events.ofType(domain.EventPlayerLeave)) }
	svc.Disconnect(ctx, "conn-p1")
	sched.onSchedule = nil
	if leavesAtSchedule != 1 {
		t.Fatalf("expected participant marked disconnected before the grace timer, saw %d leaves", leavesAtSchedule)
	}

	pending := sched.Pending()
	pending[len(pending)-1].Fire()
	session, _ := rooms.Get(room)
	if p, ok := session.Participant(alice.Key()); !ok || !p.Left {
		t.Fatalf("expected grace expiry to mark the participant left")
	}
}

func TestLogoutLeavesWithoutGrace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoQuestionQuiz(), nil)
	alice := h.join(t, "p1", "Alice")
	bob := h.join(t, "p2", "Bob")
	h.service.Connect("conn-p2", domain.Identity{PlayerID: "p2"})
	_ = h.service.Subscribe("conn-p2", room)
	_, _ = h.service.StartGame(ctx, room)
	_, _ = h.service.SubmitAnswer(ctx, room, alice, domain.AnswerSubmission{QuestionID: "q1", OptionIDs: []string{"o2"}})

	h.service.Logout(ctx, "conn-p2")
	if h.service.Registry().PendingGrace(room, bob) {
		t.Fatalf("logout must not start a grace period")
	}
	if h.service.Registry().Len() != 0 {
		t.Fatalf("expected registry entry removed")
	}
	leaves := h.events.ofType(domain.EventPlayerLeave)
	if len(leaves) != 2 || leaves[1].Payload.(domain.PlayerPresence).TimedOut {
		t.Fatalf("expected an immediate, non-timeout leave, got %+v", leaves)
	}
	if got := h.status(t); got != domain.StatusShowingResults {
		t.Fatalf("expected early advance once bob left, got %s", got)
	}
	h.service.Disconnect(ctx, "conn-p2")
	if n := len(h.events.ofType(domain.EventPlayerLeave)); n != 2 {
		t.Fatalf("disconnect after logout must be a no-op, got %d leaves", n)
	}
}

func TestNextAdvancesOnePhase(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, twoQuestionQuiz(), nil)
	h.join(t, "p1", "Alice")
	if err := h.service.Next(ctx, room); err != domain.ErrInvalidState {
		t.Fatalf("expected invalid state while waiting, got %v", err)
	}
	if err := h.service.Next(ctx, "NOPE"); err != domain.ErrRoomNotFound {
		t.Fatalf("expected room not found, got %v", err)
	}
	_, _ = h.service.StartGame(ctx, room)

	if err := h.service.Next(ctx, room); err != nil {
		t.Fatalf("next: %v", err)
	}
	if got := h.status(t); got != domain.StatusShowingResults {
		t.Fatalf("expected results after next, got %s", got)
	}

	// the result display timer wins the race; next then only skips the leaderboard
	if !h.sched.FireNext() {
		t.Fatalf("expected result display timer")
	}
	if got := h.status(t); got != domain.StatusShowingLeaderboard {
		t.Fatalf("expected leaderboard, got %s", got)
	}
	_ = h.service.Next(ctx, room)
	state, _ := h.service.GameState(ctx, room)
	if state.Status != domain.StatusInProgress || state.QuestionIndex != 1 {
		t.Fatalf("expected second question, got %+v", state)
	}
	if n := len(h.events.ofType(domain.EventQuestionResult)); n != 1 {
		t.Fatalf("expected one question result so far, got %d", n)
	}

	_ = h.service.Next(ctx, room)
	_ = h.service.Next(ctx, room)
	if got := h.status(t); got != domain.StatusCompleted {
		t.Fatalf("expected completed after the last question, got %s", got)
	}
	if n := len(h.results.All()); n != 1 {
		t.Fatalf("expected one persisted result, got %d", n)
	}
	if err := h.service.Next(ctx, room); err != domain.ErrInvalidState {
		t.Fatalf("expected invalid state once completed, got %v", err)
	}
}
