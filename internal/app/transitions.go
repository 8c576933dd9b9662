package app

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"quizroom-service/internal/domain"
	"quizroom-service/internal/metrics"
	"quizroom-service/internal/scoring"
)

// scheduleLocked replaces the room's pending transition. The previous timer
// is stopped first, so at most one transition can fire per room.
func (s *GameService) scheduleLocked(session *GameSession, kind transitionKind, d time.Duration) {
	session.cancelPendingLocked()
	session.generation++
	generation := session.generation
	p := &pendingTransition{
		kind:          kind,
		generation:    generation,
		questionIndex: session.currentIndex,
	}
	p.timer = s.sched.AfterFunc(d, func() { s.fire(session, generation) })
	session.pending = p
}

// fire runs a scheduled transition unless it was cancelled or replaced.
func (s *GameService) fire(session *GameSession, generation uint64) {
	session.mu.Lock()
	p := session.pending
	if p == nil || p.generation != generation {
		session.mu.Unlock()
		return
	}
	session.pending = nil

	var result *domain.GameResult
	switch p.kind {
	case transitionQuestionTimeout:
		s.endQuestionLocked(session)
	case transitionResultDisplay:
		s.showLeaderboardLocked(session)
	case transitionLeaderboardDisplay:
		result = s.advanceLocked(session)
	}
	session.mu.Unlock()

	if p.kind == transitionEvict {
		log.Printf("room %s: evicted", session.roomID)
		s.rooms.Delete(session.roomID)
		return
	}
	if result != nil {
		s.persistResult(context.Background(), session, result)
	}
}

func (s *GameService) openQuestionLocked(session *GameSession, event domain.EventType) {
	q, _ := session.currentQuestionLocked()
	session.status = domain.StatusInProgress
	session.questionStartedAt = s.now()
	session.lastResult = nil
	s.scheduleLocked(session, transitionQuestionTimeout, q.TimeLimit())
	s.publishLocked(session, event, domain.QuestionStarted{
		Question:    q.View(session.currentIndex, len(session.questions)),
		StartedAt:   session.questionStartedAt,
		RemainingMs: q.TimeLimit().Milliseconds(),
	})
}

// endQuestionLocked scores the open question and shows its result. It does
// nothing unless the room is InProgress.
func (s *GameService) endQuestionLocked(session *GameSession) bool {
	if session.status != domain.StatusInProgress {
		return false
	}
	session.cancelPendingLocked()
	session.status = domain.StatusQuestionEnded

	q, _ := session.currentQuestionLocked()
	if q.Kind == domain.KindFreeText {
		log.Printf("room %s: free-text question %s recorded without scoring", session.roomID, q.ID)
	}
	result := scoring.ComputeQuestionResult(session.orderedLocked(), q, session.currentIndex)

	now := s.now()
	for _, pr := range result.Participants {
		if !pr.Answered {
			continue
		}
		participant := session.participants[pr.ParticipantID]
		answer := participant.Answers[q.ID]
		answer.Correct = pr.Correct
		answer.Awarded = pr.Awarded
		answer.Scored = true
		participant.Score += pr.Awarded
		participant.LastUpdated = now
	}
	session.lastResult = &result
	session.aggregates = append(session.aggregates, scoring.Aggregate(result))

	session.status = domain.StatusShowingResults
	s.publishLocked(session, domain.EventQuestionResult, result)
	s.scheduleLocked(session, transitionResultDisplay, s.cfg.ResultDisplay)
	return true
}

func (s *GameService) showLeaderboardLocked(session *GameSession) {
	if session.status != domain.StatusShowingResults {
		return
	}
	session.status = domain.StatusShowingLeaderboard
	s.publishLocked(session, domain.EventLeaderboard, s.leaderboardLocked(session))
	s.scheduleLocked(session, transitionLeaderboardDisplay, s.cfg.LeaderboardDisplay)
}

// advanceLocked opens the next question or finalizes after the last one.
// A non-nil result must be persisted by the caller once the lock is released.
func (s *GameService) advanceLocked(session *GameSession) *domain.GameResult {
	if session.status != domain.StatusShowingResults && session.status != domain.StatusShowingLeaderboard {
		return nil
	}
	if session.isLastQuestionLocked() {
		return s.finalizeLocked(session)
	}
	session.status = domain.StatusNextQuestionPending
	session.currentIndex++
	s.openQuestionLocked(session, domain.EventQuestionStart)
	return nil
}

// finalizeLocked completes the game once. The Completed status is the guard.
func (s *GameService) finalizeLocked(session *GameSession) *domain.GameResult {
	switch session.status {
	case domain.StatusCompleted, domain.StatusWaiting:
		return nil
	case domain.StatusInProgress:
		s.endQuestionLocked(session)
	}
	session.cancelPendingLocked()
	session.status = domain.StatusCompleted
	session.endTime = s.now()

	rankings := scoring.ComputeFinalRankings(session.orderedLocked())
	s.publishLocked(session, domain.EventGameEnd, domain.GameEnded{
		Rankings:      rankings,
		QuestionCount: len(session.questions),
		EndedAt:       session.endTime,
	})
	metrics.GameCompleted()
	log.Printf("room %s: game completed", session.roomID)

	if s.cfg.RoomRetention > 0 {
		s.scheduleLocked(session, transitionEvict, s.cfg.RoomRetention)
	}

	return &domain.GameResult{
		RoomID:           session.roomID,
		QuizID:           session.quizID,
		StartTime:        session.startTime,
		EndTime:          session.endTime,
		ParticipantCount: len(session.participants),
		QuestionCount:    len(session.questions),
		Rankings:         rankings,
		Questions:        append([]domain.QuestionAggregate(nil), session.aggregates...),
	}
}

// persistResult saves the final result with bounded retries. Failure is
// logged; the room stays Completed in memory either way. Retries outlive the
// caller: a host request that goes away does not cut them short.
func (s *GameService) persistResult(ctx context.Context, session *GameSession, result *domain.GameResult) {
	if s.results == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	policy := backoff.NewExponentialBackOff()
	if s.cfg.PersistBackoff > 0 {
		policy.InitialInterval = s.cfg.PersistBackoff
	}
	attempts := s.cfg.PersistAttempts
	if attempts < 1 {
		attempts = 1
	}

	var id string
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		id, err = s.results.SaveGameResult(ctx, *result)
		if err != nil {
			log.Printf("room %s: save result attempt %d/%d: %v", session.roomID, attempt, attempts, err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx))

	metrics.RecordPersist(err == nil, time.Since(start))
	if err != nil {
		log.Printf("room %s: giving up on result persistence: %v", session.roomID, err)
		return
	}

	session.mu.Lock()
	session.resultID = id
	session.mu.Unlock()
	log.Printf("room %s: result saved as %s", session.roomID, id)
}

// publishLocked stamps the next sequence number and hands the event to the
// broadcaster. A failed publish is logged and never blocks the transition.
func (s *GameService) publishLocked(session *GameSession, eventType domain.EventType, payload any) {
	if s.events == nil {
		return
	}
	session.eventSeq++
	err := s.events.Publish(session.roomID, domain.Event{
		Type:    eventType,
		RoomID:  session.roomID,
		Seq:     session.eventSeq,
		Payload: payload,
	})
	if err != nil {
		metrics.RecordBroadcastFailure(string(eventType))
		log.Printf("room %s: publish %s: %v", session.roomID, eventType, err)
	}
}

func (s *GameService) leaderboardLocked(session *GameSession) domain.Leaderboard {
	return domain.Leaderboard{
		RoomID:        session.roomID,
		QuestionIndex: session.currentIndex,
		Entries:       scoring.ComputeLeaderboard(session.orderedLocked()),
		UpdatedAt:     s.now(),
	}
}

// stateLocked builds the resume snapshot. The answer key is only included
// through lastResult, once the question has ended.
func (s *GameService) stateLocked(session *GameSession, participantID string) domain.GameState {
	state := domain.GameState{
		RoomID:           session.roomID,
		QuizID:           session.quizID,
		Status:           session.status,
		QuestionIndex:    session.currentIndex,
		QuestionCount:    len(session.questions),
		Leaderboard:      scoring.ComputeLeaderboard(session.orderedLocked()),
		ParticipantCount: len(session.participants),
		StartTime:        session.startTime,
		EndTime:          session.endTime,
		ResultID:         session.resultID,
	}
	if session.status == domain.StatusCompleted {
		state.Leaderboard = scoring.ComputeFinalRankings(session.orderedLocked())
	}

	q, ok := session.currentQuestionLocked()
	if !ok {
		return state
	}
	if session.status != domain.StatusCompleted {
		view := q.View(session.currentIndex, len(session.questions))
		state.Question = &view
	}
	if session.status == domain.StatusInProgress {
		remaining := q.TimeLimit() - s.now().Sub(session.questionStartedAt)
		if remaining < 0 {
			remaining = 0
		}
		state.RemainingMs = remaining.Milliseconds()
	}
	if participant, ok := session.participants[participantID]; ok {
		state.Answered = participant.HasAnswered(q.ID)
	}
	if session.lastResult != nil {
		result := *session.lastResult
		state.LastResult = &result
	}
	return state
}
