package scoring

import (
	"testing"
	"time"

	"quizroom-service/internal/domain"
)

func TestQuestionResultScenario(t *testing.T) {
	q := twoOptionQuestion()
	now := time.Now()
	alice := domain.NewParticipant(domain.Identity{PlayerID: "a"}, "Alice", "", 0, now)
	bob := domain.NewParticipant(domain.Identity{PlayerID: "b"}, "Bob", "", 1, now)
	carol := domain.NewParticipant(domain.Identity{GuestName: "Carol"}, "Carol", "", 2, now)
	alice.Answers[q.ID] = &domain.Answer{QuestionID: q.ID, OptionIDs: []string{"o2"}}
	bob.Answers[q.ID] = &domain.Answer{QuestionID: q.ID, OptionIDs: []string{"o2"}, Elapsed: 10 * time.Second}

	result := ComputeQuestionResult([]*domain.Participant{alice, bob, carol}, q, 0)

	if result.ParticipantCount != 3 || result.AnsweredCount != 2 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	want := map[string]int{"user:a": 15, "user:b": 10, "guest:Carol": 0}
	for _, p := range result.Participants {
		if p.Awarded != want[p.ParticipantID] {
			t.Fatalf("%s: expected %d, got %d", p.ParticipantID, want[p.ParticipantID], p.Awarded)
		}
	}
	if len(result.CorrectOptionIDs) != 1 || result.CorrectOptionIDs[0] != "o2" {
		t.Fatalf("unexpected correct options %v", result.CorrectOptionIDs)
	}
	// Two of three participants picked o2; the non-answer counts in the denominator.
	if got := result.OptionStats[1].Percentage; got != 66.67 {
		t.Fatalf("expected 66.67%%, got %v", got)
	}
	if got := result.OptionStats[0].Percentage; got != 0 {
		t.Fatalf("expected 0%%, got %v", got)
	}

	for _, p := range []*domain.Participant{alice, bob, carol} {
		p.Score += want[p.ID]
	}
	board := ComputeLeaderboard([]*domain.Participant{alice, bob, carol})
	expected := []struct {
		id    string
		score int
	}{{"user:a", 15}, {"user:b", 10}, {"guest:Carol", 0}}
	for i, e := range expected {
		if board[i].ParticipantID != e.id || board[i].Score != e.score || board[i].Rank != i+1 {
			t.Fatalf("rank %d: expected %s/%d, got %+v", i+1, e.id, e.score, board[i])
		}
	}
}

func TestLeaderboardTiesGetSequentialRanks(t *testing.T) {
	now := time.Now()
	first := domain.NewParticipant(domain.Identity{PlayerID: "1"}, "First", "", 0, now)
	second := domain.NewParticipant(domain.Identity{PlayerID: "2"}, "Second", "", 1, now)
	third := domain.NewParticipant(domain.Identity{PlayerID: "3"}, "Third", "", 2, now)
	first.Score, second.Score, third.Score = 5, 5, 7

	board := ComputeLeaderboard([]*domain.Participant{first, second, third})
	got := []string{board[0].ParticipantID, board[1].ParticipantID, board[2].ParticipantID}
	want := []string{"user:3", "user:1", "user:2"}
	for i := range want {
		if got[i] != want[i] || board[i].Rank != i+1 {
			t.Fatalf("expected order %v with ranks 1..3, got %v (%+v)", want, got, board)
		}
	}
}

func TestFinalRankingsCountCorrectAnswers(t *testing.T) {
	p := domain.NewParticipant(domain.Identity{PlayerID: "1"}, "One", "", 0, time.Now())
	p.Answers["q1"] = &domain.Answer{Scored: true, Correct: true}
	p.Answers["q2"] = &domain.Answer{Scored: true}
	p.Answers["q3"] = &domain.Answer{Scored: true, Correct: true}

	rankings := ComputeFinalRankings([]*domain.Participant{p})
	if rankings[0].CorrectAnswers != 2 {
		t.Fatalf("expected 2 correct answers, got %d", rankings[0].CorrectAnswers)
	}
}

func TestEmptyRoomResult(t *testing.T) {
	result := ComputeQuestionResult(nil, twoOptionQuestion(), 0)
	for _, stat := range result.OptionStats {
		if stat.Percentage != 0 {
			t.Fatalf("expected 0%% with no participants, got %v", stat.Percentage)
		}
	}
}
