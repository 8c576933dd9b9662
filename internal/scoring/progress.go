package scoring

import (
	"math"
	"sort"

	"quizroom-service/internal/domain"
)

// ComputeQuestionResult scores every recorded answer for q. participants must
// be in join order; the percentage denominator is len(participants), so
// players who did not answer count against every option. Awards are returned,
// not applied: TotalScore is the participant's score after the award.
func ComputeQuestionResult(participants []*domain.Participant, q domain.Question, index int) domain.QuestionResult {
	counts := make(map[string]int, len(q.Options))
	result := domain.QuestionResult{
		QuestionID:       q.ID,
		QuestionIndex:    index,
		CorrectOptionIDs: q.CorrectOptionIDs(),
		Explanation:      q.Explanation,
		FunFact:          q.FunFact,
		Participants:     make([]domain.ParticipantResult, 0, len(participants)),
		ParticipantCount: len(participants),
	}

	for _, p := range participants {
		entry := domain.ParticipantResult{
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			TotalScore:    p.Score,
		}
		if answer, ok := p.Answers[q.ID]; ok {
			correct, awarded, _ := Evaluate(q, *answer)
			entry.Answered = true
			entry.Correct = correct
			entry.Awarded = awarded
			entry.TotalScore += awarded
			entry.ElapsedMs = answer.Elapsed.Milliseconds()
			result.AnsweredCount++
			for id := range uniqueIDs(answer.OptionIDs) {
				counts[id]++
			}
		}
		result.Participants = append(result.Participants, entry)
	}

	result.OptionStats = make([]domain.OptionStat, 0, len(q.Options))
	for _, opt := range q.Options {
		result.OptionStats = append(result.OptionStats, domain.OptionStat{
			OptionID:   opt.ID,
			Count:      counts[opt.ID],
			Percentage: percentage(counts[opt.ID], len(participants)),
		})
	}
	return result
}

// ComputeLeaderboard orders participants by score, highest first. Ties keep
// join order and still get distinct sequential ranks.
func ComputeLeaderboard(participants []*domain.Participant) []domain.LeaderboardEntry {
	ordered := make([]*domain.Participant, len(participants))
	copy(ordered, participants)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Score > ordered[j].Score
	})

	entries := make([]domain.LeaderboardEntry, 0, len(ordered))
	for i, p := range ordered {
		entries = append(entries, domain.LeaderboardEntry{
			Rank:          i + 1,
			ParticipantID: p.ID,
			PlayerID:      p.Identity.PlayerID,
			DisplayName:   p.DisplayName,
			Avatar:        p.Avatar,
			Score:         p.Score,
			Connected:     p.Status == domain.Connected,
		})
	}
	return entries
}

// ComputeFinalRankings is the leaderboard plus each participant's number of
// correct answers.
func ComputeFinalRankings(participants []*domain.Participant) []domain.LeaderboardEntry {
	entries := ComputeLeaderboard(participants)
	byID := make(map[string]*domain.Participant, len(participants))
	for _, p := range participants {
		byID[p.ID] = p
	}
	for i := range entries {
		entries[i].CorrectAnswers = byID[entries[i].ParticipantID].CorrectAnswers()
	}
	return entries
}

// Aggregate condenses a question result for persistence.
func Aggregate(result domain.QuestionResult) domain.QuestionAggregate {
	correct := 0
	for _, p := range result.Participants {
		if p.Correct {
			correct++
		}
	}
	return domain.QuestionAggregate{
		QuestionID:       result.QuestionID,
		AnsweredCount:    result.AnsweredCount,
		CorrectCount:     correct,
		ParticipantCount: result.ParticipantCount,
		OptionStats:      result.OptionStats,
	}
}

func percentage(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(count)*10000/float64(total)) / 100
}
