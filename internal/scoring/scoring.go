// Package scoring validates answers, scores them and builds result and
// leaderboard projections. Everything here is pure: callers own locking and
// apply the returned awards themselves.
package scoring

import (
	"errors"
	"fmt"

	"quizroom-service/internal/domain"
)

// ErrUnknownQuestionKind is returned for question kinds without a strategy.
var ErrUnknownQuestionKind = errors.New("unknown question kind")

// Strategy validates and scores answers for one family of question kinds.
type Strategy interface {
	Validate(q domain.Question, a domain.Answer) (bool, error)
	Score(q domain.Question, a domain.Answer, correct bool) int
}

var (
	single = singleChoice{}
	multi  = multiSelect{}
	text   = freeText{}
)

// StrategyFor resolves the strategy for a question kind. An empty kind is a
// standard multiple choice question.
func StrategyFor(kind domain.QuestionKind) (Strategy, error) {
	switch kind {
	case "", domain.KindMultipleChoice, domain.KindTrueFalse, domain.KindImage, domain.KindAudio:
		return single, nil
	case domain.KindMultiSelect:
		return multi, nil
	case domain.KindFreeText:
		return text, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownQuestionKind, kind)
}

// ValidateAnswer reports whether the answer is correct for the question.
func ValidateAnswer(q domain.Question, a domain.Answer) (bool, error) {
	strategy, err := StrategyFor(q.Kind)
	if err != nil {
		return false, err
	}
	return strategy.Validate(q, a)
}

// ComputeScore returns the points earned by the answer. Wrong answers earn 0.
func ComputeScore(q domain.Question, a domain.Answer, correct bool) int {
	strategy, err := StrategyFor(q.Kind)
	if err != nil {
		return 0
	}
	return strategy.Score(q, a, correct)
}

// Evaluate validates and scores in one step. Validation errors (including
// domain.ErrNotImplemented) score zero and are returned for logging.
func Evaluate(q domain.Question, a domain.Answer) (correct bool, awarded int, err error) {
	strategy, err := StrategyFor(q.Kind)
	if err != nil {
		return false, 0, err
	}
	correct, err = strategy.Validate(q, a)
	if err != nil {
		return false, 0, err
	}
	return correct, strategy.Score(q, a, correct), nil
}

type singleChoice struct{}

func (singleChoice) Validate(q domain.Question, a domain.Answer) (bool, error) {
	if len(a.OptionIDs) != 1 {
		return false, nil
	}
	for _, opt := range q.Options {
		if opt.ID == a.OptionIDs[0] {
			return opt.Correct, nil
		}
	}
	return false, nil
}

// Score gives base points plus up to 50% for answering early.
func (singleChoice) Score(q domain.Question, a domain.Answer, correct bool) int {
	if !correct {
		return 0
	}
	limitMs := q.TimeLimit().Milliseconds()
	elapsedMs := a.Elapsed.Milliseconds()
	remaining := 0.0
	if limitMs > 0 {
		remaining = float64(limitMs-elapsedMs) / float64(limitMs)
	}
	if remaining < 0 {
		remaining = 0
	}
	if remaining > 1 {
		remaining = 1
	}
	return int(float64(q.BasePoints()) * (1 + 0.5*remaining))
}

type multiSelect struct{}

// Validate requires the selected set to equal the correct set exactly.
func (multiSelect) Validate(q domain.Question, a domain.Answer) (bool, error) {
	correctSet := make(map[string]struct{})
	for _, opt := range q.Options {
		if opt.Correct {
			correctSet[opt.ID] = struct{}{}
		}
	}
	selected := uniqueIDs(a.OptionIDs)
	if len(selected) != len(correctSet) || len(correctSet) == 0 {
		return false, nil
	}
	for id := range selected {
		if _, ok := correctSet[id]; !ok {
			return false, nil
		}
	}
	return true, nil
}

func (multiSelect) Score(q domain.Question, a domain.Answer, correct bool) int {
	if !correct {
		return 0
	}
	return multiSelectCredit(q, a.OptionIDs)
}

// multiSelectCredit is the proportional credit
// base * max(0, (hits - misses) / totalCorrect), without a time bonus.
func multiSelectCredit(q domain.Question, optionIDs []string) int {
	correctSet := make(map[string]bool, len(q.Options))
	totalCorrect := 0
	for _, opt := range q.Options {
		correctSet[opt.ID] = opt.Correct
		if opt.Correct {
			totalCorrect++
		}
	}
	if totalCorrect == 0 {
		return 0
	}
	hits, misses := 0, 0
	for id := range uniqueIDs(optionIDs) {
		if correctSet[id] {
			hits++
		} else {
			misses++
		}
	}
	if hits == 0 {
		return 0
	}
	credit := float64(hits-misses) / float64(totalCorrect)
	if credit < 0 {
		return 0
	}
	return int(float64(q.BasePoints()) * credit)
}

type freeText struct{}

func (freeText) Validate(domain.Question, domain.Answer) (bool, error) {
	return false, domain.ErrNotImplemented
}

func (freeText) Score(domain.Question, domain.Answer, bool) int {
	return 0
}

func uniqueIDs(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
