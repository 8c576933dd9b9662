package scoring

import (
	"errors"
	"testing"
	"time"

	"quizroom-service/internal/domain"
)

func TestScoreIsZeroWhenIncorrect(t *testing.T) {
	kinds := []domain.QuestionKind{
		domain.KindMultipleChoice, domain.KindTrueFalse, domain.KindImage,
		domain.KindAudio, domain.KindMultiSelect, domain.KindFreeText,
	}
	for _, kind := range kinds {
		q := twoOptionQuestion()
		q.Kind = kind
		answer := domain.Answer{QuestionID: q.ID, OptionIDs: []string{"o1"}}
		if got := ComputeScore(q, answer, false); got != 0 {
			t.Fatalf("kind %s: expected 0 for incorrect answer, got %d", kind, got)
		}
	}
}

func TestSingleChoiceTimeBonus(t *testing.T) {
	q := twoOptionQuestion()
	answer := func(elapsed time.Duration) domain.Answer {
		return domain.Answer{QuestionID: q.ID, OptionIDs: []string{"o2"}, Elapsed: elapsed}
	}

	if got := ComputeScore(q, answer(0), true); got != 15 {
		t.Fatalf("expected 15 at 0s, got %d", got)
	}
	if got := ComputeScore(q, answer(10*time.Second), true); got != 10 {
		t.Fatalf("expected base points at time limit, got %d", got)
	}
	if got := ComputeScore(q, answer(12*time.Second), true); got != 10 {
		t.Fatalf("expected base points past time limit, got %d", got)
	}

	prev := ComputeScore(q, answer(0), true)
	for ms := 250; ms <= 10000; ms += 250 {
		got := ComputeScore(q, answer(time.Duration(ms)*time.Millisecond), true)
		if got > prev {
			t.Fatalf("score increased from %d to %d at %dms", prev, got, ms)
		}
		prev = got
	}
}

func TestSingleChoiceValidation(t *testing.T) {
	q := twoOptionQuestion()
	cases := []struct {
		name    string
		options []string
		want    bool
	}{
		{"correct", []string{"o2"}, true},
		{"wrong", []string{"o1"}, false},
		{"none", nil, false},
		{"two selections", []string{"o1", "o2"}, false},
		{"unknown", []string{"zz"}, false},
	}
	for _, tc := range cases {
		got, err := ValidateAnswer(q, domain.Answer{OptionIDs: tc.options})
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestMultiSelectBoundaries(t *testing.T) {
	q := fourOptionMultiSelect()

	exact := domain.Answer{OptionIDs: []string{"a", "c"}}
	correct, err := ValidateAnswer(q, exact)
	if err != nil || !correct {
		t.Fatalf("expected exact set correct, got %v %v", correct, err)
	}
	if got := ComputeScore(q, exact, correct); got != 100 {
		t.Fatalf("expected full base points, got %d", got)
	}

	all := domain.Answer{OptionIDs: []string{"a", "b", "c", "d"}}
	correct, _ = ValidateAnswer(q, all)
	if correct {
		t.Fatalf("selecting every option must not be correct")
	}
	if got := ComputeScore(q, all, correct); got != 0 {
		t.Fatalf("expected 0 for full selection, got %d", got)
	}
	if got := multiSelectCredit(q, all.OptionIDs); got != 0 {
		t.Fatalf("expected proportional credit 0 for 2 hits and 2 misses, got %d", got)
	}

	if got := multiSelectCredit(q, []string{"a"}); got != 50 {
		t.Fatalf("expected half credit for one of two, got %d", got)
	}
	if got := multiSelectCredit(q, []string{"b", "d"}); got != 0 {
		t.Fatalf("expected 0 with no correct selections, got %d", got)
	}
	if got := multiSelectCredit(q, []string{"a", "a", "c"}); got != 100 {
		t.Fatalf("duplicate selections must count once, got %d", got)
	}
}

func TestMultiSelectWithoutCorrectOptions(t *testing.T) {
	q := domain.Question{
		ID:     "q",
		Kind:   domain.KindMultiSelect,
		Points: 10,
		Options: []domain.Option{
			{ID: "a"}, {ID: "b"},
		},
	}
	correct, err := ValidateAnswer(q, domain.Answer{})
	if err != nil || correct {
		t.Fatalf("expected incorrect without error, got %v %v", correct, err)
	}
	if got := multiSelectCredit(q, []string{"a"}); got != 0 {
		t.Fatalf("expected 0 when no option is correct, got %d", got)
	}
}

func TestFreeTextIsNotImplemented(t *testing.T) {
	q := domain.Question{ID: "q", Kind: domain.KindFreeText, Points: 10}
	correct, awarded, err := Evaluate(q, domain.Answer{Text: "paris"})
	if !errors.Is(err, domain.ErrNotImplemented) {
		t.Fatalf("expected not implemented, got %v", err)
	}
	if correct || awarded != 0 {
		t.Fatalf("expected zero score, got correct=%v awarded=%d", correct, awarded)
	}
}

func TestUnknownKind(t *testing.T) {
	if _, err := StrategyFor("essay"); !errors.Is(err, ErrUnknownQuestionKind) {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
}

func twoOptionQuestion() domain.Question {
	return domain.Question{
		ID:           "q1",
		Kind:         domain.KindMultipleChoice,
		Prompt:       "Pick the second",
		TimeLimitSec: 10,
		Points:       10,
		Options: []domain.Option{
			{ID: "o1", Text: "first"},
			{ID: "o2", Text: "second", Correct: true},
		},
	}
}

func fourOptionMultiSelect() domain.Question {
	return domain.Question{
		ID:           "q2",
		Kind:         domain.KindMultiSelect,
		Prompt:       "Pick the vowels",
		TimeLimitSec: 30,
		Points:       100,
		Options: []domain.Option{
			{ID: "a", Text: "A", Correct: true},
			{ID: "b", Text: "B"},
			{ID: "c", Text: "E", Correct: true},
			{ID: "d", Text: "D"},
		},
	}
}
