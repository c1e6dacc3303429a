package domain

import (
	"errors"
	"math/rand"
	"testing"
)

func TestValidateOptionsRandomSets(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		n := rnd.Intn(6)
		options := make([]Option, n)
		correct := 0
		for j := range options {
			options[j] = Option{Text: "opt", IsCorrect: rnd.Intn(3) == 0}
			if options[j].IsCorrect {
				correct++
			}
		}

		err := ValidateOptions(options)
		valid := n >= MinOptions && correct == 1
		if valid && err != nil {
			t.Fatalf("set %d: expected valid (n=%d correct=%d), got %v", i, n, correct, err)
		}
		if !valid && !errors.Is(err, ErrValidation) {
			t.Fatalf("set %d: expected validation error (n=%d correct=%d), got %v", i, n, correct, err)
		}
	}
}

func TestValidateQuestionRejectsBadFields(t *testing.T) {
	opts := []Option{{Text: "a", IsCorrect: true}, {Text: "b"}}

	cases := map[string]Question{
		"empty text": {Text: "  ", Marks: 1},
		"zero marks": {Text: "q", Marks: 0},
	}
	for name, q := range cases {
		if err := ValidateQuestion(q, opts); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}

	blank := []Option{{Text: "a", IsCorrect: true}, {Text: ""}}
	var verr *ValidationError
	if err := ValidateQuestion(Question{Text: "q", Marks: 1}, blank); !errors.As(err, &verr) || verr.Field != "options[1].text" {
		t.Fatalf("expected options[1].text error, got %v", err)
	}
}

func TestValidateQuiz(t *testing.T) {
	if err := ValidateQuiz(Quiz{Title: "Go", Duration: 10, TotalScore: 20}); err != nil {
		t.Fatalf("expected valid quiz, got %v", err)
	}
	if err := ValidateQuiz(Quiz{Title: "Go", Duration: 0, TotalScore: 20}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected duration error, got %v", err)
	}
	if err := ValidateQuiz(Quiz{Title: "Go", Duration: 5, TotalScore: -1}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected totalScore error, got %v", err)
	}
}

func TestErrorKinds(t *testing.T) {
	if !errors.Is(ErrQuizNotFound, ErrNotFound) {
		t.Fatalf("quiz not found should be a not-found error")
	}
	if !errors.Is(ErrNotAttemptOwner, ErrForbidden) {
		t.Fatalf("not owner should be forbidden")
	}
	if errors.Is(ErrUsernameTaken, ErrNotFound) {
		t.Fatalf("username taken must not be a not-found error")
	}
}
