package app

import "quizzles/internal/domain"

// Score totals the marks of every question answered with its correct option.
// Unanswered questions, wrong options and options that do not belong to the
// response's question contribute nothing. A question is counted at most once.
func Score(quiz domain.QuizWithQuestions, responses []domain.Response) int {
	type key struct{ question, option int64 }
	correct := make(map[key]int, len(quiz.Questions))
	for _, q := range quiz.Questions {
		for _, opt := range q.Options {
			if opt.IsCorrect {
				correct[key{q.ID, opt.ID}] = q.Marks
			}
		}
	}

	total := 0
	seen := make(map[int64]struct{}, len(responses))
	for _, r := range responses {
		if _, dup := seen[r.QuestionID]; dup {
			continue
		}
		seen[r.QuestionID] = struct{}{}
		total += correct[key{r.QuestionID, r.OptionID}]
	}
	return total
}

// checkAnswers validates a submission against the quiz structure and turns
// it into responses for the attempt.
func checkAnswers(quiz domain.QuizWithQuestions, attemptID int64, answers []domain.Answer) ([]domain.Response, error) {
	owner := make(map[int64]int64)
	questions := make(map[int64]struct{}, len(quiz.Questions))
	for _, q := range quiz.Questions {
		questions[q.ID] = struct{}{}
		for _, opt := range q.Options {
			owner[opt.ID] = q.ID
		}
	}

	responses := make([]domain.Response, 0, len(answers))
	seen := make(map[int64]struct{}, len(answers))
	for _, a := range answers {
		if _, ok := questions[a.QuestionID]; !ok {
			return nil, domain.Invalid("questionId", "question does not belong to this quiz")
		}
		if q, ok := owner[a.OptionID]; !ok || q != a.QuestionID {
			return nil, domain.Invalid("optionId", "option does not belong to the question")
		}
		if _, dup := seen[a.QuestionID]; dup {
			return nil, domain.Invalid("questionId", "question answered more than once")
		}
		seen[a.QuestionID] = struct{}{}
		responses = append(responses, domain.Response{
			AttemptID:  attemptID,
			QuestionID: a.QuestionID,
			OptionID:   a.OptionID,
		})
	}
	return responses, nil
}

// scorer binds Score to one quiz structure for the store to apply.
func scorer(quiz domain.QuizWithQuestions) domain.ScoreFunc {
	return func(responses []domain.Response) int {
		return Score(quiz, responses)
	}
}
