package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"quizzles/internal/domain"
)

// Store is an in-memory implementation of app.Store. A single mutex makes
// every operation atomic, including the create-if-absent on attempts.
type Store struct {
	mu sync.RWMutex

	nextID    map[string]int64
	users     map[int64]domain.User
	usernames map[string]int64
	quizzes   map[int64]domain.Quiz
	questions map[int64]domain.Question
	options   map[int64]domain.Option
	attempts  map[int64]domain.Attempt
	// byPair indexes attempts by user and quiz.
	byPair    map[pair]int64
	responses map[int64]map[int64]domain.Response
}

type pair struct{ user, quiz int64 }

func NewStore() *Store {
	return &Store{
		nextID:    make(map[string]int64),
		users:     make(map[int64]domain.User),
		usernames: make(map[string]int64),
		quizzes:   make(map[int64]domain.Quiz),
		questions: make(map[int64]domain.Question),
		options:   make(map[int64]domain.Option),
		attempts:  make(map[int64]domain.Attempt),
		byPair:    make(map[pair]int64),
		responses: make(map[int64]map[int64]domain.Response),
	}
}

func (s *Store) id(table string) int64 {
	s.nextID[table]++
	return s.nextID[table]
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usernames[user.Username]; ok {
		return domain.User{}, domain.ErrUsernameTaken
	}
	user.ID = s.id("users")
	s.users[user.ID] = user
	s.usernames[user.Username] = user.ID
	return user, nil
}

func (s *Store) UserByID(_ context.Context, id int64) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (s *Store) UserByUsername(_ context.Context, username string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usernames[username]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return s.users[id], nil
}

func (s *Store) CreateQuiz(_ context.Context, quiz domain.Quiz) (domain.Quiz, error) {
	if err := domain.ValidateQuiz(quiz); err != nil {
		return domain.Quiz{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	quiz.ID = s.id("quizzes")
	s.quizzes[quiz.ID] = quiz
	return quiz, nil
}

func (s *Store) Quiz(_ context.Context, id int64) (domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, ok := s.quizzes[id]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return quiz, nil
}

func (s *Store) Quizzes(_ context.Context) ([]domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quizzes := make([]domain.Quiz, 0, len(s.quizzes))
	for _, q := range s.quizzes {
		quizzes = append(quizzes, q)
	}
	sort.Slice(quizzes, func(i, j int) bool { return quizzes[i].ID < quizzes[j].ID })
	return quizzes, nil
}

func (s *Store) CreateQuestion(_ context.Context, question domain.Question, options []domain.Option) (domain.QuestionWithOptions, error) {
	if err := domain.ValidateQuestion(question, options); err != nil {
		return domain.QuestionWithOptions{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quizzes[question.QuizID]; !ok {
		return domain.QuestionWithOptions{}, domain.ErrQuizNotFound
	}

	question.ID = s.id("questions")
	s.questions[question.ID] = question
	stored := domain.QuestionWithOptions{Question: question, Options: make([]domain.Option, 0, len(options))}
	for _, opt := range options {
		opt.ID = s.id("options")
		opt.QuestionID = question.ID
		s.options[opt.ID] = opt
		stored.Options = append(stored.Options, opt)
	}
	return stored, nil
}

func (s *Store) QuizWithQuestions(_ context.Context, id int64) (domain.QuizWithQuestions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, ok := s.quizzes[id]
	if !ok {
		return domain.QuizWithQuestions{}, domain.ErrQuizNotFound
	}

	full := domain.QuizWithQuestions{Quiz: quiz, Questions: []domain.QuestionWithOptions{}}
	index := make(map[int64]int)
	for _, q := range s.questions {
		if q.QuizID != id {
			continue
		}
		index[q.ID] = len(full.Questions)
		full.Questions = append(full.Questions, domain.QuestionWithOptions{Question: q, Options: []domain.Option{}})
	}
	for _, opt := range s.options {
		if i, ok := index[opt.QuestionID]; ok {
			full.Questions[i].Options = append(full.Questions[i].Options, opt)
		}
	}

	sort.Slice(full.Questions, func(i, j int) bool { return full.Questions[i].ID < full.Questions[j].ID })
	for i := range full.Questions {
		opts := full.Questions[i].Options
		sort.Slice(opts, func(a, b int) bool { return opts[a].ID < opts[b].ID })
	}
	return full, nil
}

func (s *Store) CreateAttempt(_ context.Context, attempt domain.Attempt) (domain.Attempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[attempt.UserID]; !ok {
		return domain.Attempt{}, false, domain.ErrUserNotFound
	}
	if _, ok := s.quizzes[attempt.QuizID]; !ok {
		return domain.Attempt{}, false, domain.ErrQuizNotFound
	}
	key := pair{attempt.UserID, attempt.QuizID}
	if id, ok := s.byPair[key]; ok {
		return s.attempts[id], false, nil
	}

	attempt.ID = s.id("attempts")
	attempt.Score = nil
	attempt.CompletedAt = nil
	s.attempts[attempt.ID] = attempt
	s.byPair[key] = attempt.ID
	return attempt, true, nil
}

func (s *Store) Attempt(_ context.Context, id int64) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[id]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return attempt, nil
}

func (s *Store) AttemptFor(_ context.Context, userID, quizID int64) (domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPair[pair{userID, quizID}]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return s.attempts[id], nil
}

func (s *Store) AttemptsByQuiz(_ context.Context, quizID int64) ([]domain.Attempt, error) {
	return s.filterAttempts(func(a domain.Attempt) bool { return a.QuizID == quizID }), nil
}

func (s *Store) AttemptsByUser(_ context.Context, userID int64) ([]domain.Attempt, error) {
	return s.filterAttempts(func(a domain.Attempt) bool { return a.UserID == userID }), nil
}

func (s *Store) filterAttempts(keep func(domain.Attempt) bool) []domain.Attempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempts := make([]domain.Attempt, 0)
	for _, a := range s.attempts {
		if keep(a) {
			attempts = append(attempts, a)
		}
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].ID < attempts[j].ID })
	return attempts
}

func (s *Store) SaveResponses(_ context.Context, attemptID int64, responses []domain.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	if attempt.Completed() {
		return domain.ErrAlreadyCompleted
	}
	if err := s.checkResponsesLocked(attempt, responses); err != nil {
		return err
	}
	s.upsertResponsesLocked(attemptID, responses)
	return nil
}

func (s *Store) Responses(_ context.Context, attemptID int64) ([]domain.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.attempts[attemptID]; !ok {
		return nil, domain.ErrAttemptNotFound
	}
	return s.responsesLocked(attemptID), nil
}

func (s *Store) responsesLocked(attemptID int64) []domain.Response {
	responses := make([]domain.Response, 0, len(s.responses[attemptID]))
	for _, r := range s.responses[attemptID] {
		responses = append(responses, r)
	}
	sort.Slice(responses, func(i, j int) bool { return responses[i].ID < responses[j].ID })
	return responses
}

func (s *Store) CompleteAttempt(_ context.Context, attemptID int64, responses []domain.Response, score domain.ScoreFunc, at time.Time) (domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if attempt.Completed() {
		return domain.Attempt{}, domain.ErrAlreadyCompleted
	}
	if err := s.checkResponsesLocked(attempt, responses); err != nil {
		return domain.Attempt{}, err
	}
	s.upsertResponsesLocked(attemptID, responses)

	total := score(s.responsesLocked(attemptID))
	attempt.Score = &total
	attempt.CompletedAt = &at
	s.attempts[attemptID] = attempt
	return attempt, nil
}

// checkResponsesLocked enforces that every response points at a question of
// the attempt's quiz and at an option of that question.
func (s *Store) checkResponsesLocked(attempt domain.Attempt, responses []domain.Response) error {
	for _, r := range responses {
		q, ok := s.questions[r.QuestionID]
		if !ok {
			return domain.ErrQuestionNotFound
		}
		if q.QuizID != attempt.QuizID {
			return domain.Invalid("questionId", "question does not belong to this quiz")
		}
		opt, ok := s.options[r.OptionID]
		if !ok {
			return domain.ErrOptionNotFound
		}
		if opt.QuestionID != r.QuestionID {
			return domain.Invalid("optionId", "option does not belong to the question")
		}
	}
	return nil
}

func (s *Store) upsertResponsesLocked(attemptID int64, responses []domain.Response) {
	byQuestion, ok := s.responses[attemptID]
	if !ok {
		byQuestion = make(map[int64]domain.Response)
		s.responses[attemptID] = byQuestion
	}
	for _, r := range responses {
		r.AttemptID = attemptID
		if existing, ok := byQuestion[r.QuestionID]; ok {
			r.ID = existing.ID
		} else {
			r.ID = s.id("responses")
		}
		byQuestion[r.QuestionID] = r
	}
}
