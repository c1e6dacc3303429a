package app

import (
	"context"
	"time"

	"quizzles/internal/domain"
)

// UserStore holds accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.User) (domain.User, error)
	UserByID(ctx context.Context, id int64) (domain.User, error)
	UserByUsername(ctx context.Context, username string) (domain.User, error)
}

// QuizStore holds quizzes, questions and options.
type QuizStore interface {
	CreateQuiz(ctx context.Context, quiz domain.Quiz) (domain.Quiz, error)
	Quiz(ctx context.Context, id int64) (domain.Quiz, error)
	Quizzes(ctx context.Context) ([]domain.Quiz, error)
	// CreateQuestion stores the question and its options as one unit and
	// rejects option sets that break domain.ValidateOptions.
	CreateQuestion(ctx context.Context, question domain.Question, options []domain.Option) (domain.QuestionWithOptions, error)
	// QuizWithQuestions returns a consistent snapshot of the quiz structure.
	QuizWithQuestions(ctx context.Context, id int64) (domain.QuizWithQuestions, error)
}

// AttemptStore holds attempts and their responses.
type AttemptStore interface {
	// CreateAttempt inserts the attempt unless one already exists for the
	// same user and quiz, in which case the existing one is returned with
	// created=false. The check and insert are atomic.
	CreateAttempt(ctx context.Context, attempt domain.Attempt) (stored domain.Attempt, created bool, err error)
	Attempt(ctx context.Context, id int64) (domain.Attempt, error)
	AttemptFor(ctx context.Context, userID, quizID int64) (domain.Attempt, error)
	AttemptsByQuiz(ctx context.Context, quizID int64) ([]domain.Attempt, error)
	AttemptsByUser(ctx context.Context, userID int64) ([]domain.Attempt, error)
	// SaveResponses upserts one response per question of an open attempt.
	SaveResponses(ctx context.Context, attemptID int64, responses []domain.Response) error
	Responses(ctx context.Context, attemptID int64) ([]domain.Response, error)
	// CompleteAttempt upserts responses, scores every response then stored
	// for the attempt and sets score and completedAt, all in one atomic step
	// and only if the attempt is still open. Otherwise it returns
	// ErrAlreadyCompleted and changes nothing.
	CompleteAttempt(ctx context.Context, attemptID int64, responses []domain.Response, score domain.ScoreFunc, at time.Time) (domain.Attempt, error)
}

// Store is the full entity store. Memory and Postgres implementations must
// behave identically.
type Store interface {
	UserStore
	QuizStore
	AttemptStore
}

// QuizSource serves quiz structures, possibly from a cache.
type QuizSource interface {
	QuizWithQuestions(ctx context.Context, quizID int64) (domain.QuizWithQuestions, error)
	// Invalidate drops the cached structure. A load already in flight must
	// not write its result back afterwards.
	Invalidate(ctx context.Context, quizID int64) error
}

// Recorder observes attempt lifecycle transitions (metrics).
type Recorder interface {
	AttemptStarted(quizID int64)
	AttemptResumed(quizID int64)
	AttemptCompleted(quizID int64, reason domain.CompletionReason, score int)
}

type nopRecorder struct{}

func (nopRecorder) AttemptStarted(int64)                                 {}
func (nopRecorder) AttemptResumed(int64)                                 {}
func (nopRecorder) AttemptCompleted(int64, domain.CompletionReason, int) {}
