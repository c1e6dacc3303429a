package app_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"quizzles/internal/app"
	"quizzles/internal/domain"
	"quizzles/internal/infra/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingRecorder struct {
	started   atomic.Int32
	resumed   atomic.Int32
	submitted atomic.Int32
	expired   atomic.Int32
}

func (r *countingRecorder) AttemptStarted(int64) { r.started.Add(1) }
func (r *countingRecorder) AttemptResumed(int64) { r.resumed.Add(1) }
func (r *countingRecorder) AttemptCompleted(_ int64, reason domain.CompletionReason, _ int) {
	if reason == domain.CompletedByExpiry {
		r.expired.Add(1)
		return
	}
	r.submitted.Add(1)
}

type fixture struct {
	store    *memory.Store
	clock    *testClock
	rec      *countingRecorder
	feed     *app.Feed
	attempts *app.AttemptManager
	catalog  *app.Catalog

	admin domain.Caller
	alice domain.Caller
	bob   domain.Caller

	quiz domain.Quiz
	// q1 is worth 10 marks, q2 is worth 15.
	q1, q2 domain.QuestionWithOptions
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		store: memory.NewStore(),
		clock: &testClock{now: time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)},
		rec:   &countingRecorder{},
		feed:  app.NewFeed(),
	}
	source := memory.NewQuizCache(f.store, time.Hour)
	f.attempts = app.NewAttemptManager(f.store, source,
		app.WithClock(f.clock.Now),
		app.WithRecorder(f.rec),
		app.WithFeed(f.feed),
	)
	f.catalog = app.NewCatalog(f.store, source, f.attempts, zerolog.Nop())

	f.admin = f.user(t, "admin", true)
	f.alice = f.user(t, "alice", false)
	f.bob = f.user(t, "bob", false)

	quiz, err := f.catalog.CreateQuiz(ctx, f.admin, app.QuizInput{Title: "Capitals", Duration: 1, TotalScore: 25})
	if err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	f.quiz = quiz
	f.q1 = f.question(t, quiz.ID, "Capital of France?", 10, "Paris", "Lyon")
	f.q2 = f.question(t, quiz.ID, "Capital of Japan?", 15, "Tokyo", "Osaka")
	return f
}

func (f *fixture) user(t *testing.T, name string, admin bool) domain.Caller {
	t.Helper()
	u, err := f.store.CreateUser(context.Background(), domain.User{Username: name, IsAdmin: admin})
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return domain.Caller{UserID: u.ID, IsAdmin: u.IsAdmin}
}

// question adds a question whose first option is the correct one.
func (f *fixture) question(t *testing.T, quizID int64, text string, marks int, correct, wrong string) domain.QuestionWithOptions {
	t.Helper()
	q, err := f.catalog.AddQuestion(context.Background(), f.admin, quizID, app.QuestionInput{
		Text:  text,
		Marks: marks,
		Options: []app.OptionInput{
			{Text: correct, IsCorrect: true},
			{Text: wrong},
		},
	})
	if err != nil {
		t.Fatalf("add question: %v", err)
	}
	return q
}

func right(q domain.QuestionWithOptions) domain.Answer {
	return domain.Answer{QuestionID: q.ID, OptionID: q.Options[0].ID}
}

func wrong(q domain.QuestionWithOptions) domain.Answer {
	return domain.Answer{QuestionID: q.ID, OptionID: q.Options[1].ID}
}
