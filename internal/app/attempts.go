package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"quizzles/internal/domain"
)

// AttemptManager drives attempts through NotStarted → InProgress → Completed.
//
// Deadlines are enforced lazily: any read, save or submit that observes an
// open attempt past startedAt+duration completes it with the responses
// recorded so far. Completion is serialised per attempt in-process and
// guarded by the store's compare-and-set, so it happens exactly once.
type AttemptManager struct {
	store   AttemptStore
	quizzes QuizSource
	feed    *Feed
	rec     Recorder
	log     zerolog.Logger
	now     func() time.Time
	locks   *keyedMutex
}

// ManagerOption customises an AttemptManager.
type ManagerOption func(*AttemptManager)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *AttemptManager) { m.now = now }
}

// WithFeed publishes lifecycle events to feed.
func WithFeed(feed *Feed) ManagerOption {
	return func(m *AttemptManager) { m.feed = feed }
}

// WithRecorder reports lifecycle transitions to rec.
func WithRecorder(rec Recorder) ManagerOption {
	return func(m *AttemptManager) { m.rec = rec }
}

// WithLogger sets the component logger.
func WithLogger(log zerolog.Logger) ManagerOption {
	return func(m *AttemptManager) { m.log = log.With().Str("component", "attempts").Logger() }
}

func NewAttemptManager(store AttemptStore, quizzes QuizSource, opts ...ManagerOption) *AttemptManager {
	m := &AttemptManager{
		store:   store,
		quizzes: quizzes,
		rec:     nopRecorder{},
		log:     zerolog.Nop(),
		now:     time.Now,
		locks:   newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins the caller's attempt at a quiz. An attempt already in
// progress is returned unchanged; a completed one yields ErrAlreadyCompleted.
func (m *AttemptManager) Start(ctx context.Context, caller domain.Caller, quizID int64) (domain.Attempt, error) {
	quiz, err := m.quizzes.QuizWithQuestions(ctx, quizID)
	if err != nil {
		return domain.Attempt{}, err
	}

	attempt, created, err := m.store.CreateAttempt(ctx, domain.Attempt{
		UserID:    caller.UserID,
		QuizID:    quizID,
		StartedAt: m.now(),
	})
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("create attempt: %w", err)
	}
	if created {
		m.rec.AttemptStarted(quizID)
		m.feed.Publish(domain.AttemptEvent{Type: domain.EventAttemptStarted, Attempt: attempt, At: m.now()})
		m.log.Info().
			Int64("attempt_id", attempt.ID).
			Int64("user_id", attempt.UserID).
			Int64("quiz_id", quizID).
			Msg("attempt started")
		return attempt, nil
	}

	attempt, err = m.settle(ctx, attempt, quiz)
	if err != nil {
		return domain.Attempt{}, err
	}
	if attempt.Completed() {
		return domain.Attempt{}, domain.ErrAlreadyCompleted
	}
	m.rec.AttemptResumed(quizID)
	return attempt, nil
}

// Submit records the final answers, scores the attempt and completes it.
// A second submission, or one after the deadline, fails with
// ErrAlreadyCompleted.
func (m *AttemptManager) Submit(ctx context.Context, caller domain.Caller, attemptID int64, answers []domain.Answer) (domain.AttemptView, error) {
	attempt, quiz, err := m.load(ctx, caller, attemptID, false)
	if err != nil {
		return domain.AttemptView{}, err
	}
	return m.submit(ctx, attempt, quiz, answers)
}

// SubmitForQuiz submits the caller's attempt at quizID.
func (m *AttemptManager) SubmitForQuiz(ctx context.Context, caller domain.Caller, quizID int64, answers []domain.Answer) (domain.AttemptView, error) {
	attempt, quiz, err := m.loadFor(ctx, caller, quizID)
	if err != nil {
		return domain.AttemptView{}, err
	}
	return m.submit(ctx, attempt, quiz, answers)
}

func (m *AttemptManager) submit(ctx context.Context, attempt domain.Attempt, quiz domain.QuizWithQuestions, answers []domain.Answer) (domain.AttemptView, error) {
	unlock := m.locks.Lock(attempt.ID)
	defer unlock()

	attempt, err := m.expireLocked(ctx, attempt.ID, quiz)
	if err != nil {
		return domain.AttemptView{}, err
	}
	if attempt.Completed() {
		return domain.AttemptView{}, domain.ErrAlreadyCompleted
	}

	responses, err := checkAnswers(quiz, attempt.ID, answers)
	if err != nil {
		return domain.AttemptView{}, err
	}
	// The store overlays these on the recorded answers and scores the result.
	completed, err := m.store.CompleteAttempt(ctx, attempt.ID, responses, scorer(quiz), m.now())
	if err != nil {
		return domain.AttemptView{}, fmt.Errorf("complete attempt %d: %w", attempt.ID, err)
	}
	m.completed(completed, domain.CompletedBySubmit)
	return m.view(ctx, completed, quiz)
}

// SaveProgress records answers on an open attempt without completing it.
// Earlier answers to the same questions are replaced.
func (m *AttemptManager) SaveProgress(ctx context.Context, caller domain.Caller, attemptID int64, answers []domain.Answer) (domain.AttemptView, error) {
	attempt, quiz, err := m.load(ctx, caller, attemptID, false)
	if err != nil {
		return domain.AttemptView{}, err
	}
	return m.save(ctx, attempt, quiz, answers)
}

// SaveProgressForQuiz saves answers on the caller's attempt at quizID.
func (m *AttemptManager) SaveProgressForQuiz(ctx context.Context, caller domain.Caller, quizID int64, answers []domain.Answer) (domain.AttemptView, error) {
	attempt, quiz, err := m.loadFor(ctx, caller, quizID)
	if err != nil {
		return domain.AttemptView{}, err
	}
	return m.save(ctx, attempt, quiz, answers)
}

func (m *AttemptManager) save(ctx context.Context, attempt domain.Attempt, quiz domain.QuizWithQuestions, answers []domain.Answer) (domain.AttemptView, error) {
	unlock := m.locks.Lock(attempt.ID)
	defer unlock()

	attempt, err := m.expireLocked(ctx, attempt.ID, quiz)
	if err != nil {
		return domain.AttemptView{}, err
	}
	if attempt.Completed() {
		return domain.AttemptView{}, domain.ErrAlreadyCompleted
	}

	responses, err := checkAnswers(quiz, attempt.ID, answers)
	if err != nil {
		return domain.AttemptView{}, err
	}
	if err := m.store.SaveResponses(ctx, attempt.ID, responses); err != nil {
		return domain.AttemptView{}, fmt.Errorf("save responses: %w", err)
	}
	return m.view(ctx, attempt, quiz)
}

// View returns an attempt to its owner or an admin, applying lazy expiry.
func (m *AttemptManager) View(ctx context.Context, caller domain.Caller, attemptID int64) (domain.AttemptView, error) {
	attempt, quiz, err := m.load(ctx, caller, attemptID, true)
	if err != nil {
		return domain.AttemptView{}, err
	}
	attempt, err = m.settle(ctx, attempt, quiz)
	if err != nil {
		return domain.AttemptView{}, err
	}
	return m.view(ctx, attempt, quiz)
}

// ViewForQuiz returns the caller's active or completed attempt at quizID.
func (m *AttemptManager) ViewForQuiz(ctx context.Context, caller domain.Caller, quizID int64) (domain.AttemptView, error) {
	attempt, quiz, err := m.loadFor(ctx, caller, quizID)
	if err != nil {
		return domain.AttemptView{}, err
	}
	attempt, err = m.settle(ctx, attempt, quiz)
	if err != nil {
		return domain.AttemptView{}, err
	}
	return m.view(ctx, attempt, quiz)
}

// Audit recomputes an attempt's score from its stored responses.
func (m *AttemptManager) Audit(ctx context.Context, caller domain.Caller, attemptID int64) (domain.AttemptAudit, error) {
	if !caller.IsAdmin {
		return domain.AttemptAudit{}, domain.ErrAdminRequired
	}
	attempt, quiz, err := m.load(ctx, caller, attemptID, true)
	if err != nil {
		return domain.AttemptAudit{}, err
	}
	responses, err := m.store.Responses(ctx, attemptID)
	if err != nil {
		return domain.AttemptAudit{}, fmt.Errorf("load responses: %w", err)
	}
	computed := Score(quiz, responses)
	return domain.AttemptAudit{
		Attempt:       attempt,
		StoredScore:   attempt.Score,
		ComputedScore: computed,
		Matches:       attempt.Score != nil && *attempt.Score == computed,
	}, nil
}

// Settle applies lazy expiry to an attempt read outside the manager.
func (m *AttemptManager) Settle(ctx context.Context, attempt domain.Attempt) (domain.Attempt, error) {
	if attempt.Completed() {
		return attempt, nil
	}
	quiz, err := m.quizzes.QuizWithQuestions(ctx, attempt.QuizID)
	if err != nil {
		return domain.Attempt{}, err
	}
	return m.settle(ctx, attempt, quiz)
}

// SettleAll applies Settle to each attempt, preserving order.
func (m *AttemptManager) SettleAll(ctx context.Context, attempts []domain.Attempt) ([]domain.Attempt, error) {
	settled := make([]domain.Attempt, 0, len(attempts))
	for _, a := range attempts {
		s, err := m.Settle(ctx, a)
		if err != nil {
			return nil, err
		}
		settled = append(settled, s)
	}
	return settled, nil
}

func (m *AttemptManager) settle(ctx context.Context, attempt domain.Attempt, quiz domain.QuizWithQuestions) (domain.Attempt, error) {
	if !attempt.Expired(quiz.TimeLimit(), m.now()) {
		return attempt, nil
	}
	unlock := m.locks.Lock(attempt.ID)
	defer unlock()
	return m.expireLocked(ctx, attempt.ID, quiz)
}

// expireLocked re-reads the attempt and, if it is open and past its
// deadline, completes it with the recorded responses. Caller holds the lock.
func (m *AttemptManager) expireLocked(ctx context.Context, attemptID int64, quiz domain.QuizWithQuestions) (domain.Attempt, error) {
	attempt, err := m.store.Attempt(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	limit := quiz.TimeLimit()
	if !attempt.Expired(limit, m.now()) {
		return attempt, nil
	}

	completed, err := m.store.CompleteAttempt(ctx, attemptID, nil, scorer(quiz), attempt.Deadline(limit))
	if errors.Is(err, domain.ErrAlreadyCompleted) {
		// Completed by another instance sharing the store.
		return m.store.Attempt(ctx, attemptID)
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("expire attempt %d: %w", attemptID, err)
	}
	m.completed(completed, domain.CompletedByExpiry)
	return completed, nil
}

func (m *AttemptManager) completed(attempt domain.Attempt, reason domain.CompletionReason) {
	score := 0
	if attempt.Score != nil {
		score = *attempt.Score
	}
	m.rec.AttemptCompleted(attempt.QuizID, reason, score)
	m.feed.Publish(domain.AttemptEvent{
		Type:    domain.EventAttemptCompleted,
		Reason:  reason,
		Attempt: attempt,
		At:      m.now(),
	})
	m.log.Info().
		Int64("attempt_id", attempt.ID).
		Int64("user_id", attempt.UserID).
		Int64("quiz_id", attempt.QuizID).
		Int("score", score).
		Str("reason", string(reason)).
		Msg("attempt completed")
}

// load fetches an attempt the caller may act on, plus its quiz.
func (m *AttemptManager) load(ctx context.Context, caller domain.Caller, attemptID int64, allowAdmin bool) (domain.Attempt, domain.QuizWithQuestions, error) {
	attempt, err := m.store.Attempt(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, domain.QuizWithQuestions{}, err
	}
	if attempt.UserID != caller.UserID && !(allowAdmin && caller.IsAdmin) {
		return domain.Attempt{}, domain.QuizWithQuestions{}, domain.ErrNotAttemptOwner
	}
	quiz, err := m.quizzes.QuizWithQuestions(ctx, attempt.QuizID)
	if err != nil {
		return domain.Attempt{}, domain.QuizWithQuestions{}, err
	}
	return attempt, quiz, nil
}

func (m *AttemptManager) loadFor(ctx context.Context, caller domain.Caller, quizID int64) (domain.Attempt, domain.QuizWithQuestions, error) {
	quiz, err := m.quizzes.QuizWithQuestions(ctx, quizID)
	if err != nil {
		return domain.Attempt{}, domain.QuizWithQuestions{}, err
	}
	attempt, err := m.store.AttemptFor(ctx, caller.UserID, quizID)
	if err != nil {
		return domain.Attempt{}, domain.QuizWithQuestions{}, err
	}
	return attempt, quiz, nil
}

func (m *AttemptManager) view(ctx context.Context, attempt domain.Attempt, quiz domain.QuizWithQuestions) (domain.AttemptView, error) {
	v := domain.AttemptView{
		Attempt:  attempt,
		Status:   attempt.Status(),
		Deadline: attempt.Deadline(quiz.TimeLimit()),
		Quiz:     quiz.Quiz,
	}
	if !attempt.Completed() {
		return v, nil
	}
	responses, err := m.store.Responses(ctx, attempt.ID)
	if err != nil {
		return domain.AttemptView{}, fmt.Errorf("load responses: %w", err)
	}
	v.Responses = enrichResponses(quiz, responses)
	return v, nil
}

// enrichResponses joins responses with their question and option. Responses
// that no longer resolve against the quiz structure are dropped.
func enrichResponses(quiz domain.QuizWithQuestions, responses []domain.Response) []domain.ResponseDetail {
	questions := make(map[int64]domain.Question, len(quiz.Questions))
	options := make(map[int64]domain.Option)
	for _, q := range quiz.Questions {
		questions[q.ID] = q.Question
		for _, opt := range q.Options {
			options[opt.ID] = opt
		}
	}

	details := make([]domain.ResponseDetail, 0, len(responses))
	for _, r := range responses {
		q, ok := questions[r.QuestionID]
		if !ok {
			continue
		}
		opt, ok := options[r.OptionID]
		if !ok {
			continue
		}
		details = append(details, domain.ResponseDetail{Response: r, Question: q, SelectedOption: opt})
	}
	return details
}
