package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"quizzles/internal/domain"
)

// QuizInput carries the fields an admin supplies to create a quiz.
type QuizInput struct {
	Title      string
	Duration   int
	TotalScore int
}

// OptionInput is one candidate answer of a new question.
type OptionInput struct {
	Text      string
	IsCorrect bool
}

// QuestionInput carries a new question and its options.
type QuestionInput struct {
	Text    string
	Marks   int
	Options []OptionInput
}

// Catalog authors quizzes and serves them to takers and admins.
type Catalog struct {
	store    Store
	quizzes  QuizSource
	attempts *AttemptManager
	log      zerolog.Logger
}

func NewCatalog(store Store, quizzes QuizSource, attempts *AttemptManager, log zerolog.Logger) *Catalog {
	return &Catalog{
		store:    store,
		quizzes:  quizzes,
		attempts: attempts,
		log:      log.With().Str("component", "catalog").Logger(),
	}
}

// CreateQuiz stores a new quiz. Admin only.
func (c *Catalog) CreateQuiz(ctx context.Context, caller domain.Caller, in QuizInput) (domain.Quiz, error) {
	if !caller.IsAdmin {
		return domain.Quiz{}, domain.ErrAdminRequired
	}
	quiz := domain.Quiz{Title: in.Title, Duration: in.Duration, TotalScore: in.TotalScore}
	if err := domain.ValidateQuiz(quiz); err != nil {
		return domain.Quiz{}, err
	}
	created, err := c.store.CreateQuiz(ctx, quiz)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("create quiz: %w", err)
	}
	c.log.Info().Int64("quiz_id", created.ID).Str("title", created.Title).Msg("quiz created")
	return created, nil
}

// AddQuestion appends a question with its options to a quiz. Admin only.
// Exactly one option must be correct.
func (c *Catalog) AddQuestion(ctx context.Context, caller domain.Caller, quizID int64, in QuestionInput) (domain.QuestionWithOptions, error) {
	if !caller.IsAdmin {
		return domain.QuestionWithOptions{}, domain.ErrAdminRequired
	}
	if _, err := c.store.Quiz(ctx, quizID); err != nil {
		return domain.QuestionWithOptions{}, err
	}

	question := domain.Question{QuizID: quizID, Text: in.Text, Marks: in.Marks}
	options := make([]domain.Option, 0, len(in.Options))
	for _, o := range in.Options {
		options = append(options, domain.Option{Text: o.Text, IsCorrect: o.IsCorrect})
	}
	if err := domain.ValidateQuestion(question, options); err != nil {
		return domain.QuestionWithOptions{}, err
	}

	created, err := c.store.CreateQuestion(ctx, question, options)
	if err != nil {
		return domain.QuestionWithOptions{}, fmt.Errorf("create question: %w", err)
	}
	// The question is committed either way; a failed invalidation leaves the
	// old structure cached until its TTL runs out.
	if err := c.quizzes.Invalidate(ctx, quizID); err != nil {
		c.log.Error().Err(err).
			Int64("quiz_id", quizID).
			Int64("question_id", created.ID).
			Msg("quiz cache invalidation failed")
	}

	if full, err := c.store.QuizWithQuestions(ctx, quizID); err == nil && full.MarksTotal() > full.TotalScore {
		c.log.Warn().
			Int64("quiz_id", quizID).
			Int("marks", full.MarksTotal()).
			Int("total_score", full.TotalScore).
			Msg("question marks exceed quiz total score")
	}
	return created, nil
}

// QuizForTaker returns the quiz structure without answer correctness.
func (c *Catalog) QuizForTaker(ctx context.Context, quizID int64) (domain.QuizDetail, error) {
	quiz, err := c.quizzes.QuizWithQuestions(ctx, quizID)
	if err != nil {
		return domain.QuizDetail{}, err
	}
	return buildDetail(quiz, false), nil
}

// QuizForAdmin returns the full structure with correctness and participants.
func (c *Catalog) QuizForAdmin(ctx context.Context, caller domain.Caller, quizID int64) (domain.QuizDetail, error) {
	if !caller.IsAdmin {
		return domain.QuizDetail{}, domain.ErrAdminRequired
	}
	quiz, err := c.quizzes.QuizWithQuestions(ctx, quizID)
	if err != nil {
		return domain.QuizDetail{}, err
	}
	participants, err := c.participants(ctx, quizID)
	if err != nil {
		return domain.QuizDetail{}, err
	}
	detail := buildDetail(quiz, true)
	detail.Participants = participants
	return detail, nil
}

// QuizDetail picks the view the caller is entitled to. Takers see which
// options were correct once their own attempt is completed.
func (c *Catalog) QuizDetail(ctx context.Context, caller domain.Caller, quizID int64) (domain.QuizDetail, error) {
	if caller.IsAdmin {
		return c.QuizForAdmin(ctx, caller, quizID)
	}
	quiz, err := c.quizzes.QuizWithQuestions(ctx, quizID)
	if err != nil {
		return domain.QuizDetail{}, err
	}

	reveal := false
	attempt, err := c.store.AttemptFor(ctx, caller.UserID, quizID)
	switch {
	case err == nil:
		attempt, err = c.attempts.Settle(ctx, attempt)
		if err != nil {
			return domain.QuizDetail{}, err
		}
		reveal = attempt.Completed()
	case !errors.Is(err, domain.ErrNotFound):
		return domain.QuizDetail{}, err
	}
	return buildDetail(quiz, reveal), nil
}

// ListParticipants returns every attempt at a quiz. Admin only.
func (c *Catalog) ListParticipants(ctx context.Context, caller domain.Caller, quizID int64) ([]domain.Attempt, error) {
	if !caller.IsAdmin {
		return nil, domain.ErrAdminRequired
	}
	if _, err := c.store.Quiz(ctx, quizID); err != nil {
		return nil, err
	}
	return c.participants(ctx, quizID)
}

func (c *Catalog) participants(ctx context.Context, quizID int64) ([]domain.Attempt, error) {
	attempts, err := c.store.AttemptsByQuiz(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return c.attempts.SettleAll(ctx, attempts)
}

// ListQuizzes returns all quizzes ordered by id.
func (c *Catalog) ListQuizzes(ctx context.Context) ([]domain.Quiz, error) {
	quizzes, err := c.store.Quizzes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	return quizzes, nil
}

// ListQuizzesForUser returns every quiz with the caller's status and score.
func (c *Catalog) ListQuizzesForUser(ctx context.Context, caller domain.Caller) ([]domain.QuizSummary, error) {
	quizzes, err := c.ListQuizzes(ctx)
	if err != nil {
		return nil, err
	}
	attempts, err := c.store.AttemptsByUser(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}

	latest := make(map[int64]domain.Attempt, len(attempts))
	for _, a := range attempts {
		prev, ok := latest[a.QuizID]
		if !ok || a.StartedAt.After(prev.StartedAt) || (a.StartedAt.Equal(prev.StartedAt) && a.ID > prev.ID) {
			latest[a.QuizID] = a
		}
	}

	summaries := make([]domain.QuizSummary, 0, len(quizzes))
	for _, q := range quizzes {
		summary := domain.QuizSummary{Quiz: q, Status: domain.StatusNotStarted}
		if a, ok := latest[q.ID]; ok {
			a, err = c.attempts.Settle(ctx, a)
			if err != nil {
				return nil, err
			}
			id := a.ID
			summary.Status = a.Status()
			summary.Score = a.Score
			summary.AttemptID = &id
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func buildDetail(quiz domain.QuizWithQuestions, reveal bool) domain.QuizDetail {
	detail := domain.QuizDetail{
		Quiz:      quiz.Quiz,
		Questions: make([]domain.QuestionView, 0, len(quiz.Questions)),
	}
	for _, q := range quiz.Questions {
		view := domain.QuestionView{Question: q.Question, Options: make([]domain.OptionView, 0, len(q.Options))}
		for _, opt := range q.Options {
			ov := domain.OptionView{ID: opt.ID, QuestionID: opt.QuestionID, Text: opt.Text}
			if reveal {
				correct := opt.IsCorrect
				ov.IsCorrect = &correct
			}
			view.Options = append(view.Options, ov)
		}
		detail.Questions = append(detail.Questions, view)
	}
	return detail
}
