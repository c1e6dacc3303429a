package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quizzles/internal/domain"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

const attemptColumns = `id, user_id, quiz_id, score, started_at, completed_at`

// Store is the Postgres implementation of app.Store. Multi-row writes run in
// a single transaction; structure reads use a repeatable-read snapshot.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) (domain.User, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, is_admin) VALUES ($1, $2, $3) RETURNING id`,
		user.Username, user.PasswordHash, user.IsAdmin,
	).Scan(&user.ID)
	if isViolation(err, uniqueViolation) {
		return domain.User{}, domain.ErrUsernameTaken
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *Store) UserByID(ctx context.Context, id int64) (domain.User, error) {
	return s.user(ctx, `WHERE id = $1`, id)
}

func (s *Store) UserByUsername(ctx context.Context, username string) (domain.User, error) {
	return s.user(ctx, `WHERE username = $1`, username)
}

func (s *Store) user(ctx context.Context, where string, arg interface{}) (domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, is_admin FROM users `+where, arg,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsAdmin)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

func (s *Store) CreateQuiz(ctx context.Context, quiz domain.Quiz) (domain.Quiz, error) {
	if err := domain.ValidateQuiz(quiz); err != nil {
		return domain.Quiz{}, err
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO quizzes (title, duration, total_score) VALUES ($1, $2, $3) RETURNING id`,
		quiz.Title, quiz.Duration, quiz.TotalScore,
	).Scan(&quiz.ID)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("insert quiz: %w", err)
	}
	return quiz, nil
}

func (s *Store) Quiz(ctx context.Context, id int64) (domain.Quiz, error) {
	return quizByID(ctx, s.pool, id)
}

func (s *Store) Quizzes(ctx context.Context) ([]domain.Quiz, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, title, duration, total_score FROM quizzes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select quizzes: %w", err)
	}
	defer rows.Close()

	quizzes := make([]domain.Quiz, 0)
	for rows.Next() {
		var q domain.Quiz
		if err := rows.Scan(&q.ID, &q.Title, &q.Duration, &q.TotalScore); err != nil {
			return nil, err
		}
		quizzes = append(quizzes, q)
	}
	return quizzes, rows.Err()
}

func (s *Store) CreateQuestion(ctx context.Context, question domain.Question, options []domain.Option) (domain.QuestionWithOptions, error) {
	if err := domain.ValidateQuestion(question, options); err != nil {
		return domain.QuestionWithOptions{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.QuestionWithOptions{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	err = tx.QueryRow(ctx,
		`INSERT INTO questions (quiz_id, text, marks) VALUES ($1, $2, $3) RETURNING id`,
		question.QuizID, question.Text, question.Marks,
	).Scan(&question.ID)
	if isViolation(err, foreignKeyViolation) {
		return domain.QuestionWithOptions{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.QuestionWithOptions{}, fmt.Errorf("insert question: %w", err)
	}

	stored := domain.QuestionWithOptions{Question: question, Options: make([]domain.Option, 0, len(options))}
	for _, opt := range options {
		opt.QuestionID = question.ID
		err := tx.QueryRow(ctx,
			`INSERT INTO options (question_id, text, is_correct) VALUES ($1, $2, $3) RETURNING id`,
			opt.QuestionID, opt.Text, opt.IsCorrect,
		).Scan(&opt.ID)
		if err != nil {
			return domain.QuestionWithOptions{}, fmt.Errorf("insert option: %w", err)
		}
		stored.Options = append(stored.Options, opt)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.QuestionWithOptions{}, fmt.Errorf("commit: %w", err)
	}
	return stored, nil
}

func (s *Store) QuizWithQuestions(ctx context.Context, id int64) (domain.QuizWithQuestions, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return domain.QuizWithQuestions{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	quiz, err := quizByID(ctx, tx, id)
	if err != nil {
		return domain.QuizWithQuestions{}, err
	}
	full := domain.QuizWithQuestions{Quiz: quiz, Questions: []domain.QuestionWithOptions{}}

	rows, err := tx.Query(ctx, `SELECT id, quiz_id, text, marks FROM questions WHERE quiz_id = $1 ORDER BY id`, id)
	if err != nil {
		return domain.QuizWithQuestions{}, fmt.Errorf("select questions: %w", err)
	}
	index := make(map[int64]int)
	for rows.Next() {
		var q domain.Question
		if err := rows.Scan(&q.ID, &q.QuizID, &q.Text, &q.Marks); err != nil {
			rows.Close()
			return domain.QuizWithQuestions{}, err
		}
		index[q.ID] = len(full.Questions)
		full.Questions = append(full.Questions, domain.QuestionWithOptions{Question: q, Options: []domain.Option{}})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.QuizWithQuestions{}, err
	}

	rows, err = tx.Query(ctx,
		`SELECT o.id, o.question_id, o.text, o.is_correct
		 FROM options o
		 JOIN questions q ON q.id = o.question_id
		 WHERE q.quiz_id = $1
		 ORDER BY o.id`, id)
	if err != nil {
		return domain.QuizWithQuestions{}, fmt.Errorf("select options: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var o domain.Option
		if err := rows.Scan(&o.ID, &o.QuestionID, &o.Text, &o.IsCorrect); err != nil {
			return domain.QuizWithQuestions{}, err
		}
		if i, ok := index[o.QuestionID]; ok {
			full.Questions[i].Options = append(full.Questions[i].Options, o)
		}
	}
	return full, rows.Err()
}

func (s *Store) CreateAttempt(ctx context.Context, attempt domain.Attempt) (domain.Attempt, bool, error) {
	stored, err := scanAttempt(s.pool.QueryRow(ctx,
		`INSERT INTO attempts (user_id, quiz_id, started_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, quiz_id) DO NOTHING
		 RETURNING `+attemptColumns,
		attempt.UserID, attempt.QuizID, attempt.StartedAt,
	))
	if err == nil {
		return stored, true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		existing, err := s.AttemptFor(ctx, attempt.UserID, attempt.QuizID)
		if err != nil {
			return domain.Attempt{}, false, err
		}
		return existing, false, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		if pgErr.ConstraintName == "attempts_user_id_fkey" {
			return domain.Attempt{}, false, domain.ErrUserNotFound
		}
		return domain.Attempt{}, false, domain.ErrQuizNotFound
	}
	return domain.Attempt{}, false, fmt.Errorf("insert attempt: %w", err)
}

func (s *Store) Attempt(ctx context.Context, id int64) (domain.Attempt, error) {
	a, err := scanAttempt(s.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("select attempt: %w", err)
	}
	return a, nil
}

func (s *Store) AttemptFor(ctx context.Context, userID, quizID int64) (domain.Attempt, error) {
	a, err := scanAttempt(s.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE user_id = $1 AND quiz_id = $2`, userID, quizID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("select attempt: %w", err)
	}
	return a, nil
}

func (s *Store) AttemptsByQuiz(ctx context.Context, quizID int64) ([]domain.Attempt, error) {
	return s.attempts(ctx, `WHERE quiz_id = $1`, quizID)
}

func (s *Store) AttemptsByUser(ctx context.Context, userID int64) ([]domain.Attempt, error) {
	return s.attempts(ctx, `WHERE user_id = $1`, userID)
}

func (s *Store) attempts(ctx context.Context, where string, arg int64) ([]domain.Attempt, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+attemptColumns+` FROM attempts `+where+` ORDER BY id`, arg)
	if err != nil {
		return nil, fmt.Errorf("select attempts: %w", err)
	}
	defer rows.Close()

	attempts := make([]domain.Attempt, 0)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (s *Store) SaveResponses(ctx context.Context, attemptID int64, responses []domain.Response) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var (
		quizID      int64
		completedAt *time.Time
	)
	err = tx.QueryRow(ctx,
		`SELECT quiz_id, completed_at FROM attempts WHERE id = $1 FOR UPDATE`, attemptID,
	).Scan(&quizID, &completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrAttemptNotFound
	}
	if err != nil {
		return fmt.Errorf("lock attempt: %w", err)
	}
	if completedAt != nil {
		return domain.ErrAlreadyCompleted
	}

	if err := upsertResponses(ctx, tx, attemptID, quizID, responses); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) Responses(ctx context.Context, attemptID int64) ([]domain.Response, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM attempts WHERE id = $1)`, attemptID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("select attempt: %w", err)
	}
	if !exists {
		return nil, domain.ErrAttemptNotFound
	}

	return listResponses(ctx, s.pool, attemptID)
}

func listResponses(ctx context.Context, q querier, attemptID int64) ([]domain.Response, error) {
	rows, err := q.Query(ctx,
		`SELECT id, attempt_id, question_id, option_id FROM responses WHERE attempt_id = $1 ORDER BY id`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("select responses: %w", err)
	}
	defer rows.Close()

	responses := make([]domain.Response, 0)
	for rows.Next() {
		var r domain.Response
		if err := rows.Scan(&r.ID, &r.AttemptID, &r.QuestionID, &r.OptionID); err != nil {
			return nil, err
		}
		responses = append(responses, r)
	}
	return responses, rows.Err()
}

func (s *Store) CompleteAttempt(ctx context.Context, attemptID int64, responses []domain.Response, score domain.ScoreFunc, at time.Time) (domain.Attempt, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// The row lock serialises this with SaveResponses from any instance, so
	// the responses read below are exactly the ones being scored.
	var (
		quizID      int64
		completedAt *time.Time
	)
	err = tx.QueryRow(ctx,
		`SELECT quiz_id, completed_at FROM attempts WHERE id = $1 FOR UPDATE`, attemptID,
	).Scan(&quizID, &completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("lock attempt: %w", err)
	}
	if completedAt != nil {
		return domain.Attempt{}, domain.ErrAlreadyCompleted
	}

	if err := upsertResponses(ctx, tx, attemptID, quizID, responses); err != nil {
		return domain.Attempt{}, err
	}
	stored, err := listResponses(ctx, tx, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}

	completed, err := scanAttempt(tx.QueryRow(ctx,
		`UPDATE attempts SET score = $2, completed_at = $3
		 WHERE id = $1 AND completed_at IS NULL
		 RETURNING `+attemptColumns,
		attemptID, score(stored), at,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAlreadyCompleted
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("complete attempt: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Attempt{}, fmt.Errorf("commit: %w", err)
	}
	return completed, nil
}

// upsertResponses checks each response against the quiz structure and
// writes it, replacing any earlier answer to the same question.
func upsertResponses(ctx context.Context, tx pgx.Tx, attemptID, quizID int64, responses []domain.Response) error {
	if len(responses) == 0 {
		return nil
	}
	for _, r := range responses {
		var (
			questionQuiz int64
			optionOwner  *int64
		)
		err := tx.QueryRow(ctx,
			`SELECT q.quiz_id, o.question_id
			 FROM questions q
			 LEFT JOIN options o ON o.id = $2
			 WHERE q.id = $1`, r.QuestionID, r.OptionID,
		).Scan(&questionQuiz, &optionOwner)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrQuestionNotFound
		}
		if err != nil {
			return fmt.Errorf("check response: %w", err)
		}
		switch {
		case questionQuiz != quizID:
			return domain.Invalid("questionId", "question does not belong to this quiz")
		case optionOwner == nil:
			return domain.ErrOptionNotFound
		case *optionOwner != r.QuestionID:
			return domain.Invalid("optionId", "option does not belong to the question")
		}
	}

	batch := &pgx.Batch{}
	for _, r := range responses {
		batch.Queue(
			`INSERT INTO responses (attempt_id, question_id, option_id) VALUES ($1, $2, $3)
			 ON CONFLICT (attempt_id, question_id) DO UPDATE SET option_id = EXCLUDED.option_id`,
			attemptID, r.QuestionID, r.OptionID,
		)
	}
	br := tx.SendBatch(ctx, batch)
	for range responses {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upsert response: %w", err)
		}
	}
	return br.Close()
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

func quizByID(ctx context.Context, q querier, id int64) (domain.Quiz, error) {
	var quiz domain.Quiz
	err := q.QueryRow(ctx,
		`SELECT id, title, duration, total_score FROM quizzes WHERE id = $1`, id,
	).Scan(&quiz.ID, &quiz.Title, &quiz.Duration, &quiz.TotalScore)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("select quiz: %w", err)
	}
	return quiz, nil
}

func scanAttempt(row rowScanner) (domain.Attempt, error) {
	var a domain.Attempt
	err := row.Scan(&a.ID, &a.UserID, &a.QuizID, &a.Score, &a.StartedAt, &a.CompletedAt)
	return a, err
}

func isViolation(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
