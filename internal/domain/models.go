package domain

import "time"

// User is an account that can take quizzes; admins can also author them.
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	IsAdmin      bool   `json:"isAdmin"`
}

// Caller is the identity resolved by the access gate for a single request.
type Caller struct {
	UserID  int64
	IsAdmin bool
}

// Quiz is a timed collection of questions. Duration is in minutes.
type Quiz struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	Duration   int    `json:"duration"`
	TotalScore int    `json:"totalScore"`
}

// TimeLimit converts the quiz duration to a time.Duration.
func (q Quiz) TimeLimit() time.Duration {
	return time.Duration(q.Duration) * time.Minute
}

// Question belongs to exactly one quiz and is worth Marks when answered correctly.
type Question struct {
	ID     int64  `json:"id"`
	QuizID int64  `json:"quizId"`
	Text   string `json:"text"`
	Marks  int    `json:"marks"`
}

// Option is a possible answer for a question.
type Option struct {
	ID         int64  `json:"id"`
	QuestionID int64  `json:"questionId"`
	Text       string `json:"text"`
	IsCorrect  bool   `json:"isCorrect"`
}

// QuestionWithOptions is a question together with all of its options.
type QuestionWithOptions struct {
	Question
	Options []Option `json:"options"`
}

// QuizWithQuestions is the full structure of a quiz, correct answers included.
type QuizWithQuestions struct {
	Quiz
	Questions []QuestionWithOptions `json:"questions"`
}

// MarksTotal sums the marks of all questions.
func (q QuizWithQuestions) MarksTotal() int {
	total := 0
	for _, question := range q.Questions {
		total += question.Marks
	}
	return total
}

// Attempt is one user's timed run through one quiz.
type Attempt struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"userId"`
	QuizID      int64      `json:"quizId"`
	Score       *int       `json:"score"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
}

// Completed reports whether the attempt reached its terminal state.
func (a Attempt) Completed() bool {
	return a.CompletedAt != nil
}

// Deadline is the instant the attempt expires for a quiz of the given length.
func (a Attempt) Deadline(limit time.Duration) time.Time {
	return a.StartedAt.Add(limit)
}

// Expired reports whether an open attempt is past its deadline at now.
func (a Attempt) Expired(limit time.Duration, now time.Time) bool {
	return !a.Completed() && !now.Before(a.Deadline(limit))
}

// Status derives the lifecycle state of the attempt.
func (a Attempt) Status() AttemptStatus {
	if a.Completed() {
		return StatusCompleted
	}
	return StatusInProgress
}

// Response is the option selected for one question of an attempt.
type Response struct {
	ID         int64 `json:"id"`
	AttemptID  int64 `json:"attemptId"`
	QuestionID int64 `json:"questionId"`
	OptionID   int64 `json:"optionId"`
}

// Answer is a client-submitted choice before it is stored as a Response.
type Answer struct {
	QuestionID int64 `json:"questionId"`
	OptionID   int64 `json:"optionId"`
}

// ScoreFunc scores the full set of responses stored for an attempt.
type ScoreFunc func(responses []Response) int

// AttemptStatus is the per-user state of a quiz.
type AttemptStatus string

const (
	StatusNotStarted AttemptStatus = "not-started"
	StatusInProgress AttemptStatus = "in-progress"
	StatusCompleted  AttemptStatus = "completed"
)

// QuizSummary is a quiz as listed for a single user.
type QuizSummary struct {
	Quiz
	Status    AttemptStatus `json:"status"`
	Score     *int          `json:"score"`
	AttemptID *int64        `json:"attemptId,omitempty"`
}

// OptionView is an option as shown to a client. IsCorrect is nil when hidden.
type OptionView struct {
	ID         int64  `json:"id"`
	QuestionID int64  `json:"questionId"`
	Text       string `json:"text"`
	IsCorrect  *bool  `json:"isCorrect,omitempty"`
}

// QuestionView is a question with client-facing options.
type QuestionView struct {
	Question
	Options []OptionView `json:"options"`
}

// QuizDetail is the client-facing quiz structure. Participants is only set for admins.
type QuizDetail struct {
	Quiz
	Questions    []QuestionView `json:"questions"`
	Participants []Attempt      `json:"participants,omitempty"`
}

// ResponseDetail joins a response with its question and the selected option.
type ResponseDetail struct {
	Response
	Question       Question `json:"question"`
	SelectedOption Option   `json:"selectedOption"`
}

// AttemptView is an attempt as returned to its owner. Responses are only
// populated once the attempt is completed.
type AttemptView struct {
	Attempt
	Status    AttemptStatus    `json:"status"`
	Deadline  time.Time        `json:"deadline"`
	Quiz      Quiz             `json:"quiz"`
	Responses []ResponseDetail `json:"responses,omitempty"`
}

// AttemptAudit compares a stored score against a fresh recomputation.
type AttemptAudit struct {
	Attempt       Attempt `json:"attempt"`
	StoredScore   *int    `json:"storedScore"`
	ComputedScore int     `json:"computedScore"`
	Matches       bool    `json:"matches"`
}

// CompletionReason records why an attempt was completed.
type CompletionReason string

const (
	CompletedBySubmit CompletionReason = "submitted"
	CompletedByExpiry CompletionReason = "expired"
)

// EventType identifies an attempt lifecycle event.
type EventType string

const (
	EventAttemptStarted   EventType = "attemptStarted"
	EventAttemptCompleted EventType = "attemptCompleted"
)

// AttemptEvent is published whenever an attempt changes state.
type AttemptEvent struct {
	Type    EventType        `json:"type"`
	Reason  CompletionReason `json:"reason,omitempty"`
	Attempt Attempt          `json:"attempt"`
	At      time.Time        `json:"at"`
}
