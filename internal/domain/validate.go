package domain

import (
	"fmt"
	"strings"
)

// MinOptions is the smallest option set a question may have.
const MinOptions = 2

// ValidateQuiz checks the fields of a new quiz.
func ValidateQuiz(q Quiz) error {
	if strings.TrimSpace(q.Title) == "" {
		return Invalid("title", "must not be empty")
	}
	if q.Duration <= 0 {
		return Invalid("duration", "must be greater than zero")
	}
	if q.TotalScore <= 0 {
		return Invalid("totalScore", "must be greater than zero")
	}
	return nil
}

// ValidateQuestion checks a question and its option set. Stores call it on
// every insert so the exactly-one-correct rule holds whoever the caller is.
func ValidateQuestion(q Question, options []Option) error {
	if strings.TrimSpace(q.Text) == "" {
		return Invalid("text", "must not be empty")
	}
	if q.Marks <= 0 {
		return Invalid("marks", "must be greater than zero")
	}
	return ValidateOptions(options)
}

// ValidateOptions enforces at least MinOptions options with exactly one correct.
func ValidateOptions(options []Option) error {
	if len(options) < MinOptions {
		return Invalid("options", fmt.Sprintf("at least %d options are required", MinOptions))
	}
	correct := 0
	for i, opt := range options {
		if strings.TrimSpace(opt.Text) == "" {
			return Invalid(fmt.Sprintf("options[%d].text", i), "must not be empty")
		}
		if opt.IsCorrect {
			correct++
		}
	}
	if correct != 1 {
		return Invalid("options", fmt.Sprintf("exactly one option must be correct, got %d", correct))
	}
	return nil
}
