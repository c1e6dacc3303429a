package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the core matches exactly one of these
// through errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrForbidden        = errors.New("forbidden")
	ErrAlreadyCompleted = errors.New("attempt already completed")
	ErrConflict         = errors.New("already exists")
	ErrUnauthorized     = errors.New("unauthorized")
)

var (
	// ErrUserNotFound indicates an unknown user id or username.
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)
	// ErrQuizNotFound indicates the quiz id does not resolve.
	ErrQuizNotFound = fmt.Errorf("quiz %w", ErrNotFound)
	// ErrQuestionNotFound indicates a referenced question does not resolve.
	ErrQuestionNotFound = fmt.Errorf("question %w", ErrNotFound)
	// ErrOptionNotFound indicates a referenced option does not resolve.
	ErrOptionNotFound = fmt.Errorf("option %w", ErrNotFound)
	// ErrAttemptNotFound indicates there is no attempt for the id or user/quiz pair.
	ErrAttemptNotFound = fmt.Errorf("attempt %w", ErrNotFound)
	// ErrUsernameTaken is returned when registering an existing username.
	ErrUsernameTaken = fmt.Errorf("username %w", ErrConflict)
	// ErrAdminRequired is returned for admin-only actions by regular users.
	ErrAdminRequired = fmt.Errorf("admin access required: %w", ErrForbidden)
	// ErrNotAttemptOwner is returned when a user touches someone else's attempt.
	ErrNotAttemptOwner = fmt.Errorf("attempt belongs to another user: %w", ErrForbidden)
	// ErrInvalidCredentials is returned for a bad username/password pair.
	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", ErrUnauthorized)
	// ErrSessionRevoked is returned for a token whose session has ended.
	ErrSessionRevoked = fmt.Errorf("session expired or revoked: %w", ErrUnauthorized)
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is makes every ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
