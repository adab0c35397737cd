package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input; it never mutates state.
	ErrValidation = errors.New("validation failed")
	// ErrAlreadyCompleted is the benign idempotency signal for a resent or repeated submission.
	ErrAlreadyCompleted = errors.New("activity already completed")
	// ErrConflict is returned when optimistic-concurrency retries are exhausted.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrVersionConflict is returned by a store when a conditional write loses the race.
	ErrVersionConflict = errors.New("document version conflict")
	// ErrConfiguration marks a misdefined badge rule.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrStoreUnavailable wraps failures of the durable store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrNotFound is the generic lookup miss.
	ErrNotFound = errors.New("not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = fmt.Errorf("quiz %w", ErrNotFound)
	// ErrChallengeNotFound indicates the challenge could not be loaded.
	ErrChallengeNotFound = fmt.Errorf("challenge %w", ErrNotFound)
	// ErrUserNotFound is returned when a user has no progress record yet.
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)
	// ErrUnauthorized is the sentinel behind every AuthError.
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError describes a client-fixable problem with a request.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictError reports that a user's record kept changing under us.
type ConflictError struct {
	UserID   string
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("update of user %s still conflicting after %d attempts", e.UserID, e.Attempts)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ConfigurationError points at the badge rule that failed to compile.
type ConfigurationError struct {
	Rule   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Rule == "" {
		return "invalid badge configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid badge rule %q: %s", e.Rule, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// AuthFailure is the reason an identity token was rejected.
type AuthFailure string

const (
	AuthInvalidToken AuthFailure = "invalid_token"
	AuthExpired      AuthFailure = "expired"
)

// AuthError is returned by identity resolution.
type AuthError struct {
	Reason AuthFailure
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return "auth: " + string(e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool { return target == ErrUnauthorized }

// StoreError wraps a store failure so it matches ErrStoreUnavailable.
func StoreError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// IsRetryable reports whether the caller may resubmit the same request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrStoreUnavailable)
}
