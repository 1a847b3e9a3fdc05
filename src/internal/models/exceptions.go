package models

import (
	"errors"
	"time"
)

var (
	ErrStoreUnavailable = errors.New("session store unavailable")
	ErrEventPublish     = errors.New("event publish error")
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrCapacityExceeded = errors.New("too many active sessions")
)

var (
	ErrTokenInvalid       = errors.New("invalid or expired refresh token")
	ErrTokenReuseDetected = errors.New("refresh token reuse detected; token family revoked")
	ErrAccessTokenInvalid = errors.New("invalid or expired access token")
)

// Login failures. ErrInvalidCredentials also covers unknown accounts so that
// callers cannot enumerate registered emails.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account is locked")
	ErrThrottledByAddress = errors.New("too many login attempts, please try again later")
	ErrAccountInactive    = errors.New("account is not active")
	ErrEmailNotVerified   = errors.New("email address is not verified")
)

var (
	ErrDatabaseQuery  = errors.New("database query error")
	ErrDatabaseInsert = errors.New("database insert error")
	ErrDatabaseUpdate = errors.New("database update error")
	ErrRecordNotFound = errors.New("record not found")
)

// RetryAfterError attaches how long a caller should wait before retrying to
// a login rejection. It matches the wrapped sentinel with errors.Is.
type RetryAfterError struct {
	Err   error
	After time.Duration
}

func (e *RetryAfterError) Error() string { return e.Err.Error() }

func (e *RetryAfterError) Unwrap() error { return e.Err }

// WithRetryAfter wraps err unless after is not positive.
func WithRetryAfter(err error, after time.Duration) error {
	if err == nil || after <= 0 {
		return err
	}
	return &RetryAfterError{Err: err, After: after}
}

// RetryAfter returns the wait attached to err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var r *RetryAfterError
	if errors.As(err, &r) && r.After > 0 {
		return r.After, true
	}
	return 0, false
}
