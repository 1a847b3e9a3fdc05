package models

import "time"

type SessionEventType string

const (
	EventSessionCreated SessionEventType = "created"
	EventSessionRemoved SessionEventType = "removed"
	EventLogoutAll      SessionEventType = "logout_all"
)

// SessionEvent is broadcast to other instances after a session state change.
// It is advisory only; the session store stays authoritative.
type SessionEvent struct {
	Type      SessionEventType `json:"type"`
	UserID    string           `json:"userId"`
	SessionID string           `json:"sessionId,omitempty"`
	Count     int              `json:"count,omitempty"`
	Origin    string           `json:"origin,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// LoginAttempt is one append-only login attempt fact.
type LoginAttempt struct {
	ID            string    `json:"id" bson:"_id"`
	Email         string    `json:"email" bson:"email"`
	Address       string    `json:"address,omitempty" bson:"address,omitempty"`
	UserAgent     string    `json:"userAgent,omitempty" bson:"user_agent,omitempty"`
	Success       bool      `json:"success" bson:"success"`
	FailureReason string    `json:"failureReason,omitempty" bson:"failure_reason,omitempty"`
	Timestamp     time.Time `json:"timestamp" bson:"timestamp"`
}

// Failure reasons recorded with login attempts.
const (
	ReasonAccountLocked      = "account_locked"
	ReasonThrottledByAddress = "throttled_by_address"
	ReasonAccountNotFound    = "account_not_found"
	ReasonInvalidPassword    = "invalid_password"
	ReasonAccountInactive    = "account_inactive"
	ReasonEmailNotVerified   = "email_not_verified"
)
