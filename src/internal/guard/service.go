// Package guard decides whether a login attempt may proceed. Account lockout
// and per-address throttling are tracked separately, so a distributed attack
// cannot lock an account from everywhere by throttling, and one noisy address
// cannot hide behind many accounts.
package guard

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sso-session-svc/src/clients"
	"sso-session-svc/src/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	failuresKeyPrefix = "login_failures:"
	attemptsKeyPrefix = "login_attempts:"
	lockKeyPrefix     = "login_lock:"
)

type Reason string

const (
	ReasonNone               Reason = ""
	ReasonAccountLocked      Reason = models.ReasonAccountLocked
	ReasonThrottledByAddress Reason = models.ReasonThrottledByAddress
)

// Decision is the admission result for one login attempt.
type Decision struct {
	Allowed bool
	Reason  Reason
	// RetryAfter is how long until the blocking condition clears, when known.
	RetryAfter time.Duration
}

// Err maps a blocked decision onto the login error taxonomy.
func (d Decision) Err() error {
	switch d.Reason {
	case ReasonAccountLocked:
		return models.WithRetryAfter(models.ErrAccountLocked, d.RetryAfter)
	case ReasonThrottledByAddress:
		return models.WithRetryAfter(models.ErrThrottledByAddress, d.RetryAfter)
	default:
		return nil
	}
}

type Config struct {
	Window             time.Duration
	MaxAccountFailures int
	MaxAddressAttempts int
	LockoutDuration    time.Duration
}

type Service interface {
	IsLoginAllowed(ctx context.Context, email, address string) (Decision, error)
	RecordAttempt(ctx context.Context, attempt models.LoginAttempt) error
}

type service struct {
	client *redis.Client
	audit  AttemptLog
	cfg    Config
}

func NewGuardService(client *redis.Client, audit AttemptLog, cfg Config) Service {
	return &service{client: client, audit: audit, cfg: cfg}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func failuresKey(email string) string {
	return failuresKeyPrefix + NormalizeEmail(email)
}

func lockKey(email string) string {
	return lockKeyPrefix + NormalizeEmail(email)
}

func attemptsKey(address string) string {
	return attemptsKeyPrefix + address
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
}

func (s *service) IsLoginAllowed(ctx context.Context, email, address string) (Decision, error) {
	now, err := clients.ServerTime(ctx, s.client)
	if err != nil {
		return Decision{}, unavailable(err)
	}
	cutoff := strconv.FormatInt(now.Add(-s.cfg.Window).UnixMilli(), 10)

	var (
		lockTTL  *redis.DurationCmd
		failures *redis.IntCmd
		attempts *redis.IntCmd
	)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lockTTL = pipe.TTL(ctx, lockKey(email))
		pipe.ZRemRangeByScore(ctx, failuresKey(email), "-inf", "("+cutoff)
		failures = pipe.ZCard(ctx, failuresKey(email))
		if address != "" {
			pipe.ZRemRangeByScore(ctx, attemptsKey(address), "-inf", "("+cutoff)
			attempts = pipe.ZCard(ctx, attemptsKey(address))
		}
		return nil
	})
	if err != nil {
		logrus.WithError(err).WithField("email", NormalizeEmail(email)).Error("Failed to read login attempt counters")
		return Decision{}, unavailable(err)
	}

	fields := logrus.Fields{
		"email":   NormalizeEmail(email),
		"address": address,
	}

	if ttl := lockTTL.Val(); ttl > 0 {
		logrus.WithFields(fields).Warn("Login rejected: account locked")
		return Decision{Reason: ReasonAccountLocked, RetryAfter: ttl}, nil
	}
	if s.cfg.MaxAccountFailures > 0 && failures.Val() >= int64(s.cfg.MaxAccountFailures) {
		logrus.WithFields(fields).Warn("Login rejected: too many account failures")
		return Decision{Reason: ReasonAccountLocked, RetryAfter: s.cfg.Window}, nil
	}
	if attempts != nil && s.cfg.MaxAddressAttempts > 0 && attempts.Val() >= int64(s.cfg.MaxAddressAttempts) {
		logrus.WithFields(fields).Warn("Login rejected: address throttled")
		return Decision{Reason: ReasonThrottledByAddress, RetryAfter: s.cfg.Window}, nil
	}

	return Decision{Allowed: true}, nil
}

func (s *service) RecordAttempt(ctx context.Context, attempt models.LoginAttempt) error {
	now, err := clients.ServerTime(ctx, s.client)
	if err != nil {
		return unavailable(err)
	}

	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	attempt.Email = NormalizeEmail(attempt.Email)
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = now
	}

	member := redis.Z{Score: float64(now.UnixMilli()), Member: attempt.ID}
	cutoff := strconv.FormatInt(now.Add(-s.cfg.Window).UnixMilli(), 10)
	keepFor := s.cfg.Window + time.Minute

	var failures *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if attempt.Address != "" {
			pipe.ZAdd(ctx, attemptsKey(attempt.Address), member)
			pipe.Expire(ctx, attemptsKey(attempt.Address), keepFor)
		}
		if attempt.Success {
			pipe.Del(ctx, failuresKey(attempt.Email), lockKey(attempt.Email))
			return nil
		}
		if blocked(attempt.FailureReason) {
			return nil
		}
		pipe.ZRemRangeByScore(ctx, failuresKey(attempt.Email), "-inf", "("+cutoff)
		pipe.ZAdd(ctx, failuresKey(attempt.Email), member)
		pipe.Expire(ctx, failuresKey(attempt.Email), keepFor)
		failures = pipe.ZCard(ctx, failuresKey(attempt.Email))
		return nil
	})
	if err != nil {
		logrus.WithError(err).WithField("email", attempt.Email).Error("Failed to record login attempt")
		return unavailable(err)
	}

	if failures != nil && s.cfg.MaxAccountFailures > 0 && failures.Val() >= int64(s.cfg.MaxAccountFailures) {
		// SET NX keeps the original lock expiry when failures continue.
		if err := s.client.SetNX(ctx, lockKey(attempt.Email), now.Unix(), s.cfg.LockoutDuration).Err(); err != nil {
			logrus.WithError(err).WithField("email", attempt.Email).Error("Failed to lock account")
			return unavailable(err)
		}
		logrus.WithFields(logrus.Fields{
			"email":    attempt.Email,
			"failures": failures.Val(),
			"duration": s.cfg.LockoutDuration,
		}).Warn("Account locked after repeated login failures")
	}

	if s.audit != nil {
		if err := s.audit.Append(ctx, attempt); err != nil {
			logrus.WithError(err).WithField("email", attempt.Email).Warn("Failed to append login attempt to audit log")
		}
	}

	return nil
}

// Attempts rejected before credentials were checked still count against the
// address but never against the account.
func blocked(reason string) bool {
	return reason == models.ReasonAccountLocked || reason == models.ReasonThrottledByAddress
}
