package session

import (
	"context"

	"sso-session-svc/src/internal/metrics"
	"sso-session-svc/src/internal/models"

	"github.com/sirupsen/logrus"
)

// Enforcer caps simultaneous sessions per user. It runs synchronously on login,
// never as a background sweep.
type Enforcer struct {
	repo Repository
}

func NewEnforcer(repo Repository) *Enforcer {
	return &Enforcer{repo: repo}
}

// CheckCapacity reports whether one more session fits under max.
func (e *Enforcer) CheckCapacity(ctx context.Context, userID string, max int) (*models.Capacity, error) {
	count, err := e.repo.Count(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.Capacity{
		Allowed:      max <= 0 || count < max,
		CurrentCount: count,
		Max:          max,
	}, nil
}

// EnforceLimit evicts the oldest sessions until max-1 remain, leaving room for
// the login in progress. It returns the number of sessions evicted.
func (e *Enforcer) EnforceLimit(ctx context.Context, userID string, max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}

	active, err := e.repo.ListActive(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(active) < max {
		return 0, nil
	}

	// ListActive is ordered oldest first.
	excess := len(active) - (max - 1)
	evicted := 0
	for _, s := range active[:excess] {
		if err := e.repo.Remove(ctx, s.SessionID, userID); err != nil {
			return evicted, err
		}
		evicted++
		metrics.SessionEvictions.Inc()
		logrus.WithFields(logrus.Fields{
			"user_id":    userID,
			"session_id": s.SessionID,
			"created_at": s.CreatedAt,
		}).Info("Evicted session over concurrent limit")
	}

	logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"evicted": evicted,
		"max":     max,
		"reason":  models.ErrCapacityExceeded.Error(),
	}).Warn("Concurrent session limit enforced")
	return evicted, nil
}
