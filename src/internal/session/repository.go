package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"sso-session-svc/src/clients"
	"sso-session-svc/src/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	sessionKeyPrefix      = "session:"
	userSessionsKeyPrefix = "user_sessions:"
)

// Publisher is the part of the event bus the store needs.
type Publisher interface {
	Publish(ctx context.Context, event models.SessionEvent) error
}

type Repository interface {
	Create(ctx context.Context, owner models.SessionOwner, sessionID string, meta models.SessionMetadata) (*models.Session, error)
	Validate(ctx context.Context, sessionID string) (*models.Session, error)
	Touch(ctx context.Context, sessionID string) error
	Remove(ctx context.Context, sessionID, userID string) error
	RemoveAll(ctx context.Context, userID string) (int, error)
	ListActive(ctx context.Context, userID string) ([]*models.Session, error)
	Count(ctx context.Context, userID string) (int, error)
}

type repository struct {
	client    *redis.Client
	publisher Publisher
	ttl       time.Duration
}

func NewSessionRepository(client *redis.Client, publisher Publisher, ttl time.Duration) Repository {
	return &repository{client: client, publisher: publisher, ttl: ttl}
}

func sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

func userSessionsKey(userID string) string {
	return userSessionsKeyPrefix + userID
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
}

func (r *repository) now(ctx context.Context) (time.Time, error) {
	now, err := clients.ServerTime(ctx, r.client)
	if err != nil {
		return time.Time{}, unavailable(err)
	}
	return now, nil
}

func (r *repository) Create(ctx context.Context, owner models.SessionOwner, sessionID string, meta models.SessionMetadata) (*models.Session, error) {
	now, err := r.now(ctx)
	if err != nil {
		return nil, err
	}

	session := &models.Session{
		SessionID:    sessionID,
		UserID:       owner.UserID,
		Email:        owner.Email,
		Role:         owner.Role,
		Status:       owner.Status,
		CreatedAt:    now,
		ExpiresAt:    now.Add(r.ttl),
		LastActivity: now,
		Device:       ParseDevice(meta.UserAgent),
		Address:      meta.Address,
	}

	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(sessionID), data, r.ttl)
		pipe.SAdd(ctx, userSessionsKey(owner.UserID), sessionID)
		pipe.Expire(ctx, userSessionsKey(owner.UserID), r.ttl)
		return nil
	})
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
			"user_id":    owner.UserID,
		}).Error("Failed to create session")
		return nil, unavailable(err)
	}

	logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"user_id":    owner.UserID,
	}).Info("Session created")

	r.publish(ctx, models.SessionEvent{
		Type:      models.EventSessionCreated,
		UserID:    owner.UserID,
		SessionID: sessionID,
		Timestamp: now,
	})

	return session, nil
}

func (r *repository) get(ctx context.Context, sessionID string) (*models.Session, error) {
	data, err := r.client.Get(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrSessionNotFound
		}
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to get session")
		return nil, unavailable(err)
	}

	var session models.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		// A record we cannot read is treated as gone.
		logrus.WithError(err).WithField("session_id", sessionID).Warn("Failed to unmarshal session")
		return nil, models.ErrSessionNotFound
	}
	return &session, nil
}

func (r *repository) Validate(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := r.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now, err := r.now(ctx)
	if err != nil {
		return nil, err
	}

	if !now.Before(session.ExpiresAt) {
		logrus.WithField("session_id", sessionID).Debug("Session expired, cleaning up")
		if err := r.delete(ctx, sessionID, session.UserID); err != nil {
			return nil, err
		}
		return nil, models.ErrSessionNotFound
	}

	return session, nil
}

func (r *repository) Touch(ctx context.Context, sessionID string) error {
	session, err := r.Validate(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return nil
		}
		return err
	}

	now, err := r.now(ctx)
	if err != nil {
		return err
	}

	session.LastActivity = now
	session.ExpiresAt = now.Add(r.ttl)

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// SET XX so a session removed in the meantime is not resurrected.
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetXX(ctx, sessionKey(sessionID), data, r.ttl)
		pipe.Expire(ctx, userSessionsKey(session.UserID), r.ttl)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to update session activity")
		return unavailable(err)
	}

	logrus.WithField("session_id", sessionID).Debug("Session activity updated")
	return nil
}

func (r *repository) delete(ctx context.Context, sessionID, userID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(sessionID))
		pipe.SRem(ctx, userSessionsKey(userID), sessionID)
		return nil
	})
	if err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to delete session")
		return unavailable(err)
	}
	return nil
}

func (r *repository) Remove(ctx context.Context, sessionID, userID string) error {
	var deleted *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, sessionKey(sessionID))
		pipe.SRem(ctx, userSessionsKey(userID), sessionID)
		return nil
	})
	if err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to remove session")
		return unavailable(err)
	}

	if deleted.Val() == 0 {
		logrus.WithField("session_id", sessionID).Debug("Session already removed")
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"user_id":    userID,
	}).Info("Session removed")

	r.publish(ctx, models.SessionEvent{
		Type:      models.EventSessionRemoved,
		UserID:    userID,
		SessionID: sessionID,
	})
	return nil
}

func (r *repository) RemoveAll(ctx context.Context, userID string) (int, error) {
	// Snapshot the index once; sessions created after this point are left intact.
	ids, err := r.client.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Failed to list user sessions")
		return 0, unavailable(err)
	}

	deleted := make([]*redis.IntCmd, 0, len(ids))
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			deleted = append(deleted, pipe.Del(ctx, sessionKey(id)))
		}
		if len(ids) > 0 {
			members := make([]interface{}, len(ids))
			for i, id := range ids {
				members[i] = id
			}
			pipe.SRem(ctx, userSessionsKey(userID), members...)
		}
		return nil
	})
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Failed to remove user sessions")
		return 0, unavailable(err)
	}

	count := 0
	for _, cmd := range deleted {
		count += int(cmd.Val())
	}

	logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"count":   count,
	}).Info("All user sessions removed")

	r.publish(ctx, models.SessionEvent{
		Type:   models.EventLogoutAll,
		UserID: userID,
		Count:  count,
	})
	return count, nil
}

func (r *repository) ListActive(ctx context.Context, userID string) ([]*models.Session, error) {
	ids, err := r.client.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Failed to list user sessions")
		return nil, unavailable(err)
	}
	if len(ids) == 0 {
		return []*models.Session{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Failed to load user sessions")
		return nil, unavailable(err)
	}

	now, err := r.now(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]*models.Session, 0, len(ids))
	var stale []string
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var session models.Session
		if err := json.Unmarshal([]byte(raw), &session); err != nil || !now.Before(session.ExpiresAt) {
			stale = append(stale, ids[i])
			continue
		}
		active = append(active, &session)
	}

	if len(stale) > 0 {
		r.prune(ctx, userID, stale)
	}

	sortByCreation(active)
	return active, nil
}

func (r *repository) Count(ctx context.Context, userID string) (int, error) {
	active, err := r.ListActive(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(active), nil
}

// prune removes dangling index entries and expired records. Failures are
// only logged; the next read retries.
func (r *repository) prune(ctx context.Context, userID string, ids []string) {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members := make([]interface{}, len(ids))
		for i, id := range ids {
			pipe.Del(ctx, sessionKey(id))
			members[i] = id
		}
		pipe.SRem(ctx, userSessionsKey(userID), members...)
		return nil
	})
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("Failed to prune stale sessions")
		return
	}
	logrus.WithFields(logrus.Fields{
		"user_id": userID,
		"count":   len(ids),
	}).Debug("Pruned stale sessions")
}

func (r *repository) publish(ctx context.Context, event models.SessionEvent) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"event_type": event.Type,
			"user_id":    event.UserID,
		}).Warn("Failed to publish session event")
	}
}

// sortByCreation orders oldest first; equal timestamps fall back to the id.
func sortByCreation(sessions []*models.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
		}
		return sessions[i].SessionID < sessions[j].SessionID
	})
}
