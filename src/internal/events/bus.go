// Package events broadcasts session lifecycle changes between service
// instances. Delivery is best-effort and at-most-once per connected
// subscriber; nothing is replayed after a reconnect.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sso-session-svc/src/internal/metrics"
	"sso-session-svc/src/internal/models"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "events")

type Bus interface {
	Publish(ctx context.Context, event models.SessionEvent) error
	// Subscribe returns once the subscription is live. Handlers run on the
	// subscription's own goroutine until ctx is done or the subscription is closed.
	Subscribe(ctx context.Context, handlers Handlers) (Subscription, error)
	Close() error
}

type Subscription interface {
	Close() error
}

type HandlerFunc func(ctx context.Context, event models.SessionEvent) error

// Handlers may leave any field nil to ignore that event type.
type Handlers struct {
	OnCreated   HandlerFunc
	OnRemoved   HandlerFunc
	OnLogoutAll HandlerFunc
}

func (h Handlers) handlerFor(t models.SessionEventType) HandlerFunc {
	switch t {
	case models.EventSessionCreated:
		return h.OnCreated
	case models.EventSessionRemoved:
		return h.OnRemoved
	case models.EventLogoutAll:
		return h.OnLogoutAll
	default:
		return nil
	}
}

// dispatch runs one handler; failures and panics are logged and swallowed so
// a bad event never stops the subscription loop.
func dispatch(ctx context.Context, h Handlers, event models.SessionEvent) {
	fields := logrus.Fields{
		"event_type": event.Type,
		"user_id":    event.UserID,
		"session_id": event.SessionID,
	}

	defer func() {
		if r := recover(); r != nil {
			log.WithFields(fields).Errorf("Session event handler panicked: %v", r)
		}
	}()

	metrics.SessionEvents.WithLabelValues(string(event.Type), "received").Inc()

	fn := h.handlerFor(event.Type)
	if fn == nil {
		log.WithFields(fields).Debug("No handler registered for session event")
		return
	}

	if err := fn(ctx, event); err != nil {
		log.WithError(err).WithFields(fields).Error("Session event handler failed")
	}
}

func encode(event models.SessionEvent, origin string) ([]byte, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Origin == "" {
		event.Origin = origin
	}
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEventPublish, err)
	}
	return body, nil
}

func decode(body []byte) (models.SessionEvent, error) {
	var event models.SessionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return models.SessionEvent{}, err
	}
	return event, nil
}
