package server

import (
	"context"

	"sso-session-svc/src/internal/dependency"
	"sso-session-svc/src/internal/events"
	"sso-session-svc/src/internal/models"

	"github.com/sirupsen/logrus"
)

// subscribeSessionEvents listens for session changes made by peer instances.
// The session store stays authoritative, so handlers only observe.
func subscribeSessionEvents(ctx context.Context, deps *dependency.Manager) (events.Subscription, error) {
	return deps.Bus.Subscribe(ctx, peerEventHandlers(deps.InstanceID))
}

func peerEventHandlers(instanceID string) events.Handlers {
	observe := func(_ context.Context, event models.SessionEvent) error {
		if event.Origin == instanceID {
			return nil
		}
		log.WithFields(logrus.Fields{
			"event_type": event.Type,
			"user_id":    event.UserID,
			"session_id": event.SessionID,
			"count":      event.Count,
			"origin":     event.Origin,
		}).Debug("Session event from peer instance")
		return nil
	}

	return events.Handlers{
		OnCreated:   observe,
		OnRemoved:   observe,
		OnLogoutAll: observe,
	}
}
