package events

import (
	"context"
	"fmt"
	"sync"

	"sso-session-svc/src/internal/metrics"
	"sso-session-svc/src/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisBus uses Redis native pub/sub on a single well-known channel.
type RedisBus struct {
	client  *redis.Client
	channel string
	origin  string
}

func NewRedisBus(client *redis.Client, channel, origin string) *RedisBus {
	return &RedisBus{client: client, channel: channel, origin: origin}
}

func (b *RedisBus) Publish(ctx context.Context, event models.SessionEvent) error {
	body, err := encode(event, b.origin)
	if err != nil {
		return err
	}

	if err := b.client.Publish(ctx, b.channel, body).Err(); err != nil {
		log.WithError(err).WithField("channel", b.channel).Error("Failed to publish session event")
		return fmt.Errorf("%w: %v", models.ErrEventPublish, err)
	}

	metrics.SessionEvents.WithLabelValues(string(event.Type), "published").Inc()
	log.WithFields(logrus.Fields{
		"channel":    b.channel,
		"event_type": event.Type,
		"user_id":    event.UserID,
	}).Debug("Session event published")
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, handlers Handlers) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)

	// Wait for the subscription confirmation so no event published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &redisSubscription{pubsub: pubsub, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				event, err := decode([]byte(msg.Payload))
				if err != nil {
					log.WithError(err).WithField("channel", msg.Channel).Warn("Dropping malformed session event")
					continue
				}
				dispatch(ctx, handlers, event)
			}
		}
	}()

	log.WithField("channel", b.channel).Info("Subscribed to session events")
	return sub, nil
}

// Close is a no-op; the Redis client is owned by the process.
func (b *RedisBus) Close() error {
	return nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *redisSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.err = s.pubsub.Close()
		<-s.done
	})
	return s.err
}
