package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sso-session-svc/src/clients"
	"sso-session-svc/src/internal/metrics"
	"sso-session-svc/src/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// AMQPBus fans events out through a RabbitMQ exchange. Each subscriber owns
// an exclusive auto-delete queue with auto-ack, so a disconnected subscriber
// simply misses events.
type AMQPBus struct {
	mq       *clients.RabbitMQ
	exchange string
	consumer string
	origin   string

	// amqp.Channel is not safe for concurrent publishing.
	mu sync.Mutex
}

func NewAMQPBus(mq *clients.RabbitMQ, exchange, consumer, origin string) *AMQPBus {
	return &AMQPBus{mq: mq, exchange: exchange, consumer: consumer, origin: origin}
}

func (b *AMQPBus) Publish(ctx context.Context, event models.SessionEvent) error {
	body, err := encode(event, b.origin)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrEventPublish, err)
	}

	b.mu.Lock()
	err = b.mq.Channel.Publish(
		b.exchange,
		string(event.Type),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Type:        string(event.Type),
			Body:        body,
			Timestamp:   time.Now(),
		},
	)
	b.mu.Unlock()

	if err != nil {
		log.WithError(err).WithField("exchange", b.exchange).Error("Failed to publish session event")
		return fmt.Errorf("%w: %v", models.ErrEventPublish, err)
	}

	metrics.SessionEvents.WithLabelValues(string(event.Type), "published").Inc()
	log.WithFields(logrus.Fields{
		"exchange":   b.exchange,
		"event_type": event.Type,
		"user_id":    event.UserID,
	}).Debug("Session event published")
	return nil
}

func (b *AMQPBus) Subscribe(ctx context.Context, handlers Handlers) (Subscription, error) {
	ch, err := b.mq.Conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open consumer channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	deliveries, err := ch.Consume(
		q.Name,
		b.consumer,
		true,  // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to consume: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &amqpSubscription{ch: ch, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					log.WithField("queue", q.Name).Warn("Session event deliveries closed")
					return
				}
				event, err := decode(d.Body)
				if err != nil {
					log.WithError(err).WithField("queue", q.Name).Warn("Dropping malformed session event")
					continue
				}
				dispatch(ctx, handlers, event)
			}
		}
	}()

	log.WithFields(logrus.Fields{
		"exchange": b.exchange,
		"queue":    q.Name,
	}).Info("Subscribed to session events")
	return sub, nil
}

// Close is a no-op; the RabbitMQ connection is owned by the process.
func (b *AMQPBus) Close() error {
	return nil
}

type amqpSubscription struct {
	ch     *amqp.Channel
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *amqpSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.err = s.ch.Close()
		<-s.done
	})
	return s.err
}
