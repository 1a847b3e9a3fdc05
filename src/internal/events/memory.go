package events

import (
	"context"
	"sync"

	"sso-session-svc/src/internal/metrics"
	"sso-session-svc/src/internal/models"
)

const memoryBuffer = 64

// MemoryBus delivers events to subscribers in the same process. A subscriber
// whose buffer is full misses the event.
type MemoryBus struct {
	origin string

	mu     sync.RWMutex
	subs   map[*memorySubscription]struct{}
	closed bool
}

func NewMemoryBus(origin string) *MemoryBus {
	return &MemoryBus{origin: origin, subs: make(map[*memorySubscription]struct{})}
}

func (b *MemoryBus) Publish(ctx context.Context, event models.SessionEvent) error {
	body, err := encode(event, b.origin)
	if err != nil {
		return err
	}
	// Round-trip through JSON so subscribers see what a network peer would.
	event, err = decode(body)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		select {
		case sub.events <- event:
		default:
			log.WithField("event_type", event.Type).Warn("Subscriber buffer full, dropping session event")
		}
	}

	metrics.SessionEvents.WithLabelValues(string(event.Type), "published").Inc()
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, handlers Handlers) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &memorySubscription{
		bus:    b,
		events: make(chan models.SessionEvent, memoryBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		close(sub.done)
		return sub, nil
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer close(sub.done)
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-sub.events:
				dispatch(ctx, handlers, event)
			}
		}
	}()

	return sub, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	subs := make([]*memorySubscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

type memorySubscription struct {
	bus    *MemoryBus
	events chan models.SessionEvent
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		s.cancel()
		<-s.done
	})
	return nil
}
