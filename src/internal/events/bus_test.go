package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sso-session-svc/src/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []models.SessionEvent
	ch     chan models.SessionEvent
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan models.SessionEvent, 16)}
}

func (r *recorder) handle(_ context.Context, event models.SessionEvent) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	r.ch <- event
	return nil
}

func (r *recorder) next(t *testing.T) models.SessionEvent {
	t.Helper()
	select {
	case event := <-r.ch:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session event")
		return models.SessionEvent{}
	}
}

func (r *recorder) handlers() Handlers {
	return Handlers{OnCreated: r.handle, OnRemoved: r.handle, OnLogoutAll: r.handle}
}

func newRedisBus(t *testing.T) *RedisBus {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBus(client, "session:events", "instance-a")
}

func TestBuses_DeliverAllEventTypes(t *testing.T) {
	buses := map[string]func(t *testing.T) Bus{
		"redis":  func(t *testing.T) Bus { return newRedisBus(t) },
		"memory": func(t *testing.T) Bus { return NewMemoryBus("instance-a") },
	}

	for name, build := range buses {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			bus := build(t)
			rec := newRecorder()

			sub, err := bus.Subscribe(ctx, rec.handlers())
			require.NoError(t, err)
			defer sub.Close()

			require.NoError(t, bus.Publish(ctx, models.SessionEvent{Type: models.EventSessionCreated, UserID: "u1", SessionID: "s1"}))
			require.NoError(t, bus.Publish(ctx, models.SessionEvent{Type: models.EventSessionRemoved, UserID: "u1", SessionID: "s1"}))
			require.NoError(t, bus.Publish(ctx, models.SessionEvent{Type: models.EventLogoutAll, UserID: "u1", Count: 3}))

			created := rec.next(t)
			require.Equal(t, models.EventSessionCreated, created.Type)
			require.Equal(t, "s1", created.SessionID)
			require.Equal(t, "instance-a", created.Origin)
			require.False(t, created.Timestamp.IsZero())

			require.Equal(t, models.EventSessionRemoved, rec.next(t).Type)

			logoutAll := rec.next(t)
			require.Equal(t, models.EventLogoutAll, logoutAll.Type)
			require.Equal(t, 3, logoutAll.Count)
		})
	}
}

func TestBuses_HandlerFailureDoesNotStopLoop(t *testing.T) {
	ctx := context.Background()
	bus := newRedisBus(t)
	rec := newRecorder()

	sub, err := bus.Subscribe(ctx, Handlers{
		OnCreated: func(context.Context, models.SessionEvent) error {
			panic("boom")
		},
		OnRemoved: func(context.Context, models.SessionEvent) error {
			return errors.New("handler failed")
		},
		OnLogoutAll: rec.handle,
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, bus.Publish(ctx, models.SessionEvent{Type: models.EventSessionCreated, UserID: "u1"}))
	require.NoError(t, bus.Publish(ctx, models.SessionEvent{Type: models.EventSessionRemoved, UserID: "u1"}))
	require.NoError(t, bus.Publish(ctx, models.SessionEvent{Type: models.EventLogoutAll, UserID: "u1", Count: 1}))

	require.Equal(t, models.EventLogoutAll, rec.next(t).Type)
}

func TestMemoryBus_ClosedSubscriptionMissesEvents(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus("instance-a")
	rec := newRecorder()

	sub, err := bus.Subscribe(ctx, rec.handlers())
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	require.NoError(t, bus.Publish(ctx, models.SessionEvent{Type: models.EventSessionCreated, UserID: "u1"}))

	select {
	case event := <-rec.ch:
		t.Fatalf("unexpected event after close: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRedisBus_SkipsMalformedPayload(t *testing.T) {
	ctx := context.Background()
	bus := newRedisBus(t)
	rec := newRecorder()

	sub, err := bus.Subscribe(ctx, rec.handlers())
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, bus.client.Publish(ctx, "session:events", "not-json").Err())
	require.NoError(t, bus.Publish(ctx, models.SessionEvent{Type: models.EventSessionRemoved, UserID: "u2"}))

	event := rec.next(t)
	require.Equal(t, "u2", event.UserID)
}
