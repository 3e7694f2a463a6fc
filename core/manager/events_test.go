package manager

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func contextWithTimeout(_ *testing.T, d time.Duration) (context.Context, context.CancelFunc) {
	// cleanup runs after the test context is cancelled, so the shutdown
	// deadline must not derive from t.Context()
	return context.WithTimeout(context.Background(), d)
}

func collectEvents(ch <-chan Event, n int, timeout time.Duration) []Event {
	var out []Event
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
	return out
}

func TestManager_Events(t *testing.T) {
	env := newTestManager(t, 2, 0.02)
	p1 := pod("p1", "v1")

	ch, cancel := env.m.Events()
	defer cancel()

	require.NoError(t, env.m.Register(t.Context(), p1))

	// registration, then the immediate rebalance assigning both shards
	events := collectEvents(ch, 2, 2*time.Second)
	require.Len(t, events, 2)
	reg, ok := events[0].(PodRegistered)
	require.True(t, ok)
	require.Equal(t, p1, reg.Pod)
	assigned, ok := events[1].(ShardsAssigned)
	require.True(t, ok)
	require.Equal(t, p1.Address, assigned.Address)
	require.Len(t, assigned.Shards, 2)

	require.NoError(t, env.m.Unregister(t.Context(), p1.Address))
	events = collectEvents(ch, 2, 2*time.Second)
	require.Len(t, events, 2)
	_, ok = events[0].(PodUnregistered)
	require.True(t, ok)
	unassigned, ok := events[1].(ShardsUnassigned)
	require.True(t, ok)
	require.Len(t, unassigned.Shards, 2)
}

func TestManager_Events_CancelClosesChannel(t *testing.T) {
	env := newTestManager(t, 2, 0.02)

	ch, cancel := env.m.Events()
	cancel()
	_, open := <-ch
	require.False(t, open)

	// cancelling twice is fine
	cancel()
}

func TestEventHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := newEventHub(testLogger(), NopManagerMetrics(), 1)

	ch, cancel := hub.subscribe()
	defer cancel()

	// second publish overflows the buffer and is dropped, not blocked on
	hub.publish(PodRegistered{Pod: pod("p1", "v1")})
	hub.publish(PodRegistered{Pod: pod("p2", "v1")})

	ev := <-ch
	reg, ok := ev.(PodRegistered)
	require.True(t, ok)
	require.Equal(t, "p1", reg.Pod.Address.Host)

	select {
	case <-ch:
		t.Fatal("expected the overflowing event to be dropped")
	default:
	}
}

func TestEventHub_CloseTerminatesSubscribers(t *testing.T) {
	hub := newEventHub(testLogger(), NopManagerMetrics(), 4)
	ch, cancel := hub.subscribe()
	defer cancel()

	hub.close()
	_, open := <-ch
	require.False(t, open)

	// publishing after close is a no-op
	hub.publish(PodUnregistered{})

	// subscribing after close yields a closed channel
	ch2, cancel2 := hub.subscribe()
	defer cancel2()
	_, open = <-ch2
	require.False(t, open)
}
