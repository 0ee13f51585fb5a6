package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type captureBroadcaster struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureBroadcaster) BroadcastToConversation(_ context.Context, _ string, evt Event, _ ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *captureBroadcaster) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func (c *captureBroadcaster) typesSeen() []string {
	out := []string{}
	for _, evt := range c.all() {
		out = append(out, evt.Type)
	}
	return out
}

func TestStartTypingBroadcastsOnce(t *testing.T) {
	out := &captureBroadcaster{}
	coord := NewTypingCoordinator(out, time.Minute, nil)
	ctx := context.Background()

	coord.StartTyping(ctx, "c1", "alice")
	coord.StartTyping(ctx, "c1", "alice")
	coord.StartTyping(ctx, "c1", "alice")

	require.True(t, coord.IsTyping("c1", "alice"))
	require.Equal(t, []string{EventTypingStart}, out.typesSeen())
}

func TestStopTypingClearsFlag(t *testing.T) {
	out := &captureBroadcaster{}
	coord := NewTypingCoordinator(out, time.Minute, nil)
	ctx := context.Background()

	coord.StartTyping(ctx, "c1", "alice")
	coord.StopTyping(ctx, "c1", "alice")

	require.False(t, coord.IsTyping("c1", "alice"))
	require.Equal(t, []string{EventTypingStart, EventTypingStop}, out.typesSeen())

	// a stop without a live flag is silent
	coord.StopTyping(ctx, "c1", "alice")
	require.Len(t, out.all(), 2)
}

func TestTypingExpiresWithoutRefresh(t *testing.T) {
	out := &captureBroadcaster{}
	coord := NewTypingCoordinator(out, 20*time.Millisecond, nil)

	coord.StartTyping(context.Background(), "c1", "alice")
	require.True(t, coord.IsTyping("c1", "alice"))

	require.Eventually(t, func() bool {
		return !coord.IsTyping("c1", "alice")
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		types := out.typesSeen()
		return len(types) == 2 && types[1] == EventTypingStop
	}, time.Second, 5*time.Millisecond)
}

func TestRefreshPostponesExpiry(t *testing.T) {
	out := &captureBroadcaster{}
	coord := NewTypingCoordinator(out, 50*time.Millisecond, nil)
	ctx := context.Background()

	coord.StartTyping(ctx, "c1", "alice")
	for i := 0; i < 4; i++ {
		time.Sleep(25 * time.Millisecond)
		coord.StartTyping(ctx, "c1", "alice")
	}
	// each refresh landed inside the ttl, so the flag is still live
	require.True(t, coord.IsTyping("c1", "alice"))
	require.Equal(t, []string{EventTypingStart}, out.typesSeen())
}

func TestDisconnectClearsAllFlags(t *testing.T) {
	out := &captureBroadcaster{}
	coord := NewTypingCoordinator(out, time.Minute, nil)
	ctx := context.Background()

	coord.StartTyping(ctx, "c1", "alice")
	coord.StartTyping(ctx, "c2", "alice")
	coord.StartTyping(ctx, "c1", "bob")

	coord.UserDisconnected("alice", time.Now())

	require.False(t, coord.IsTyping("c1", "alice"))
	require.False(t, coord.IsTyping("c2", "alice"))
	require.True(t, coord.IsTyping("c1", "bob"))

	stops := 0
	for _, evt := range out.all() {
		if evt.Type == EventTypingStop {
			stops++
			require.Equal(t, "alice", evt.UserID)
		}
	}
	require.Equal(t, 2, stops)
}
