package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultTypingTTL is how long a typing flag survives without a refresh.
const DefaultTypingTTL = time.Second

// ConversationBroadcaster is the slice of the registry the coordinator needs.
type ConversationBroadcaster interface {
	BroadcastToConversation(ctx context.Context, conversationID string, evt Event, skip ...string) error
}

type typingKey struct {
	conversationID string
	userID         string
}

// TypingCoordinator owns short-lived per-(conversation,user) typing flags
// with one timer each. A refresh resets the timer instead of re-broadcasting;
// expiry fires an implicit stop for clients that dropped without signaling.
type TypingCoordinator struct {
	mu     sync.Mutex
	flags  map[typingKey]*time.Timer
	out    ConversationBroadcaster
	ttl    time.Duration
	logger *slog.Logger
}

func NewTypingCoordinator(out ConversationBroadcaster, ttl time.Duration, logger *slog.Logger) *TypingCoordinator {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingCoordinator{
		flags:  make(map[typingKey]*time.Timer),
		out:    out,
		ttl:    ttl,
		logger: logger,
	}
}

// StartTyping sets or refreshes the flag. Other participants see typing:start
// only when the flag was not already live.
func (t *TypingCoordinator) StartTyping(ctx context.Context, conversationID, userID string) {
	key := typingKey{conversationID, userID}
	t.mu.Lock()
	if timer, ok := t.flags[key]; ok {
		timer.Reset(t.ttl)
		t.mu.Unlock()
		return
	}
	t.flags[key] = time.AfterFunc(t.ttl, func() {
		t.expire(conversationID, userID)
	})
	t.mu.Unlock()

	t.broadcast(ctx, conversationID, userID, true)
}

// StopTyping clears the flag immediately.
func (t *TypingCoordinator) StopTyping(ctx context.Context, conversationID, userID string) {
	key := typingKey{conversationID, userID}
	t.mu.Lock()
	timer, ok := t.flags[key]
	if ok {
		timer.Stop()
		delete(t.flags, key)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	t.broadcast(ctx, conversationID, userID, false)
}

// IsTyping reports whether a live flag exists for the pair.
func (t *TypingCoordinator) IsTyping(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.flags[typingKey{conversationID, userID}]
	return ok
}

// UserConnected implements ConnectionObserver.
func (t *TypingCoordinator) UserConnected(string, time.Time) {}

// UserDisconnected clears every flag the user left behind so no indicator
// dangles after a drop.
func (t *TypingCoordinator) UserDisconnected(userID string, _ time.Time) {
	t.mu.Lock()
	var conversations []string
	for key, timer := range t.flags {
		if key.userID != userID {
			continue
		}
		timer.Stop()
		delete(t.flags, key)
		conversations = append(conversations, key.conversationID)
	}
	t.mu.Unlock()
	for _, conversationID := range conversations {
		t.broadcast(context.Background(), conversationID, userID, false)
	}
}

// expire runs from the timer goroutine. A racing refresh wins or loses by
// timing; typing indicators are best-effort.
func (t *TypingCoordinator) expire(conversationID, userID string) {
	key := typingKey{conversationID, userID}
	t.mu.Lock()
	_, ok := t.flags[key]
	if ok {
		delete(t.flags, key)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	t.broadcast(context.Background(), conversationID, userID, false)
}

func (t *TypingCoordinator) broadcast(ctx context.Context, conversationID, userID string, start bool) {
	if t.out == nil {
		return
	}
	evt := TypingEvent(start, conversationID, userID)
	if err := t.out.BroadcastToConversation(ctx, conversationID, evt, userID); err != nil && t.logger != nil {
		t.logger.Warn("typing broadcast failed", "conversation_id", conversationID, "user_id", userID, "error", err)
	}
}

var _ ConnectionObserver = (*TypingCoordinator)(nil)
