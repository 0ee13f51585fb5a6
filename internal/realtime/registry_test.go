package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu        sync.Mutex
	delivered []Event
	reason    string
	failWith  error
}

func (s *fakeSession) Deliver(evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.delivered = append(s.delivered, evt)
	return nil
}

func (s *fakeSession) Shutdown(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reason = reason
}

func (s *fakeSession) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.delivered...)
}

func (s *fakeSession) shutdownReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

type fakeParticipants struct {
	byConversation map[string][]string
}

func (f fakeParticipants) Participants(_ context.Context, conversationID string) ([]string, error) {
	ids, ok := f.byConversation[conversationID]
	if !ok {
		return nil, errors.New("unknown conversation")
	}
	return ids, nil
}

type recordingObserver struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
}

func (o *recordingObserver) UserConnected(userID string, _ time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connected = append(o.connected, userID)
}

func (o *recordingObserver) UserDisconnected(userID string, _ time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.disconnected = append(o.disconnected, userID)
}

func TestRegisterReplacesPriorSession(t *testing.T) {
	reg := NewRegistry(fakeParticipants{}, nil)
	obs := &recordingObserver{}
	reg.Subscribe(obs)

	first := &fakeSession{}
	second := &fakeSession{}
	reg.Register("alice", first)
	reg.Register("alice", second)

	require.Equal(t, "session replaced", first.shutdownReason())
	require.Equal(t, 1, reg.ActiveSessions())

	current, ok := reg.SessionFor("alice")
	require.True(t, ok)
	require.Same(t, Session(second), current)

	// a replacement is two connects, zero disconnects
	require.Equal(t, []string{"alice", "alice"}, obs.connected)
	require.Empty(t, obs.disconnected)
}

func TestUnregisterIgnoresStaleSession(t *testing.T) {
	reg := NewRegistry(fakeParticipants{}, nil)
	obs := &recordingObserver{}
	reg.Subscribe(obs)

	first := &fakeSession{}
	second := &fakeSession{}
	reg.Register("alice", first)
	reg.Register("alice", second)

	// the replaced session's close arrives late
	reg.Unregister("alice", first)
	require.Equal(t, 1, reg.ActiveSessions())
	require.Empty(t, obs.disconnected)

	reg.Unregister("alice", second)
	require.Equal(t, 0, reg.ActiveSessions())
	require.Equal(t, []string{"alice"}, obs.disconnected)
}

func TestBroadcastSkipsOriginatorAndOffline(t *testing.T) {
	reg := NewRegistry(fakeParticipants{byConversation: map[string][]string{
		"c1": {"alice", "bob", "carol"},
	}}, nil)

	alice := &fakeSession{}
	bob := &fakeSession{}
	reg.Register("alice", alice)
	reg.Register("bob", bob)
	// carol has no session

	evt := MessageDeletedEvent("c1", "m1", "everyone")
	require.NoError(t, reg.BroadcastToConversation(context.Background(), "c1", evt, "alice"))

	require.Empty(t, alice.events())
	require.Len(t, bob.events(), 1)
	require.Equal(t, "m1", bob.events()[0].MessageID)
}

func TestBroadcastDecidesAlertPerRecipient(t *testing.T) {
	reg := NewRegistry(fakeParticipants{byConversation: map[string][]string{
		"c1": {"alice", "bob"},
	}}, nil)
	router := NewNotificationRouter()
	reg.SetAlertPolicy(router)

	alice := &fakeSession{}
	bob := &fakeSession{}
	reg.Register("alice", alice)
	reg.Register("bob", bob)

	// alice is looking at c1, bob is elsewhere
	router.SetFocus("alice", "c1")

	evt := Event{Type: EventMessageNew, ConversationID: "c1", UserID: "carol"}
	require.NoError(t, reg.BroadcastToConversation(context.Background(), "c1", evt))

	require.False(t, alice.events()[0].Alert)
	require.True(t, bob.events()[0].Alert)
}

func TestSendToUserMissingSession(t *testing.T) {
	reg := NewRegistry(fakeParticipants{}, nil)
	require.False(t, reg.SendToUser("ghost", Event{Type: EventMessageNew}))

	broken := &fakeSession{failWith: errors.New("pipe closed")}
	reg.Register("alice", broken)
	require.False(t, reg.SendToUser("alice", Event{Type: EventMessageNew}))
}
